// Package engine is the task lifecycle manager: it turns a title and an
// assignee into an executed deliverable and tracks review and revision.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"boardroom/internal/domain"
	"boardroom/internal/events"
	"boardroom/internal/gateway"
	"boardroom/internal/logging"
	"boardroom/internal/persona"
	"boardroom/internal/repo"
)

// Executor is the gateway router as seen by the engine.
type Executor interface {
	Execute(ctx context.Context, memberSlug string, req gateway.Request) (gateway.Result, error)
}

// PromptSource supplies the inspiration section of a member's prompt.
type PromptSource interface {
	PromptSection(ctx context.Context, member domain.BoardMember) (string, error)
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Registry  *persona.Registry
	Gateway   Executor
	Knowledge PromptSource
	Logger    *logging.Logger
	Now       func() time.Time

	locks *KeyedMutex
}

func New(db *sql.DB, registry *persona.Registry, gw Executor) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Registry: registry,
		Gateway:  gw,
		Now:      time.Now,
		locks:    NewKeyedMutex(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) lock(id string) func() {
	if e.locks == nil {
		// zero-value Engine: no cross-call serialization available
		return func() {}
	}
	return e.locks.Lock(id)
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title       string
	Description string
	Assignee    string
	Type        string
	Priority    string
	ExecuteNow  bool
	ActorID     string
}

// CreateTask validates input and stores the task. An unknown or inactive
// assignee yields a blocked task rather than an error.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	opts.Assignee = strings.TrimSpace(opts.Assignee)
	if opts.Title == "" {
		return domain.Task{}, domain.ValidationError{Field: "title", Reason: "required"}
	}
	if opts.Assignee == "" {
		return domain.Task{}, domain.ValidationError{Field: "assignee", Reason: "required"}
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityNormal
	}
	if !domain.ValidPriority(opts.Priority) {
		return domain.Task{}, domain.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", opts.Priority)}
	}
	if opts.Type == "" {
		opts.Type = "general"
	}
	nowStr := domain.FormatTime(e.now())
	t := domain.Task{
		ID:          uuid.NewString(),
		Title:       opts.Title,
		Description: opts.Description,
		Assignee:    opts.Assignee,
		Type:        opts.Type,
		Priority:    opts.Priority,
		Status:      domain.StatusPending,
		CreatedBy:   opts.ActorID,
		CreatedAt:   nowStr,
		UpdatedAt:   nowStr,
	}
	if _, err := e.Registry.Resolve(opts.Assignee); err != nil {
		if !domain.IsPersonaUnavailable(err) {
			return domain.Task{}, err
		}
		reason := err.Error()
		t.Status = domain.StatusBlocked
		t.BlockedReason = &reason
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, opts.ActorID, events.EventPayload{
		"assignee": t.Assignee, "status": t.Status, "priority": t.Priority, "type": t.Type,
	}); err != nil {
		return domain.Task{}, err
	}
	if t.Status == domain.StatusBlocked {
		if err := e.Events.Append(ctx, tx, "task.blocked", "task", t.ID, opts.ActorID, events.EventPayload{"reason": *t.BlockedReason}); err != nil {
			return domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	if opts.ExecuteNow && t.Status == domain.StatusPending {
		return e.StartTask(ctx, t.ID, opts.ActorID)
	}
	return t, nil
}

// ensureTaskTransition encodes the lifecycle table.
func ensureTaskTransition(t domain.Task, action string) error {
	ok := false
	switch action {
	case "start":
		ok = t.Status == domain.StatusPending
	case "retry":
		ok = t.Status == domain.StatusBlocked
	case "approve", "request_revision":
		ok = t.Status == domain.StatusCompleted
	case "cancel":
		ok = t.Status == domain.StatusPending || t.Status == domain.StatusInProgress
	}
	if !ok {
		return domain.InvalidTransitionError{Entity: "task", ID: t.ID, From: t.Status, Action: action}
	}
	return nil
}

// mutate loads the task under its lock, applies fn and persists the result with one event.
func (e Engine) mutate(ctx context.Context, id, action, evtType, actorID string, fn func(*domain.Task) (events.EventPayload, error)) (domain.Task, error) {
	unlock := e.lock(id)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if action != "" {
		if err := ensureTaskTransition(t, action); err != nil {
			return t, err
		}
	}
	payload, err := fn(&t)
	if err != nil {
		return t, err
	}
	t.UpdatedAt = domain.FormatTime(e.now())
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, evtType, "task", t.ID, actorID, payload); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// StartTask moves a pending task to in_progress and executes it. The call
// blocks until the member responds or the gateway gives up.
func (e Engine) StartTask(ctx context.Context, id, actorID string) (domain.Task, error) {
	t, err := e.mutate(ctx, id, "start", "task.started", actorID, func(t *domain.Task) (events.EventPayload, error) {
		t.Status = domain.StatusInProgress
		return events.EventPayload{"revision": t.Revision}, nil
	})
	if err != nil {
		return t, err
	}
	return e.execute(ctx, t, actorID)
}

// RetryTask re-runs a blocked task.
func (e Engine) RetryTask(ctx context.Context, id, actorID string) (domain.Task, error) {
	t, err := e.mutate(ctx, id, "retry", "task.started", actorID, func(t *domain.Task) (events.EventPayload, error) {
		prev := ""
		if t.BlockedReason != nil {
			prev = *t.BlockedReason
		}
		t.Status = domain.StatusInProgress
		t.BlockedReason = nil
		return events.EventPayload{"retry": true, "previous_reason": prev}, nil
	})
	if err != nil {
		return t, err
	}
	return e.execute(ctx, t, actorID)
}

// ApproveTask marks a completed deliverable as reviewed.
func (e Engine) ApproveTask(ctx context.Context, id, actorID string) (domain.Task, error) {
	return e.mutate(ctx, id, "approve", "task.approved", actorID, func(t *domain.Task) (events.EventPayload, error) {
		t.Reviewed = true
		return nil, nil
	})
}

// RequestRevision sends a completed task back to its assignee with feedback.
// The previous deliverable stays visible until the new one replaces it.
func (e Engine) RequestRevision(ctx context.Context, id, feedback, actorID string) (domain.Task, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return domain.Task{}, domain.ValidationError{Field: "feedback", Reason: "required for a revision request"}
	}
	t, err := e.mutate(ctx, id, "request_revision", "task.revision_requested", actorID, func(t *domain.Task) (events.EventPayload, error) {
		t.Status = domain.StatusInProgress
		t.Feedback = &feedback
		t.Revision++
		t.Reviewed = false
		return events.EventPayload{"revision": t.Revision, "feedback": feedback}, nil
	})
	if err != nil {
		return t, err
	}
	return e.execute(ctx, t, actorID)
}

// CancelTask is terminal; a response arriving afterwards is discarded.
func (e Engine) CancelTask(ctx context.Context, id, actorID string) (domain.Task, error) {
	return e.mutate(ctx, id, "cancel", "task.cancelled", actorID, func(t *domain.Task) (events.EventPayload, error) {
		from := t.Status
		t.Status = domain.StatusCancelled
		return events.EventPayload{"from": from}, nil
	})
}

// DeleteTask cancels live tasks and removes finished ones. It reports whether
// the row was removed.
func (e Engine) DeleteTask(ctx context.Context, id, actorID string) (domain.Task, bool, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return t, false, err
	}
	if t.Status == domain.StatusPending || t.Status == domain.StatusInProgress {
		t, err := e.CancelTask(ctx, id, actorID)
		var it domain.InvalidTransitionError
		if errors.As(err, &it) {
			// finished while we were looking; fall through to removal
			return e.removeTask(ctx, id, actorID)
		}
		return t, false, err
	}
	return e.removeTask(ctx, id, actorID)
}

func (e Engine) removeTask(ctx context.Context, id, actorID string) (domain.Task, bool, error) {
	unlock := e.lock(id)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, false, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return t, false, err
	}
	if t.Status == domain.StatusPending || t.Status == domain.StatusInProgress {
		return t, false, domain.InvalidTransitionError{Entity: "task", ID: id, From: t.Status, Action: "delete"}
	}
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return t, false, err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", "task", id, actorID, events.EventPayload{"status": t.Status}); err != nil {
		return t, false, err
	}
	if err := tx.Commit(); err != nil {
		return t, false, err
	}
	return t, true, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

// execute calls the gateway outside the task lock, then applies the outcome
// only if the task is still the in-progress revision that was sent.
func (e Engine) execute(ctx context.Context, t domain.Task, actorID string) (domain.Task, error) {
	// the caller going away must not strand the task in progress
	ctx = context.WithoutCancel(ctx)
	sentRevision := t.Revision

	text, res, execErr := e.run(ctx, t)

	unlock := e.lock(t.ID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	cur, err := e.Repo.GetTaskTx(ctx, tx, t.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.Logger.Info("discarding response for deleted task", "task_id", t.ID)
		}
		return t, err
	}
	if cur.Status != domain.StatusInProgress || cur.Revision != sentRevision {
		e.Logger.Info("discarding late response", "task_id", cur.ID, "status", cur.Status, "revision", cur.Revision)
		if err := e.Events.Append(ctx, tx, "task.response_discarded", "task", cur.ID, actorID, events.EventPayload{"status": cur.Status}); err != nil {
			return cur, err
		}
		return cur, tx.Commit()
	}

	nowStr := domain.FormatTime(e.now())
	cur.UpdatedAt = nowStr
	var evtType string
	var payload events.EventPayload
	if execErr != nil {
		reason := execErr.Error()
		cur.Status = domain.StatusBlocked
		cur.BlockedReason = &reason
		evtType = "task.blocked"
		payload = events.EventPayload{"reason": reason}
		e.Logger.Warn("task blocked", "task_id", cur.ID, "assignee", cur.Assignee, "error", execErr)
	} else {
		cur.Status = domain.StatusCompleted
		cur.Deliverable = &text
		cur.BlockedReason = nil
		cur.CompletedAt = &nowStr
		cur.Reviewed = false
		evtType = "task.completed"
		payload = events.EventPayload{"provider": res.Provider, "model": res.Model, "fallback": res.Fallback, "response_time_ms": res.Record.ResponseTimeMS}
	}
	if err := e.Repo.UpdateTask(ctx, tx, cur); err != nil {
		return cur, err
	}
	if err := e.Events.Append(ctx, tx, evtType, "task", cur.ID, actorID, payload); err != nil {
		return cur, err
	}
	if err := tx.Commit(); err != nil {
		return cur, err
	}
	return cur, nil
}

func (e Engine) run(ctx context.Context, t domain.Task) (string, gateway.Result, error) {
	member, err := e.Registry.Resolve(t.Assignee)
	if err != nil {
		return "", gateway.Result{}, err
	}
	system, err := e.systemPrompt(ctx, member)
	if err != nil {
		return "", gateway.Result{}, err
	}
	res, err := e.Gateway.Execute(ctx, t.Assignee, gateway.Request{
		System: system,
		Prompt: TaskPrompt(t),
		Topic:  t.Type,
	})
	if err != nil {
		return "", res, err
	}
	return res.Text, res, nil
}

func (e Engine) systemPrompt(ctx context.Context, member domain.BoardMember) (string, error) {
	board := e.Registry.Config().Board.Name
	if board == "" {
		board = "the executive board"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s on %s. Answer in your own voice as this board member and produce a concrete deliverable the CEO can act on.\n",
		persona.DisplayName(member), board)
	if e.Knowledge != nil {
		section, err := e.Knowledge.PromptSection(ctx, member)
		if err != nil {
			return "", fmt.Errorf("knowledge prompt section: %w", err)
		}
		if section != "" {
			b.WriteString("\n")
			b.WriteString(section)
		}
	}
	return b.String(), nil
}

// TaskPrompt renders the user turn of an execution, including revision feedback.
func TaskPrompt(t domain.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nType: %s\nPriority: %s\n", t.Title, t.Type, t.Priority)
	if t.Description != "" {
		fmt.Fprintf(&b, "\nDetails:\n%s\n", t.Description)
	}
	if t.Feedback != nil && *t.Feedback != "" {
		if t.Deliverable != nil {
			fmt.Fprintf(&b, "\nYour previous deliverable:\n%s\n", *t.Deliverable)
		}
		fmt.Fprintf(&b, "\nThe CEO requested a revision (round %d):\n%s\n", t.Revision, *t.Feedback)
	}
	return b.String()
}
