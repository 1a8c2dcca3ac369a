// Package scheduler fires built-in daily automations and user-defined
// actions. Each (action, instant) pair fires at most once, across restarts.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"boardroom/internal/committee"
	"boardroom/internal/config"
	"boardroom/internal/domain"
	"boardroom/internal/engine"
	"boardroom/internal/events"
	"boardroom/internal/logging"
	"boardroom/internal/persona"
	"boardroom/internal/repo"
)

// TaskCreator is the task lifecycle manager as seen by the scheduler.
type TaskCreator interface {
	CreateTask(ctx context.Context, opts engine.TaskCreateOptions) (domain.Task, error)
}

// Convener opens a committee meeting and posts its opening prompt.
type Convener interface {
	Convene(ctx context.Context, title string, participants []string, prompt, actorID string) (domain.Meeting, error)
}

type Synthesizer interface {
	SynthesizeAll(ctx context.Context, now time.Time) (int, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type Pruner interface {
	Prune(ctx context.Context, now time.Time) (int, error)
}

const (
	actorID       = "scheduler"
	removedReason = "removed from configuration"
)

type Scheduler struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Registry  *persona.Registry
	Tasks     TaskCreator
	Committee Convener
	Knowledge Synthesizer
	Telemetry Pruner
	Logger    *logging.Logger
	Now       func() time.Time

	wg conc.WaitGroup
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) builtin(id string) (config.BuiltIn, bool) {
	for _, b := range s.Registry.Config().Scheduler.BuiltIns {
		if b.ID == id {
			return b, true
		}
	}
	return config.BuiltIn{}, false
}

// Sync writes the configured built-ins into scheduled_actions. A stored next
// run is kept when the time is unchanged so a firing missed while the process
// was down still happens once on the next tick.
func (s *Scheduler) Sync(ctx context.Context, now time.Time) error {
	builtIn := true
	existing, err := s.Repo.ListActions(ctx, repo.ActionFilters{BuiltIn: &builtIn})
	if err != nil {
		return err
	}
	byID := map[string]domain.ScheduledAction{}
	for _, a := range existing {
		byID[a.ID] = a
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	configured := map[string]bool{}
	for _, b := range s.Registry.Config().Scheduler.BuiltIns {
		configured[b.ID] = true
		expr := DailyExpr(b.Hour, b.Minute)
		a := domain.ScheduledAction{
			ID:         b.ID,
			Title:      b.Title,
			ActionType: b.Action,
			Schedule:   expr,
			Active:     true,
			BuiltIn:    true,
			CreatedAt:  domain.FormatTime(now),
		}
		if b.Title == "" {
			a.Title = b.ID
		}
		if b.Assignee != "" {
			assignee := b.Assignee
			a.Assignee = &assignee
		}
		if b.Action == config.ActionCommittee {
			a.Participants = b.Participants
			a.Prompt = b.Prompt
		}
		if err := s.Repo.UpsertAction(ctx, tx, a); err != nil {
			return fmt.Errorf("upsert builtin %s: %w", b.ID, err)
		}
		prev, seen := byID[b.ID]
		if seen && !prev.Active && prev.LastError != nil && *prev.LastError == removedReason {
			if err := s.Repo.SetActionActive(ctx, tx, b.ID, true, nil); err != nil {
				return err
			}
			seen = false
		}
		if seen && prev.NextRun != nil && prev.Schedule == expr {
			continue
		}
		next := domain.FormatTime(NextRun(b.Hour, b.Minute, now))
		if err := s.Repo.UpdateActionRun(ctx, tx, b.ID, nil, &next, nil); err != nil {
			return err
		}
	}
	for id, a := range byID {
		if configured[id] || !a.Active {
			continue
		}
		reason := removedReason
		if err := s.Repo.SetActionActive(ctx, tx, id, false, &reason); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateActionInput describes a user-defined action.
type CreateActionInput struct {
	Title        string
	ActionType   string
	Assignee     string
	Participants []string
	Prompt       string
	Schedule     string
	ActorID      string
}

// CreateAction validates and stores a user action. A schedule without a
// future occurrence is rejected with a ScheduleError before anything is written.
func (s *Scheduler) CreateAction(ctx context.Context, in CreateActionInput) (domain.ScheduledAction, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return domain.ScheduledAction{}, domain.ValidationError{Field: "title", Reason: "required"}
	}
	if in.ActionType == "" {
		in.ActionType = config.ActionTask
	}
	switch in.ActionType {
	case config.ActionTask:
		if strings.TrimSpace(in.Assignee) == "" {
			return domain.ScheduledAction{}, domain.ValidationError{Field: "assignee", Reason: "required for task actions"}
		}
	case config.ActionCommittee:
		participants, err := s.validParticipants(in.Participants)
		if err != nil {
			return domain.ScheduledAction{}, err
		}
		in.Participants = participants
	case config.ActionSynthesis, config.ActionPrune:
	default:
		return domain.ScheduledAction{}, domain.ValidationError{Field: "action_type", Reason: fmt.Sprintf("unsupported action type %q", in.ActionType)}
	}
	if in.ActionType != config.ActionCommittee {
		in.Participants = nil
	}
	now := s.now()
	next, err := NextFor(in.Schedule, now)
	if err != nil {
		return domain.ScheduledAction{}, err
	}
	nextStr := domain.FormatTime(next)
	a := domain.ScheduledAction{
		ID:           uuid.NewString(),
		Title:        in.Title,
		ActionType:   in.ActionType,
		Participants: in.Participants,
		Prompt:       strings.TrimSpace(in.Prompt),
		Schedule:     strings.TrimSpace(in.Schedule),
		Active:       true,
		NextRun:      &nextStr,
		CreatedAt:    domain.FormatTime(now),
	}
	if in.Assignee != "" {
		assignee := strings.TrimSpace(in.Assignee)
		a.Assignee = &assignee
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduledAction{}, err
	}
	defer tx.Rollback()
	if err := s.Repo.UpsertAction(ctx, tx, a); err != nil {
		return domain.ScheduledAction{}, err
	}
	if err := s.Events.Append(ctx, tx, "schedule.created", "schedule", a.ID, in.ActorID, events.EventPayload{"schedule": a.Schedule, "action_type": a.ActionType}); err != nil {
		return domain.ScheduledAction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ScheduledAction{}, err
	}
	return a, nil
}

// validParticipants checks a committee roster the way meeting creation does,
// so a stored action cannot fail later on its size or on an unknown slug.
func (s *Scheduler) validParticipants(in []string) ([]string, error) {
	snap := s.Registry.Snapshot()
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, slug := range in {
		slug = strings.TrimSpace(slug)
		if slug == "" {
			return nil, domain.ValidationError{Field: "participants", Reason: "empty member slug"}
		}
		if seen[slug] {
			return nil, domain.ValidationError{Field: "participants", Reason: fmt.Sprintf("duplicate member %q", slug)}
		}
		if _, ok := snap.Lookup(slug); !ok {
			return nil, domain.PersonaError{Slug: slug, Err: domain.ErrPersonaNotFound}
		}
		seen[slug] = true
		out = append(out, slug)
	}
	if len(out) < committee.MinParticipants || len(out) > committee.MaxParticipants {
		return nil, domain.ValidationError{
			Field:  "participants",
			Reason: fmt.Sprintf("a committee needs %d to %d members, got %d", committee.MinParticipants, committee.MaxParticipants, len(out)),
		}
	}
	return out, nil
}

// SetActive toggles an action. Activation recomputes the next run.
func (s *Scheduler) SetActive(ctx context.Context, id string, active bool, actor string) (domain.ScheduledAction, error) {
	a, err := s.Repo.GetAction(ctx, id)
	if err != nil {
		return a, err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if active {
		next, err := s.nextFor(a, s.now())
		if err != nil {
			return a, err
		}
		nextStr := domain.FormatTime(next)
		if err := s.Repo.UpdateActionRun(ctx, tx, id, nil, &nextStr, nil); err != nil {
			return a, err
		}
	}
	if err := s.Repo.SetActionActive(ctx, tx, id, active, nil); err != nil {
		return a, err
	}
	if err := s.Events.Append(ctx, tx, "schedule.updated", "schedule", id, actor, events.EventPayload{"active": active}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return s.Repo.GetAction(ctx, id)
}

// DeleteAction removes a user action; built-ins can only be deactivated.
func (s *Scheduler) DeleteAction(ctx context.Context, id, actor string) error {
	a, err := s.Repo.GetAction(ctx, id)
	if err != nil {
		return err
	}
	if a.BuiltIn {
		return domain.InvalidTransitionError{Entity: "schedule", ID: id, From: "built_in", Action: "delete"}
	}
	if err := s.Repo.DeleteAction(ctx, id); err != nil {
		return err
	}
	return s.Events.AppendStandalone(ctx, "schedule.deleted", "schedule", id, actor, nil)
}

// ActionView adds the countdown to a stored action.
type ActionView struct {
	domain.ScheduledAction
	TimeUntil        string `json:"time_until,omitempty"`
	TimeUntilSeconds int64  `json:"time_until_seconds,omitempty"`
}

type View struct {
	BuiltIns []ActionView `json:"builtins"`
	User     []ActionView `json:"user"`
}

func (s *Scheduler) View(ctx context.Context, now time.Time) (View, error) {
	actions, err := s.Repo.ListActions(ctx, repo.ActionFilters{})
	if err != nil {
		return View{}, err
	}
	v := View{BuiltIns: []ActionView{}, User: []ActionView{}}
	for _, a := range actions {
		av := ActionView{ScheduledAction: a}
		if a.Active && a.NextRun != nil {
			if next, err := domain.ParseTime(*a.NextRun); err == nil {
				av.TimeUntil = humanize.RelTime(now, next, "from now", "overdue")
				av.TimeUntilSeconds = int64(next.Sub(now).Seconds())
			}
		}
		if a.BuiltIn {
			v.BuiltIns = append(v.BuiltIns, av)
		} else {
			v.User = append(v.User, av)
		}
	}
	return v, nil
}

func (s *Scheduler) nextFor(a domain.ScheduledAction, now time.Time) (time.Time, error) {
	if a.BuiltIn {
		b, ok := s.builtin(a.ID)
		if !ok {
			return time.Time{}, domain.ScheduleError{Expr: a.Schedule, Err: errors.New("built-in no longer configured")}
		}
		return NextRun(b.Hour, b.Minute, now), nil
	}
	return NextFor(a.Schedule, now)
}

// Tick fires every active action whose next run is due and returns how many
// were claimed. Execution happens on separate goroutines; Tick does not wait.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	actions, err := s.Repo.ListActions(ctx, repo.ActionFilters{ActiveOnly: true})
	if err != nil {
		return 0, err
	}
	nowStr := domain.FormatTime(now)
	fired := 0
	for _, a := range actions {
		if a.NextRun == nil || *a.NextRun > nowStr {
			continue
		}
		ok, err := s.claim(ctx, a, now)
		if err != nil {
			s.Logger.Error("schedule claim failed", "action_id", a.ID, "error", err)
			continue
		}
		if ok {
			fired++
		}
	}
	return fired, nil
}

// claim records the run and advances next_run in one transaction, then
// launches the firing. It reports false for an instant that already fired.
func (s *Scheduler) claim(ctx context.Context, a domain.ScheduledAction, now time.Time) (bool, error) {
	scheduledFor := *a.NextRun
	nowStr := domain.FormatTime(now)

	next, nextErr := s.nextFor(a, now)
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if nextErr != nil && !IsOnce(a.Schedule) {
		reason := nextErr.Error()
		if err := s.Repo.SetActionActive(ctx, tx, a.ID, false, &reason); err != nil {
			return false, err
		}
		if err := s.Events.Append(ctx, tx, "schedule.deactivated", "schedule", a.ID, actorID, events.EventPayload{"reason": reason}); err != nil {
			return false, err
		}
		s.Logger.Warn("schedule deactivated", "action_id", a.ID, "error", nextErr)
		return false, tx.Commit()
	}

	claimed, err := s.Repo.ClaimRun(ctx, tx, domain.ScheduleRun{ActionID: a.ID, ScheduledFor: scheduledFor, FiredAt: nowStr})
	if err != nil {
		return false, err
	}
	var lastRun *string
	if claimed {
		lastRun = &nowStr
	}
	var nextPtr *string
	if nextErr == nil {
		n := domain.FormatTime(next)
		nextPtr = &n
	}
	if err := s.Repo.UpdateActionRun(ctx, tx, a.ID, lastRun, nextPtr, a.LastError); err != nil {
		return false, err
	}
	if nextPtr == nil {
		// one-off schedule has run
		if err := s.Repo.SetActionActive(ctx, tx, a.ID, false, a.LastError); err != nil {
			return false, err
		}
	}
	if claimed {
		if err := s.Events.Append(ctx, tx, "schedule.fired", "schedule", a.ID, actorID, events.EventPayload{"scheduled_for": scheduledFor}); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}
	fireCtx := context.WithoutCancel(ctx)
	s.wg.Go(func() { s.fire(fireCtx, a, scheduledFor) })
	return true, nil
}

// fire runs one action. Failures and panics stay with the action.
func (s *Scheduler) fire(ctx context.Context, a domain.ScheduledAction, scheduledFor string) {
	log := s.Logger.With("action_id", a.ID, "scheduled_for", scheduledFor)
	var ref string
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		ref, err = s.dispatch(ctx, a)
	}()
	if err != nil {
		log.Error("scheduled action failed", "error", err)
		msg := err.Error()
		if serr := s.Repo.SetActionError(ctx, a.ID, &msg); serr != nil {
			log.Error("record action error", "error", serr)
		}
		return
	}
	log.Info("scheduled action fired", "result", ref)
	if a.LastError != nil {
		if serr := s.Repo.SetActionError(ctx, a.ID, nil); serr != nil {
			log.Error("clear action error", "error", serr)
		}
	}
	if serr := s.Repo.SetRunResult(ctx, a.ID, scheduledFor, ref); serr != nil {
		log.Error("record run result", "error", serr)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, a domain.ScheduledAction) (string, error) {
	b, _ := s.builtin(a.ID)
	if !a.BuiltIn {
		b = config.BuiltIn{}
	}
	now := s.now()
	switch a.ActionType {
	case config.ActionTask:
		if s.Tasks == nil {
			return "", errors.New("task runner not configured")
		}
		assignee := b.Assignee
		if a.Assignee != nil {
			assignee = *a.Assignee
		}
		taskType := b.TaskType
		if taskType == "" {
			taskType = "scheduled"
		}
		t, err := s.Tasks.CreateTask(ctx, engine.TaskCreateOptions{
			Title:       a.Title,
			Description: b.Prompt,
			Assignee:    assignee,
			Type:        taskType,
			Priority:    domain.PriorityNormal,
			ExecuteNow:  true,
			ActorID:     actorID,
		})
		if err != nil {
			return "", err
		}
		return "task:" + t.ID, nil
	case config.ActionCommittee:
		if s.Committee == nil {
			return "", errors.New("committee not configured")
		}
		participants, prompt := a.Participants, a.Prompt
		if a.BuiltIn {
			participants, prompt = b.Participants, b.Prompt
		}
		m, err := s.Committee.Convene(ctx, a.Title, participants, prompt, actorID)
		if err != nil {
			return "", err
		}
		return "meeting:" + m.ID, nil
	case config.ActionSynthesis:
		if s.Knowledge == nil {
			return "", errors.New("knowledge service not configured")
		}
		purged, err := s.Knowledge.PurgeExpired(ctx, now)
		if err != nil {
			return "", err
		}
		n, err := s.Knowledge.SynthesizeAll(ctx, now)
		return fmt.Sprintf("synthesized:%d purged:%d", n, purged), err
	case config.ActionPrune:
		if s.Telemetry == nil {
			return "", errors.New("telemetry store not configured")
		}
		n, err := s.Telemetry.Prune(ctx, now)
		return fmt.Sprintf("pruned:%d", n), err
	}
	return "", fmt.Errorf("unknown action type %q", a.ActionType)
}

// Run ticks until ctx is done, starting with an immediate tick.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.Registry.Config().TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.Logger.Info("scheduler started", "interval", interval.String())
	for {
		if _, err := s.Tick(ctx, s.now()); err != nil {
			s.Logger.Error("scheduler tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.Logger.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until every launched firing has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
