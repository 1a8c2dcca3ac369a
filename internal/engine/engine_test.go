package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"boardroom/internal/config"
	"boardroom/internal/db"
	"boardroom/internal/domain"
	"boardroom/internal/engine"
	"boardroom/internal/gateway"
	"boardroom/internal/migrate"
	"boardroom/internal/persona"
	"boardroom/internal/repo"
)

type fakeGateway struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []gateway.Request
	// when set, Execute signals started and waits for release
	started chan struct{}
	release chan struct{}
}

func (f *fakeGateway) Execute(ctx context.Context, slug string, req gateway.Request) (gateway.Result, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, req)
	started, release := f.started, f.release
	reply, err := f.reply, f.err
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
		<-release
	}
	if err != nil {
		return gateway.Result{}, err
	}
	return gateway.Result{Text: reply, Provider: "anthropic", Model: "claude-x"}, nil
}

func (f *fakeGateway) lastPrompt() gateway.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[len(f.prompts)-1]
}

type fakeKnowledge struct{}

func (fakeKnowledge) PromptSection(ctx context.Context, m domain.BoardMember) (string, error) {
	if m.Slug == "athena" {
		return "## Inspiration\n### Jeff Bezos\n", nil
	}
	return "", nil
}

type testEnv struct {
	Engine   engine.Engine
	Gateway  *fakeGateway
	Registry *persona.Registry
	Ctx      context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg := persona.NewRegistry(config.Default())
	gw := &fakeGateway{reply: "Here is the plan."}
	eng := engine.New(conn, reg, gw)
	eng.Knowledge = fakeKnowledge{}
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Gateway: gw, Registry: reg, Ctx: context.Background()}
}

func TestCreateExecuteApprove(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "Q3 strategy", Assignee: "athena", Priority: domain.PriorityHigh, ExecuteNow: true, ActorID: "ceo",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != domain.StatusCompleted || task.Deliverable == nil || *task.Deliverable != "Here is the plan." || task.CompletedAt == nil {
		t.Fatalf("unexpected task %+v", task)
	}
	req := env.Gateway.lastPrompt()
	if !strings.Contains(req.System, "Athena, Chief Strategy Officer") || !strings.Contains(req.System, "### Jeff Bezos") {
		t.Fatalf("system prompt missing persona or knowledge:\n%s", req.System)
	}
	if !strings.Contains(req.Prompt, "Task: Q3 strategy") || !strings.Contains(req.Prompt, "Priority: high") {
		t.Fatalf("unexpected prompt:\n%s", req.Prompt)
	}

	task, err = env.Engine.ApproveTask(env.Ctx, task.ID, "ceo")
	if err != nil || !task.Reviewed {
		t.Fatalf("approve: %+v %v", task, err)
	}
	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil || !got.Reviewed || got.Status != domain.StatusCompleted {
		t.Fatalf("reload: %+v %v", got, err)
	}
}

func TestManualRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Budget", Assignee: "griffin"})
	if err != nil || task.Status != domain.StatusPending || task.Priority != domain.PriorityNormal {
		t.Fatalf("create: %+v %v", task, err)
	}
	task, err = env.Engine.StartTask(env.Ctx, task.ID, "ceo")
	if err != nil || task.Status != domain.StatusCompleted || task.Deliverable == nil {
		t.Fatalf("start: %+v %v", task, err)
	}
}

func TestRevisionKeepsPriorDeliverable(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Pricing", Assignee: "athena", ExecuteNow: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.RequestRevision(env.Ctx, task.ID, "  ", "ceo"); !errors.As(err, new(domain.ValidationError)) {
		t.Fatalf("empty feedback should be a validation error, got %v", err)
	}

	env.Gateway.mu.Lock()
	env.Gateway.reply = "Revised plan."
	env.Gateway.started = make(chan struct{})
	env.Gateway.release = make(chan struct{})
	env.Gateway.mu.Unlock()

	done := make(chan domain.Task, 1)
	go func() {
		out, err := env.Engine.RequestRevision(env.Ctx, task.ID, "Add numbers", "ceo")
		if err != nil {
			t.Errorf("revision: %v", err)
		}
		done <- out
	}()
	<-env.Gateway.started
	mid, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if mid.Status != domain.StatusInProgress || mid.Deliverable == nil || *mid.Deliverable != "Here is the plan." || mid.Revision != 1 {
		t.Fatalf("prior deliverable should stay during revision: %+v", mid)
	}
	close(env.Gateway.release)
	final := <-done
	if final.Status != domain.StatusCompleted || *final.Deliverable != "Revised plan." || final.Feedback == nil {
		t.Fatalf("unexpected revised task %+v", final)
	}
	req := env.Gateway.lastPrompt()
	if !strings.Contains(req.Prompt, "Add numbers") || !strings.Contains(req.Prompt, "Here is the plan.") {
		t.Fatalf("revision prompt missing feedback or prior deliverable:\n%s", req.Prompt)
	}
}

func TestCancelDiscardsLateResponse(t *testing.T) {
	env := newTestEnv(t)
	env.Gateway.started = make(chan struct{})
	env.Gateway.release = make(chan struct{})

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Slow", Assignee: "scuba"})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan domain.Task, 1)
	go func() {
		out, _ := env.Engine.StartTask(env.Ctx, task.ID, "ceo")
		done <- out
	}()
	<-env.Gateway.started
	if _, err := env.Engine.CancelTask(env.Ctx, task.ID, "ceo"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(env.Gateway.release)
	out := <-done
	if out.Status != domain.StatusCancelled || out.Deliverable != nil {
		t.Fatalf("late response must be discarded: %+v", out)
	}
	evts, err := env.Engine.Repo.ListEvents(env.Ctx, repo.EventFilters{EntityID: task.ID, Type: "task.response_discarded"})
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected discard event, got %v %v", evts, err)
	}
}

func TestExhaustionBlocksThenRetry(t *testing.T) {
	env := newTestEnv(t)
	env.Gateway.err = &gateway.ExhaustedError{Member: "nova"}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Launch", Assignee: "nova", ExecuteNow: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != domain.StatusBlocked || task.BlockedReason == nil || !strings.Contains(*task.BlockedReason, "exhausted") {
		t.Fatalf("expected blocked task, got %+v", task)
	}
	env.Gateway.mu.Lock()
	env.Gateway.err = nil
	env.Gateway.mu.Unlock()
	task, err = env.Engine.RetryTask(env.Ctx, task.ID, "ceo")
	if err != nil || task.Status != domain.StatusCompleted || task.BlockedReason != nil {
		t.Fatalf("retry: %+v %v", task, err)
	}
}

func TestUnknownAndInactiveAssigneeBlocked(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Orphan", Assignee: "ghost", ExecuteNow: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != domain.StatusBlocked || !strings.Contains(*task.BlockedReason, "persona not found") {
		t.Fatalf("expected blocked task, got %+v", task)
	}
	if _, err := env.Registry.SetActive("nova", false); err != nil {
		t.Fatal(err)
	}
	task, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Idle", Assignee: "nova"})
	if err != nil || task.Status != domain.StatusBlocked || !strings.Contains(*task.BlockedReason, "inactive") {
		t.Fatalf("expected inactive block, got %+v %v", task, err)
	}
	if len(env.Gateway.prompts) != 0 {
		t.Fatalf("gateway must not be called for unavailable personas")
	}
}

func TestInvalidTransitions(t *testing.T) {
	env := newTestEnv(t)
	pending, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "P", Assignee: "athena"})
	var it domain.InvalidTransitionError
	if _, err := env.Engine.ApproveTask(env.Ctx, pending.ID, "ceo"); !errors.As(err, &it) || it.From != domain.StatusPending {
		t.Fatalf("approve pending: %v", err)
	}
	cancelled, err := env.Engine.CancelTask(env.Ctx, pending.ID, "ceo")
	if err != nil || cancelled.Status != domain.StatusCancelled {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.Engine.CancelTask(env.Ctx, pending.ID, "ceo"); !errors.As(err, &it) {
		t.Fatalf("double cancel should fail: %v", err)
	}
	if _, err := env.Engine.StartTask(env.Ctx, pending.ID, "ceo"); !errors.As(err, &it) {
		t.Fatalf("start cancelled should fail: %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "", Assignee: "athena"}); !errors.As(err, new(domain.ValidationError)) {
		t.Fatalf("empty title: %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", Assignee: "athena", Priority: "urgent"}); !errors.As(err, new(domain.ValidationError)) {
		t.Fatalf("bad priority: %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing task: %v", err)
	}
}

func TestDeleteCancelsLiveAndRemovesFinished(t *testing.T) {
	env := newTestEnv(t)
	live, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Live", Assignee: "athena"})
	out, deleted, err := env.Engine.DeleteTask(env.Ctx, live.ID, "ceo")
	if err != nil || deleted || out.Status != domain.StatusCancelled {
		t.Fatalf("delete live: %+v %v %v", out, deleted, err)
	}
	_, deleted, err = env.Engine.DeleteTask(env.Ctx, live.ID, "ceo")
	if err != nil || !deleted {
		t.Fatalf("delete cancelled: %v %v", deleted, err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, live.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("task should be gone: %v", err)
	}
}

func TestWorkloadAndQuickTasks(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "a", Assignee: "griffin"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RunQuickTask(env.Ctx, "cash_runway", "ceo"); err != nil {
		t.Fatalf("quick task: %v", err)
	}
	if _, err := env.Engine.RunQuickTask(env.Ctx, "nope", "ceo"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown quick task: %v", err)
	}
	w, err := env.Engine.Workload(env.Ctx, "griffin")
	if err != nil {
		t.Fatalf("workload: %v", err)
	}
	if w.Pending != 1 || w.Completed != 1 {
		t.Fatalf("unexpected workload %+v", w)
	}
	all, err := env.Engine.WorkloadAll(env.Ctx)
	if err != nil || len(all) != 4 || all[0].MemberSlug != "athena" {
		t.Fatalf("workload all: %+v %v", all, err)
	}
	for _, q := range engine.QuickTasks() {
		if _, err := env.Registry.Resolve(q.Assignee); err != nil {
			t.Fatalf("quick task %s has unknown assignee: %v", q.ID, err)
		}
	}
}

func TestConcurrentTransitionsSerialize(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Race", Assignee: "athena", ExecuteNow: true})
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.RequestRevision(env.Ctx, task.ID, "again", "ceo")
			results <- err
		}()
	}
	wg.Wait()
	close(results)
	final, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}
	if final.Revision != succeeded || final.Status != domain.StatusCompleted {
		t.Fatalf("revision %d after %d successful requests, status %s", final.Revision, succeeded, final.Status)
	}
}

func TestKeyedMutexDropsIdleKeys(t *testing.T) {
	var k engine.KeyedMutex
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	if k.Len() != 2 {
		t.Fatalf("expected 2 held keys, got %d", k.Len())
	}
	done := make(chan struct{})
	go func() {
		k.Lock("a")()
		close(done)
	}()
	unlockA()
	<-done
	unlockB()
	if k.Len() != 0 {
		t.Fatalf("expected idle keys to be dropped, got %d", k.Len())
	}
}
