package committee_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"boardroom/internal/committee"
	"boardroom/internal/config"
	"boardroom/internal/db"
	"boardroom/internal/domain"
	"boardroom/internal/gateway"
	"boardroom/internal/migrate"
	"boardroom/internal/persona"
	"boardroom/internal/repo"
)

type fakeGateway struct {
	mu      sync.Mutex
	fail    map[string]bool
	delay   map[string]time.Duration
	prompts map[string]gateway.Request
}

func (f *fakeGateway) Execute(ctx context.Context, slug string, req gateway.Request) (gateway.Result, error) {
	f.mu.Lock()
	if f.prompts == nil {
		f.prompts = map[string]gateway.Request{}
	}
	f.prompts[slug] = req
	fail, delay := f.fail[slug], f.delay[slug]
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return gateway.Result{}, &gateway.ExhaustedError{Member: slug}
	}
	return gateway.Result{Text: "view from " + slug}, nil
}

func newOrchestrator(t *testing.T, gw *fakeGateway) (*committee.Orchestrator, *persona.Registry) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg := persona.NewRegistry(config.Default())
	o := committee.New(conn, reg, gw)
	return o, reg
}

func TestCreateParticipantBounds(t *testing.T) {
	o, _ := newOrchestrator(t, &fakeGateway{})
	ctx := context.Background()
	all := []string{"athena", "griffin", "scuba", "nova"}
	for _, n := range []int{1, 5} {
		slugs := append(append([]string{}, all...), "athena")[:n]
		if _, err := o.Create(ctx, "Board", slugs, "ceo"); !errors.As(err, new(domain.ValidationError)) {
			t.Fatalf("%d participants: expected validation error, got %v", n, err)
		}
	}
	for _, n := range []int{2, 3, 4} {
		m, err := o.Create(ctx, "Board", all[:n], "ceo")
		if err != nil || len(m.Participants) != n || m.Status != domain.MeetingActive {
			t.Fatalf("%d participants: %+v %v", n, m, err)
		}
	}
	if _, err := o.Create(ctx, "Board", []string{"athena", "athena"}, "ceo"); !errors.As(err, new(domain.ValidationError)) {
		t.Fatalf("duplicate slugs should be rejected, got %v", err)
	}
	if _, err := o.Create(ctx, " ", all[:2], "ceo"); !errors.As(err, new(domain.ValidationError)) {
		t.Fatalf("empty title should be rejected, got %v", err)
	}
	if _, err := o.Create(ctx, "Board", []string{"athena", "ghost"}, "ceo"); !errors.Is(err, domain.ErrPersonaNotFound) {
		t.Fatalf("unknown member should be rejected, got %v", err)
	}
}

func TestSendRecordsFailedMemberAsAbsent(t *testing.T) {
	gw := &fakeGateway{fail: map[string]bool{"griffin": true}}
	o, _ := newOrchestrator(t, gw)
	ctx := context.Background()
	m, err := o.Create(ctx, "Pricing review", []string{"athena", "griffin", "scuba"}, "ceo")
	if err != nil {
		t.Fatal(err)
	}
	res, err := o.Send(ctx, m.ID, "Should we raise prices?", "ceo")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(res.Responses) != 2 {
		t.Fatalf("expected two responses, got %+v", res.Responses)
	}
	if _, ok := res.Absent["griffin"]; !ok || len(res.Absent) != 1 {
		t.Fatalf("griffin should be absent: %+v", res.Absent)
	}
	for _, r := range res.Responses {
		if r.MemberSlug == nil || *r.MemberSlug == "griffin" || r.Round != 1 {
			t.Fatalf("unexpected response %+v", r)
		}
	}
	got, err := o.Get(ctx, m.ID)
	if err != nil || got.Status != domain.MeetingActive {
		t.Fatalf("meeting should stay active: %+v %v", got, err)
	}
	msgs, err := o.Messages(ctx, m.ID, 0, 0)
	if err != nil || len(msgs) != 3 {
		t.Fatalf("messages: %+v %v", msgs, err)
	}
	if msgs[0].MemberSlug != nil || msgs[0].Author != "Chair" {
		t.Fatalf("first message should be the chair's: %+v", msgs[0])
	}
}

func TestResponsesAppendInCompletionOrder(t *testing.T) {
	gw := &fakeGateway{delay: map[string]time.Duration{"athena": 80 * time.Millisecond}}
	o, _ := newOrchestrator(t, gw)
	ctx := context.Background()
	m, err := o.Create(ctx, "Ordering", []string{"athena", "scuba"}, "ceo")
	if err != nil {
		t.Fatal(err)
	}
	res, err := o.Send(ctx, m.ID, "Go.", "ceo")
	if err != nil || len(res.Responses) != 2 {
		t.Fatalf("send: %+v %v", res, err)
	}
	if *res.Responses[0].MemberSlug != "scuba" || *res.Responses[1].MemberSlug != "athena" {
		t.Fatalf("expected scuba before athena, got %s then %s", *res.Responses[0].MemberSlug, *res.Responses[1].MemberSlug)
	}
	if res.Responses[0].Seq >= res.Responses[1].Seq || res.Message.Seq >= res.Responses[0].Seq {
		t.Fatalf("sequence must follow completion order: %+v", res)
	}

	second, err := o.Send(ctx, m.ID, "And next quarter?", "ceo")
	if err != nil || second.Round != 2 {
		t.Fatalf("second round: %+v %v", second, err)
	}
	prompt := gw.prompts["scuba"].Prompt
	if !strings.Contains(prompt, "Chair: Go.") || !strings.Contains(prompt, "view from athena") || !strings.HasSuffix(prompt, "Chair: And next quarter?") {
		t.Fatalf("transcript missing from prompt:\n%s", prompt)
	}
}

func TestInactiveMemberRendersPlaceholder(t *testing.T) {
	o, reg := newOrchestrator(t, &fakeGateway{})
	ctx := context.Background()
	m, err := o.Create(ctx, "Ops", []string{"athena", "nova"}, "ceo")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Send(ctx, m.ID, "Status?", "ceo"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.SetActive("nova", false); err != nil {
		t.Fatal(err)
	}
	msgs, err := o.Messages(ctx, m.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	var placeholder bool
	for _, msg := range msgs {
		if msg.MemberSlug != nil && *msg.MemberSlug == "nova" {
			placeholder = msg.Author == committee.InactivePlaceholder
		}
	}
	if !placeholder {
		t.Fatalf("deactivated author should render placeholder: %+v", msgs)
	}
	res, err := o.Send(ctx, m.ID, "Anyone else?", "ceo")
	if err != nil || len(res.Responses) != 1 || res.Absent["nova"] == "" {
		t.Fatalf("inactive member should be absent: %+v %v", res, err)
	}
}

func TestEndedMeetingRejectsMessages(t *testing.T) {
	o, _ := newOrchestrator(t, &fakeGateway{})
	ctx := context.Background()
	m, err := o.Create(ctx, "Wrap", []string{"athena", "griffin"}, "ceo")
	if err != nil {
		t.Fatal(err)
	}
	ended, err := o.End(ctx, m.ID, "ceo")
	if err != nil || ended.Status != domain.MeetingEnded || ended.EndedAt == nil {
		t.Fatalf("end: %+v %v", ended, err)
	}
	if _, err := o.Send(ctx, m.ID, "Hello?", "ceo"); !errors.As(err, new(domain.InvalidTransitionError)) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := o.End(ctx, m.ID, "ceo"); !errors.As(err, new(domain.InvalidTransitionError)) {
		t.Fatalf("ending twice should fail, got %v", err)
	}
	if _, err := o.Messages(ctx, "missing", 0, 0); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	list, err := o.List(ctx, domain.MeetingEnded, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %+v %v", list, err)
	}
}

func TestConveneOpensWithPrompt(t *testing.T) {
	o, _ := newOrchestrator(t, &fakeGateway{})
	ctx := context.Background()
	m, err := o.Convene(ctx, "Standup", []string{"athena", "griffin", "scuba"}, "Top priority?", "scheduler")
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := o.Messages(ctx, m.ID, 0, 0)
	if err != nil || len(msgs) != 4 {
		t.Fatalf("expected chair message plus three replies: %+v %v", msgs, err)
	}
}

func TestMeetingLocksReleasedAfterRounds(t *testing.T) {
	o, _ := newOrchestrator(t, &fakeGateway{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m, err := o.Create(ctx, "Churn", []string{"athena", "griffin"}, "ceo")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := o.Send(ctx, m.ID, "Status?", "ceo"); err != nil {
			t.Fatalf("send: %v", err)
		}
		if _, err := o.End(ctx, m.ID, "ceo"); err != nil {
			t.Fatalf("end: %v", err)
		}
	}
	if n := o.HeldLocks(); n != 0 {
		t.Fatalf("expected no lock entries after meetings end, got %d", n)
	}
}
