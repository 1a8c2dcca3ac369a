package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"boardroom/internal/config"
	"boardroom/internal/db"
	"boardroom/internal/domain"
	"boardroom/internal/events"
	"boardroom/internal/gateway"
	"boardroom/internal/migrate"
	"boardroom/internal/persona"
	"boardroom/internal/repo"
)

type fakeGateway struct {
	mu      sync.Mutex
	replies []string
	calls   int
	err     error
}

func (f *fakeGateway) Execute(ctx context.Context, slug string, req gateway.Request) (gateway.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return gateway.Result{}, f.err
	}
	text := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return gateway.Result{Text: text, Provider: "fake"}, nil
}

func newTestService(t *testing.T, gw *fakeGateway, now time.Time) *Service {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &Service{
		DB:       conn,
		Repo:     repo.Repo{DB: conn},
		Events:   events.Writer{DB: conn, Now: func() time.Time { return now }},
		Registry: persona.NewRegistry(config.Default()),
		Gateway:  gw,
		Now:      func() time.Time { return now },
	}
}

func extraction(insight, principle string, relevance int, themes ...string) string {
	quoted := make([]string, len(themes))
	for i, th := range themes {
		quoted[i] = fmt.Sprintf("%q", th)
	}
	return fmt.Sprintf(`{"insight":%q,"principle":%q,"application":"apply it","themes":[%s],"relevance":%d}`,
		insight, principle, strings.Join(quoted, ","), relevance)
}

func TestIngestFiltersDramaWithoutExtraction(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gw := &fakeGateway{replies: []string{extraction("x", "y", 50)}}
	s := newTestService(t, gw, now)

	entry, err := s.Ingest(context.Background(), IngestInput{FigureID: "jeff-bezos", Content: "Bezos criticized Musk's SpaceX delays"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !entry.ConflictFiltered || !strings.Contains(entry.FilterReason, "rivalry") {
		t.Fatalf("expected rivalry filter, got %+v", entry)
	}
	if gw.calls != 0 {
		t.Fatalf("filtered content must not reach the gateway")
	}
	if entry.ExpiresAt == nil || *entry.ExpiresAt != domain.FormatTime(now.Add(90*24*time.Hour)) {
		t.Fatalf("unexpected expiry %v", entry.ExpiresAt)
	}

	if _, ok, err := s.Synthesize(context.Background(), "jeff-bezos", now); err != nil || ok {
		t.Fatalf("filtered entries must not produce a synthesis: ok=%v err=%v", ok, err)
	}
	section, err := s.PromptSection(context.Background(), domain.BoardMember{Slug: "athena", Figures: []string{"jeff-bezos"}})
	if err != nil || section != "" {
		t.Fatalf("expected empty prompt section, got %q %v", section, err)
	}
}

func TestIngestFiltersExtractedInsightAndCustomTerms(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gw := &fakeGateway{replies: []string{extraction("Ship faster than the rivals", "Speed", 70)}}
	s := newTestService(t, gw, now)
	entry, err := s.Ingest(context.Background(), IngestInput{FigureID: "elon-musk", Content: "Notes from the factory tour"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !entry.ConflictFiltered || entry.Relevance != 0 {
		t.Fatalf("extracted rivalry should be filtered: %+v", entry)
	}

	custom, err := s.Ingest(context.Background(), IngestInput{FigureID: "elon-musk", Content: "Remarks on DOGE spending cuts"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !custom.ConflictFiltered || !strings.Contains(custom.FilterReason, "custom") {
		t.Fatalf("expected custom filter, got %+v", custom)
	}
}

func TestSynthesizeAndPromptSection(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gw := &fakeGateway{}
	s := newTestService(t, gw, now)
	ctx := context.Background()

	inputs := []struct {
		insight   string
		principle string
		rel       int
		themes    []string
		age       time.Duration
	}{
		{"Work backwards from the customer", "Customer first", 90, []string{"customer", "writing"}, 5 * time.Hour},
		{"Disagree and commit", "Decide fast", 70, []string{"decisions"}, 4 * time.Hour},
		{"Two-pizza teams move faster", "Small teams", 70, []string{"teams", "customer"}, 3 * time.Hour},
		{"Nothing useful", "", 0, nil, 2 * time.Hour},
		{"Old lesson", "Old principle", 99, []string{"history"}, 40 * 24 * time.Hour},
	}
	for i, in := range inputs {
		s.Now = func() time.Time { return now.Add(-in.age) }
		gw.replies = []string{extraction(in.insight, in.principle, in.rel, in.themes...)}
		if _, err := s.Ingest(ctx, IngestInput{FigureID: "jeff-bezos", Content: fmt.Sprintf("shareholder letter %d", i)}); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}
	s.Now = func() time.Time { return now }

	syn, ok, err := s.Synthesize(ctx, "jeff-bezos", now)
	if err != nil || !ok {
		t.Fatalf("synthesize: ok=%v err=%v", ok, err)
	}
	if syn.EntryCount != 3 {
		t.Fatalf("expected 3 usable entries in window, got %d", syn.EntryCount)
	}
	if syn.FocusAreas[0] != "customer" {
		t.Fatalf("top theme should be customer, got %v", syn.FocusAreas)
	}
	// equal relevance falls back to recency
	want := []string{"Work backwards from the customer", "Two-pizza teams move faster", "Disagree and commit"}
	for i, w := range want {
		if syn.RecentInsights[i] != w {
			t.Fatalf("insights order %v", syn.RecentInsights)
		}
	}
	if syn.EvolvingPositions[0] != "Small teams" || len(syn.EvolvingPositions) != 3 {
		t.Fatalf("positions should be newest first: %v", syn.EvolvingPositions)
	}

	section, err := s.PromptSection(ctx, domain.BoardMember{Slug: "athena", Figures: []string{"jeff-bezos", "satya-nadella"}})
	if err != nil {
		t.Fatalf("prompt section: %v", err)
	}
	if !strings.Contains(section, "### Jeff Bezos") || strings.Contains(section, "Satya") {
		t.Fatalf("unexpected section:\n%s", section)
	}
	if other, _ := s.PromptSection(ctx, domain.BoardMember{Slug: "griffin", Figures: []string{"warren-buffett"}}); other != "" {
		t.Fatalf("unrelated persona must not get the section: %q", other)
	}

	n, err := s.SynthesizeAll(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("synthesize all wrote %d: %v", n, err)
	}
}

func TestIngestPropagatesGatewayErrors(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestService(t, &fakeGateway{err: &gateway.ExhaustedError{Member: "athena"}}, now)
	_, err := s.Ingest(context.Background(), IngestInput{FigureID: "jeff-bezos", Content: "Day one thinking"})
	if !errors.Is(err, gateway.ErrGatewayExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	var ve domain.ValidationError
	if _, err := s.Ingest(context.Background(), IngestInput{FigureID: "", Content: "x"}); !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestService(t, &fakeGateway{}, now)
	if _, err := s.Ingest(context.Background(), IngestInput{FigureID: "elon-musk", Content: "He was sued again"}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	n, err := s.PurgeExpired(context.Background(), now.Add(91*24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("purge removed %d: %v", n, err)
	}
}
