package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"boardroom/internal/config"
	"boardroom/internal/domain"
	"boardroom/internal/events"
	"boardroom/internal/logging"
	"boardroom/internal/persona"
	"boardroom/internal/repo"
)

const (
	maxFocusAreas        = 5
	maxRecentInsights    = 5
	maxEvolvingPositions = 3
)

// Service owns knowledge entries and syntheses.
type Service struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Registry *persona.Registry
	Gateway  Executor
	Logger   *logging.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) cfg() *config.Config { return s.Registry.Config() }

// FigureName returns the configured display name or the id.
func (s *Service) FigureName(figureID string) string {
	if f, ok := s.cfg().Knowledge.Figures[figureID]; ok && f.Name != "" {
		return f.Name
	}
	return figureID
}

// Filter runs the conflict filter with the figure's custom terms.
func (s *Service) Filter(figureID, content, filterContext string) Decision {
	return ShouldFilterContent(content, s.cfg().FigureFilters(figureID), filterContext)
}

// synthesizer picks the member that runs extraction.
func (s *Service) synthesizer() (string, error) {
	snap := s.Registry.Snapshot()
	if slug := snap.Config().Knowledge.Synthesizer; slug != "" {
		return slug, nil
	}
	for _, m := range snap.Members() {
		if m.Active {
			return m.Slug, nil
		}
	}
	return "", domain.PersonaError{Slug: "synthesizer", Err: domain.ErrPersonaNotFound}
}

type IngestInput struct {
	FigureID   string
	SourceType string
	SourceID   string
	Content    string
	ActorID    string
}

// Ingest stores one source. Drama is stored flagged and never reaches the
// gateway; otherwise the extracted insight is filtered a second time.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (domain.KnowledgeEntry, error) {
	in.FigureID = strings.TrimSpace(in.FigureID)
	if in.FigureID == "" {
		return domain.KnowledgeEntry{}, domain.ValidationError{Field: "figure_id", Reason: "required"}
	}
	if strings.TrimSpace(in.Content) == "" {
		return domain.KnowledgeEntry{}, domain.ValidationError{Field: "content", Reason: "required"}
	}
	if in.SourceType == "" {
		in.SourceType = "article"
	}
	now := s.now()
	expires := domain.FormatTime(now.Add(s.cfg().KnowledgeEntryTTL()))
	entry := domain.KnowledgeEntry{
		ID:         uuid.NewString(),
		FigureID:   in.FigureID,
		SourceType: in.SourceType,
		SourceID:   in.SourceID,
		RawContent: in.Content,
		CreatedAt:  domain.FormatTime(now),
		ExpiresAt:  &expires,
	}

	decision := s.Filter(in.FigureID, in.Content, ContextWisdomExtraction)
	if !decision.Filter {
		slug, err := s.synthesizer()
		if err != nil {
			return domain.KnowledgeEntry{}, err
		}
		ex, err := Extractor{Gateway: s.Gateway, Member: slug}.Extract(ctx, s.FigureName(in.FigureID), in.SourceType, in.Content)
		if err != nil {
			return domain.KnowledgeEntry{}, fmt.Errorf("extract wisdom: %w", err)
		}
		entry.Insight = ex.Insight
		entry.Principle = ex.Principle
		entry.Application = ex.Application
		entry.Themes = ex.Themes
		entry.Relevance = ex.Relevance
		if !ex.WisdomWorthy() {
			entry.Relevance = 0
		}
		decision = s.Filter(in.FigureID, strings.Join([]string{ex.Insight, ex.Principle, ex.Application}, "\n"), ContextSynthesis)
	}
	if decision.Filter {
		entry.ConflictFiltered = true
		entry.FilterReason = decision.Reason
		entry.Relevance = 0
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.KnowledgeEntry{}, err
	}
	defer tx.Rollback()
	if err := s.Repo.InsertKnowledgeEntry(ctx, tx, entry); err != nil {
		return domain.KnowledgeEntry{}, err
	}
	if err := s.Events.Append(ctx, tx, "knowledge.ingested", "knowledge_entry", entry.ID, in.ActorID, events.EventPayload{
		"figure_id": entry.FigureID, "filtered": entry.ConflictFiltered, "relevance": entry.Relevance,
	}); err != nil {
		return domain.KnowledgeEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.KnowledgeEntry{}, err
	}
	if entry.ConflictFiltered {
		s.Logger.Info("knowledge entry filtered", "figure", entry.FigureID, "reason", entry.FilterReason)
	}
	return entry, nil
}

// Synthesize rebuilds the figure's synthesis from the recent window. It
// reports false and writes nothing when no usable entry exists.
func (s *Service) Synthesize(ctx context.Context, figureID string, now time.Time) (domain.SynthesizedKnowledge, bool, error) {
	entries, err := s.Repo.ListKnowledgeEntries(ctx, repo.EntryFilters{
		FigureID:        figureID,
		Since:           domain.FormatTime(now.Add(-s.cfg().KnowledgeWindow())),
		ExcludeFiltered: true,
		MinRelevance:    1,
		NotExpiredAt:    domain.FormatTime(now),
	})
	if err != nil {
		return domain.SynthesizedKnowledge{}, false, err
	}
	// filters may have changed since ingestion
	usable := entries[:0]
	for _, e := range entries {
		if s.Filter(figureID, e.Insight+"\n"+e.Principle, ContextSynthesis).Filter {
			continue
		}
		usable = append(usable, e)
	}
	if len(usable) == 0 {
		return domain.SynthesizedKnowledge{}, false, nil
	}
	syn := buildSynthesis(figureID, usable, now)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SynthesizedKnowledge{}, false, err
	}
	defer tx.Rollback()
	if err := s.Repo.UpsertSynthesis(ctx, tx, syn); err != nil {
		return domain.SynthesizedKnowledge{}, false, err
	}
	if err := s.Events.Append(ctx, tx, "knowledge.synthesized", "figure", figureID, "", events.EventPayload{"entries": syn.EntryCount}); err != nil {
		return domain.SynthesizedKnowledge{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SynthesizedKnowledge{}, false, err
	}
	return syn, true, nil
}

// buildSynthesis expects entries newest first.
func buildSynthesis(figureID string, entries []domain.KnowledgeEntry, now time.Time) domain.SynthesizedKnowledge {
	counts := map[string]int{}
	for _, e := range entries {
		for _, th := range e.Themes {
			counts[th]++
		}
	}
	themes := make([]string, 0, len(counts))
	for th := range counts {
		themes = append(themes, th)
	}
	sort.Slice(themes, func(i, j int) bool {
		if counts[themes[i]] != counts[themes[j]] {
			return counts[themes[i]] > counts[themes[j]]
		}
		return themes[i] < themes[j]
	})
	if len(themes) > maxFocusAreas {
		themes = themes[:maxFocusAreas]
	}

	ranked := append([]domain.KnowledgeEntry(nil), entries...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Relevance != ranked[j].Relevance {
			return ranked[i].Relevance > ranked[j].Relevance
		}
		return ranked[i].CreatedAt > ranked[j].CreatedAt
	})
	insights := []string{}
	seen := map[string]bool{}
	for _, e := range ranked {
		if e.Insight == "" || seen[e.Insight] {
			continue
		}
		seen[e.Insight] = true
		insights = append(insights, e.Insight)
		if len(insights) == maxRecentInsights {
			break
		}
	}

	positions := []string{}
	seen = map[string]bool{}
	for _, e := range entries {
		if e.Principle == "" || seen[e.Principle] {
			continue
		}
		seen[e.Principle] = true
		positions = append(positions, e.Principle)
		if len(positions) == maxEvolvingPositions {
			break
		}
	}

	return domain.SynthesizedKnowledge{
		FigureID:          figureID,
		FocusAreas:        themes,
		RecentInsights:    insights,
		EvolvingPositions: positions,
		EntryCount:        len(entries),
		SynthesizedAt:     domain.FormatTime(now),
	}
}

// SynthesizeAll covers every configured figure plus any with stored entries.
func (s *Service) SynthesizeAll(ctx context.Context, now time.Time) (int, error) {
	ids := map[string]bool{}
	for id := range s.cfg().Knowledge.Figures {
		ids[id] = true
	}
	for _, m := range s.Registry.List() {
		for _, f := range m.Figures {
			ids[f] = true
		}
	}
	stored, err := s.Repo.ListFigureIDs(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range stored {
		ids[id] = true
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	written := 0
	var errs []error
	for _, id := range sorted {
		_, ok, err := s.Synthesize(ctx, id, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		if ok {
			written++
		}
	}
	return written, errors.Join(errs...)
}

// PromptSection renders the syntheses of the member's figures, or "" when
// none has one.
func (s *Service) PromptSection(ctx context.Context, member domain.BoardMember) (string, error) {
	figures := append([]string(nil), member.Figures...)
	sort.Strings(figures)
	var b strings.Builder
	for _, fig := range figures {
		syn, err := s.Repo.GetSynthesis(ctx, fig)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		block := s.renderFigure(fig, syn)
		if block == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("## Inspiration\n")
		}
		b.WriteString(block)
	}
	return b.String(), nil
}

func (s *Service) renderFigure(fig string, syn domain.SynthesizedKnowledge) string {
	keep := func(lines []string) []string {
		var out []string
		for _, l := range lines {
			if !s.Filter(fig, l, ContextPrompt).Filter {
				out = append(out, l)
			}
		}
		return out
	}
	insights := keep(syn.RecentInsights)
	positions := keep(syn.EvolvingPositions)
	if len(insights) == 0 && len(positions) == 0 && len(syn.FocusAreas) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n", s.FigureName(fig))
	if len(syn.FocusAreas) > 0 {
		fmt.Fprintf(&b, "Focus areas: %s\n", strings.Join(syn.FocusAreas, ", "))
	}
	if len(insights) > 0 {
		b.WriteString("Recent insights:\n")
		for _, in := range insights {
			fmt.Fprintf(&b, "- %s\n", in)
		}
	}
	if len(positions) > 0 {
		b.WriteString("Evolving positions:\n")
		for _, p := range positions {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	return b.String()
}

// PurgeExpired deletes entries past their expiry.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.Repo.DeleteExpiredEntries(ctx, domain.FormatTime(now))
}

// FigureView is the read model for one figure.
type FigureView struct {
	FigureID  string                       `json:"figure_id"`
	Name      string                       `json:"name"`
	Filters   []string                     `json:"filters,omitempty"`
	Synthesis *domain.SynthesizedKnowledge `json:"synthesis,omitempty"`
	Entries   []domain.KnowledgeEntry      `json:"entries"`
}

func (s *Service) Figure(ctx context.Context, figureID string, limit int) (FigureView, error) {
	if limit <= 0 {
		limit = 20
	}
	view := FigureView{FigureID: figureID, Name: s.FigureName(figureID), Filters: s.cfg().FigureFilters(figureID)}
	syn, err := s.Repo.GetSynthesis(ctx, figureID)
	switch {
	case err == nil:
		view.Synthesis = &syn
	case !errors.Is(err, repo.ErrNotFound):
		return FigureView{}, err
	}
	entries, err := s.Repo.ListKnowledgeEntries(ctx, repo.EntryFilters{FigureID: figureID, Limit: limit})
	if err != nil {
		return FigureView{}, err
	}
	if entries == nil {
		entries = []domain.KnowledgeEntry{}
	}
	view.Entries = entries
	return view, nil
}
