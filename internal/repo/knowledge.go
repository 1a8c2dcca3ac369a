package repo

import (
	"context"
	"database/sql"
	"fmt"

	"boardroom/internal/domain"
)

const entryColumns = `id,figure_id,source_type,source_id,raw_content,insight,principle,application,themes_json,relevance,conflict_filtered,filter_reason,created_at,expires_at`

func scanEntry(row rowScanner) (domain.KnowledgeEntry, error) {
	var e domain.KnowledgeEntry
	var sourceID, insight, principle, application, reason, expires sql.NullString
	var themes string
	var filtered int
	err := row.Scan(&e.ID, &e.FigureID, &e.SourceType, &sourceID, &e.RawContent, &insight, &principle, &application,
		&themes, &e.Relevance, &filtered, &reason, &e.CreatedAt, &expires)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.SourceID = sourceID.String
	e.Insight = insight.String
	e.Principle = principle.String
	e.Application = application.String
	e.FilterReason = reason.String
	e.ConflictFiltered = filtered != 0
	e.ExpiresAt = nullStringPtr(expires)
	if e.Themes, err = unmarshalStrings(themes); err != nil {
		return e, fmt.Errorf("entry %s themes: %w", e.ID, err)
	}
	return e, nil
}

func (r Repo) InsertKnowledgeEntry(ctx context.Context, tx *sql.Tx, e domain.KnowledgeEntry) error {
	themes, err := marshalStrings(e.Themes)
	if err != nil {
		return err
	}
	_, err = r.on(tx).ExecContext(ctx, `INSERT INTO knowledge_entries(`+entryColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.FigureID, e.SourceType, nullable(e.SourceID), e.RawContent, nullable(e.Insight), nullable(e.Principle),
		nullable(e.Application), themes, e.Relevance, boolInt(e.ConflictFiltered), nullable(e.FilterReason),
		e.CreatedAt, nullableStringPtr(e.ExpiresAt))
	return err
}

type EntryFilters struct {
	FigureID        string
	Since           string
	ExcludeFiltered bool
	MinRelevance    int
	NotExpiredAt    string
	Limit           int
}

func (r Repo) ListKnowledgeEntries(ctx context.Context, f EntryFilters) ([]domain.KnowledgeEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM knowledge_entries WHERE 1=1`
	var args []any
	if f.FigureID != "" {
		query += ` AND figure_id=?`
		args = append(args, f.FigureID)
	}
	if f.Since != "" {
		query += ` AND created_at>=?`
		args = append(args, f.Since)
	}
	if f.ExcludeFiltered {
		query += ` AND conflict_filtered=0`
	}
	if f.MinRelevance > 0 {
		query += ` AND relevance>=?`
		args = append(args, f.MinRelevance)
	}
	if f.NotExpiredAt != "" {
		query += ` AND (expires_at IS NULL OR expires_at>?)`
		args = append(args, f.NotExpiredAt)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.KnowledgeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteExpiredEntries removes entries whose expiry is at or before now.
func (r Repo) DeleteExpiredEntries(ctx context.Context, now string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM knowledge_entries WHERE expires_at IS NOT NULL AND expires_at<=?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpsertSynthesis replaces the current synthesis for a figure.
func (r Repo) UpsertSynthesis(ctx context.Context, tx *sql.Tx, s domain.SynthesizedKnowledge) error {
	focus, err := marshalStrings(s.FocusAreas)
	if err != nil {
		return err
	}
	insights, err := marshalStrings(s.RecentInsights)
	if err != nil {
		return err
	}
	positions, err := marshalStrings(s.EvolvingPositions)
	if err != nil {
		return err
	}
	_, err = r.on(tx).ExecContext(ctx, `INSERT INTO synthesized_knowledge(figure_id,focus_areas_json,recent_insights_json,evolving_positions_json,entry_count,synthesized_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(figure_id) DO UPDATE SET focus_areas_json=excluded.focus_areas_json, recent_insights_json=excluded.recent_insights_json,
  evolving_positions_json=excluded.evolving_positions_json, entry_count=excluded.entry_count, synthesized_at=excluded.synthesized_at`,
		s.FigureID, focus, insights, positions, s.EntryCount, s.SynthesizedAt)
	return err
}

func (r Repo) GetSynthesis(ctx context.Context, figureID string) (domain.SynthesizedKnowledge, error) {
	var s domain.SynthesizedKnowledge
	var focus, insights, positions string
	err := r.DB.QueryRowContext(ctx, `SELECT figure_id,focus_areas_json,recent_insights_json,evolving_positions_json,entry_count,synthesized_at FROM synthesized_knowledge WHERE figure_id=?`, figureID).
		Scan(&s.FigureID, &focus, &insights, &positions, &s.EntryCount, &s.SynthesizedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if s.FocusAreas, err = unmarshalStrings(focus); err != nil {
		return s, err
	}
	if s.RecentInsights, err = unmarshalStrings(insights); err != nil {
		return s, err
	}
	if s.EvolvingPositions, err = unmarshalStrings(positions); err != nil {
		return s, err
	}
	return s, nil
}

// ListFigureIDs returns every figure with at least one stored entry.
func (r Repo) ListFigureIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT figure_id FROM knowledge_entries ORDER BY figure_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
