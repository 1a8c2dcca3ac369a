package repo

import (
	"context"
	"database/sql"

	"boardroom/internal/domain"
)

func (r Repo) InsertProviderCall(ctx context.Context, tx *sql.Tx, rec domain.ProviderCallRecord) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT OR IGNORE INTO provider_calls(id,provider,model,response_time_ms,fallback,member_slug,topic,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Provider, rec.Model, rec.ResponseTimeMS, boolInt(rec.Fallback), rec.MemberSlug, nullable(rec.Topic), rec.CreatedAt)
	return err
}

// ListProviderCalls returns records created at or after since, oldest first.
func (r Repo) ListProviderCalls(ctx context.Context, since string, limit int) ([]domain.ProviderCallRecord, error) {
	query := `SELECT id,provider,model,response_time_ms,fallback,member_slug,COALESCE(topic,''),created_at FROM provider_calls WHERE created_at>=? ORDER BY created_at ASC`
	args := []any{since}
	if limit > 0 {
		// keep the newest limit rows while still returning them oldest first
		query = `SELECT * FROM (SELECT id,provider,model,response_time_ms,fallback,member_slug,COALESCE(topic,'') AS topic,created_at FROM provider_calls WHERE created_at>=? ORDER BY created_at DESC LIMIT ?) ORDER BY created_at ASC`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ProviderCallRecord
	for rows.Next() {
		var rec domain.ProviderCallRecord
		var fallback int
		if err := rows.Scan(&rec.ID, &rec.Provider, &rec.Model, &rec.ResponseTimeMS, &fallback, &rec.MemberSlug, &rec.Topic, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Fallback = fallback != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r Repo) DeleteProviderCallsBefore(ctx context.Context, before string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM provider_calls WHERE created_at<?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
