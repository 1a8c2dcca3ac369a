package repo

import (
	"context"
	"database/sql"

	"boardroom/internal/domain"
)

const actionColumns = `id,title,action_type,assignee,participants,prompt,schedule,active,built_in,last_run,next_run,last_error,created_at`

func scanAction(row rowScanner) (domain.ScheduledAction, error) {
	var a domain.ScheduledAction
	var assignee, participants, prompt, lastRun, nextRun, lastErr sql.NullString
	var active, builtIn int
	err := row.Scan(&a.ID, &a.Title, &a.ActionType, &assignee, &participants, &prompt, &a.Schedule, &active, &builtIn, &lastRun, &nextRun, &lastErr, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Active = active != 0
	a.BuiltIn = builtIn != 0
	a.Assignee = nullStringPtr(assignee)
	a.Prompt = prompt.String
	if a.Participants, err = unmarshalStrings(participants.String); err != nil {
		return a, err
	}
	a.LastRun = nullStringPtr(lastRun)
	a.NextRun = nullStringPtr(nextRun)
	a.LastError = nullStringPtr(lastErr)
	return a, nil
}

// UpsertAction inserts or replaces the definition of an action while keeping
// its run bookkeeping when the row already exists.
func (r Repo) UpsertAction(ctx context.Context, tx *sql.Tx, a domain.ScheduledAction) error {
	var participants any
	if len(a.Participants) > 0 {
		raw, err := marshalStrings(a.Participants)
		if err != nil {
			return err
		}
		participants = raw
	}
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO scheduled_actions(`+actionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET title=excluded.title, action_type=excluded.action_type, assignee=excluded.assignee,
  participants=excluded.participants, prompt=excluded.prompt, schedule=excluded.schedule, built_in=excluded.built_in`,
		a.ID, a.Title, a.ActionType, nullableStringPtr(a.Assignee), participants, nullable(a.Prompt), a.Schedule, boolInt(a.Active), boolInt(a.BuiltIn),
		nullableStringPtr(a.LastRun), nullableStringPtr(a.NextRun), nullableStringPtr(a.LastError), a.CreatedAt)
	return err
}

func (r Repo) GetAction(ctx context.Context, id string) (domain.ScheduledAction, error) {
	return scanAction(r.DB.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM scheduled_actions WHERE id=?`, id))
}

type ActionFilters struct {
	BuiltIn    *bool
	ActiveOnly bool
}

func (r Repo) ListActions(ctx context.Context, f ActionFilters) ([]domain.ScheduledAction, error) {
	query := `SELECT ` + actionColumns + ` FROM scheduled_actions WHERE 1=1`
	var args []any
	if f.BuiltIn != nil {
		query += ` AND built_in=?`
		args = append(args, boolInt(*f.BuiltIn))
	}
	if f.ActiveOnly {
		query += ` AND active=1`
	}
	query += ` ORDER BY built_in DESC, COALESCE(next_run,'') ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ScheduledAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateActionRun records a firing: last run, next run and last error.
func (r Repo) UpdateActionRun(ctx context.Context, tx *sql.Tx, id string, lastRun, nextRun, lastErr *string) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE scheduled_actions SET last_run=COALESCE(?, last_run), next_run=?, last_error=? WHERE id=?`,
		nullableStringPtr(lastRun), nullableStringPtr(nextRun), nullableStringPtr(lastErr), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetActionActive(ctx context.Context, tx *sql.Tx, id string, active bool, lastErr *string) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE scheduled_actions SET active=?, last_error=? WHERE id=?`, boolInt(active), nullableStringPtr(lastErr), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetActionError records the outcome of the latest firing without touching its schedule.
func (r Repo) SetActionError(ctx context.Context, id string, lastErr *string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE scheduled_actions SET last_error=? WHERE id=?`, nullableStringPtr(lastErr), id)
	return err
}

func (r Repo) DeleteAction(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM scheduled_actions WHERE id=? AND built_in=0`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimRun records that (actionID, scheduledFor) fired. It returns false when
// the pair was already claimed.
func (r Repo) ClaimRun(ctx context.Context, tx *sql.Tx, run domain.ScheduleRun) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, `INSERT OR IGNORE INTO schedule_runs(action_id,scheduled_for,fired_at,result_ref) VALUES (?,?,?,?)`,
		run.ActionID, run.ScheduledFor, run.FiredAt, nullable(run.ResultRef))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) SetRunResult(ctx context.Context, actionID, scheduledFor, ref string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE schedule_runs SET result_ref=? WHERE action_id=? AND scheduled_for=?`, nullable(ref), actionID, scheduledFor)
	return err
}

func (r Repo) ListRuns(ctx context.Context, actionID string, limit int) ([]domain.ScheduleRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT action_id,scheduled_for,fired_at,COALESCE(result_ref,'') FROM schedule_runs WHERE action_id=? ORDER BY scheduled_for DESC LIMIT ?`, actionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ScheduleRun
	for rows.Next() {
		var run domain.ScheduleRun
		if err := rows.Scan(&run.ActionID, &run.ScheduledFor, &run.FiredAt, &run.ResultRef); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
