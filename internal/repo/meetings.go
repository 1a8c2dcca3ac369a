package repo

import (
	"context"
	"database/sql"
	"fmt"

	"boardroom/internal/domain"
)

const meetingColumns = `id,title,participants_json,status,created_by,created_at,ended_at`

func scanMeeting(row rowScanner) (domain.Meeting, error) {
	var m domain.Meeting
	var participants string
	var createdBy, endedAt sql.NullString
	err := row.Scan(&m.ID, &m.Title, &participants, &m.Status, &createdBy, &m.CreatedAt, &endedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.CreatedBy = createdBy.String
	m.EndedAt = nullStringPtr(endedAt)
	if m.Participants, err = unmarshalStrings(participants); err != nil {
		return m, fmt.Errorf("meeting %s participants: %w", m.ID, err)
	}
	return m, nil
}

func (r Repo) InsertMeeting(ctx context.Context, tx *sql.Tx, m domain.Meeting) error {
	participants, err := marshalStrings(m.Participants)
	if err != nil {
		return err
	}
	_, err = r.on(tx).ExecContext(ctx, `INSERT INTO meetings(`+meetingColumns+`) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.Title, participants, m.Status, nullable(m.CreatedBy), m.CreatedAt, nullableStringPtr(m.EndedAt))
	return err
}

func (r Repo) GetMeeting(ctx context.Context, id string) (domain.Meeting, error) {
	return scanMeeting(r.DB.QueryRowContext(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id=?`, id))
}

func (r Repo) ListMeetings(ctx context.Context, status string, limit int) ([]domain.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r Repo) EndMeeting(ctx context.Context, tx *sql.Tx, id, endedAt string) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE meetings SET status=?, ended_at=? WHERE id=? AND status=?`, domain.MeetingEnded, endedAt, id, domain.MeetingActive)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage assigns the next sequence number for the meeting and stores msg.
func (r Repo) AppendMessage(ctx context.Context, tx *sql.Tx, msg domain.Message) (domain.Message, error) {
	q := r.on(tx)
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM messages WHERE meeting_id=?`, msg.MeetingID).Scan(&msg.Seq); err != nil {
		return msg, err
	}
	_, err := q.ExecContext(ctx, `INSERT INTO messages(id,meeting_id,seq,member_slug,content,round,created_at) VALUES (?,?,?,?,?,?,?)`,
		msg.ID, msg.MeetingID, msg.Seq, nullableStringPtr(msg.MemberSlug), msg.Content, msg.Round, msg.CreatedAt)
	return msg, err
}

func (r Repo) ListMessages(ctx context.Context, meetingID string, afterSeq int64, limit int) ([]domain.Message, error) {
	query := `SELECT id,meeting_id,seq,member_slug,content,round,created_at FROM messages WHERE meeting_id=? AND seq>? ORDER BY seq ASC`
	args := []any{meetingID, afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var member sql.NullString
		if err := rows.Scan(&m.ID, &m.MeetingID, &m.Seq, &member, &m.Content, &m.Round, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.MemberSlug = nullStringPtr(member)
		out = append(out, m)
	}
	return out, rows.Err()
}

// LatestRound returns the highest round number recorded for a meeting.
func (r Repo) LatestRound(ctx context.Context, meetingID string) (int, error) {
	var round int
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(round),0) FROM messages WHERE meeting_id=?`, meetingID).Scan(&round)
	return round, err
}
