// Package committee runs multi-member board meetings: one human message fans
// out to every active participant and replies land in completion order.
package committee

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"boardroom/internal/domain"
	"boardroom/internal/engine"
	"boardroom/internal/events"
	"boardroom/internal/gateway"
	"boardroom/internal/logging"
	"boardroom/internal/persona"
	"boardroom/internal/repo"
)

const (
	MinParticipants = 2
	MaxParticipants = 4

	// transcriptSize bounds how many earlier messages each member sees.
	transcriptSize = 20
	// InactivePlaceholder renders authors that no longer resolve.
	InactivePlaceholder = "member no longer active"
	humanAuthor         = "Chair"
)

type Orchestrator struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Registry  *persona.Registry
	Gateway   engine.Executor
	Knowledge engine.PromptSource
	Logger    *logging.Logger
	Now       func() time.Time

	// locks serializes appends per meeting.
	locks engine.KeyedMutex
}

func New(db *sql.DB, registry *persona.Registry, gw engine.Executor) *Orchestrator {
	return &Orchestrator{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Registry: registry,
		Gateway:  gw,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Create opens a meeting with 2 to 4 distinct, configured participants.
func (o *Orchestrator) Create(ctx context.Context, title string, participants []string, actorID string) (domain.Meeting, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Meeting{}, domain.ValidationError{Field: "title", Reason: "required"}
	}
	if len(participants) < MinParticipants || len(participants) > MaxParticipants {
		return domain.Meeting{}, domain.ValidationError{
			Field:  "participants",
			Reason: fmt.Sprintf("a committee needs %d to %d members, got %d", MinParticipants, MaxParticipants, len(participants)),
		}
	}
	snap := o.Registry.Snapshot()
	seen := map[string]bool{}
	slugs := make([]string, 0, len(participants))
	for _, p := range participants {
		slug := strings.TrimSpace(p)
		if slug == "" {
			return domain.Meeting{}, domain.ValidationError{Field: "participants", Reason: "empty member slug"}
		}
		if seen[slug] {
			return domain.Meeting{}, domain.ValidationError{Field: "participants", Reason: "duplicate member " + slug}
		}
		if _, ok := snap.Lookup(slug); !ok {
			return domain.Meeting{}, domain.PersonaError{Slug: slug, Err: domain.ErrPersonaNotFound}
		}
		seen[slug] = true
		slugs = append(slugs, slug)
	}
	m := domain.Meeting{
		ID:           uuid.NewString(),
		Title:        title,
		Participants: slugs,
		Status:       domain.MeetingActive,
		CreatedBy:    actorID,
		CreatedAt:    domain.FormatTime(o.now()),
	}
	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := o.Repo.InsertMeeting(ctx, tx, m); err != nil {
		return m, err
	}
	if err := o.Events.Append(ctx, tx, "meeting.created", "meeting", m.ID, actorID, events.EventPayload{"title": m.Title, "participants": m.Participants}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	return m, nil
}

// RoundResult is the outcome of one human message.
type RoundResult struct {
	Round     int               `json:"round"`
	Message   domain.Message    `json:"message"`
	Responses []domain.Message  `json:"responses"`
	Absent    map[string]string `json:"absent,omitempty"`
}

// Send appends a human message and collects one reply per active
// participant. A participant whose call fails is absent from the round.
func (o *Orchestrator) Send(ctx context.Context, meetingID, content, actorID string) (RoundResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return RoundResult{}, domain.ValidationError{Field: "content", Reason: "required"}
	}
	m, err := o.Repo.GetMeeting(ctx, meetingID)
	if err != nil {
		return RoundResult{}, err
	}
	if m.Status != domain.MeetingActive {
		return RoundResult{}, domain.InvalidTransitionError{Entity: "meeting", ID: m.ID, From: m.Status, Action: "send"}
	}

	unlock := o.locks.Lock(m.ID)
	round, err := o.Repo.LatestRound(ctx, m.ID)
	if err != nil {
		unlock()
		return RoundResult{}, err
	}
	round++
	transcript, err := o.recent(ctx, m.ID)
	if err != nil {
		unlock()
		return RoundResult{}, err
	}
	human, err := o.append(ctx, m.ID, nil, content, round, actorID)
	unlock()
	if err != nil {
		return RoundResult{}, err
	}

	res := RoundResult{Round: round, Message: human, Responses: []domain.Message{}, Absent: map[string]string{}}
	var resMu sync.Mutex
	absent := func(slug, reason string) {
		resMu.Lock()
		res.Absent[slug] = reason
		resMu.Unlock()
	}

	snap := o.Registry.Snapshot()
	p := pool.New().WithMaxGoroutines(MaxParticipants)
	for _, slug := range m.Participants {
		member, err := snap.Resolve(slug)
		if err != nil {
			absent(slug, err.Error())
			continue
		}
		p.Go(func() {
			text, err := o.reply(ctx, snap, member, m, transcript, content)
			if err != nil {
				o.Logger.Warn("committee member absent", "meeting_id", m.ID, "member", member.Slug, "error", err)
				absent(member.Slug, err.Error())
				return
			}
			defer o.locks.Lock(m.ID)()
			current, err := o.Repo.GetMeeting(ctx, m.ID)
			if err == nil && current.Status != domain.MeetingActive {
				absent(member.Slug, "meeting ended")
				return
			}
			slug := member.Slug
			msg, err := o.append(ctx, m.ID, &slug, text, round, "member:"+slug)
			if err != nil {
				absent(member.Slug, err.Error())
				return
			}
			resMu.Lock()
			res.Responses = append(res.Responses, msg)
			resMu.Unlock()
		})
	}
	p.Wait()
	if len(res.Absent) == 0 {
		res.Absent = nil
	}
	return res, nil
}

func (o *Orchestrator) append(ctx context.Context, meetingID string, member *string, content string, round int, actorID string) (domain.Message, error) {
	msg := domain.Message{
		ID:         uuid.NewString(),
		MeetingID:  meetingID,
		MemberSlug: member,
		Content:    content,
		Round:      round,
		CreatedAt:  domain.FormatTime(o.now()),
	}
	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return msg, err
	}
	defer tx.Rollback()
	msg, err = o.Repo.AppendMessage(ctx, tx, msg)
	if err != nil {
		return msg, err
	}
	payload := events.EventPayload{"message_id": msg.ID, "seq": msg.Seq, "round": round}
	if err := o.Events.Append(ctx, tx, "meeting.message", "meeting", meetingID, actorID, payload); err != nil {
		return msg, err
	}
	return msg, tx.Commit()
}

func (o *Orchestrator) recent(ctx context.Context, meetingID string) ([]domain.Message, error) {
	all, err := o.Repo.ListMessages(ctx, meetingID, 0, 0)
	if err != nil {
		return nil, err
	}
	if len(all) > transcriptSize {
		all = all[len(all)-transcriptSize:]
	}
	return all, nil
}

func (o *Orchestrator) reply(ctx context.Context, snap *persona.Snapshot, member domain.BoardMember, m domain.Meeting, transcript []domain.Message, content string) (string, error) {
	system, err := o.systemPrompt(ctx, snap, member, m)
	if err != nil {
		return "", err
	}
	res, err := o.Gateway.Execute(ctx, member.Slug, gateway.Request{
		System: system,
		Prompt: renderPrompt(snap, transcript, content),
		Topic:  "committee",
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (o *Orchestrator) systemPrompt(ctx context.Context, snap *persona.Snapshot, member domain.BoardMember, m domain.Meeting) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a member of the %s.\n", persona.DisplayName(member), snap.Config().Board.Name)
	others := make([]string, 0, len(m.Participants))
	for _, slug := range m.Participants {
		if slug == member.Slug {
			continue
		}
		others = append(others, authorName(snap, &slug))
	}
	fmt.Fprintf(&b, "You are in a committee meeting titled %q with %s.\n", m.Title, strings.Join(others, ", "))
	b.WriteString("Answer the chair in your own voice, briefly, and build on what others said when relevant.\n")
	if o.Knowledge != nil {
		section, err := o.Knowledge.PromptSection(ctx, member)
		if err != nil {
			return "", err
		}
		if section != "" {
			b.WriteString("\n")
			b.WriteString(section)
		}
	}
	return b.String(), nil
}

func renderPrompt(snap *persona.Snapshot, transcript []domain.Message, content string) string {
	var b strings.Builder
	if len(transcript) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, msg := range transcript {
			fmt.Fprintf(&b, "%s: %s\n", authorName(snap, msg.MemberSlug), msg.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "%s: %s", humanAuthor, content)
	return b.String()
}

func authorName(snap *persona.Snapshot, slug *string) string {
	if slug == nil {
		return humanAuthor
	}
	m, ok := snap.Lookup(*slug)
	if !ok || !m.Active {
		return InactivePlaceholder
	}
	return persona.DisplayName(m)
}

// MessageView is a stored message with its author resolved at read time.
type MessageView struct {
	domain.Message
	Author string `json:"author"`
}

func (o *Orchestrator) Messages(ctx context.Context, meetingID string, afterSeq int64, limit int) ([]MessageView, error) {
	if _, err := o.Repo.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}
	msgs, err := o.Repo.ListMessages(ctx, meetingID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	snap := o.Registry.Snapshot()
	out := make([]MessageView, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, MessageView{Message: msg, Author: authorName(snap, msg.MemberSlug)})
	}
	return out, nil
}

func (o *Orchestrator) End(ctx context.Context, meetingID, actorID string) (domain.Meeting, error) {
	m, err := o.Repo.GetMeeting(ctx, meetingID)
	if err != nil {
		return m, err
	}
	if m.Status != domain.MeetingActive {
		return m, domain.InvalidTransitionError{Entity: "meeting", ID: m.ID, From: m.Status, Action: "end"}
	}
	defer o.locks.Lock(m.ID)()
	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	endedAt := domain.FormatTime(o.now())
	if err := o.Repo.EndMeeting(ctx, tx, m.ID, endedAt); err != nil {
		return m, err
	}
	if err := o.Events.Append(ctx, tx, "meeting.ended", "meeting", m.ID, actorID, nil); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	m.Status = domain.MeetingEnded
	m.EndedAt = &endedAt
	return m, nil
}

func (o *Orchestrator) Get(ctx context.Context, meetingID string) (domain.Meeting, error) {
	return o.Repo.GetMeeting(ctx, meetingID)
}

func (o *Orchestrator) List(ctx context.Context, status string, limit int) ([]domain.Meeting, error) {
	return o.Repo.ListMeetings(ctx, status, limit)
}

// Convene creates a meeting and, when prompt is set, opens it with that
// message. Used by scheduled committee actions.
func (o *Orchestrator) Convene(ctx context.Context, title string, participants []string, prompt, actorID string) (domain.Meeting, error) {
	m, err := o.Create(ctx, title, participants, actorID)
	if err != nil {
		return m, err
	}
	if strings.TrimSpace(prompt) == "" {
		return m, nil
	}
	res, err := o.Send(ctx, m.ID, prompt, actorID)
	if err != nil {
		return m, err
	}
	if len(res.Absent) > 0 {
		o.Logger.Info("committee convened with absences", "meeting_id", m.ID, "absent", len(res.Absent))
	}
	return m, nil
}
