package domain

import "time"

// Task statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusBlocked    = "blocked"
	StatusCancelled  = "cancelled"
)

// Task priorities.
const (
	PriorityLow      = "low"
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Meeting statuses.
const (
	MeetingActive = "active"
	MeetingEnded  = "ended"
)

// ValidPriority reports whether p is one of the known priorities.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// BoardMember is a persona resolved from configuration.
type BoardMember struct {
	Slug     string   `json:"slug"`
	Name     string   `json:"name"`
	Title    string   `json:"title,omitempty"`
	Provider string   `json:"provider"`
	Model    string   `json:"model"`
	Active   bool     `json:"active"`
	Figures  []string `json:"figures,omitempty"`
}

// ProviderCallRecord is one completed outbound AI call.
type ProviderCallRecord struct {
	ID             string `json:"id"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	Fallback       bool   `json:"fallback"`
	MemberSlug     string `json:"member_slug"`
	Topic          string `json:"topic,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	Assignee      string  `json:"assignee"`
	Type          string  `json:"type"`
	Priority      string  `json:"priority" enum:"low,normal,high,critical"`
	Status        string  `json:"status" enum:"pending,in_progress,completed,blocked,cancelled"`
	Deliverable   *string `json:"deliverable,omitempty"`
	Feedback      *string `json:"feedback,omitempty"`
	BlockedReason *string `json:"blocked_reason,omitempty"`
	Reviewed      bool    `json:"reviewed"`
	Revision      int     `json:"revision"`
	CreatedBy     string  `json:"created_by,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
	CompletedAt   *string `json:"completed_at,omitempty" format:"date-time"`
}

// ScheduledAction is a built-in or user action. Participants and Prompt are
// only used by committee actions.
type ScheduledAction struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	ActionType   string   `json:"action_type"`
	Assignee     *string  `json:"assignee,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Prompt       string   `json:"prompt,omitempty"`
	Schedule     string   `json:"schedule"`
	Active       bool     `json:"active"`
	BuiltIn      bool     `json:"built_in"`
	LastRun      *string  `json:"last_run,omitempty" format:"date-time"`
	NextRun      *string  `json:"next_run,omitempty" format:"date-time"`
	LastError    *string  `json:"last_error,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
}

// ScheduleRun marks a (action, instant) pair as fired.
type ScheduleRun struct {
	ActionID     string `json:"action_id"`
	ScheduledFor string `json:"scheduled_for" format:"date-time"`
	FiredAt      string `json:"fired_at" format:"date-time"`
	ResultRef    string `json:"result_ref,omitempty"`
}

type KnowledgeEntry struct {
	ID               string   `json:"id"`
	FigureID         string   `json:"figure_id"`
	SourceType       string   `json:"source_type"`
	SourceID         string   `json:"source_id,omitempty"`
	RawContent       string   `json:"raw_content"`
	Insight          string   `json:"insight,omitempty"`
	Principle        string   `json:"principle,omitempty"`
	Application      string   `json:"application,omitempty"`
	Themes           []string `json:"themes,omitempty"`
	Relevance        int      `json:"relevance"`
	ConflictFiltered bool     `json:"conflict_filtered"`
	FilterReason     string   `json:"filter_reason,omitempty"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	ExpiresAt        *string  `json:"expires_at,omitempty" format:"date-time"`
}

type SynthesizedKnowledge struct {
	FigureID          string   `json:"figure_id"`
	FocusAreas        []string `json:"focus_areas"`
	RecentInsights    []string `json:"recent_insights"`
	EvolvingPositions []string `json:"evolving_positions"`
	EntryCount        int      `json:"entry_count"`
	SynthesizedAt     string   `json:"synthesized_at" format:"date-time"`
}

type Meeting struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Participants []string `json:"participants"`
	Status       string   `json:"status" enum:"active,ended"`
	CreatedBy    string   `json:"created_by,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	EndedAt      *string  `json:"ended_at,omitempty" format:"date-time"`
}

type Message struct {
	ID         string  `json:"id"`
	MeetingID  string  `json:"meeting_id"`
	Seq        int64   `json:"seq"`
	MemberSlug *string `json:"member_slug,omitempty"`
	Content    string  `json:"content"`
	Round      int     `json:"round"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// TimeLayout is a fixed-width RFC 3339 layout so stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp written by FormatTime (or any RFC 3339 value).
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
