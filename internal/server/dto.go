package server

import (
	"boardroom/internal/domain"
	"boardroom/internal/engine"
)

// Request payloads

type DevLoginRequest struct {
	ActorID string `json:"actor_id" minLength:"1"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Assignee    string `json:"assignee"`
	Type        string `json:"type,omitempty"`
	Priority    string `json:"priority,omitempty" enum:"low,normal,high,critical"`
	ExecuteNow  bool   `json:"execute_now,omitempty"`
}

type UpdateTaskRequest struct {
	Action   string `json:"action" enum:"approve,request_revision,cancel,retry"`
	Feedback string `json:"feedback,omitempty"`
}

type UpdateMemberRequest struct {
	Active   *bool   `json:"active,omitempty"`
	Provider *string `json:"provider,omitempty"`
	Model    *string `json:"model,omitempty"`
}

type CreateScheduleRequest struct {
	Title        string   `json:"title"`
	ActionType   string   `json:"action_type,omitempty" enum:"task,committee,synthesis,prune"`
	Assignee     string   `json:"assignee,omitempty"`
	Participants []string `json:"participants,omitempty" doc:"2 to 4 member slugs for committee actions"`
	Prompt       string   `json:"prompt,omitempty" doc:"Opening message for committee actions"`
	Schedule     string   `json:"schedule" example:"0 9 * * 1-5"`
}

type UpdateScheduleRequest struct {
	Active bool `json:"active"`
}

type CreateMeetingRequest struct {
	Title        string   `json:"title"`
	Participants []string `json:"participants"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type FilterRequest struct {
	Content  string `json:"content"`
	FigureID string `json:"figure_id,omitempty"`
	Context  string `json:"context,omitempty" enum:"wisdom_extraction,direct_quote,synthesis,prompt"`
}

type IngestRequest struct {
	FigureID   string `json:"figure_id"`
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id,omitempty"`
	Content    string `json:"content"`
}

type SynthesizeRequest struct {
	FigureID string `json:"figure_id,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeyCreatedResponse struct {
	Key    string         `json:"key"`
	APIKey APIKeyResponse `json:"api_key"`
}

type paginatedTasks struct {
	Items []domain.Task `json:"items"`
}

type DeleteTaskResponse struct {
	Task    domain.Task `json:"task"`
	Deleted bool        `json:"deleted"`
}

type MemberResponse struct {
	domain.BoardMember
	Workload *engine.Workload `json:"workload,omitempty"`
}

type SynthesizeResponse struct {
	Synthesized int                          `json:"synthesized"`
	Synthesis   *domain.SynthesizedKnowledge `json:"synthesis,omitempty"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
