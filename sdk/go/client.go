package boardroomsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Boardroom HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Task execution and committee
// rounds wait on model providers, so the timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  2 * time.Minute,
	}
}

// Task represents the API task model.
type Task struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	Assignee      string  `json:"assignee"`
	Type          string  `json:"type"`
	Priority      string  `json:"priority"`
	Status        string  `json:"status"`
	Deliverable   *string `json:"deliverable,omitempty"`
	Feedback      *string `json:"feedback,omitempty"`
	BlockedReason *string `json:"blocked_reason,omitempty"`
	Reviewed      bool    `json:"reviewed"`
	Revision      int     `json:"revision"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// CreateTaskInput mirrors POST /tasks.
type CreateTaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Assignee    string `json:"assignee"`
	Type        string `json:"type,omitempty"`
	Priority    string `json:"priority,omitempty"`
	ExecuteNow  bool   `json:"execute_now,omitempty"`
}

// ScheduledAction is a built-in or user action with time until its next run.
type ScheduledAction struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	ActionType       string   `json:"action_type"`
	Assignee         *string  `json:"assignee,omitempty"`
	Participants     []string `json:"participants,omitempty"`
	Prompt           string   `json:"prompt,omitempty"`
	Schedule         string   `json:"schedule"`
	Active           bool     `json:"active"`
	BuiltIn          bool     `json:"built_in"`
	NextRun          *string  `json:"next_run,omitempty"`
	LastError        *string  `json:"last_error,omitempty"`
	TimeUntil        string   `json:"time_until,omitempty"`
	TimeUntilSeconds int64    `json:"time_until_seconds,omitempty"`
}

// Schedules groups built-in and user actions.
type Schedules struct {
	BuiltIns []ScheduledAction `json:"builtins"`
	User     []ScheduledAction `json:"user"`
}

type Meeting struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Participants []string `json:"participants"`
	Status       string   `json:"status"`
	CreatedAt    string   `json:"created_at"`
	EndedAt      *string  `json:"ended_at,omitempty"`
}

type Message struct {
	ID         string  `json:"id"`
	Seq        int64   `json:"seq"`
	MemberSlug *string `json:"member_slug,omitempty"`
	Author     string  `json:"author,omitempty"`
	Content    string  `json:"content"`
	Round      int     `json:"round"`
	CreatedAt  string  `json:"created_at"`
}

// Round is the result of one committee message.
type Round struct {
	Round     int               `json:"round"`
	Message   Message           `json:"message"`
	Responses []Message         `json:"responses"`
	Absent    map[string]string `json:"absent,omitempty"`
}

// FilterDecision is the conflict filter's verdict.
type FilterDecision struct {
	Filter   bool   `json:"filter"`
	Reason   string `json:"reason,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
	Severity string `json:"severity,omitempty"`
}

type ProviderStats struct {
	Provider     string  `json:"provider"`
	Calls        int     `json:"calls"`
	AvgMS        float64 `json:"avg_ms"`
	P95MS        int64   `json:"p95_ms"`
	FallbackRate float64 `json:"fallback_rate"`
	Failures     int     `json:"failures"`
	Health       string  `json:"health"`
}

type GatewayMetrics struct {
	Providers []ProviderStats `json:"providers"`
	Records   int             `json:"records"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is filled from the error envelope
// when the server sent one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task, executing it first when in.ExecuteNow is set.
func (c *Client) CreateTask(ctx context.Context, in CreateTaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListTasks filters by status (comma separated) and assignee.
func (c *Client) ListTasks(ctx context.Context, status, assignee string) ([]Task, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if assignee != "" {
		q.Set("assignee", assignee)
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("tasks", q), nil, &resp)
	return resp.Items, err
}

// UpdateTask applies approve, request_revision, cancel or retry.
func (c *Client) UpdateTask(ctx context.Context, id, action, feedback string) (Task, error) {
	body := map[string]any{"action": action}
	if feedback != "" {
		body["feedback"] = feedback
	}
	var resp Task
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(id), body, &resp)
	return resp, err
}

func (c *Client) StartTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/start", nil, &resp)
	return resp, err
}

func (c *Client) RunQuickTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "quick-tasks/"+url.PathEscape(id)+"/run", nil, &resp)
	return resp, err
}

func (c *Client) Schedules(ctx context.Context) (Schedules, error) {
	var resp Schedules
	err := c.do(ctx, http.MethodGet, "schedules", nil, &resp)
	return resp, err
}

// CreateScheduleInput mirrors POST /schedules. Schedule is a cron expression
// or "@at <RFC3339>".
type CreateScheduleInput struct {
	Title        string   `json:"title"`
	ActionType   string   `json:"action_type,omitempty"`
	Assignee     string   `json:"assignee,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Prompt       string   `json:"prompt,omitempty"`
	Schedule     string   `json:"schedule"`
}

// CreateSchedule adds a user action.
func (c *Client) CreateSchedule(ctx context.Context, in CreateScheduleInput) (ScheduledAction, error) {
	var resp ScheduledAction
	err := c.do(ctx, http.MethodPost, "schedules", in, &resp)
	return resp, err
}

func (c *Client) CreateMeeting(ctx context.Context, title string, participants []string) (Meeting, error) {
	var resp Meeting
	err := c.do(ctx, http.MethodPost, "meetings", map[string]any{"title": title, "participants": participants}, &resp)
	return resp, err
}

// SendMessage blocks until every active participant answered or failed.
func (c *Client) SendMessage(ctx context.Context, meetingID, content string) (Round, error) {
	var resp Round
	err := c.do(ctx, http.MethodPost, "meetings/"+url.PathEscape(meetingID)+"/messages", map[string]any{"content": content}, &resp)
	return resp, err
}

// Messages returns the transcript after the given sequence number.
func (c *Client) Messages(ctx context.Context, meetingID string, after int64) ([]Message, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", strconv.FormatInt(after, 10))
	}
	var resp []Message
	err := c.do(ctx, http.MethodGet, withQuery("meetings/"+url.PathEscape(meetingID)+"/messages", q), nil, &resp)
	return resp, err
}

func (c *Client) EndMeeting(ctx context.Context, meetingID string) (Meeting, error) {
	var resp Meeting
	err := c.do(ctx, http.MethodPost, "meetings/"+url.PathEscape(meetingID)+"/end", nil, &resp)
	return resp, err
}

// Filter checks content against the conflict filter.
func (c *Client) Filter(ctx context.Context, figureID, content, filterContext string) (FilterDecision, error) {
	body := map[string]any{"content": content, "figure_id": figureID}
	if filterContext != "" {
		body["context"] = filterContext
	}
	var resp FilterDecision
	err := c.do(ctx, http.MethodPost, "knowledge/filter", body, &resp)
	return resp, err
}

func (c *Client) GatewayMetrics(ctx context.Context) (GatewayMetrics, error) {
	var resp GatewayMetrics
	err := c.do(ctx, http.MethodGet, "gateway/metrics", nil, &resp)
	return resp, err
}

// Events returns events after the given id.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing; pass NextCursor back as cursor.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("after", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
