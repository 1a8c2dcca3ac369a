package engine

import (
	"context"
	"fmt"

	"boardroom/internal/domain"
	"boardroom/internal/repo"
)

// QuickTask is a one-click task template.
type QuickTask struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Assignee    string `json:"assignee"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

var quickTasks = []QuickTask{
	{ID: "market_scan", Label: "Scan competitor moves this week", Assignee: "athena", Type: "research",
		Description: "List the three most significant competitor or market moves of the past week and what they mean for us."},
	{ID: "board_memo", Label: "Draft a decision memo", Assignee: "athena", Type: "memo",
		Description: "Draft a one-page memo framing this week's most important open decision, with options and a recommendation."},
	{ID: "cash_runway", Label: "Check cash runway", Assignee: "griffin", Type: "analysis",
		Description: "Estimate runway under current burn and flag the two levers with the most impact."},
	{ID: "tech_risks", Label: "Review technical risks", Assignee: "scuba", Type: "review",
		Description: "Identify the top technical risks on the current roadmap and a mitigation for each."},
	{ID: "campaign_ideas", Label: "Pitch campaign ideas", Assignee: "nova", Type: "brainstorm",
		Description: "Pitch three campaign ideas for the next launch with a one-line hook each."},
}

// QuickTasks returns the catalog.
func QuickTasks() []QuickTask {
	return append([]QuickTask(nil), quickTasks...)
}

func findQuickTask(id string) (QuickTask, bool) {
	for _, q := range quickTasks {
		if q.ID == id {
			return q, true
		}
	}
	return QuickTask{}, false
}

// RunQuickTask creates the template's task and executes it immediately.
func (e Engine) RunQuickTask(ctx context.Context, id, actorID string) (domain.Task, error) {
	q, ok := findQuickTask(id)
	if !ok {
		return domain.Task{}, fmt.Errorf("quick task %s: %w", id, repo.ErrNotFound)
	}
	return e.CreateTask(ctx, TaskCreateOptions{
		Title:       q.Label,
		Description: q.Description,
		Assignee:    q.Assignee,
		Type:        q.Type,
		Priority:    domain.PriorityNormal,
		ExecuteNow:  true,
		ActorID:     actorID,
	})
}
