package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"boardroom/internal/domain"
	"boardroom/internal/engine"
	"boardroom/internal/persona"
	"boardroom/internal/repo"
)

type taskOutput struct {
	Body domain.Task `json:"body"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		Description:   "Creates a task for a board member. With execute_now the call waits for the member's response.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Assignee:    input.Body.Assignee,
			Type:        input.Body.Type,
			Priority:    input.Body.Priority,
			ExecuteNow:  input.Body.ExecuteNow,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Description: "status accepts a comma separated list.",
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		Assignee string `query:"assignee"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		for _, s := range strings.Split(input.Status, ",") {
			switch strings.TrimSpace(s) {
			case "", domain.StatusPending, domain.StatusInProgress, domain.StatusCompleted, domain.StatusBlocked, domain.StatusCancelled:
			default:
				return nil, handleError(domain.ValidationError{Field: "status", Reason: "unknown status " + s})
			}
		}
		tasks, err := e.ListTasks(ctx, repo.TaskFilters{Status: input.Status, Assignee: input.Assignee, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: paginatedTasks{Items: nonNilSlice(tasks)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*taskOutput, error) {
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Approve, revise, cancel or retry a task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var t domain.Task
		var err error
		switch input.Body.Action {
		case "approve":
			t, err = e.ApproveTask(ctx, input.ID, actorID)
		case "request_revision":
			t, err = e.RequestRevision(ctx, input.ID, input.Body.Feedback, actorID)
		case "cancel":
			t, err = e.CancelTask(ctx, input.ID, actorID)
		case "retry":
			t, err = e.RetryTask(ctx, input.ID, actorID)
		default:
			err = domain.ValidationError{Field: "action", Reason: "unknown action " + input.Body.Action}
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/start",
		Summary:     "Execute a pending task now",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*taskOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.StartTask(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Cancel a live task or remove a finished one",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body DeleteTaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, deleted, err := e.DeleteTask(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteTaskResponse `json:"body"`
		}{Body: DeleteTaskResponse{Task: t, Deleted: deleted}}, nil
	})
}

func registerMembers(api huma.API, e engine.Engine, registry *persona.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/members",
		Summary:     "List board members with their workload",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []MemberResponse `json:"body"`
	}, error) {
		loads, err := e.WorkloadAll(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		bySlug := map[string]engine.Workload{}
		for _, w := range loads {
			bySlug[w.MemberSlug] = w
		}
		members := registry.List()
		out := make([]MemberResponse, 0, len(members))
		for _, m := range members {
			w := bySlug[m.Slug]
			out = append(out, MemberResponse{BoardMember: m, Workload: &w})
		}
		return &struct {
			Body []MemberResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "member-workload",
		Method:      http.MethodGet,
		Path:        "/members/{slug}/workload",
		Summary:     "Workload of one member",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Slug string `path:"slug"`
	}) (*struct {
		Body engine.Workload `json:"body"`
	}, error) {
		w, err := e.Workload(ctx, input.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Workload `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-member",
		Method:      http.MethodPatch,
		Path:        "/members/{slug}",
		Summary:     "Activate, deactivate or reassign a member",
		Description: "Changes apply to calls started afterwards and last until board.yml is reloaded.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Slug string              `path:"slug"`
		Body UpdateMemberRequest `json:"body"`
	}) (*struct {
		Body domain.BoardMember `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := lookupMember(registry, input.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.Provider != nil || input.Body.Model != nil {
			provider, model := m.Provider, m.Model
			if input.Body.Provider != nil {
				provider = *input.Body.Provider
			}
			if input.Body.Model != nil {
				model = *input.Body.Model
			}
			if m, err = registry.Reassign(input.Slug, provider, model); err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.Active != nil {
			if m, err = registry.SetActive(input.Slug, *input.Body.Active); err != nil {
				return nil, handleError(err)
			}
		}
		// The registry change is already live, so a failed audit write is logged rather than returned.
		if err := e.Events.AppendStandalone(ctx, "member.updated", "member", m.Slug, actorID, map[string]any{
			"active": m.Active, "provider": m.Provider, "model": m.Model,
		}); err != nil {
			e.Logger.Error("member update not audited", "member", m.Slug, "actor_id", actorID, "error", err)
		}
		return &struct {
			Body domain.BoardMember `json:"body"`
		}{Body: m}, nil
	})
}

func lookupMember(registry *persona.Registry, slug string) (domain.BoardMember, error) {
	m, ok := registry.Snapshot().Lookup(slug)
	if !ok {
		return m, domain.PersonaError{Slug: slug, Err: domain.ErrPersonaNotFound}
	}
	return m, nil
}

func registerQuickTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-quick-tasks",
		Method:      http.MethodGet,
		Path:        "/quick-tasks",
		Summary:     "Quick task catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []engine.QuickTask `json:"body"`
	}, error) {
		return &struct {
			Body []engine.QuickTask `json:"body"`
		}{Body: engine.QuickTasks()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "run-quick-task",
		Method:        http.MethodPost,
		Path:          "/quick-tasks/{id}/run",
		Summary:       "Create and execute a quick task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*taskOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.RunQuickTask(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})
}
