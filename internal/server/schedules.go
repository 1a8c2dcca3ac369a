package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"boardroom/internal/domain"
	"boardroom/internal/scheduler"
)

type scheduleOutput struct {
	Body domain.ScheduledAction `json:"body"`
}

func registerSchedules(api huma.API, s *scheduler.Scheduler) {
	huma.Register(api, huma.Operation{
		OperationID: "list-schedules",
		Method:      http.MethodGet,
		Path:        "/schedules",
		Summary:     "Built-in and user schedules with their next run",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body scheduler.View `json:"body"`
	}, error) {
		view, err := s.View(ctx, time.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body scheduler.View `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-schedule",
		Method:        http.MethodPost,
		Path:          "/schedules",
		Summary:       "Create a user schedule",
		Description:   "schedule is a five-field cron expression in UTC, a descriptor such as @daily, or @at <RFC 3339 time> for a one-off run.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateScheduleRequest `json:"body"`
	}) (*scheduleOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := s.CreateAction(ctx, scheduler.CreateActionInput{
			Title:        input.Body.Title,
			ActionType:   input.Body.ActionType,
			Assignee:     input.Body.Assignee,
			Participants: input.Body.Participants,
			Prompt:       input.Body.Prompt,
			Schedule:     input.Body.Schedule,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &scheduleOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-schedule",
		Method:      http.MethodPatch,
		Path:        "/schedules/{id}",
		Summary:     "Activate or deactivate a schedule",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateScheduleRequest `json:"body"`
	}) (*scheduleOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := s.SetActive(ctx, input.ID, input.Body.Active, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &scheduleOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-schedule",
		Method:        http.MethodDelete,
		Path:          "/schedules/{id}",
		Summary:       "Delete a user schedule",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := s.DeleteAction(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-schedule-runs",
		Method:      http.MethodGet,
		Path:        "/schedules/{id}/runs",
		Summary:     "Recent firings of a schedule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.ScheduleRun `json:"body"`
	}, error) {
		if _, err := s.Repo.GetAction(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		runs, err := s.Repo.ListRuns(ctx, input.ID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ScheduleRun `json:"body"`
		}{Body: nonNilSlice(runs)}, nil
	})
}
