package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"boardroom/internal/committee"
	"boardroom/internal/domain"
)

type meetingOutput struct {
	Body domain.Meeting `json:"body"`
}

func registerMeetings(api huma.API, o *committee.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-meeting",
		Method:        http.MethodPost,
		Path:          "/meetings",
		Summary:       "Open a committee meeting with 2 to 4 members",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateMeetingRequest `json:"body"`
	}) (*meetingOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := o.Create(ctx, input.Body.Title, input.Body.Participants, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &meetingOutput{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-meetings",
		Method:      http.MethodGet,
		Path:        "/meetings",
		Summary:     "List meetings",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"active,ended"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Meeting `json:"body"`
	}, error) {
		items, err := o.List(ctx, input.Status, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Meeting `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-meeting",
		Method:      http.MethodGet,
		Path:        "/meetings/{id}",
		Summary:     "Get meeting",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*meetingOutput, error) {
		m, err := o.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &meetingOutput{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-meeting-messages",
		Method:      http.MethodGet,
		Path:        "/meetings/{id}/messages",
		Summary:     "Meeting transcript",
		Description: "Pass after=<seq> to read only newer messages.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		After int64  `query:"after"`
		Limit int    `query:"limit"`
	}) (*struct {
		Body []committee.MessageView `json:"body"`
	}, error) {
		msgs, err := o.Messages(ctx, input.ID, input.After, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []committee.MessageView `json:"body"`
		}{Body: msgs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-meeting-message",
		Method:      http.MethodPost,
		Path:        "/meetings/{id}/messages",
		Summary:     "Send a message and collect each member's reply",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body SendMessageRequest `json:"body"`
	}) (*struct {
		Body committee.RoundResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := o.Send(ctx, input.ID, input.Body.Content, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body committee.RoundResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "end-meeting",
		Method:      http.MethodPost,
		Path:        "/meetings/{id}/end",
		Summary:     "End a meeting",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*meetingOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := o.End(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &meetingOutput{Body: m}, nil
	})
}
