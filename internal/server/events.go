package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"boardroom/internal/repo"
	"boardroom/internal/telemetry"
)

func registerEvents(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit events after a cursor",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		After      int64  `query:"after"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"task,schedule,meeting,knowledge_entry,figure,member,api_key"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		items, err := r.ListEvents(ctx, repo.EventFilters{
			AfterID:    input.After,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: nonNilSlice(items)}
		if len(items) > limit {
			resp.Items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerGateway(api huma.API, m MetricsSource) {
	huma.Register(api, huma.Operation{
		OperationID: "gateway-metrics",
		Method:      http.MethodGet,
		Path:        "/gateway/metrics",
		Summary:     "Provider health and per-member last call",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body telemetry.Metrics `json:"body"`
	}, error) {
		metrics := m.Metrics(time.Now())
		metrics.Providers = nonNilSlice(metrics.Providers)
		metrics.Members = nonNilSlice(metrics.Members)
		return &struct {
			Body telemetry.Metrics `json:"body"`
		}{Body: metrics}, nil
	})
}
