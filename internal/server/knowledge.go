package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"boardroom/internal/domain"
	"boardroom/internal/knowledge"
)

func registerKnowledge(api huma.API, k *knowledge.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "filter-content",
		Method:      http.MethodPost,
		Path:        "/knowledge/filter",
		Summary:     "Dry-run the conflict filter",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body FilterRequest `json:"body"`
	}) (*struct {
		Body knowledge.Decision `json:"body"`
	}, error) {
		filterContext := input.Body.Context
		if filterContext == "" {
			filterContext = knowledge.ContextWisdomExtraction
		}
		if !knowledge.ValidContext(filterContext) {
			return nil, handleError(domain.ValidationError{Field: "context", Reason: "unknown filter context " + filterContext})
		}
		return &struct {
			Body knowledge.Decision `json:"body"`
		}{Body: k.Filter(input.Body.FigureID, input.Body.Content, filterContext)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "ingest-knowledge",
		Method:        http.MethodPost,
		Path:          "/knowledge/entries",
		Summary:       "Ingest source content for a figure",
		Description:   "Content is filtered before and after extraction. Filtered entries are stored flagged and never reach prompts.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body IngestRequest `json:"body"`
	}) (*struct {
		Body domain.KnowledgeEntry `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entry, err := k.Ingest(ctx, knowledge.IngestInput{
			FigureID:   input.Body.FigureID,
			SourceType: input.Body.SourceType,
			SourceID:   input.Body.SourceID,
			Content:    input.Body.Content,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.KnowledgeEntry `json:"body"`
		}{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "synthesize-knowledge",
		Method:      http.MethodPost,
		Path:        "/knowledge/synthesize",
		Summary:     "Rebuild syntheses for one figure or all of them",
	}, func(ctx context.Context, input *struct {
		Body SynthesizeRequest `json:"body"`
	}) (*struct {
		Body SynthesizeResponse `json:"body"`
	}, error) {
		now := time.Now()
		fig := strings.TrimSpace(input.Body.FigureID)
		if fig == "" {
			n, err := k.SynthesizeAll(ctx, now)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body SynthesizeResponse `json:"body"`
			}{Body: SynthesizeResponse{Synthesized: n}}, nil
		}
		syn, ok, err := k.Synthesize(ctx, fig, now)
		if err != nil {
			return nil, handleError(err)
		}
		res := SynthesizeResponse{}
		if ok {
			res.Synthesized = 1
			res.Synthesis = &syn
		}
		return &struct {
			Body SynthesizeResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-figure",
		Method:      http.MethodGet,
		Path:        "/knowledge/figures/{id}",
		Summary:     "Synthesis and recent entries for a figure",
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"20"`
	}) (*struct {
		Body knowledge.FigureView `json:"body"`
	}, error) {
		view, err := k.Figure(ctx, input.ID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body knowledge.FigureView `json:"body"`
		}{Body: view}, nil
	})
}
