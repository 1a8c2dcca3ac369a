// Package gateway routes a board member's request to an AI provider, walking
// the configured fallback chain and recording one telemetry entry per success.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"boardroom/internal/domain"
	"boardroom/internal/logging"
	"boardroom/internal/persona"
	"boardroom/internal/telemetry"
)

var (
	ErrProviderTimeout     = errors.New("provider timed out")
	ErrProviderUnavailable = errors.New("provider not configured")
	ErrEmptyResponse       = errors.New("provider returned an empty response")
	ErrGatewayExhausted    = errors.New("all providers failed")
)

// Request is a single prompt/response exchange.
type Request struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int
	// Topic labels the call in telemetry (task type, meeting, synthesis).
	Topic string
}

type Response struct {
	Text string
}

// Provider is an opaque AI backend.
type Provider interface {
	Name() string
	Execute(ctx context.Context, req Request) (Response, error)
}

// ProviderError wraps a non-timeout failure from one provider.
type ProviderError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s (%s): %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ExhaustedError lists every attempt of a chain that produced no response.
type ExhaustedError struct {
	Member   string
	Attempts []*ProviderError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return fmt.Sprintf("gateway exhausted for %s: %s", e.Member, strings.Join(parts, "; "))
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrGatewayExhausted }

// Result is a successful call.
type Result struct {
	Text     string
	Provider string
	Model    string
	Fallback bool
	Record   domain.ProviderCallRecord
}

type attempt struct {
	provider string
	model    string
}

// Router resolves personas through the registry and dispatches to providers.
type Router struct {
	Registry  *persona.Registry
	Providers map[string]Provider
	Telemetry telemetry.Recorder
	Logger    *logging.Logger
	Now       func() time.Time
}

func (r *Router) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Execute runs req for memberSlug. The persona mapping and fallback order are
// read once at call start; a concurrent reassignment affects only later calls.
func (r *Router) Execute(ctx context.Context, memberSlug string, req Request) (Result, error) {
	snap := r.Registry.Snapshot()
	member, err := snap.Resolve(memberSlug)
	if err != nil {
		return Result{}, err
	}
	cfg := snap.Config()
	timeout := cfg.GatewayTimeout()
	if req.MaxTokens <= 0 {
		req.MaxTokens = cfg.Gateway.MaxTokens
	}

	chain := []attempt{{provider: member.Provider, model: member.Model}}
	for _, name := range cfg.Gateway.FallbackOrder {
		if name == member.Provider {
			continue
		}
		chain = append(chain, attempt{provider: name, model: cfg.Providers[name].DefaultModel})
	}

	exhausted := &ExhaustedError{Member: memberSlug}
	for i, a := range chain {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		text, elapsed, err := r.try(ctx, a, req, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			pe := &ProviderError{Provider: a.provider, Model: a.model, Err: err}
			exhausted.Attempts = append(exhausted.Attempts, pe)
			r.Logger.Warn("provider attempt failed", "member", memberSlug, "provider", a.provider, "model", a.model, "attempt", i, "error", err)
			continue
		}
		rec := domain.ProviderCallRecord{
			ID:             uuid.NewString(),
			Provider:       a.provider,
			Model:          a.model,
			ResponseTimeMS: elapsed.Milliseconds(),
			Fallback:       i > 0,
			MemberSlug:     memberSlug,
			Topic:          req.Topic,
			CreatedAt:      domain.FormatTime(r.now()),
		}
		if r.Telemetry != nil {
			r.Telemetry.Record(rec)
		}
		return Result{Text: text, Provider: a.provider, Model: a.model, Fallback: rec.Fallback, Record: rec}, nil
	}
	if r.Telemetry != nil {
		for _, a := range exhausted.Attempts {
			r.Telemetry.RecordFailure(a.Provider)
		}
	}
	r.Logger.Error("gateway exhausted", "member", memberSlug, "attempts", len(exhausted.Attempts))
	return Result{}, exhausted
}

func (r *Router) try(ctx context.Context, a attempt, req Request, timeout time.Duration) (string, time.Duration, error) {
	p, ok := r.Providers[a.provider]
	if !ok || p == nil {
		return "", 0, ErrProviderUnavailable
	}
	req.Model = a.model
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	resp, err := p.Execute(attemptCtx, req)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return "", elapsed, fmt.Errorf("%w after %s", ErrProviderTimeout, timeout)
		}
		return "", elapsed, err
	}
	if attemptCtx.Err() != nil {
		return "", elapsed, fmt.Errorf("%w after %s", ErrProviderTimeout, timeout)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", elapsed, ErrEmptyResponse
	}
	return resp.Text, elapsed, nil
}
