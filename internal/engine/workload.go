package engine

import (
	"context"

	"boardroom/internal/domain"
)

// Workload summarizes one member's queue. Pending includes in-progress work.
type Workload struct {
	MemberSlug string `json:"member_slug"`
	Name       string `json:"name"`
	Active     bool   `json:"active"`
	Pending    int    `json:"pending"`
	InProgress int    `json:"in_progress"`
	Completed  int    `json:"completed"`
	Blocked    int    `json:"blocked"`
}

func (e Engine) Workload(ctx context.Context, slug string) (Workload, error) {
	member, ok := e.Registry.Snapshot().Lookup(slug)
	if !ok {
		return Workload{}, domain.PersonaError{Slug: slug, Err: domain.ErrPersonaNotFound}
	}
	return e.workload(ctx, member)
}

// WorkloadAll lists every configured member in board order.
func (e Engine) WorkloadAll(ctx context.Context) ([]Workload, error) {
	members := e.Registry.List()
	out := make([]Workload, 0, len(members))
	for _, m := range members {
		w, err := e.workload(ctx, m)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (e Engine) workload(ctx context.Context, m domain.BoardMember) (Workload, error) {
	counts, err := e.Repo.CountTasksByAssignee(ctx, m.Slug)
	if err != nil {
		return Workload{}, err
	}
	return Workload{
		MemberSlug: m.Slug,
		Name:       m.Name,
		Active:     m.Active,
		Pending:    counts[domain.StatusPending] + counts[domain.StatusInProgress],
		InProgress: counts[domain.StatusInProgress],
		Completed:  counts[domain.StatusCompleted],
		Blocked:    counts[domain.StatusBlocked],
	}, nil
}
