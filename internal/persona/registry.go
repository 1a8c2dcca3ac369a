// Package persona resolves board members by slug from an immutable snapshot of
// board.yml. Readers never block; reloads and reassignments swap the snapshot.
package persona

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"boardroom/internal/config"
	"boardroom/internal/domain"
)

// Snapshot is a read-only view of the board at one point in time.
type Snapshot struct {
	cfg     *config.Config
	members map[string]domain.BoardMember
	order   []string
}

func newSnapshot(cfg *config.Config) *Snapshot {
	s := &Snapshot{cfg: cfg, members: map[string]domain.BoardMember{}}
	for _, m := range cfg.BoardMembers() {
		s.members[m.Slug] = m
		s.order = append(s.order, m.Slug)
	}
	return s
}

// Config returns the configuration the snapshot was built from.
func (s *Snapshot) Config() *config.Config { return s.cfg }

// Lookup returns the member regardless of its active flag.
func (s *Snapshot) Lookup(slug string) (domain.BoardMember, bool) {
	m, ok := s.members[slug]
	return m, ok
}

// Resolve returns an active member or a PersonaError.
func (s *Snapshot) Resolve(slug string) (domain.BoardMember, error) {
	m, ok := s.members[slug]
	if !ok {
		return domain.BoardMember{}, domain.PersonaError{Slug: slug, Err: domain.ErrPersonaNotFound}
	}
	if !m.Active {
		return domain.BoardMember{}, domain.PersonaError{Slug: slug, Err: domain.ErrPersonaInactive}
	}
	return m, nil
}

// Members returns members in configuration order.
func (s *Snapshot) Members() []domain.BoardMember {
	out := make([]domain.BoardMember, 0, len(s.order))
	for _, slug := range s.order {
		out = append(out, s.members[slug])
	}
	return out
}

// Registry holds the current snapshot.
type Registry struct {
	cur atomic.Pointer[Snapshot]
	mu  sync.Mutex // serializes writers
}

func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{}
	r.cur.Store(newSnapshot(cfg))
	return r
}

// Snapshot returns the current board; callers keep using it for the whole operation.
func (r *Registry) Snapshot() *Snapshot { return r.cur.Load() }

func (r *Registry) Resolve(slug string) (domain.BoardMember, error) {
	return r.Snapshot().Resolve(slug)
}

func (r *Registry) List() []domain.BoardMember { return r.Snapshot().Members() }

func (r *Registry) Config() *config.Config { return r.Snapshot().Config() }

// Reload replaces the board with a freshly validated config.
func (r *Registry) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur.Store(newSnapshot(cfg))
	return nil
}

// SetActive toggles a member without touching the others.
func (r *Registry) SetActive(slug string, active bool) (domain.BoardMember, error) {
	return r.mutate(slug, func(m *config.Member) error {
		m.Active = &active
		return nil
	})
}

// Reassign points a member at another provider and model.
func (r *Registry) Reassign(slug, provider, model string) (domain.BoardMember, error) {
	return r.mutate(slug, func(m *config.Member) error {
		if provider != "" {
			m.Provider = provider
		}
		if model != "" {
			m.Model = model
		}
		return nil
	})
}

func (r *Registry) mutate(slug string, fn func(*config.Member) error) (domain.BoardMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := cloneConfig(r.cur.Load().cfg)
	idx := -1
	for i := range next.Members {
		if next.Members[i].Slug == slug {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.BoardMember{}, domain.PersonaError{Slug: slug, Err: domain.ErrPersonaNotFound}
	}
	if err := fn(&next.Members[idx]); err != nil {
		return domain.BoardMember{}, err
	}
	if err := next.Validate(); err != nil {
		return domain.BoardMember{}, domain.ValidationError{Field: "member", Reason: err.Error()}
	}
	r.cur.Store(newSnapshot(next))
	return next.Members[idx].BoardMember(), nil
}

// cloneConfig copies the parts a member mutation touches; everything else is shared read-only.
func cloneConfig(cfg *config.Config) *config.Config {
	next := *cfg
	next.Members = make([]config.Member, len(cfg.Members))
	copy(next.Members, cfg.Members)
	return &next
}

// FiguresFor lists the inspiration figures of a member, sorted for stable prompts.
func (s *Snapshot) FiguresFor(slug string) []string {
	m, ok := s.members[slug]
	if !ok {
		return nil
	}
	out := append([]string(nil), m.Figures...)
	sort.Strings(out)
	return out
}

// DisplayName returns "Name, Title" for a member, falling back to the slug.
func DisplayName(m domain.BoardMember) string {
	name := m.Name
	if name == "" {
		name = m.Slug
	}
	if m.Title != "" {
		return fmt.Sprintf("%s, %s", name, m.Title)
	}
	return name
}
