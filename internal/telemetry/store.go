package telemetry

import (
	"context"
	"sync"
	"time"

	"boardroom/internal/domain"
	"boardroom/internal/logging"
	"boardroom/internal/repo"
)

const sinkBuffer = 256

// Store backs the in-memory Log with sqlite. A single goroutine owns writes to
// provider_calls so the gateway never waits on the database.
type Store struct {
	*Log
	Repo   repo.Repo
	Logger *logging.Logger

	ch     chan domain.ProviderCallRecord
	wg     sync.WaitGroup
	once   sync.Once
	closed bool
	mu     sync.RWMutex
}

func NewStore(r repo.Repo, retention time.Duration, maxEntries int, logger *logging.Logger) *Store {
	return &Store{
		Log:    NewLog(retention, maxEntries),
		Repo:   r,
		Logger: logger,
		ch:     make(chan domain.ProviderCallRecord, sinkBuffer),
	}
}

// Restore loads persisted records inside the retention window.
func (s *Store) Restore(ctx context.Context, now time.Time) error {
	since := ""
	if s.retention > 0 {
		since = domain.FormatTime(now.Add(-s.retention))
	}
	records, err := s.Repo.ListProviderCalls(ctx, since, s.maxEntries)
	if err != nil {
		return err
	}
	s.Log.Load(records)
	return nil
}

// Start launches the sink goroutine.
func (s *Store) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for rec := range s.ch {
			if err := s.Repo.InsertProviderCall(context.Background(), nil, rec); err != nil {
				s.Logger.Warn("persist provider call", "id", rec.ID, "error", err)
			}
		}
	}()
}

// Record appends to memory and queues the row for persistence. A full queue
// drops the row rather than stall a gateway call.
func (s *Store) Record(rec domain.ProviderCallRecord) {
	s.Log.Record(rec)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- rec:
	default:
		s.Logger.Warn("telemetry sink full, record not persisted", "id", rec.ID)
	}
}

// Prune trims both the in-memory log and the table.
func (s *Store) Prune(ctx context.Context, now time.Time) (int, error) {
	removed := s.Log.Prune(now)
	if s.retention <= 0 {
		return removed, nil
	}
	if _, err := s.Repo.DeleteProviderCallsBefore(ctx, domain.FormatTime(now.Add(-s.retention))); err != nil {
		return removed, err
	}
	return removed, nil
}

// Close drains pending writes.
func (s *Store) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
	})
}
