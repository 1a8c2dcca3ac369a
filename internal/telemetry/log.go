// Package telemetry keeps the bounded provider call log the gateway appends to
// and derives per-provider and per-member statistics from it.
package telemetry

import (
	"sync"
	"time"

	"boardroom/internal/domain"
)

// Recorder is what the gateway needs from telemetry.
type Recorder interface {
	Record(rec domain.ProviderCallRecord)
	RecordFailure(provider string)
}

// Log is an in-memory, mutex-protected record list ordered by append time.
// Failures are timestamped so they age out of the window like calls do.
type Log struct {
	// Now stamps failures; defaults to time.Now.
	Now func() time.Time

	mu         sync.Mutex
	records    []domain.ProviderCallRecord
	failures   []failure
	retention  time.Duration
	maxEntries int
}

type failure struct {
	provider string
	at       string
}

func NewLog(retention time.Duration, maxEntries int) *Log {
	return &Log{retention: retention, maxEntries: maxEntries}
}

func (l *Log) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Record appends rec, dropping the oldest entries beyond the cap.
func (l *Log) Record(rec domain.ProviderCallRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	if l.maxEntries > 0 && len(l.records) > l.maxEntries {
		drop := len(l.records) - l.maxEntries
		l.records = append([]domain.ProviderCallRecord(nil), l.records[drop:]...)
	}
}

// RecordFailure counts a provider that failed every attempt in a chain.
func (l *Log) RecordFailure(provider string) {
	at := domain.FormatTime(l.now())
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, failure{provider: provider, at: at})
	if l.maxEntries > 0 && len(l.failures) > l.maxEntries {
		drop := len(l.failures) - l.maxEntries
		l.failures = append([]failure(nil), l.failures[drop:]...)
	}
}

// Load replaces the log contents, typically with records read back from sqlite.
func (l *Log) Load(records []domain.ProviderCallRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append([]domain.ProviderCallRecord(nil), records...)
	if l.maxEntries > 0 && len(l.records) > l.maxEntries {
		l.records = l.records[len(l.records)-l.maxEntries:]
	}
}

// cutoff is the oldest timestamp inside the window ending at now, or "" when
// retention is unbounded.
func (l *Log) cutoff(now time.Time) string {
	if l.retention <= 0 {
		return ""
	}
	return domain.FormatTime(now.Add(-l.retention))
}

// Prune drops records and failures older than the retention window and
// returns how many records went.
func (l *Log) Prune(now time.Time) int {
	if l.retention <= 0 {
		return 0
	}
	cutoff := l.cutoff(now)
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.records[:0]
	for _, rec := range l.records {
		if rec.CreatedAt >= cutoff {
			kept = append(kept, rec)
		}
	}
	removed := len(l.records) - len(kept)
	l.records = kept
	keptFailures := l.failures[:0]
	for _, f := range l.failures {
		if f.at >= cutoff {
			keptFailures = append(keptFailures, f)
		}
	}
	l.failures = keptFailures
	return removed
}

// Snapshot copies the current records.
func (l *Log) Snapshot() []domain.ProviderCallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ProviderCallRecord(nil), l.records...)
}

// Failures counts the failures currently held, per provider.
func (l *Log) Failures() map[string]int {
	return l.failuresSince("")
}

func (l *Log) failuresSince(cutoff string) map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := map[string]int{}
	for _, f := range l.failures {
		if f.at >= cutoff {
			out[f.provider]++
		}
	}
	return out
}

// window copies the records and failure counts inside the retention window
// ending at now.
func (l *Log) window(now time.Time) ([]domain.ProviderCallRecord, map[string]int) {
	cutoff := l.cutoff(now)
	l.mu.Lock()
	records := make([]domain.ProviderCallRecord, 0, len(l.records))
	for _, rec := range l.records {
		if rec.CreatedAt >= cutoff {
			records = append(records, rec)
		}
	}
	l.mu.Unlock()
	return records, l.failuresSince(cutoff)
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *Log) Retention() time.Duration { return l.retention }
