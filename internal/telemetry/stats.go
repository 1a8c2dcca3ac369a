package telemetry

import (
	"math"
	"sort"
	"time"

	"boardroom/internal/domain"
)

// Health levels.
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthDegraded = "degraded"
)

const (
	degradedFallbackRate = 0.30
	degradedAvgMS        = 5000
	warningFallbackRate  = 0.10
	warningAvgMS         = 3000
)

type ProviderStats struct {
	Provider      string  `json:"provider"`
	Calls         int     `json:"calls"`
	AvgMS         float64 `json:"avg_ms"`
	P95MS         int64   `json:"p95_ms"`
	FallbackCount int     `json:"fallback_count"`
	FallbackRate  float64 `json:"fallback_rate"`
	Failures      int     `json:"failures"`
	Health        string  `json:"health" enum:"healthy,warning,degraded"`
}

type MemberStats struct {
	MemberSlug     string `json:"member_slug"`
	Calls          int    `json:"calls"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	Fallback       bool   `json:"fallback"`
	At             string `json:"at" format:"date-time"`
}

// Health classifies a provider from its fallback rate and average latency.
func Health(fallbackRate, avgMS float64) string {
	switch {
	case fallbackRate > degradedFallbackRate || avgMS > degradedAvgMS:
		return HealthDegraded
	case fallbackRate > warningFallbackRate || avgMS > warningAvgMS:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// P95 uses the nearest-rank method on a copy of latencies.
func P95(latencies []int64) int64 {
	if len(latencies) == 0 {
		return 0
	}
	sorted := append([]int64(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := int(math.Ceil(0.95 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// Providers aggregates records per serving provider. Providers that only ever
// failed still appear with zero calls.
func Providers(records []domain.ProviderCallRecord, failures map[string]int) []ProviderStats {
	type acc struct {
		latencies []int64
		total     int64
		fallbacks int
	}
	byProvider := map[string]*acc{}
	for _, rec := range records {
		a := byProvider[rec.Provider]
		if a == nil {
			a = &acc{}
			byProvider[rec.Provider] = a
		}
		a.latencies = append(a.latencies, rec.ResponseTimeMS)
		a.total += rec.ResponseTimeMS
		if rec.Fallback {
			a.fallbacks++
		}
	}
	for name := range failures {
		if byProvider[name] == nil {
			byProvider[name] = &acc{}
		}
	}
	out := make([]ProviderStats, 0, len(byProvider))
	for name, a := range byProvider {
		st := ProviderStats{Provider: name, Calls: len(a.latencies), FallbackCount: a.fallbacks, Failures: failures[name]}
		if st.Calls > 0 {
			st.AvgMS = float64(a.total) / float64(st.Calls)
			st.P95MS = P95(a.latencies)
			st.FallbackRate = float64(a.fallbacks) / float64(st.Calls)
		}
		st.Health = Health(st.FallbackRate, st.AvgMS)
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Members reports the most recent call of each member.
func Members(records []domain.ProviderCallRecord) []MemberStats {
	byMember := map[string]*MemberStats{}
	for _, rec := range records {
		st := byMember[rec.MemberSlug]
		if st == nil {
			st = &MemberStats{MemberSlug: rec.MemberSlug}
			byMember[rec.MemberSlug] = st
		}
		st.Calls++
		if rec.CreatedAt >= st.At {
			st.Provider = rec.Provider
			st.Model = rec.Model
			st.ResponseTimeMS = rec.ResponseTimeMS
			st.Fallback = rec.Fallback
			st.At = rec.CreatedAt
		}
	}
	out := make([]MemberStats, 0, len(byMember))
	for _, st := range byMember {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberSlug < out[j].MemberSlug })
	return out
}

// Metrics is the gateway metrics view.
type Metrics struct {
	Providers []ProviderStats `json:"providers"`
	Members   []MemberStats   `json:"members"`
	Records   int             `json:"records"`
}

// Metrics aggregates only what falls inside the retention window ending at
// now, whether or not the log has been pruned yet.
func (l *Log) Metrics(now time.Time) Metrics {
	records, failures := l.window(now)
	return Metrics{
		Providers: Providers(records, failures),
		Members:   Members(records),
		Records:   len(records),
	}
}
