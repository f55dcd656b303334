// Package risk scores Solana token mints from on-chain, market and denylist signals.
package risk

import (
	"maps"
	"slices"
	"time"
)

// Label buckets a score into a severity.
type Label string

const (
	LabelLow    Label = "LOW"
	LabelMedium Label = "MEDIUM"
	LabelHigh   Label = "HIGH"
)

// LabelFor maps a score onto its label.
func LabelFor(score int) Label {
	switch {
	case score >= 70:
		return LabelLow
	case score >= 40:
		return LabelMedium
	default:
		return LabelHigh
	}
}

// Result is one scoring pass for a subject. Cached results are shared, so
// callers receive clones.
type Result struct {
	SubjectID string         `json:"subjectId"`
	Score     int            `json:"score"`
	Label     Label          `json:"label"`
	Reasons   []string       `json:"reasons"`
	Codes     []ReasonCode   `json:"codes"`
	Critical  []ReasonCode   `json:"critical"`
	Factors   map[string]any `json:"factors"`
	FetchedAt time.Time      `json:"fetchedAt"`
}

// HasCritical reports whether any critical reason applied.
func (r Result) HasCritical() bool { return len(r.Critical) > 0 }

// Clone returns a deep copy of the slices and factor map.
func (r Result) Clone() Result {
	out := r
	out.Reasons = slices.Clone(r.Reasons)
	out.Codes = slices.Clone(r.Codes)
	out.Critical = slices.Clone(r.Critical)
	out.Factors = maps.Clone(r.Factors)
	return out
}
