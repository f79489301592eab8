package status

import (
	"sort"
	"time"
)

// Canonical product status names reported by the merchant API.
const (
	StatusApproved    = "approved"
	StatusPending     = "pending"
	StatusDisapproved = "disapproved"
	StatusLimited     = "limited"
	StatusSuspended   = "suspended"
	StatusUnderReview = "under_review"
	StatusProcessing  = "processing"
)

// canonicalOrder fixes the listing order for known statuses; statuses the
// upstream adds later sort lexicographically after these.
var canonicalOrder = []string{
	StatusApproved,
	StatusPending,
	StatusDisapproved,
	StatusLimited,
	StatusSuspended,
	StatusUnderReview,
	StatusProcessing,
}

// Totals maps a status name to a non-negative product count.
type Totals map[string]int

// Count returns the count for a status, zero when absent.
func (t Totals) Count(name string) int {
	return t[name]
}

// Sum adds up every count in the mapping.
func (t Totals) Sum() int {
	total := 0
	for _, c := range t {
		total += c
	}
	return total
}

// Statuses returns the status names in deterministic listing order:
// canonical statuses first, then any others sorted by name.
func (t Totals) Statuses() []string {
	seen := make(map[string]bool, len(canonicalOrder))
	names := make([]string, 0, len(t))
	for _, name := range canonicalOrder {
		seen[name] = true
		if _, ok := t[name]; ok {
			names = append(names, name)
		}
	}
	extra := make([]string, 0)
	for name := range t {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// Issue is one issue code reported by the upstream, with a human-readable
// description and the number of affected products.
type Issue struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// Aggregate is one point-in-time read of product status counts and issue
// breakdown for a (country, reporting context) pair. Immutable after capture.
type Aggregate struct {
	CheckedAt        time.Time
	Country          string
	ReportingContext string
	Totals           Totals
	Issues           []Issue
}

// Previous is the slice of an earlier check relevant to delta computation.
type Previous struct {
	CheckedAt time.Time
	Totals    Totals
}

// Delta is the signed change in watched status counts between two
// consecutive snapshots for the same key.
type Delta struct {
	Disapproved int
}

// ComputeDelta derives the change between the current aggregate and the most
// recent prior snapshot. A nil previous means no trend signal exists yet and
// yields a zero delta; it does not mean the catalog was previously clean.
// A previous captured at or after the current read is ignored the same way,
// so out-of-order history writes can never feed the comparison.
func ComputeDelta(current Aggregate, previous *Previous) Delta {
	if previous == nil || !previous.CheckedAt.Before(current.CheckedAt) {
		return Delta{}
	}
	return Delta{
		Disapproved: current.Totals.Count(StatusDisapproved) - previous.Totals.Count(StatusDisapproved),
	}
}

// Reason tags which threshold condition triggered an alert decision.
type Reason string

const (
	ReasonNone              Reason = "none"
	ReasonAbsoluteThreshold Reason = "absolute_threshold"
	ReasonDeltaThreshold    Reason = "delta_threshold"
	ReasonBoth              Reason = "both"
)

// Thresholds carries the evaluator configuration for one cycle.
type Thresholds struct {
	// Absolute is the ceiling on the summed problem-status count. Strictly
	// exceeding it fires; equalling it does not.
	Absolute int
	// Delta is the minimum increase in disapproved products between
	// consecutive checks. A value of zero disables the delta path entirely
	// rather than firing on any change.
	Delta int
	// ProblemStatuses enumerates the statuses summed into the absolute
	// comparison. Explicit so new upstream statuses stay excluded until
	// configured in.
	ProblemStatuses []string
}

// DefaultProblemStatuses is the stock problem set fed into the absolute
// threshold comparison.
func DefaultProblemStatuses() []string {
	return []string{StatusDisapproved, StatusLimited, StatusSuspended}
}

// Decision is the outcome of threshold evaluation for one cycle. Computed
// once, consumed immediately, then embedded in the persisted check record.
type Decision struct {
	Triggered bool
	Reason    Reason
	AbsTotal  int
}

// Evaluate applies the configured thresholds to the current totals and delta.
func Evaluate(totals Totals, delta Delta, th Thresholds) Decision {
	absTotal := 0
	for _, name := range th.ProblemStatuses {
		absTotal += totals.Count(name)
	}

	absHit := absTotal > th.Absolute
	deltaHit := th.Delta > 0 && delta.Disapproved >= th.Delta

	reason := ReasonNone
	switch {
	case absHit && deltaHit:
		reason = ReasonBoth
	case absHit:
		reason = ReasonAbsoluteThreshold
	case deltaHit:
		reason = ReasonDeltaThreshold
	}

	return Decision{
		Triggered: absHit || deltaHit,
		Reason:    reason,
		AbsTotal:  absTotal,
	}
}

// TopIssues ranks issues by count descending, ties broken by code ascending,
// and truncates to limit. The input slice is left untouched.
func TopIssues(issues []Issue, limit int) []Issue {
	ranked := make([]Issue, len(issues))
	copy(ranked, issues)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Code < ranked[j].Code
	})

	if limit >= 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
