package status

import (
	"strings"
	"testing"
	"time"
)

func TestComposeIsDeterministic(t *testing.T) {
	agg := aggAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), Totals{
		StatusApproved:    900,
		StatusDisapproved: 40,
		StatusLimited:     3,
	})
	delta := Delta{Disapproved: 12}
	dec := Evaluate(agg.Totals, delta, defaultThresholds(25, 10))
	issues := TopIssues([]Issue{
		{Code: "missing_gtin", Description: "Missing GTIN", Count: 20},
		{Code: "image_too_small", Description: "Image too small", Count: 9},
	}, TopIssueLimit)

	subj1, body1 := Compose(agg, delta, dec, issues)
	subj2, body2 := Compose(agg, delta, dec, issues)
	if subj1 != subj2 || body1 != body2 {
		t.Fatal("compose output must be identical for identical inputs")
	}
}

func TestComposeBodyContents(t *testing.T) {
	agg := aggAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), Totals{
		StatusApproved:    900,
		StatusPending:     12,
		StatusDisapproved: 40,
		StatusLimited:     3,
		StatusSuspended:   1,
	})
	delta := Delta{Disapproved: 12}
	dec := Evaluate(agg.Totals, delta, defaultThresholds(25, 10))
	issues := []Issue{{Code: "missing_gtin", Description: "Missing GTIN", Count: 20}}

	subject, body := Compose(agg, delta, dec, issues)

	if !strings.Contains(subject, "PL/SHOPPING_ADS") {
		t.Fatalf("subject missing identity: %q", subject)
	}

	// Operators depend on the email alone, so all of these are contractual.
	for _, want := range []string{
		"Country:           PL",
		"Reporting context: SHOPPING_ADS",
		"2025-06-01T12:00:00Z",
		"approved:",
		"disapproved:",
		"+12",
		"missing_gtin",
		"Missing GTIN",
		"Problem products total: 44",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

func TestComposeNegativeDeltaFormatting(t *testing.T) {
	agg := aggAt(time.Now().UTC(), Totals{StatusDisapproved: 60})
	dec := Evaluate(agg.Totals, Delta{Disapproved: -5}, defaultThresholds(25, 0))

	_, body := Compose(agg, Delta{Disapproved: -5}, dec, nil)
	if !strings.Contains(body, "-5") {
		t.Fatalf("body missing signed negative delta:\n%s", body)
	}
}
