package status

import (
	"fmt"
	"strings"
	"time"
)

// TopIssueLimit bounds how many issue codes an alert carries.
const TopIssueLimit = 5

// Compose renders the alert subject and body for a triggered decision.
// Rendering is deterministic for identical inputs: the only timestamp in the
// output is the explicit check timestamp, and issue ordering follows the
// TopIssues ranking. Operators rely on the email as the sole notification
// surface, so the body always carries the identity, the full totals
// breakdown, the delta, and the top issues.
func Compose(agg Aggregate, delta Delta, dec Decision, topIssues []Issue) (subject, body string) {
	subject = fmt.Sprintf("[Merchant Alert] %s/%s: %d products need attention",
		agg.Country, agg.ReportingContext, dec.AbsTotal)

	b := strings.Builder{}
	b.WriteString("Product status thresholds exceeded.\n\n")
	b.WriteString(fmt.Sprintf("Checked at:        %s\n", agg.CheckedAt.UTC().Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("Country:           %s\n", agg.Country))
	b.WriteString(fmt.Sprintf("Reporting context: %s\n", agg.ReportingContext))
	b.WriteString(fmt.Sprintf("Trigger:           %s\n\n", dec.Reason))

	b.WriteString("Status totals:\n")
	for _, name := range agg.Totals.Statuses() {
		b.WriteString(fmt.Sprintf("  %-14s %d\n", name+":", agg.Totals.Count(name)))
	}
	b.WriteString(fmt.Sprintf("  %-14s %d\n", "total:", agg.Totals.Sum()))
	b.WriteString(fmt.Sprintf("\nProblem products total: %d\n", dec.AbsTotal))
	b.WriteString(fmt.Sprintf("Disapproved delta:      %s\n", formatDelta(delta.Disapproved)))

	if len(topIssues) > 0 {
		b.WriteString("\nTop issues:\n")
		for _, issue := range topIssues {
			desc := issue.Description
			if desc == "" {
				desc = "(no description)"
			}
			b.WriteString(fmt.Sprintf("  %5d  %s - %s\n", issue.Count, issue.Code, desc))
		}
	}

	return subject, b.String()
}

func formatDelta(d int) string {
	if d > 0 {
		return fmt.Sprintf("+%d", d)
	}
	return fmt.Sprintf("%d", d)
}
