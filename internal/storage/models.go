package storage

import (
	"time"

	"merchant-status-alerts/internal/status"
)

// CheckRecord is one persisted check cycle: the captured snapshot plus the
// decision outcome. Appended once per cycle and never mutated; the next
// cycle's delta is computed against the latest record strictly older than
// its own capture time.
type CheckRecord struct {
	ID               int64          `json:"id"`
	CheckedAt        time.Time      `json:"checked_at"`
	Country          string         `json:"country"`
	ReportingContext string         `json:"reporting_context"`
	Totals           status.Totals  `json:"totals"`
	DeltaDisapproved int            `json:"delta_disapproved"`
	AlertSent        bool           `json:"alert_sent"`
	TopIssues        []status.Issue `json:"top_issues"`
	CreatedAt        time.Time      `json:"created_at"`
}

// EmailAlertRecord captures a successfully dispatched alert email for
// auditing. Written only after the transport accepted the message.
type EmailAlertRecord struct {
	ID      int64     `json:"id"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}
