package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"merchant-status-alerts/internal/alerting"
	"merchant-status-alerts/internal/config"
	"merchant-status-alerts/internal/fetcher"
	"merchant-status-alerts/internal/status"
	"merchant-status-alerts/internal/storage"
)

// DeltaResult mirrors the public delta shape of a check result.
type DeltaResult struct {
	Disapproved int `json:"disapproved"`
}

// CheckResult is the outcome of one completed check cycle, relayed verbatim
// by the web layer. AlertError is set when the decision triggered but the
// email transport failed; the cycle itself still succeeded.
type CheckResult struct {
	CheckedAt        time.Time      `json:"checked_at"`
	Country          string         `json:"country"`
	ReportingContext string         `json:"reporting_context"`
	Totals           status.Totals  `json:"totals"`
	Delta            DeltaResult    `json:"delta"`
	AlertSent        bool           `json:"alert_sent"`
	TopIssues        []status.Issue `json:"top_issues"`
	AlertError       string         `json:"alert_error,omitempty"`
}

// Trend summarises the disapproved-count movement over a window.
type Trend struct {
	Trend  string `json:"trend"`
	Change int    `json:"change"`
	Period string `json:"period"`
}

// Summary is the read-only health view served by the status endpoint.
type Summary struct {
	Status           string        `json:"status"`
	LastCheck        *time.Time    `json:"last_check"`
	Country          string        `json:"country,omitempty"`
	ReportingContext string        `json:"reporting_context,omitempty"`
	Totals           status.Totals `json:"totals,omitempty"`
	Delta            DeltaResult   `json:"delta"`
	AlertSent        bool          `json:"alert_sent"`
	Trend24h         *Trend        `json:"trend_24h,omitempty"`
	Checks24h        int           `json:"checks_24h"`
}

// Runner orchestrates one check cycle: fetch, delta, evaluate, alert,
// persist. Everything between the two store calls is pure computation.
type Runner struct {
	fetcher  fetcher.StatusFetcher
	checks   storage.CheckStore
	emails   storage.EmailAlertStore
	notifier alerting.Notifier
	logger   zerolog.Logger

	thresholds status.Thresholds
	mailTo     string
	alertsOn   bool
	locker     storage.AdvisoryLocker
}

// New constructs the check runner.
func New(cfg *config.Config, statusFetcher fetcher.StatusFetcher, checks storage.CheckStore, emails storage.EmailAlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Runner {
	var locker storage.AdvisoryLocker
	if l, ok := checks.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Runner{
		fetcher:    statusFetcher,
		checks:     checks,
		emails:     emails,
		notifier:   notifier,
		logger:     logger.With().Str("component", "check_runner").Logger(),
		thresholds: cfg.Thresholds(),
		mailTo:     cfg.Alerting.Email.To,
		alertsOn:   cfg.Alerting.Enabled,
		locker:     locker,
	}
}

// RunCheck executes one full check cycle for the given key. At most one
// cycle per key runs at a time; a concurrent trigger gets ErrCheckInFlight.
// Fetch and history-read failures abort the cycle with nothing persisted. A
// dispatch failure does not abort: the record is still appended with
// alert_sent=false so future deltas stay correct, and the failure is carried
// in the result. Cancellation is honored until persistence begins.
func (r *Runner) RunCheck(ctx context.Context, country, reportingContext string) (CheckResult, error) {
	unlock, proceed, err := r.acquireLock(ctx, country, reportingContext)
	if err != nil {
		return CheckResult{}, err
	}
	if !proceed {
		return CheckResult{}, ErrCheckInFlight
	}
	if unlock != nil {
		defer unlock()
	}

	agg, err := r.fetcher.FetchStatuses(ctx, country, reportingContext)
	if err != nil {
		return CheckResult{}, &UpstreamError{Err: err}
	}

	var previous *status.Previous
	if r.checks != nil {
		prev, err := r.checks.LatestCheckBefore(ctx, country, reportingContext, agg.CheckedAt)
		if err != nil {
			return CheckResult{}, &StoreReadError{Err: err}
		}
		if prev != nil {
			previous = &status.Previous{CheckedAt: prev.CheckedAt, Totals: prev.Totals}
		}
	}

	delta := status.ComputeDelta(agg, previous)
	decision := status.Evaluate(agg.Totals, delta, r.thresholds)
	topIssues := status.TopIssues(agg.Issues, status.TopIssueLimit)

	alertSent := false
	var dispatchErr error
	if decision.Triggered && r.alertsOn {
		r.logger.Warn().
			Str("reason", string(decision.Reason)).
			Int("abs_total", decision.AbsTotal).
			Int("delta_disapproved", delta.Disapproved).
			Msg("alert thresholds exceeded")
		alertSent, dispatchErr = r.dispatchAlert(ctx, agg, delta, decision, topIssues)
	}

	if err := ctx.Err(); err != nil {
		return CheckResult{}, err
	}

	record := storage.CheckRecord{
		CheckedAt:        agg.CheckedAt,
		Country:          country,
		ReportingContext: reportingContext,
		Totals:           agg.Totals,
		DeltaDisapproved: delta.Disapproved,
		AlertSent:        alertSent,
		TopIssues:        topIssues,
	}
	if r.checks != nil {
		// The snapshot must land even if the caller goes away mid-append;
		// losing it would corrupt every subsequent delta.
		if _, err := r.checks.AppendCheck(context.WithoutCancel(ctx), record); err != nil {
			return CheckResult{}, &StoreWriteError{Err: err}
		}
	}

	result := CheckResult{
		CheckedAt:        agg.CheckedAt,
		Country:          country,
		ReportingContext: reportingContext,
		Totals:           agg.Totals,
		Delta:            DeltaResult{Disapproved: delta.Disapproved},
		AlertSent:        alertSent,
		TopIssues:        topIssues,
	}
	if dispatchErr != nil {
		result.AlertError = dispatchErr.Error()
	}

	r.logger.Info().
		Time("checked_at", agg.CheckedAt).
		Int("delta_disapproved", delta.Disapproved).
		Bool("alert_sent", alertSent).
		Msg("check cycle completed")

	return result, nil
}

func (r *Runner) dispatchAlert(ctx context.Context, agg status.Aggregate, delta status.Delta, decision status.Decision, topIssues []status.Issue) (bool, error) {
	if r.notifier == nil {
		r.logger.Warn().Msg("alerting enabled but no transport configured; skipping dispatch")
		return false, nil
	}

	subject, body := status.Compose(agg, delta, decision, topIssues)
	msg := alerting.Message{To: r.mailTo, Subject: subject, Body: body}

	if err := r.notifier.Notify(ctx, msg); err != nil {
		dispatchErr := &DispatchError{Err: err}
		r.logger.Error().Err(err).Msg("failed to dispatch alert email")
		return false, dispatchErr
	}

	if r.emails != nil {
		record := storage.EmailAlertRecord{
			To:      msg.To,
			Subject: msg.Subject,
			Body:    msg.Body,
			SentAt:  time.Now().UTC(),
		}
		if _, err := r.emails.InsertEmailAlert(ctx, record); err != nil {
			// The alert went out; a missing audit row is not worth failing
			// the cycle over.
			r.logger.Error().Err(err).Msg("failed to persist email alert record")
		}
	}

	return true, nil
}

func (r *Runner) acquireLock(ctx context.Context, country, reportingContext string) (func(), bool, error) {
	if r.locker == nil {
		return nil, true, nil
	}
	key := storage.LockKey(country, reportingContext)
	unlock, acquired, err := r.locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// StatusSummary returns the latest check plus a 24h disapproved trend.
func (r *Runner) StatusSummary(ctx context.Context, country, reportingContext string) (Summary, error) {
	if r.checks == nil {
		return Summary{}, storage.ErrNotConfigured
	}

	recent, err := r.checks.ListRecentChecks(ctx, country, reportingContext, 1)
	if err != nil {
		return Summary{}, &StoreReadError{Err: err}
	}
	if len(recent) == 0 {
		return Summary{Status: "no_data"}, nil
	}
	latest := recent[0]

	now := time.Now().UTC()
	window, err := r.checks.ListChecksBetween(ctx, country, reportingContext, now.Add(-24*time.Hour), now)
	if err != nil {
		return Summary{}, &StoreReadError{Err: err}
	}

	state := "healthy"
	if latest.AlertSent {
		state = "alert"
	}

	checkedAt := latest.CheckedAt
	return Summary{
		Status:           state,
		LastCheck:        &checkedAt,
		Country:          latest.Country,
		ReportingContext: latest.ReportingContext,
		Totals:           latest.Totals,
		Delta:            DeltaResult{Disapproved: latest.DeltaDisapproved},
		AlertSent:        latest.AlertSent,
		Trend24h:         trendOf(window),
		Checks24h:        len(window),
	}, nil
}

// trendOf compares disapproved counts at the edges of the window.
func trendOf(window []storage.CheckRecord) *Trend {
	if len(window) < 2 {
		return &Trend{Trend: "insufficient_data", Period: "24h"}
	}

	first := window[0].Totals.Count(status.StatusDisapproved)
	last := window[len(window)-1].Totals.Count(status.StatusDisapproved)
	change := last - first

	direction := "stable"
	switch {
	case change > 0:
		direction = "increasing"
	case change < 0:
		direction = "decreasing"
	}
	return &Trend{Trend: direction, Change: change, Period: "24h"}
}

// AlertHistory lists recent checks that sent an alert.
func (r *Runner) AlertHistory(ctx context.Context, country, reportingContext string, limit int) ([]storage.CheckRecord, error) {
	if r.checks == nil {
		return nil, storage.ErrNotConfigured
	}
	records, err := r.checks.ListAlertedChecks(ctx, country, reportingContext, limit)
	if err != nil {
		return nil, &StoreReadError{Err: err}
	}
	return records, nil
}

// EmailHistory lists recently dispatched alert emails.
func (r *Runner) EmailHistory(ctx context.Context, limit int) ([]storage.EmailAlertRecord, error) {
	if r.emails == nil {
		return nil, storage.ErrNotConfigured
	}
	records, err := r.emails.ListRecentEmailAlerts(ctx, limit)
	if err != nil {
		return nil, &StoreReadError{Err: err}
	}
	return records, nil
}
