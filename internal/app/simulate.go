package app

import (
	"context"
	"errors"
	"time"

	"merchant-status-alerts/internal/fetcher"
	"merchant-status-alerts/internal/status"
)

// SimulateAlert runs the full decision path against fabricated totals,
// dispatching a real alert email if the thresholds trip. Nothing is persisted
// and no previous snapshot is consulted.
func (a *App) SimulateAlert(ctx context.Context, disapproved, limited, suspended int) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert transport configured")
	}

	statusFetcher := &staticStatusFetcher{totals: status.Totals{
		status.StatusDisapproved: disapproved,
		status.StatusLimited:     limited,
		status.StatusSuspended:   suspended,
	}}

	runner := a.newRunner(nil, statusFetcher, notifier)

	result, err := runner.RunCheck(ctx, a.Config.Alerting.Country, a.Config.Alerting.ReportingContext)
	if err != nil {
		return err
	}
	if result.AlertError != "" {
		return errors.New(result.AlertError)
	}
	if !result.AlertSent {
		a.Logger.Info().Msg("simulated totals did not trip any threshold; no alert sent")
	}
	return nil
}

type staticStatusFetcher struct {
	totals status.Totals
}

func (s *staticStatusFetcher) FetchStatuses(ctx context.Context, country, reportingContext string) (status.Aggregate, error) {
	return status.Aggregate{
		CheckedAt:        time.Now().UTC(),
		Country:          country,
		ReportingContext: reportingContext,
		Totals:           s.totals,
	}, nil
}

var _ fetcher.StatusFetcher = (*staticStatusFetcher)(nil)
