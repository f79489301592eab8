package app

import (
	"context"
	"encoding/json"
	"os"
)

// Check runs a single check cycle and prints the result as JSON. It is the
// one-shot counterpart of the run loop, useful for cron-style deployments and
// manual verification.
func (a *App) Check(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; delta will be zero and nothing is persisted")
	}
	if closeStore != nil {
		defer closeStore()
	}

	statusFetcher, err := a.newFetcher(ctx)
	if err != nil {
		return err
	}

	runner := a.newRunner(store, statusFetcher, a.newNotifier())

	result, err := runner.RunCheck(ctx, a.Config.Alerting.Country, a.Config.Alerting.ReportingContext)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
