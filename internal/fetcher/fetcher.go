package fetcher

import (
	"context"

	"merchant-status-alerts/internal/status"
)

// StatusFetcher retrieves the current aggregate product statuses for one
// (country, reporting context) slice.
type StatusFetcher interface {
	FetchStatuses(ctx context.Context, country, reportingContext string) (status.Aggregate, error)
}
