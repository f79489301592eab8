package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"merchant-status-alerts/internal/status"
	"merchant-status-alerts/internal/storage"
)

// Export renders check history as CSV and/or a PNG chart of the problem
// status counts over time.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := store.ListChecksBetween(ctx, a.Config.Alerting.Country, a.Config.Alerting.ReportingContext, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no checks found for export window")
		return nil
	}

	downsampled := downsampleChecks(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting checks")

	if opts.CSVPath != "" {
		if err := writeChecksCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeChecksPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleChecks(records []storage.CheckRecord, max int) []storage.CheckRecord {
	if max <= 0 || len(records) <= max {
		return records
	}

	result := make([]storage.CheckRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeChecksCSV(path string, records []storage.CheckRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"checked_at", "country", "reporting_context", "approved", "pending", "disapproved", "limited", "suspended", "delta_disapproved", "alert_sent"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.CheckedAt.Format(time.RFC3339),
			rec.Country,
			rec.ReportingContext,
			strconv.Itoa(rec.Totals.Count(status.StatusApproved)),
			strconv.Itoa(rec.Totals.Count(status.StatusPending)),
			strconv.Itoa(rec.Totals.Count(status.StatusDisapproved)),
			strconv.Itoa(rec.Totals.Count(status.StatusLimited)),
			strconv.Itoa(rec.Totals.Count(status.StatusSuspended)),
			strconv.Itoa(rec.DeltaDisapproved),
			strconv.FormatBool(rec.AlertSent),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeChecksPNG(path string, records []storage.CheckRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	disapproved := make([]float64, len(records))
	limited := make([]float64, len(records))
	suspended := make([]float64, len(records))

	for i, rec := range records {
		x[i] = rec.CheckedAt
		disapproved[i] = float64(rec.Totals.Count(status.StatusDisapproved))
		limited[i] = float64(rec.Totals.Count(status.StatusLimited))
		suspended[i] = float64(rec.Totals.Count(status.StatusSuspended))
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Products",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Disapproved",
				XValues: x,
				YValues: disapproved,
			},
			chart.TimeSeries{
				Name:    "Limited",
				XValues: x,
				YValues: limited,
			},
			chart.TimeSeries{
				Name:    "Suspended",
				XValues: x,
				YValues: suspended,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
