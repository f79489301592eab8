package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"merchant-status-alerts/internal/status"
	"merchant-status-alerts/internal/storage"
)

// Show prints recent check records, or recent alert emails with --emails.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Emails {
		return a.showEmails(ctx, store, opts.Limit)
	}

	records, err := store.ListRecentChecks(ctx, a.Config.Alerting.Country, a.Config.Alerting.ReportingContext, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no checks found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Checked (UTC)\tDisapproved\tLimited\tSuspended\tDelta\tAlert\tTop Issue")

	for _, rec := range records {
		topIssue := ""
		if len(rec.TopIssues) > 0 {
			topIssue = fmt.Sprintf("%s (%d)", rec.TopIssues[0].Code, rec.TopIssues[0].Count)
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%d\t%d\t%+d\t%t\t%s\n",
			rec.CheckedAt.UTC().Format(time.RFC3339),
			rec.Totals.Count(status.StatusDisapproved),
			rec.Totals.Count(status.StatusLimited),
			rec.Totals.Count(status.StatusSuspended),
			rec.DeltaDisapproved,
			rec.AlertSent,
			topIssue,
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showEmails(ctx context.Context, store *storage.Store, limit int) error {
	records, err := store.ListRecentEmailAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no alert emails found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Sent (UTC)\tTo\tSubject")

	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\n",
			rec.SentAt.UTC().Format(time.RFC3339),
			rec.To,
			sanitizeInline(rec.Subject),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
