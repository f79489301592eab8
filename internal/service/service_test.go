package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"merchant-status-alerts/internal/alerting"
	"merchant-status-alerts/internal/config"
	"merchant-status-alerts/internal/status"
	"merchant-status-alerts/internal/storage"
)

const (
	testCountry = "PL"
	testContext = "SHOPPING_ADS"
)

type fakeFetcher struct {
	fetch func() (status.Aggregate, error)
}

func (f *fakeFetcher) FetchStatuses(ctx context.Context, country, reportingContext string) (status.Aggregate, error) {
	return f.fetch()
}

// memStore is an in-memory CheckStore + EmailAlertStore for runner tests.
type memStore struct {
	records  []storage.CheckRecord
	emails   []storage.EmailAlertRecord
	readErr  error
	writeErr error
}

func (m *memStore) AppendCheck(ctx context.Context, record storage.CheckRecord) (storage.CheckRecord, error) {
	if m.writeErr != nil {
		return storage.CheckRecord{}, m.writeErr
	}
	record.ID = int64(len(m.records) + 1)
	record.CreatedAt = time.Now().UTC()
	m.records = append(m.records, record)
	return record, nil
}

func (m *memStore) LatestCheckBefore(ctx context.Context, country, reportingContext string, ts time.Time) (*storage.CheckRecord, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	var latest *storage.CheckRecord
	for i := range m.records {
		rec := m.records[i]
		if rec.Country != country || rec.ReportingContext != reportingContext {
			continue
		}
		if !rec.CheckedAt.Before(ts) {
			continue
		}
		if latest == nil || rec.CheckedAt.After(latest.CheckedAt) {
			latest = &rec
		}
	}
	return latest, nil
}

func (m *memStore) ListRecentChecks(ctx context.Context, country, reportingContext string, limit int) ([]storage.CheckRecord, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := make([]storage.CheckRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *memStore) ListChecksBetween(ctx context.Context, country, reportingContext string, from, to time.Time) ([]storage.CheckRecord, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := make([]storage.CheckRecord, 0)
	for _, rec := range m.records {
		if !rec.CheckedAt.Before(from) && rec.CheckedAt.Before(to) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) ListAlertedChecks(ctx context.Context, country, reportingContext string, limit int) ([]storage.CheckRecord, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := make([]storage.CheckRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if m.records[i].AlertSent {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *memStore) CountChecks(ctx context.Context) (int64, error) {
	return int64(len(m.records)), nil
}

func (m *memStore) InsertEmailAlert(ctx context.Context, record storage.EmailAlertRecord) (storage.EmailAlertRecord, error) {
	record.ID = int64(len(m.emails) + 1)
	m.emails = append(m.emails, record)
	return record, nil
}

func (m *memStore) ListRecentEmailAlerts(ctx context.Context, limit int) ([]storage.EmailAlertRecord, error) {
	return m.emails, nil
}

// lockedStore simulates another cycle holding the per-key advisory lock.
type lockedStore struct {
	*memStore
}

func (l *lockedStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	return nil, false, nil
}

type fakeNotifier struct {
	sent []alerting.Message
	err  error
}

func (f *fakeNotifier) Notify(ctx context.Context, msg alerting.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func testConfig(abs, delta int) *config.Config {
	return &config.Config{
		Alerting: config.AlertingConfig{
			Enabled:          true,
			ThresholdAbs:     abs,
			ThresholdDelta:   delta,
			Country:          testCountry,
			ReportingContext: testContext,
			ProblemStatuses:  status.DefaultProblemStatuses(),
			Email:            config.EmailConfig{To: "ops@example.com"},
		},
	}
}

func staticAggregate(checkedAt time.Time, totals status.Totals, issues ...status.Issue) *fakeFetcher {
	return &fakeFetcher{fetch: func() (status.Aggregate, error) {
		return status.Aggregate{
			CheckedAt:        checkedAt,
			Country:          testCountry,
			ReportingContext: testContext,
			Totals:           totals,
			Issues:           issues,
		}, nil
	}}
}

func TestRunCheckFirstCycleAbsoluteThreshold(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{}
	notifier := &fakeNotifier{}
	f := staticAggregate(now, status.Totals{status.StatusDisapproved: 50},
		status.Issue{Code: "missing_gtin", Description: "Missing GTIN", Count: 30})

	runner := New(testConfig(25, 10), f, store, store, notifier, zerolog.Nop())

	result, err := runner.RunCheck(context.Background(), testCountry, testContext)
	if err != nil {
		t.Fatalf("RunCheck failed: %v", err)
	}

	if !result.AlertSent {
		t.Fatal("abs_total 50 > 25 must send an alert")
	}
	if result.Delta.Disapproved != 0 {
		t.Fatalf("first cycle delta must be 0, got %d", result.Delta.Disapproved)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected one dispatched email, got %d", len(notifier.sent))
	}
	if notifier.sent[0].To != "ops@example.com" {
		t.Fatalf("wrong recipient: %q", notifier.sent[0].To)
	}
	if len(store.records) != 1 || !store.records[0].AlertSent {
		t.Fatalf("check record not persisted correctly: %+v", store.records)
	}
	if len(store.emails) != 1 {
		t.Fatalf("email alert record not persisted: %+v", store.emails)
	}
	if len(result.TopIssues) != 1 || result.TopIssues[0].Code != "missing_gtin" {
		t.Fatalf("top issues not relayed: %+v", result.TopIssues)
	}
}

func TestRunCheckDeltaAgainstPreviousRecord(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{records: []storage.CheckRecord{{
		CheckedAt:        now.Add(-30 * time.Minute),
		Country:          testCountry,
		ReportingContext: testContext,
		Totals:           status.Totals{status.StatusDisapproved: 20},
	}}}
	notifier := &fakeNotifier{}
	f := staticAggregate(now, status.Totals{status.StatusDisapproved: 30})

	// Abs threshold far above, delta threshold 10: only the delta path fires.
	runner := New(testConfig(100, 10), f, store, store, notifier, zerolog.Nop())

	result, err := runner.RunCheck(context.Background(), testCountry, testContext)
	if err != nil {
		t.Fatalf("RunCheck failed: %v", err)
	}
	if result.Delta.Disapproved != 10 {
		t.Fatalf("expected delta 10, got %d", result.Delta.Disapproved)
	}
	if !result.AlertSent {
		t.Fatal("delta 10 >= threshold 10 must alert")
	}
	if got := store.records[len(store.records)-1].DeltaDisapproved; got != 10 {
		t.Fatalf("persisted delta %d, want 10", got)
	}
}

func TestRunCheckImprovementDoesNotAlert(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{records: []storage.CheckRecord{{
		CheckedAt:        now.Add(-30 * time.Minute),
		Country:          testCountry,
		ReportingContext: testContext,
		Totals:           status.Totals{status.StatusDisapproved: 30},
	}}}
	notifier := &fakeNotifier{}
	f := staticAggregate(now, status.Totals{status.StatusDisapproved: 10})

	runner := New(testConfig(100, 5), f, store, store, notifier, zerolog.Nop())

	result, err := runner.RunCheck(context.Background(), testCountry, testContext)
	if err != nil {
		t.Fatalf("RunCheck failed: %v", err)
	}
	if result.AlertSent || len(notifier.sent) != 0 {
		t.Fatal("a drop in disapproved products must not alert")
	}
	if result.Delta.Disapproved != -20 {
		t.Fatalf("expected delta -20, got %d", result.Delta.Disapproved)
	}
	// The improved snapshot is still recorded.
	if len(store.records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(store.records))
	}
}

func TestRunCheckDispatchFailureStillPersists(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{}
	notifier := &fakeNotifier{err: errors.New("smtp relay down")}
	f := staticAggregate(now, status.Totals{status.StatusDisapproved: 50})

	runner := New(testConfig(25, 10), f, store, store, notifier, zerolog.Nop())

	result, err := runner.RunCheck(context.Background(), testCountry, testContext)
	if err != nil {
		t.Fatalf("dispatch failure must not fail the cycle: %v", err)
	}
	if result.AlertSent {
		t.Fatal("alert_sent must be false after a dispatch failure")
	}
	if result.AlertError == "" {
		t.Fatal("dispatch failure must surface in the result")
	}
	if len(store.records) != 1 || store.records[0].AlertSent {
		t.Fatalf("record must still be appended with alert_sent=false: %+v", store.records)
	}
	if len(store.emails) != 0 {
		t.Fatal("no email record may exist for a failed send")
	}
}

func TestRunCheckUpstreamFailureAbortsBeforePersist(t *testing.T) {
	store := &memStore{}
	f := &fakeFetcher{fetch: func() (status.Aggregate, error) {
		return status.Aggregate{}, errors.New("quota exceeded")
	}}

	runner := New(testConfig(25, 10), f, store, store, &fakeNotifier{}, zerolog.Nop())

	_, err := runner.RunCheck(context.Background(), testCountry, testContext)
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if len(store.records) != 0 {
		t.Fatal("nothing may be persisted when the fetch fails")
	}
}

func TestRunCheckHistoryReadFailureAborts(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{readErr: errors.New("connection reset")}
	f := staticAggregate(now, status.Totals{status.StatusDisapproved: 50})

	runner := New(testConfig(25, 10), f, store, store, &fakeNotifier{}, zerolog.Nop())

	_, err := runner.RunCheck(context.Background(), testCountry, testContext)
	var readErr *StoreReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("expected StoreReadError, got %v", err)
	}
	if len(store.records) != 0 {
		t.Fatal("nothing may be persisted when the history read fails")
	}
}

func TestRunCheckPersistFailureIsFailedCycle(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{writeErr: errors.New("disk full")}
	f := staticAggregate(now, status.Totals{status.StatusDisapproved: 1})

	runner := New(testConfig(25, 0), f, store, store, &fakeNotifier{}, zerolog.Nop())

	_, err := runner.RunCheck(context.Background(), testCountry, testContext)
	var writeErr *StoreWriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected StoreWriteError, got %v", err)
	}
}

func TestRunCheckRejectedWhileInFlight(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &lockedStore{memStore: &memStore{}}
	f := staticAggregate(now, status.Totals{status.StatusDisapproved: 1})

	runner := New(testConfig(25, 0), f, store, store.memStore, &fakeNotifier{}, zerolog.Nop())

	_, err := runner.RunCheck(context.Background(), testCountry, testContext)
	if !errors.Is(err, ErrCheckInFlight) {
		t.Fatalf("expected ErrCheckInFlight, got %v", err)
	}
	if len(store.records) != 0 {
		t.Fatal("a rejected trigger must not touch the history")
	}
}

func TestRunCheckAppendsEveryCycle(t *testing.T) {
	// Snapshots are never deduplicated; two runs against unchanged upstream
	// data append two records with identical totals and delta.
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	f := &fakeFetcher{fetch: func() (status.Aggregate, error) {
		calls++
		return status.Aggregate{
			CheckedAt:        base.Add(time.Duration(calls) * time.Minute),
			Country:          testCountry,
			ReportingContext: testContext,
			Totals:           status.Totals{status.StatusDisapproved: 5},
		}, nil
	}}
	store := &memStore{}

	runner := New(testConfig(100, 10), f, store, store, &fakeNotifier{}, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if _, err := runner.RunCheck(context.Background(), testCountry, testContext); err != nil {
			t.Fatalf("run %d failed: %v", i+1, err)
		}
	}

	if len(store.records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(store.records))
	}
	if store.records[0].Totals.Count(status.StatusDisapproved) != store.records[1].Totals.Count(status.StatusDisapproved) {
		t.Fatal("totals must match across unchanged runs")
	}
	if store.records[1].DeltaDisapproved != 0 {
		t.Fatalf("unchanged counts must yield delta 0, got %d", store.records[1].DeltaDisapproved)
	}
}

func TestStatusSummaryTrend(t *testing.T) {
	now := time.Now().UTC()
	store := &memStore{records: []storage.CheckRecord{
		{
			CheckedAt:        now.Add(-2 * time.Hour),
			Country:          testCountry,
			ReportingContext: testContext,
			Totals:           status.Totals{status.StatusDisapproved: 10},
		},
		{
			CheckedAt:        now.Add(-1 * time.Hour),
			Country:          testCountry,
			ReportingContext: testContext,
			Totals:           status.Totals{status.StatusDisapproved: 25},
			DeltaDisapproved: 15,
			AlertSent:        true,
		},
	}}
	f := staticAggregate(now, status.Totals{})

	runner := New(testConfig(25, 10), f, store, store, &fakeNotifier{}, zerolog.Nop())

	summary, err := runner.StatusSummary(context.Background(), testCountry, testContext)
	if err != nil {
		t.Fatalf("StatusSummary failed: %v", err)
	}
	if summary.Status != "alert" {
		t.Fatalf("latest check alerted, expected status alert, got %q", summary.Status)
	}
	if summary.Trend24h == nil || summary.Trend24h.Trend != "increasing" || summary.Trend24h.Change != 15 {
		t.Fatalf("unexpected trend: %+v", summary.Trend24h)
	}
	if summary.Checks24h != 2 {
		t.Fatalf("expected 2 checks in window, got %d", summary.Checks24h)
	}
}

func TestStatusSummaryNoData(t *testing.T) {
	store := &memStore{}
	f := staticAggregate(time.Now().UTC(), status.Totals{})
	runner := New(testConfig(25, 10), f, store, store, &fakeNotifier{}, zerolog.Nop())

	summary, err := runner.StatusSummary(context.Background(), testCountry, testContext)
	if err != nil {
		t.Fatalf("StatusSummary failed: %v", err)
	}
	if summary.Status != "no_data" || summary.LastCheck != nil {
		t.Fatalf("expected no_data summary, got %+v", summary)
	}
}
