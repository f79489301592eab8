package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"merchant-status-alerts/internal/service"
	"merchant-status-alerts/internal/status"
	"merchant-status-alerts/internal/storage"
)

type fakeService struct {
	runResult    service.CheckResult
	runErr       error
	summary      service.Summary
	summaryErr   error
	history      []storage.CheckRecord
	historyErr   error
	historyLimit int
}

func (f *fakeService) RunCheck(ctx context.Context, country, reportingContext string) (service.CheckResult, error) {
	return f.runResult, f.runErr
}

func (f *fakeService) StatusSummary(ctx context.Context, country, reportingContext string) (service.Summary, error) {
	return f.summary, f.summaryErr
}

func (f *fakeService) AlertHistory(ctx context.Context, country, reportingContext string, limit int) ([]storage.CheckRecord, error) {
	f.historyLimit = limit
	return f.history, f.historyErr
}

func newTestServer(svc *fakeService) *httptest.Server {
	return httptest.NewServer(New(svc, "PL", "SHOPPING_ADS", zerolog.Nop()).Handler())
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(&fakeService{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestRunCheckEndpoint(t *testing.T) {
	svc := &fakeService{runResult: service.CheckResult{
		CheckedAt:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Country:          "PL",
		ReportingContext: "SHOPPING_ADS",
		Totals:           status.Totals{status.StatusDisapproved: 42},
		Delta:            service.DeltaResult{Disapproved: 12},
		AlertSent:        true,
	}}
	srv := newTestServer(svc)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/tasks/run", "application/json", nil)
	if err != nil {
		t.Fatalf("run request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result service.CheckResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.AlertSent || result.Delta.Disapproved != 12 {
		t.Fatalf("result not relayed: %+v", result)
	}
}

func TestRunCheckConflictWhileInFlight(t *testing.T) {
	srv := newTestServer(&fakeService{runErr: service.ErrCheckInFlight})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/tasks/run", "application/json", nil)
	if err != nil {
		t.Fatalf("run request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for an in-flight check, got %d", resp.StatusCode)
	}
}

func TestRunCheckUpstreamFailure(t *testing.T) {
	srv := newTestServer(&fakeService{runErr: &service.UpstreamError{Err: errors.New("quota")}})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/tasks/run", "application/json", nil)
	if err != nil {
		t.Fatalf("run request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 for an upstream failure, got %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	checkedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := &fakeService{summary: service.Summary{
		Status:    "alert",
		LastCheck: &checkedAt,
		Totals:    status.Totals{status.StatusDisapproved: 42},
		AlertSent: true,
		Trend24h:  &service.Trend{Trend: "increasing", Change: 15, Period: "24h"},
		Checks24h: 4,
	}}
	srv := newTestServer(svc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	defer resp.Body.Close()

	var summary service.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Status != "alert" || summary.Trend24h == nil || summary.Trend24h.Change != 15 {
		t.Fatalf("summary not relayed: %+v", summary)
	}
}

func TestAlertHistoryLimit(t *testing.T) {
	cases := []struct {
		query string
		want  int
	}{
		{"", defaultHistoryLimit},
		{"?limit=5", 5},
		{"?limit=500", maxHistoryLimit},
		{"?limit=bogus", defaultHistoryLimit},
		{"?limit=-1", defaultHistoryLimit},
	}

	for _, tc := range cases {
		svc := &fakeService{}
		srv := newTestServer(svc)

		resp, err := http.Get(srv.URL + "/alerts/history" + tc.query)
		if err != nil {
			t.Fatalf("history request failed: %v", err)
		}
		resp.Body.Close()
		srv.Close()

		if svc.historyLimit != tc.want {
			t.Fatalf("query %q: expected limit %d, got %d", tc.query, tc.want, svc.historyLimit)
		}
	}
}

func TestAlertHistoryEmptyIsArray(t *testing.T) {
	srv := newTestServer(&fakeService{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/alerts/history")
	if err != nil {
		t.Fatalf("history request failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Alerts []storage.CheckRecord `json:"alerts"`
		Count  int                   `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Alerts == nil || body.Count != 0 {
		t.Fatalf("empty history must serialise as an empty array: %+v", body)
	}
}
