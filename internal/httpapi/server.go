package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"merchant-status-alerts/internal/service"
	"merchant-status-alerts/internal/storage"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
)

// CheckService is the slice of the runner the web layer needs.
type CheckService interface {
	RunCheck(ctx context.Context, country, reportingContext string) (service.CheckResult, error)
	StatusSummary(ctx context.Context, country, reportingContext string) (service.Summary, error)
	AlertHistory(ctx context.Context, country, reportingContext string, limit int) ([]storage.CheckRecord, error)
}

// Server exposes the check runner over HTTP. It serves exactly one monitored
// (country, reporting context) key, the configured one.
type Server struct {
	svc              CheckService
	country          string
	reportingContext string
	logger           zerolog.Logger
}

// New constructs the HTTP server.
func New(svc CheckService, country, reportingContext string, logger zerolog.Logger) *Server {
	return &Server{
		svc:              svc,
		country:          country,
		reportingContext: reportingContext,
		logger:           logger.With().Str("component", "httpapi").Logger(),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/health", s.handleHealth)
	r.Post("/tasks/run", s.handleRunCheck)
	r.Get("/status", s.handleStatus)
	r.Get("/alerts/history", s.handleAlertHistory)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "merchantwatcher",
	})
}

// handleRunCheck triggers one check cycle synchronously and relays its result.
func (s *Server) handleRunCheck(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.RunCheck(r.Context(), s.country, s.reportingContext)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	var upstream *service.UpstreamError

	switch {
	case errors.Is(err, service.ErrCheckInFlight):
		writeError(w, http.StatusConflict, "a check for this key is already running")
	case errors.As(err, &upstream):
		s.logger.Error().Err(err).Msg("check failed against upstream")
		writeError(w, http.StatusBadGateway, "product status source unavailable")
	default:
		s.logger.Error().Err(err).Msg("check cycle failed")
		writeError(w, http.StatusInternalServerError, "check cycle failed")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.StatusSummary(r.Context(), s.country, s.reportingContext)
	if err != nil {
		s.logger.Error().Err(err).Msg("status summary failed")
		writeError(w, http.StatusInternalServerError, "status summary unavailable")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"))

	records, err := s.svc.AlertHistory(r.Context(), s.country, s.reportingContext, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("alert history lookup failed")
		writeError(w, http.StatusInternalServerError, "alert history unavailable")
		return
	}
	if records == nil {
		records = []storage.CheckRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": records,
		"count":  len(records),
	})
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultHistoryLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
