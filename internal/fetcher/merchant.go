package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"merchant-status-alerts/internal/status"
)

const aggregateStatusesPathFmt = "/issueresolution/v1/accounts/%s/aggregateProductStatuses"

// MerchantOptions parameterise the merchant status fetcher.
type MerchantOptions struct {
	BaseURL    string
	AccountID  string
	PageSize   int
	Timeout    time.Duration
	UserAgent  string
	MaxRetries int
}

// Merchant fetches aggregate product statuses from the merchant API. The
// supplied HTTP client is expected to attach bearer credentials (an oauth2
// client); the fetcher itself is auth-agnostic.
type Merchant struct {
	opts    MerchantOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewMerchant constructs a merchant status fetcher.
func NewMerchant(opts MerchantOptions, client *http.Client, logger zerolog.Logger) *Merchant {
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://merchantapi.googleapis.com"
	}

	return &Merchant{
		opts:    opts,
		logger:  logger.With().Str("component", "merchant_fetcher").Logger(),
		client:  client,
		baseURL: baseURL,
	}
}

// FetchStatuses retrieves and parses the aggregate product statuses for the
// given slice.
func (m *Merchant) FetchStatuses(ctx context.Context, country, reportingContext string) (status.Aggregate, error) {
	if m.opts.AccountID == "" {
		return status.Aggregate{}, errors.New("merchant account id not configured")
	}
	if country == "" || reportingContext == "" {
		return status.Aggregate{}, errors.New("country and reporting context required")
	}

	payload, err := m.fetchWithRetry(ctx, country, reportingContext)
	if err != nil {
		return status.Aggregate{}, err
	}

	var res aggregateResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return status.Aggregate{}, fmt.Errorf("decode aggregate response: %w", err)
	}

	agg := parseAggregate(res, country, reportingContext)
	agg.CheckedAt = time.Now().UTC()

	m.logger.Debug().
		Str("country", country).
		Str("reporting_context", reportingContext).
		Int("items", len(res.Items)).
		Msg("fetched aggregate product statuses")

	return agg, nil
}

func (m *Merchant) fetchWithRetry(ctx context.Context, country, reportingContext string) ([]byte, error) {
	attempts := m.opts.MaxRetries
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 2 * time.Second
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		payload, retryable, err := m.fetchOnce(ctx, country, reportingContext)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		m.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("aggregate status fetch failed, retrying")
	}
	return nil, lastErr
}

func (m *Merchant) fetchOnce(ctx context.Context, country, reportingContext string) (payload []byte, retryable bool, err error) {
	endpoint := m.baseURL + fmt.Sprintf(aggregateStatusesPathFmt, m.opts.AccountID)

	filterParts := []string{
		fmt.Sprintf("reporting_context=%q", reportingContext),
		fmt.Sprintf("country=%q", country),
	}
	pageSize := m.opts.PageSize
	if pageSize <= 0 {
		pageSize = 250
	}

	query := url.Values{}
	query.Set("filter", strings.Join(filterParts, " AND "))
	query.Set("pageSize", fmt.Sprintf("%d", pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		// Network timeouts are worth another attempt.
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	if resp.StatusCode == http.StatusOK {
		return body, false, nil
	}

	apiErr := parseHTTPError(resp.StatusCode, body)
	// Rate limits and server errors are transient; other client errors are not.
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, apiErr
	}
	return nil, false, apiErr
}

func parseAggregate(res aggregateResponse, country, reportingContext string) status.Aggregate {
	totals := status.Totals{}
	issues := make([]status.Issue, 0)

	for _, item := range res.Items {
		name := strings.ToLower(strings.TrimSpace(item.Status))
		if name == "" {
			continue
		}
		totals[name] += item.Count

		if !problemStatusName(name) {
			continue
		}
		for _, detail := range item.IssueDetails {
			if detail.Code == "" || detail.Count <= 0 {
				continue
			}
			issues = append(issues, status.Issue{
				Code:        detail.Code,
				Description: detail.Description,
				Count:       detail.Count,
			})
		}
	}

	return status.Aggregate{
		Country:          country,
		ReportingContext: reportingContext,
		Totals:           totals,
		Issues:           issues,
	}
}

func problemStatusName(name string) bool {
	switch name {
	case status.StatusDisapproved, status.StatusLimited, status.StatusSuspended:
		return true
	}
	return false
}

type aggregateResponse struct {
	Items []aggregateItem `json:"items"`
}

type aggregateItem struct {
	Status       string        `json:"status"`
	Count        int           `json:"count"`
	IssueDetails []issueDetail `json:"issueDetails"`
}

type issueDetail struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func parseHTTPError(statusCode int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error.Message != "" {
			return fmt.Errorf("merchant api error (%d): %s", statusCode, apiErr.Error.Message)
		}
		if apiErr.Error.Status != "" {
			return fmt.Errorf("merchant api error (%d): %s", statusCode, apiErr.Error.Status)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("merchant api error (%d): %s", statusCode, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("merchant api error (%d)", statusCode)
}

var _ StatusFetcher = (*Merchant)(nil)
