package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Message is one composed alert email ready for dispatch.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier defines the alert transport.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// EmailNotifier sends alert emails through the SendGrid v3 API.
type EmailNotifier struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewEmailNotifier constructs a SendGrid email notifier.
func NewEmailNotifier(apiKey, from, baseURL string, timeout time.Duration, logger zerolog.Logger) *EmailNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com"
	}

	return &EmailNotifier{
		apiKey:  apiKey,
		from:    from,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "alert_email").Logger(),
	}
}

// Notify posts the message to the mail/send endpoint.
func (n *EmailNotifier) Notify(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("alert recipient not configured")
	}

	payload := sendRequest{
		Personalizations: []personalization{{To: []address{{Email: msg.To}}}},
		From:             address{Email: n.from},
		Subject:          msg.Subject,
		Content:          []content{{Type: "text/plain", Value: msg.Body}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal mail payload: %w", err)
	}

	url := n.baseURL + "/v3/mail/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create mail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if len(detail) > 0 {
			return fmt.Errorf("mail api status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		}
		return fmt.Errorf("mail api status %d", resp.StatusCode)
	}

	n.logger.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg("alert email dispatched")
	return nil
}

type sendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
}

type personalization struct {
	To []address `json:"to"`
}

type address struct {
	Email string `json:"email"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

var _ Notifier = (*EmailNotifier)(nil)
