package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// contentScope is the OAuth scope covering the merchant content APIs.
const contentScope = "https://www.googleapis.com/auth/content"

// NewAuthClient builds an HTTP client that attaches service-account bearer
// tokens to every request. When no credentials file is configured it falls
// back to application default credentials (workload identity in production).
func NewAuthClient(ctx context.Context, credentialsFile string, timeout time.Duration) (*http.Client, error) {
	var source oauth2.TokenSource

	if credentialsFile != "" {
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		conf, err := google.JWTConfigFromJSON(data, contentScope)
		if err != nil {
			return nil, fmt.Errorf("parse service account credentials: %w", err)
		}
		source = conf.TokenSource(ctx)
	} else {
		creds, err := google.FindDefaultCredentials(ctx, contentScope)
		if err != nil {
			return nil, fmt.Errorf("resolve default credentials: %w", err)
		}
		source = creds.TokenSource
	}

	client := oauth2.NewClient(ctx, source)
	if timeout > 0 {
		client.Timeout = timeout
	}
	return client, nil
}
