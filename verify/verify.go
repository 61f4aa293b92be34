// Package verify calls the external human-verification service used to
// gate room creation and joining. The check fails closed: empty tokens,
// network failures, and malformed responses all verify as false.
package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Verifier checks a client-supplied verification token.
type Verifier interface {
	Verify(ctx context.Context, token string) bool
}

// Client verifies tokens against a third-party HTTP endpoint using a
// shared secret, in the siteverify POST-form style.
type Client struct {
	endpoint    string
	secret      string
	bypassToken string
	httpClient  *http.Client
	logger      zerolog.Logger
}

// NewClient creates a verification client. bypassToken, when non-empty,
// short-circuits verification for local development; it must never be set
// in production.
func NewClient(endpoint, secret, bypassToken string, logger zerolog.Logger) *Client {
	return &Client{
		endpoint:    endpoint,
		secret:      secret,
		bypassToken: bypassToken,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		logger:      logger.With().Str("component", "verify").Logger(),
	}
}

// Verify checks one token. It never panics or returns an error to the
// caller; every failure mode resolves to false.
func (c *Client) Verify(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	if c.bypassToken != "" && token == c.bypassToken {
		return true
	}
	if c.endpoint == "" {
		c.logger.Warn().Msg("no verification endpoint configured, rejecting token")
		return false
	}

	form := url.Values{
		"secret":   {c.secret},
		"response": {token},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		c.logger.Error().Err(err).Msg("building verification request failed")
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Msg("verification request failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("verification endpoint returned non-200")
		return false
	}

	var result struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.logger.Warn().Err(err).Msg("verification response malformed")
		return false
	}
	return result.Success
}
