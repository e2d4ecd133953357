package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// tokenSafetyMargin refreshes the token slightly before its advertised
// expiry so a request never departs with a token that dies in flight.
const tokenSafetyMargin = 60 * time.Second

// TokenSourceConfig holds configuration for the token source.
type TokenSourceConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string

	// HTTPClient is optional; defaults to a 30s-timeout client.
	HTTPClient *http.Client

	// Clock is optional; tests inject a fake.
	Clock clockwork.Clock

	Logger zerolog.Logger
}

// TokenSource obtains and caches an OAuth2 client-credentials bearer token.
//
// The cached token/expiry pair is guarded by a mutex held across the
// refresh, so concurrent workers never trigger redundant token fetches.
type TokenSource struct {
	cfg        TokenSourceConfig
	httpClient *http.Client
	clock      clockwork.Clock
	logger     zerolog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenSource creates a token source.
func NewTokenSource(cfg TokenSourceConfig) *TokenSource {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenSource{
		cfg:        cfg,
		httpClient: httpClient,
		clock:      clock,
		logger:     cfg.Logger,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a valid bearer token, refreshing it when within the safety
// margin of expiry.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.clock.Now()
	if ts.token != "" && now.Before(ts.expiresAt) {
		return ts.token, nil
	}

	if ts.cfg.ClientID == "" || ts.cfg.ClientSecret == "" {
		return "", ErrMissingCredentials
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {ts.cfg.ClientID},
		"client_secret": {ts.cfg.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		ts.logger.Error().
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("token endpoint rejected request")
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty access token")
	}

	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	ts.token = tr.AccessToken
	ts.expiresAt = now.Add(time.Duration(expiresIn)*time.Second - tokenSafetyMargin)

	ts.logger.Debug().
		Int("expires_in", expiresIn).
		Msg("catalog token refreshed")

	return ts.token, nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expiresAt = time.Time{}
	ts.mu.Unlock()
}
