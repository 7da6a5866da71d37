package gerpgo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// tokenSafetyMargin keeps a token from being used when it would expire
// mid-flight.
const tokenSafetyMargin = 60 * time.Second

// defaultTokenTTL applies when the exchange response omits expiresIn.
const defaultTokenTTL = 50 * time.Minute

// TokenManager owns the Gerpgo access token and its expiry. Refreshes are
// serialized under the mutex with an expiry double-check, so N concurrent
// callers hitting an expired token trigger exactly one exchange and share
// its result.
type TokenManager struct {
	httpClient *http.Client
	baseURL    string
	appID      string
	appKey     string
	logger     *log.Logger
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenManager wires a token manager for the credential pair. The
// http.Client is shared with the data client so timeouts stay uniform.
func NewTokenManager(httpClient *http.Client, baseURL, appID, appKey string, logger *log.Logger) *TokenManager {
	if logger == nil {
		logger = log.Default()
	}
	return &TokenManager{
		httpClient: httpClient,
		baseURL:    baseURL,
		appID:      appID,
		appKey:     appKey,
		logger:     logger,
		now:        time.Now,
	}
}

// Token returns the cached access token if still valid, refreshing it
// otherwise. Callers that were blocked behind an in-flight refresh observe
// the refreshed token via the double-check instead of refreshing again.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.validLocked() {
		return m.token, nil
	}
	return m.refreshLocked(ctx)
}

// Invalidate drops the cached token so the next caller refreshes from
// scratch. Used after the provider rejects a token with 401.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.expiresAt = time.Time{}
}

func (m *TokenManager) validLocked() bool {
	return m.token != "" && m.now().Before(m.expiresAt.Add(-tokenSafetyMargin))
}

type tokenEnvelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int64  `json:"expiresIn"`
	} `json:"data"`
}

func (m *TokenManager) refreshLocked(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"appId": m.appID, "appKey": m.appKey})
	if err != nil {
		return "", m.refreshFailed(fmt.Errorf("encode credentials: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api_token", bytes.NewReader(body))
	if err != nil {
		return "", m.refreshFailed(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", m.refreshFailed(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", m.refreshFailed(fmt.Errorf("token endpoint returned HTTP %d: %s", resp.StatusCode, raw))
	}

	var envelope tokenEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", m.refreshFailed(fmt.Errorf("decode token response: %w", err))
	}
	if envelope.Code != http.StatusOK || envelope.Data.AccessToken == "" {
		return "", m.refreshFailed(fmt.Errorf("token exchange rejected: code=%d msg=%q", envelope.Code, envelope.Msg))
	}

	ttl := defaultTokenTTL
	if envelope.Data.ExpiresIn > 0 {
		ttl = time.Duration(envelope.Data.ExpiresIn) * time.Second
	}
	m.token = envelope.Data.AccessToken
	m.expiresAt = m.now().Add(ttl)
	m.logger.Printf("gerpgo: access token refreshed, valid until %s", m.expiresAt.Format(time.RFC3339))
	return m.token, nil
}

// refreshFailed clears the cached token so the next call starts from
// scratch rather than reusing a known-bad token.
func (m *TokenManager) refreshFailed(err error) error {
	m.token = ""
	m.expiresAt = time.Time{}
	m.logger.Printf("gerpgo: token refresh failed: %v", err)
	return &APIError{Kind: KindAuth, Endpoint: "api_token", Message: "token refresh failed", Err: err}
}
