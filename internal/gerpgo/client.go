package gerpgo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/datapilot-io/datapilot-ce/internal/metrics"
)

// Config carries the tunables for the Gerpgo client. Retry delays are
// configuration, not policy: the provider's per-endpoint limits vary, so
// operators adjust them instead of the code.
type Config struct {
	BaseURL       string
	AppID         string
	AppKey        string
	Timeout       time.Duration // per-request HTTP timeout
	MaxRetries    int           // retries after the initial attempt
	RetryInterval time.Duration // base delay for exponential backoff
	RateLimitWait time.Duration // floor delay after 429/509
	PageSize      int           // count per page, provider-capped at 100
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
	// Provider rate rule is at most 1 request/second.
	if c.RateLimitWait < time.Second {
		c.RateLimitWait = time.Second
	}
	if c.PageSize <= 0 || c.PageSize > maxPageSize {
		c.PageSize = maxPageSize
	}
}

// Page is one page of upstream records. NextID is the opaque continuation
// cursor (the provider's extObj field); HasMore mirrors the provider rule
// that a present cursor with a non-empty page means another page exists.
type Page struct {
	Records []json.RawMessage
	NextID  any
	HasMore bool
}

// Executor issues one logical API call. *Client is the production
// implementation; tests substitute stubs.
type Executor interface {
	Execute(ctx context.Context, endpoint Endpoint, params map[string]any) (*Page, error)
}

// Client is the resilient request executor for all Gerpgo data endpoints.
// One parameterized path replaces per-resource fetch methods: auth
// injection, retry classification, and backoff live here only.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     *TokenManager
	logger     *log.Logger

	// sleep is swappable so backoff tests run without wall-clock waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// ClientOption mutates client construction.
type ClientOption func(*Client)

// WithLogger injects a custom logger.
func WithLogger(l *log.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithTokenManager substitutes the token manager, mainly for tests.
func WithTokenManager(tm *TokenManager) ClientOption {
	return func(c *Client) { c.tokens = tm }
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = fn }
}

// NewClient builds a client from config. The base URL is normalized so
// endpoint paths concatenate cleanly.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	cfg.applyDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log.Default(),
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokens == nil {
		c.tokens = NewTokenManager(c.httpClient, cfg.BaseURL, cfg.AppID, cfg.AppKey, c.logger)
	}
	return c
}

// PageSize exposes the configured (provider-capped) page size.
func (c *Client) PageSize() int { return c.cfg.PageSize }

type dataEnvelope struct {
	Code   int             `json:"code"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
	ExtObj any             `json:"extObj"`
}

// Execute performs one logical call against a data endpoint, classifying
// the outcome:
//
//	200              success, body handed back as an opaque page
//	401              one forced token refresh and in-place replay; a second 401 is fatal
//	429/509          rate limited, fixed wait (>=1s), retried
//	>=500, timeout   transient, exponential backoff, retried
//	anything else    fatal, no retry
//
// A retryable condition that survives MaxRetries returns KindRetryExhausted
// so callers can distinguish "gave up" from "rejected".
func (c *Client) Execute(ctx context.Context, endpoint Endpoint, params map[string]any) (*Page, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, &APIError{Kind: KindValidation, Endpoint: endpoint.Name, Message: "encode request params", Err: err}
	}

	retries := 0
	authRetried := false
	for {
		page, retryErr, err := c.doOnce(ctx, endpoint, body, &authRetried)
		if err != nil {
			return nil, err
		}
		if retryErr == nil {
			return page, nil
		}

		if retries >= c.cfg.MaxRetries {
			return nil, &APIError{
				Kind:       KindRetryExhausted,
				Endpoint:   endpoint.Name,
				StatusCode: retryErr.StatusCode,
				Attempts:   retries + 1,
				Message:    fmt.Sprintf("retries exhausted after %d attempts", retries+1),
				Err:        retryErr,
			}
		}

		delay := c.cfg.RetryInterval << retries
		reason := "transient"
		if retryErr.Kind == KindRateLimited {
			delay = c.cfg.RateLimitWait
			reason = "rate_limited"
		}
		metrics.UpstreamRetriesTotal.WithLabelValues(endpoint.Name, reason).Inc()
		c.logger.Printf("gerpgo: %s attempt %d failed (%v), retrying in %s", endpoint.Name, retries+1, retryErr, delay)
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return nil, &APIError{Kind: KindTransient, Endpoint: endpoint.Name, Message: "retry wait aborted", Err: sleepErr}
		}
		retries++
	}
}

// doOnce sends one request (replaying internally at most once after a 401).
// retryErr is non-nil for conditions the caller may retry under its budget;
// err is terminal.
func (c *Client) doOnce(ctx context.Context, endpoint Endpoint, body []byte, authRetried *bool) (page *Page, retryErr *APIError, err error) {
	for {
		token, tokenErr := c.tokens.Token(ctx)
		if tokenErr != nil {
			return nil, nil, tokenErr
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint.Path, bytes.NewReader(body))
		if reqErr != nil {
			return nil, nil, &APIError{Kind: KindFatal, Endpoint: endpoint.Name, Message: "build request", Err: reqErr}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("accessToken", token)

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			if ctx.Err() != nil {
				return nil, nil, &APIError{Kind: KindFatal, Endpoint: endpoint.Name, Message: "request aborted", Err: ctx.Err()}
			}
			metrics.UpstreamRequestsTotal.WithLabelValues(endpoint.Name, "error").Inc()
			return nil, &APIError{Kind: KindTransient, Endpoint: endpoint.Name, Message: "request failed", Err: doErr}, nil
		}

		metrics.UpstreamRequestsTotal.WithLabelValues(endpoint.Name, strconv.Itoa(resp.StatusCode)).Inc()

		switch {
		case resp.StatusCode == http.StatusOK:
			page, err = decodePage(endpoint, resp.Body)
			resp.Body.Close()
			return page, nil, err

		case resp.StatusCode == http.StatusUnauthorized:
			resp.Body.Close()
			if !*authRetried {
				*authRetried = true
				c.tokens.Invalidate()
				c.logger.Printf("gerpgo: %s returned 401, refreshing token and retrying once", endpoint.Name)
				continue
			}
			return nil, nil, &APIError{Kind: KindAuth, Endpoint: endpoint.Name, StatusCode: resp.StatusCode, Message: "authentication rejected after token refresh"}

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 509:
			// 509 is the provider's bandwidth-limit variant of 429.
			resp.Body.Close()
			return nil, &APIError{Kind: KindRateLimited, Endpoint: endpoint.Name, StatusCode: resp.StatusCode, Message: "rate limited"}, nil

		case resp.StatusCode >= http.StatusInternalServerError:
			resp.Body.Close()
			return nil, &APIError{Kind: KindTransient, Endpoint: endpoint.Name, StatusCode: resp.StatusCode, Message: "server error"}, nil

		default:
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, nil, &APIError{Kind: KindFatal, Endpoint: endpoint.Name, StatusCode: resp.StatusCode, Message: fmt.Sprintf("unexpected response: %s", raw)}
		}
	}
}

func decodePage(endpoint Endpoint, body io.Reader) (*Page, error) {
	var envelope dataEnvelope
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		return nil, &APIError{Kind: KindFatal, Endpoint: endpoint.Name, Message: "malformed response body", Err: err}
	}

	page := &Page{NextID: envelope.ExtObj}
	if len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		if err := json.Unmarshal(envelope.Data, &page.Records); err != nil {
			// A few endpoints return a single object instead of a list.
			page.Records = []json.RawMessage{envelope.Data}
		}
	}
	page.HasMore = page.NextID != nil && len(page.Records) > 0
	return page, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
