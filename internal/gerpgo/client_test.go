package gerpgo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEndpoint = Endpoint{Name: "sp_keywords", Path: "/operation/ads/spKeywordsPage/query"}

// scriptedServer serves /api_token plus one data endpoint whose responses
// follow the given status script; a status of 200 emits a one-record page.
type scriptedServer struct {
	*httptest.Server
	dataCalls  atomic.Int64
	tokenCalls atomic.Int64
}

func newScriptedServer(t *testing.T, script []int) *scriptedServer {
	t.Helper()
	s := &scriptedServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api_token" {
			n := s.tokenCalls.Add(1)
			fmt.Fprintf(w, `{"code":200,"data":{"accessToken":"tok-%d","expiresIn":3600}}`, n)
			return
		}
		require.Equal(t, testEndpoint.Path, r.URL.Path)
		require.NotEmpty(t, r.Header.Get("accessToken"), "data calls must carry the access token")

		call := int(s.dataCalls.Add(1))
		status := script[len(script)-1]
		if call <= len(script) {
			status = script[call-1]
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		fmt.Fprintf(w, `{"code":200,"data":[{"keyword":"page-%d"}],"extObj":null}`, call)
	}))
	t.Cleanup(s.Close)
	return s
}

// newTestClient wires a client against the server with retry waits captured
// instead of slept.
func newTestClient(server *scriptedServer, maxRetries int, waits *[]time.Duration) *Client {
	return NewClient(Config{
		BaseURL:       server.URL,
		AppID:         "app",
		AppKey:        "key",
		MaxRetries:    maxRetries,
		RetryInterval: 5 * time.Second,
	}, withSleep(func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}))
}

func TestExecuteSuccess(t *testing.T) {
	server := newScriptedServer(t, []int{http.StatusOK})
	var waits []time.Duration
	client := newTestClient(server, 3, &waits)

	page, err := client.Execute(context.Background(), testEndpoint, map[string]any{"count": 100})
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.False(t, page.HasMore)
	assert.Empty(t, waits)
}

func TestExecuteRateLimitedThenSuccess(t *testing.T) {
	server := newScriptedServer(t, []int{429, 509, http.StatusOK})
	var waits []time.Duration
	client := newTestClient(server, 3, &waits)

	_, err := client.Execute(context.Background(), testEndpoint, map[string]any{"count": 100})
	require.NoError(t, err)
	assert.Equal(t, int64(3), server.dataCalls.Load())

	// The provider allows at most 1 request/second, so every rate-limit
	// wait honours the floor.
	require.Len(t, waits, 2)
	for _, wait := range waits {
		assert.GreaterOrEqual(t, wait, time.Second)
	}
}

func TestExecuteRetryExhausted(t *testing.T) {
	server := newScriptedServer(t, []int{503})
	var waits []time.Duration
	client := newTestClient(server, 3, &waits)

	_, err := client.Execute(context.Background(), testEndpoint, map[string]any{"count": 100})
	require.Error(t, err)
	assert.True(t, IsRetryExhausted(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 4, apiErr.Attempts, "1 initial + 3 retries, never more")
	assert.Equal(t, int64(4), server.dataCalls.Load())

	// Exponential backoff: base, 2x, 4x.
	require.Len(t, waits, 3)
	assert.Equal(t, 5*time.Second, waits[0])
	assert.Equal(t, 10*time.Second, waits[1])
	assert.Equal(t, 20*time.Second, waits[2])
}

func TestExecuteUnauthorizedRefreshesOnce(t *testing.T) {
	server := newScriptedServer(t, []int{401, http.StatusOK})
	var waits []time.Duration
	client := newTestClient(server, 3, &waits)

	_, err := client.Execute(context.Background(), testEndpoint, map[string]any{"count": 100})
	require.NoError(t, err)
	assert.Equal(t, int64(2), server.dataCalls.Load())
	assert.Equal(t, int64(2), server.tokenCalls.Load(), "401 must force a fresh token exchange")
	assert.Empty(t, waits, "the auth replay is immediate, not backed off")
}

func TestExecuteSecondUnauthorizedIsFatal(t *testing.T) {
	server := newScriptedServer(t, []int{401, 401})
	var waits []time.Duration
	client := newTestClient(server, 3, &waits)

	_, err := client.Execute(context.Background(), testEndpoint, map[string]any{"count": 100})
	require.Error(t, err)
	assert.True(t, IsAuthFailure(err))
	assert.Equal(t, int64(2), server.dataCalls.Load())
}

func TestExecuteUnexpectedStatusIsFatal(t *testing.T) {
	server := newScriptedServer(t, []int{http.StatusBadRequest})
	var waits []time.Duration
	client := newTestClient(server, 3, &waits)

	_, err := client.Execute(context.Background(), testEndpoint, map[string]any{"count": 100})
	require.Error(t, err)
	assert.Equal(t, KindFatal, KindOf(err))
	assert.Equal(t, int64(1), server.dataCalls.Load(), "fatal responses are never retried")
	assert.Empty(t, waits)
}

func TestDecodePageShapes(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		records int
		hasMore bool
	}{
		{"cursor and records", `{"code":200,"data":[{"a":1},{"a":2}],"extObj":"abc"}`, 2, true},
		{"cursor without records", `{"code":200,"data":[],"extObj":"abc"}`, 0, false},
		{"no cursor", `{"code":200,"data":[{"a":1}]}`, 1, false},
		{"null data", `{"code":200,"data":null,"extObj":null}`, 0, false},
		{"single object data", `{"code":200,"data":{"total":5},"extObj":null}`, 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := decodePage(testEndpoint, strings.NewReader(tc.body))
			require.NoError(t, err)
			assert.Len(t, page.Records, tc.records)
			assert.Equal(t, tc.hasMore, page.HasMore)
		})
	}
}
