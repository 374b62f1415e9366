package acp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/acpctl/domain"
)

func echoServer(t *testing.T, result map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env Envelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		resultBytes, _ := json.Marshal(result)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      env.ID,
			"result":  json.RawMessage(resultBytes),
		})
	}))
}

func TestClientCall_ReturnsDecodedResult(t *testing.T) {
	srv := echoServer(t, map[string]any{"ok": true})
	defer srv.Close()

	c := New(Options{})
	agent := &domain.Agent{ID: "agent-1", ACPURL: srv.URL}
	result, err := c.Call(context.Background(), agent, "task/create", "", map[string]any{"a": 1}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, true, result["ok"])
}

// The rate limiter, when configured, makes a second call wait for the next
// token instead of returning a timeout or connection error (original spec
// §5, "a well-behaved proxy does not hammer a struggling agent").
func TestClientCall_RateLimiterDelaysSecondCall(t *testing.T) {
	srv := echoServer(t, map[string]any{"ok": true})
	defer srv.Close()

	c := New(Options{RateLimit: 5, RateBurst: 1})
	agent := &domain.Agent{ID: "agent-1", ACPURL: srv.URL}

	_, err := c.Call(context.Background(), agent, "task/create", "", nil, "", nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Call(context.Background(), agent, "task/create", "", nil, "", nil)
	require.NoError(t, err)
	assert.Greater(t, time.Since(start), 100*time.Millisecond)
}

func TestClientCall_RateLimiterContextCanceledWhileWaiting(t *testing.T) {
	srv := echoServer(t, map[string]any{"ok": true})
	defer srv.Close()

	c := New(Options{RateLimit: 1, RateBurst: 1})
	agent := &domain.Agent{ID: "agent-1", ACPURL: srv.URL}

	_, err := c.Call(context.Background(), agent, "task/create", "", nil, "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Call(ctx, agent, "task/create", "", nil, "", nil)
	require.Error(t, err)
}
