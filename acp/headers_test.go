package acp

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterHeaders_AllowsXPrefixed(t *testing.T) {
	in := http.Header{
		"X-Request-Id":  []string{"abc"},
		"X-Custom-Meta": []string{"v1"},
	}
	out := FilterHeaders(in)
	assert.Equal(t, []string{"abc"}, out["X-Request-Id"])
	assert.Equal(t, []string{"v1"}, out["X-Custom-Meta"])
}

func TestFilterHeaders_DropsNonXPrefixed(t *testing.T) {
	in := http.Header{
		"User-Agent": []string{"curl/8"},
		"Accept":     []string{"*/*"},
	}
	out := FilterHeaders(in)
	assert.Empty(t, out)
}

func TestFilterHeaders_DropsBlockedAndHopByHop(t *testing.T) {
	in := http.Header{
		"X-Agent-Api-Key": []string{"should-never-survive"},
		"Authorization":   []string{"Bearer xyz"},
		"Cookie":          []string{"session=1"},
		"Connection":      []string{"keep-alive"},
		"Host":            []string{"example.com"},
		"Content-Length":  []string{"42"},
	}
	out := FilterHeaders(in)
	assert.Empty(t, out)
}

func TestFilterHeaders_CaseInsensitiveBlockedMatch(t *testing.T) {
	in := http.Header{"X-AGENT-API-KEY": []string{"leaked"}}
	out := FilterHeaders(in)
	assert.Empty(t, out)
}

// Original spec §8: filter(filter(H)) == filter(H).
func TestFilterHeaders_Idempotent(t *testing.T) {
	in := http.Header{
		"X-Request-Id":    []string{"abc"},
		"X-Agent-Api-Key": []string{"leaked"},
		"Authorization":   []string{"Bearer xyz"},
		"User-Agent":      []string{"curl/8"},
	}
	once := FilterHeaders(in)
	twice := FilterHeaders(once)
	assert.Equal(t, once, twice)
}

func TestOverlayAuth_OverridesClientSuppliedAPIKey(t *testing.T) {
	filtered := FilterHeaders(http.Header{"X-Request-Id": []string{"caller-id"}, "X-Agent-Api-Key": []string{"client-forged"}})
	out := OverlayAuth(filtered, "real-agent-key", "x-request-id", "caller-id")
	assert.Equal(t, "real-agent-key", out.Get("x-agent-api-key"))
	assert.Equal(t, "caller-id", out.Get("x-request-id"))
}

func TestOverlayAuth_PrefersCallerPropagatedRequestID(t *testing.T) {
	out := OverlayAuth(http.Header{}, "key", "x-request-id", "from-caller")
	assert.Equal(t, "from-caller", out.Get("x-request-id"))
}
