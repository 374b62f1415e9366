package acp

import (
	"net/http"
	"strings"
)

// hopByHop lists headers that must never be forwarded between hops
// (original spec §4.5, "Header hygiene for inbound forwarding").
var hopByHop = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"content-length":      {},
	"content-encoding":    {},
	"host":                {},
}

// blocked lists headers a client must never be able to set directly,
// regardless of the "x-" allow-list, because the proxy overlays its own
// value for them (original spec §4.5).
var blocked = map[string]struct{}{
	"authorization":   {},
	"cookie":          {},
	"x-agent-api-key": {},
}

// FilterHeaders applies the allow-list from original spec §4.5: only
// headers whose lowercase name starts with "x-" survive, and only if they
// are in neither the hop-by-hop nor the blocked set. The result is
// idempotent: FilterHeaders(FilterHeaders(h)) == FilterHeaders(h), since
// filtering only removes entries and the surviving set is already closed
// under the predicate.
func FilterHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for name, values := range in {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, "x-") {
			continue
		}
		if _, ok := hopByHop[lower]; ok {
			continue
		}
		if _, ok := blocked[lower]; ok {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

// OverlayAuth overlays the agent's auth headers onto filtered, so client
// input can never displace them (original spec §4.5, "Auth headers for
// the downstream agent are then overlaid last").
func OverlayAuth(filtered http.Header, apiKey, requestIDHeader, requestID string) http.Header {
	if filtered == nil {
		filtered = make(http.Header)
	}
	if apiKey != "" {
		filtered.Set("x-agent-api-key", apiKey)
	}
	if requestID != "" && requestIDHeader != "" {
		filtered.Set(requestIDHeader, requestID)
	}
	return filtered
}

// ApplyTo copies h onto an outbound *http.Request's header set.
func ApplyTo(req *http.Request, h http.Header) {
	for name, values := range h {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
}
