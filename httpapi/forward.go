package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agentflow/acpctl/acp"
	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/storage"
)

// handleForward implements GET|POST /agents/forward/name/{agent_name}/* —
// a pass-through proxy onto the agent's own ACP URL, subject to the header
// hygiene and webhook validation rules of original spec §4.5 ("Header
// hygiene for inbound forwarding", "Webhook validation").
func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	agentName := chi.URLParam(r, "agentName")
	agent, err := s.Agents.Get(r.Context(), storage.Selector{Name: agentName})
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, domain.ClientError("forward: read body: %v", err))
		return
	}

	if s.WebhookKeys != nil {
		if err := acp.ValidateWebhook(r.Context(), r, body, agent.ID, s.WebhookKeys); err != nil {
			writeError(w, err)
			return
		}
	}

	suffix := strings.TrimPrefix(r.URL.Path, "/agents/forward/name/"+agentName)
	targetURL := strings.TrimSuffix(agent.ACPURL, "/") + suffix
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	proxyReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, bytes.NewReader(body))
	if err != nil {
		writeError(w, domain.ServiceError(err, "forward: build proxy request"))
		return
	}
	filtered := acp.FilterHeaders(r.Header)
	var apiKey string
	if s.APIKeys != nil {
		apiKey, err = s.APIKeys.AgentAPIKey(r.Context(), agent.ID)
		if err != nil {
			writeError(w, domain.ServiceError(err, "forward: resolve agent api key"))
			return
		}
	}
	acp.ApplyTo(proxyReq, acp.OverlayAuth(filtered, apiKey, s.RequestIDHeader, requestIDFromContext(r.Context())))
	if ct := r.Header.Get("Content-Type"); ct != "" {
		proxyReq.Header.Set("Content-Type", ct)
	}

	resp, err := http.DefaultClient.Do(proxyReq)
	if err != nil {
		writeError(w, domain.ServiceError(err, "forward: request to agent %s failed", agentName))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
