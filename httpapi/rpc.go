package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentflow/acpctl/dispatch"
	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/storage"
)

// rpcRequest is the inbound JSON-RPC envelope (original spec §6: "body:
// `{id, method, params}`").
type rpcRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// rpcResponse is the outbound envelope, rendered once for a non-streaming
// call or once per frame for a streaming one (original spec §6).
type rpcResponse struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  *rpcResponseError `json:"error,omitempty"`
}

type rpcResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleRPCByID(w http.ResponseWriter, r *http.Request) {
	s.handleRPC(w, r, storage.Selector{ID: chi.URLParam(r, "agentID")})
}

func (s *Server) handleRPCByName(w http.ResponseWriter, r *http.Request) {
	s.handleRPC(w, r, storage.Selector{Name: chi.URLParam(r, "agentName")})
}

// handleRPC implements the POST /agents/.../rpc surface (original spec §6):
// decode the envelope, dispatch it, and render either a single JSON
// response or an ndjson stream depending on whether the result carries a
// live Updates channel.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request, sel storage.Selector) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ClientError("malformed request body: %v", err))
		return
	}

	result, err := s.Dispatcher.HandleRPCRequest(r.Context(), req.Method, req.Params, sel, subjectFromRequest(r), requestIDFromContext(r.Context()), r.Header)
	if err != nil {
		writeRPCError(w, req.ID, err)
		return
	}

	if result.Updates != nil {
		s.streamRPCResult(w, r, req.ID, result)
		return
	}

	writeJSON(w, http.StatusOK, rpcResponse{ID: req.ID, Result: rpcResultPayload(result)})
}

// rpcResultPayload picks the one populated field of an RPCResult and names
// it the way the original §4.6 handlers describe their return value.
func rpcResultPayload(result *dispatch.RPCResult) any {
	switch {
	case result.Task != nil:
		return map[string]any{"task": result.Task}
	case result.Event != nil:
		return map[string]any{"event": result.Event}
	default:
		return map[string]any{"messages": result.Messages}
	}
}

// streamRPCResult renders a streaming message/send as ndjson: one envelope
// per update, flushed as it arrives (original spec §6: "a stream of such
// envelopes separated by `\n`... `Cache-Control: no-cache`,
// `Connection: keep-alive`").
func (s *Server) streamRPCResult(w http.ResponseWriter, r *http.Request, id string, result *dispatch.RPCResult) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for item := range result.Updates {
		if item.Err != nil {
			_ = enc.Encode(rpcResponse{ID: id, Error: toRPCError(item.Err)})
			if flusher != nil {
				flusher.Flush()
			}
			return
		}
		_ = enc.Encode(rpcResponse{ID: id, Result: item.Update})
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func writeRPCError(w http.ResponseWriter, id string, err error) {
	writeJSON(w, statusFor(domain.KindOf(err)), rpcResponse{ID: id, Error: toRPCError(err)})
}

func toRPCError(err error) *rpcResponseError {
	return &rpcResponseError{Code: jsonRPCCode(domain.KindOf(err)), Message: err.Error()}
}
