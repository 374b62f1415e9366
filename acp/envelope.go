// Package acp implements C5 (original spec §4.5): an outbound JSON-RPC 2.0
// client over HTTP for calling agent ACP endpoints, in both a synchronous
// single-response mode and a streamed newline-delimited JSON mode, plus the
// header hygiene, webhook signature validation, and advisory locking that
// sit around the forwarding path.
package acp

import "encoding/json"

// Envelope is the outbound JSON-RPC 2.0 request, matching
// runtime/a2a/httpclient/client.go's rpcRequest shape generalized from a
// fixed "tasks/send" method to an arbitrary ACP method name.
type Envelope struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// responseEnvelope is the inbound JSON-RPC 2.0 response. A streaming call
// receives a sequence of these, one per ndjson line.
type responseEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// rpcError is the JSON-RPC error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewEnvelopeID builds the correlation id the caller attaches to an outbound
// envelope: "<method>-<task_id>" (original spec §4.5, "Envelope").
func NewEnvelopeID(method, taskID string) string {
	return method + "-" + taskID
}

// NewEnvelope builds a request Envelope for method with the given params,
// id constructed via NewEnvelopeID.
func NewEnvelope(method, taskID string, params any) Envelope {
	return Envelope{
		JSONRPC: "2.0",
		ID:      NewEnvelopeID(method, taskID),
		Method:  method,
		Params:  params,
	}
}
