package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/agentflow/acpctl/domain"
)

// statusFor maps a domain.Kind to the HTTP status original spec §7
// assigns it.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindDuplicate:
		return http.StatusConflict
	case domain.KindAuthError:
		return http.StatusUnauthorized
	case domain.KindClientError:
		return http.StatusBadRequest
	case domain.KindServiceError:
		return http.StatusInternalServerError
	case domain.KindMethodNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// jsonRPCCode maps a domain.Kind to the JSON-RPC 2.0 error code original
// spec §7 assigns it.
func jsonRPCCode(kind domain.Kind) int {
	switch kind {
	case domain.KindMethodNotFound:
		return -32601
	case domain.KindClientError, domain.KindNotFound, domain.KindDuplicate, domain.KindAuthError:
		return -32602
	default:
		return -32603
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as a structured JSON body with the status its
// domain.Kind maps to (original spec §7, "User-visible failure behavior").
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(domain.KindOf(err)), errorBody{Error: err.Error()})
}
