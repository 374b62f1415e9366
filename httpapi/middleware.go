package httpapi

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/agentflow/acpctl/telemetry"
)

type ctxKey int

const (
	requestIDCtxKey ctxKey = iota
	subjectCtxKey
)

// correlationID reads header from the inbound request, minting a uuid when
// absent, and propagates it on both the request context and the response
// (original spec §6, "x-request-id correlation propagation end-to-end").
// Grounded on other_examples/68c35183_erauner12-toolbridge-api's
// CorrelationMiddleware, generalized to a configurable header name.
func correlationID(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(header)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(header, id)
			ctx := context.WithValue(r.Context(), requestIDCtxKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}

// subjectHeader is the header an upstream authentication gateway is expected
// to set once it has established caller identity (explicitly out of scope
// per original spec §1: "authentication gateway adapters"). Absent the
// header, requests run as the anonymous subject, which authz.Checker only
// authorizes if granted explicitly.
const subjectHeader = "x-subject"

func subjectFromRequest(r *http.Request) string {
	return r.Header.Get(subjectHeader)
}

// requestLogger logs method, path, status and duration for every request,
// the way chimw.Logger does, routed through telemetry.Logger instead of
// chi's stdlib logger so output matches the rest of the service.
func requestLogger(logger telemetry.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestIDFromContext(r.Context()),
			)
		})
	}
}

// recoverer converts a panic in a downstream handler into a 500 instead of
// killing the connection, logging the panic value the way
// chimw.Recoverer logs to its writer.
func recoverer(logger telemetry.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error(r.Context(), "http handler panic",
						"panic", rec, "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()))
					writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
