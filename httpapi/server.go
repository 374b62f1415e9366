// Package httpapi implements the HTTP surface (original spec §6): the
// JSON-RPC entry points, the ACP forwarding proxy, task and state CRUD, the
// SSE status stream, and a health endpoint. Grounded on
// other_examples/68c35183_erauner12-toolbridge-api's chi.Router/middleware
// layering and digitallysavvy-go-ai/examples/chi-server/main.go's
// go-chi/cors usage, neither of which the teacher itself uses for an
// inbound surface (the teacher is agent-side); this package is new to the
// control plane's role as the inbound half goa-ai never needed.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agentflow/acpctl/acp"
	"github.com/agentflow/acpctl/dispatch"
	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/storage"
	"github.com/agentflow/acpctl/storage/dualstore"
	"github.com/agentflow/acpctl/streaming"
	"github.com/agentflow/acpctl/telemetry"
	"goa.design/clue/health"
)

// Server holds the dependencies every handler needs (original spec §6).
type Server struct {
	Dispatcher *dispatch.Dispatcher

	Agents   storage.Store[*domain.Agent]
	Tasks    *dualstore.Store[*domain.Task] // concrete, so /states can call WithPhase
	Events   storage.Store[*domain.Event]
	Messages storage.Store[*domain.TaskMessage]

	Topic *streaming.Topic

	// Pingers backs /healthz (original §6 supplement); empty means the
	// endpoint reports a bare "ok" without probing any backend.
	Pingers []health.Pinger

	WebhookKeys     acp.WebhookKeys
	APIKeys         acp.APIKeys // resolves the downstream agent's auth header for /agents/forward (original spec §4.5)
	RequestIDHeader string      // defaults to "x-request-id" (original spec §6)

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// Options configures Router.
type Options struct {
	RequestIDHeader string
	CORSOrigins     []string // defaults to "*"
}

// Router builds the chi.Router serving the full surface of original §6.
func (s *Server) Router(opts Options) http.Handler {
	header := opts.RequestIDHeader
	if header == "" {
		header = "x-request-id"
	}
	s.RequestIDHeader = header

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(correlationID(header))
	r.Use(requestLogger(s.Logger))
	r.Use(recoverer(s.Logger))
	r.Use(chimw.Timeout(90 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/healthz", s.handleHealth)

	r.Post("/agents/{agentID}/rpc", s.handleRPCByID)
	r.Post("/agents/name/{agentName}/rpc", s.handleRPCByName)

	r.Handle("/agents/forward/name/{agentName}/*", http.HandlerFunc(s.handleForward))

	r.Get("/tasks", s.handleListTasks)
	r.Get("/tasks/{id}", s.handleGetTask)
	r.Get("/tasks/name/{name}", s.handleGetTaskByName)
	r.Delete("/tasks/{id}", s.handleDeleteTask)
	r.Delete("/tasks/name/{name}", s.handleDeleteTaskByName)
	r.Put("/tasks/{id}", s.handleUpdateTask)

	r.Route("/states", func(r chi.Router) {
		r.Get("/", s.handleStatesList)
		r.Post("/", s.handleStatesCreate)
		r.Get("/{id}", s.handleStatesGet)
		r.Put("/{id}", s.handleStatesUpdate)
		r.Delete("/{id}", s.handleStatesDelete)
	})

	r.Get("/streams/tasks/{id}", s.handleTaskStream)

	return r
}
