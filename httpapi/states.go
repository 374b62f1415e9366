package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/storage"
	"github.com/agentflow/acpctl/storage/dualstore"
)

// storageBackendPhases maps the `storage_backend` query override's four
// values to the dualstore.Phase they select (original spec §6: "supports
// `storage_backend` query override ∈ {primary, secondary, dual_write,
// dual_read}"). "dual_read" is original spec §6's name for the phase
// storage/dualstore.go calls DualReadVerify.
var storageBackendPhases = map[string]dualstore.Phase{
	"primary":    dualstore.PrimaryOnly,
	"secondary":  dualstore.SecondaryOnly,
	"dual_write": dualstore.DualWrite,
	"dual_read":  dualstore.DualReadVerify,
}

// tasksFor resolves the *dualstore.Store[*domain.Task] a /states request
// should use: s.Tasks itself, or a WithPhase override when the caller
// supplied a recognized `storage_backend` query value (original spec §4.4,
// "Phase may be overridden per-request").
func (s *Server) tasksFor(r *http.Request) (*dualstore.Store[*domain.Task], error) {
	raw := r.URL.Query().Get("storage_backend")
	if raw == "" {
		return s.Tasks, nil
	}
	phase, ok := storageBackendPhases[raw]
	if !ok {
		return nil, domain.ClientError("states: unrecognized storage_backend %q", raw)
	}
	return s.Tasks.WithPhase(phase), nil
}

// /states exposes the Task dual-repository directly as a generic state
// store (original spec §6: "`GET|POST|PUT|DELETE /states*` for the state
// store (mirrors repository semantics)"); Task is the closest thing the
// data model has to a freestanding state entity.

func (s *Server) handleStatesList(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasksFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := tasks.List(r.Context(), storage.ListOptions{Limit: parseIntDefault(r.URL.Query().Get("limit"), 50)})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": result})
}

func (s *Server) handleStatesCreate(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasksFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var task domain.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeError(w, domain.ClientError("malformed request body: %v", err))
		return
	}
	created, err := tasks.Create(r.Context(), &task)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleStatesGet(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasksFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := tasks.Get(r.Context(), storage.Selector{ID: chi.URLParam(r, "id")})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleStatesUpdate(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasksFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	existing, err := tasks.Get(r.Context(), storage.Selector{ID: chi.URLParam(r, "id")})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeError(w, domain.ClientError("malformed request body: %v", err))
		return
	}
	existing.ID = chi.URLParam(r, "id")
	updated, err := tasks.Update(r.Context(), existing)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleStatesDelete(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasksFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := tasks.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
