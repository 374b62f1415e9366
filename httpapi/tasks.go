package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/storage"
)

// handleListTasks implements GET /tasks?agent_id=&agent_name=&limit=&
// page_number=&order_by=&order_direction= (original spec §6). agent_id and
// agent_name may be combined; when both resolve to different agents the
// list is empty rather than an error, since that's simply a filter with no
// matches.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agentID := q.Get("agent_id")
	if name := q.Get("agent_name"); name != "" {
		agent, err := s.Agents.Get(r.Context(), storage.Selector{Name: name})
		if err != nil {
			if domain.IsNotFound(err) {
				writeJSON(w, http.StatusOK, map[string]any{"tasks": []*domain.Task{}})
				return
			}
			writeError(w, err)
			return
		}
		if agentID != "" && agentID != agent.ID {
			writeJSON(w, http.StatusOK, map[string]any{"tasks": []*domain.Task{}})
			return
		}
		agentID = agent.ID
	}

	opts := storage.ListOptions{
		Limit:          parseIntDefault(q.Get("limit"), 50),
		PageNumber:     parseIntDefault(q.Get("page_number"), 1),
		OrderBy:        q.Get("order_by"),
		OrderDirection: storage.OrderDirection(q.Get("order_direction")),
	}
	if agentID != "" {
		opts.Filters = map[string]any{"agent_id": agentID}
	}

	tasks, err := s.Tasks.List(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	s.writeTask(w, r, storage.Selector{ID: chi.URLParam(r, "id")})
}

func (s *Server) handleGetTaskByName(w http.ResponseWriter, r *http.Request) {
	s.writeTask(w, r, storage.Selector{Name: chi.URLParam(r, "name")})
}

func (s *Server) writeTask(w http.ResponseWriter, r *http.Request, sel storage.Selector) {
	task, err := s.Tasks.Get(r.Context(), sel)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	s.deleteTask(w, r, storage.Selector{ID: chi.URLParam(r, "id")})
}

func (s *Server) handleDeleteTaskByName(w http.ResponseWriter, r *http.Request) {
	s.deleteTask(w, r, storage.Selector{Name: chi.URLParam(r, "name")})
}

// deleteTask enforces the referential-integrity invariant (original spec
// §3: "Never deleted while message/event rows reference it") explicitly,
// since the document backend has no foreign-key constraint to fall back on
// and the relational backend's schema is an external migrations concern
// (original spec §1, "the underlying ORM/driver choice" is out of scope).
func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request, sel storage.Selector) {
	task, err := s.Tasks.Get(r.Context(), sel)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs, err := s.Messages.FindByField(r.Context(), "task_id", task.ID, storage.ListOptions{Limit: 1}); err != nil {
		writeError(w, err)
		return
	} else if len(msgs) > 0 {
		writeError(w, domain.ClientError("cannot delete task %s: messages still reference it", task.ID))
		return
	}
	if events, err := s.Events.FindByField(r.Context(), "task_id", task.ID, storage.ListOptions{Limit: 1}); err != nil {
		writeError(w, err)
		return
	} else if len(events) > 0 {
		writeError(w, domain.ClientError("cannot delete task %s: events still reference it", task.ID))
		return
	}
	if err := s.Tasks.Delete(r.Context(), task.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// updateTaskRequest carries the only field PUT /tasks/{id} may mutate
// (original spec §6: "mutable fields only: `task_metadata`").
type updateTaskRequest struct {
	Metadata map[string]any `json:"task_metadata"`
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ClientError("malformed request body: %v", err))
		return
	}
	task, err := s.Tasks.Get(r.Context(), storage.Selector{ID: chi.URLParam(r, "id")})
	if err != nil {
		writeError(w, err)
		return
	}
	task.Metadata = req.Metadata
	updated, err := s.Tasks.Update(r.Context(), task)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
