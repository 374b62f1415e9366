package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentflow/acpctl/domain"
)

const sseKeepAlive = 15 * time.Second

type connectedFrame struct {
	Type   string `json:"type"`
	TaskID string `json:"taskId"`
}

// handleTaskStream implements GET /streams/tasks/{id} (original spec §6):
// an SSE stream beginning with a `connected` frame, followed by
// `task_updated` frames as the task's status changes, with `:ping`
// keepalives every 15s of idleness.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, domain.ServiceError(nil, "stream: response writer does not support flushing"))
		return
	}

	updates, errs, cancel, err := s.Topic.Subscribe(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSEFrame(w, connectedFrame{Type: "connected", TaskID: taskID})
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case err, ok := <-errs:
			if ok && err != nil {
				s.Logger.Warn(r.Context(), "stream: subscription error", "task_id", taskID, "error", err.Error())
			}
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			writeSSEFrame(w, update)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ":ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
