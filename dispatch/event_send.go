package dispatch

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/agentflow/acpctl/acp"
	"github.com/agentflow/acpctl/domain"
)

// EventSendParams is the event/send method's params object (original spec
// §4.6.4).
type EventSendParams struct {
	TaskID   string         `json:"task_id,omitempty"`
	TaskName string         `json:"task_name,omitempty"`
	Content  domain.Content `json:"content"`
}

// dispatchEventSend implements original spec §4.6.4: persist the event,
// forward it to the agent over the filtered inbound headers, and return the
// stored Event.
func (d *Dispatcher) dispatchEventSend(ctx context.Context, agent *domain.Agent, raw json.RawMessage, subject, requestID string, headers http.Header) (*RPCResult, error) {
	var p EventSendParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, domain.ClientError("event/send: invalid params: %v", err)
	}
	if p.TaskID == "" && p.TaskName == "" {
		return nil, domain.ClientError("event/send requires task_id or task_name")
	}
	if err := p.Content.Validate(); err != nil {
		return nil, err
	}

	task, err := d.authorizePrecheck(ctx, subject, MethodEventSend, p.TaskID, p.TaskName)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, domain.NotFound("event/send: task not found")
	}

	ev := &domain.Event{TaskID: task.ID, AgentID: agent.ID, Content: p.Content}
	created, err := d.Events.Create(ctx, ev)
	if err != nil {
		return nil, err
	}

	outHeaders := acp.FilterHeaders(headers)
	params := map[string]any{"task_id": task.ID, "event_id": created.ID, "content": p.Content}
	if _, err := d.ACP.Call(ctx, agent, MethodEventSend, task.ID, params, requestID, outHeaders); err != nil {
		return nil, err
	}
	return &RPCResult{Event: created}, nil
}
