package dispatch

import (
	"context"
	"encoding/json"

	"github.com/agentflow/acpctl/authz"
	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/storage"
)

// TaskCreateParams is the task/create method's params object (original spec
// §4.6.1).
type TaskCreateParams struct {
	TaskName string         `json:"task_name,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	Metadata map[string]any `json:"task_metadata,omitempty"`
}

// dispatchTaskCreate implements original spec §4.6.1: resolve-or-create the
// task by name, grant the caller execute on it, and forward task/create to
// the agent only when it is AGENTIC.
func (d *Dispatcher) dispatchTaskCreate(ctx context.Context, agent *domain.Agent, raw json.RawMessage, subject, requestID string) (*RPCResult, error) {
	var p TaskCreateParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, domain.ClientError("task/create: invalid params: %v", err)
		}
	}
	if err := d.Authz.Check(ctx, subject, authz.WildcardTask, authz.OpCreate); err != nil {
		return nil, err
	}

	task, err := d.resolveOrCreateTaskForCreate(ctx, agent.ID, p)
	if err != nil {
		return nil, err
	}
	if err := d.Authz.Grant(ctx, subject, task.ID); err != nil {
		return nil, err
	}

	if agent.ACPType == domain.ACPTypeAgentic {
		params := map[string]any{"task_id": task.ID}
		if p.Params != nil {
			params["params"] = p.Params
		}
		if _, err := d.ACP.Call(ctx, agent, MethodTaskCreate, task.ID, params, requestID, nil); err != nil {
			d.maybeFailTask(ctx, task, err)
			return nil, err
		}
	}
	d.publishTask(ctx, task)
	return &RPCResult{Task: task}, nil
}

// resolveOrCreateTaskForCreate resolves the task by name when one is
// supplied, refreshing its params/metadata in place, or creates a fresh one
// otherwise (original spec §4.6.1: "Resolve-or-create the task: by name if
// supplied, else a fresh task. Persist with supplied params.").
func (d *Dispatcher) resolveOrCreateTaskForCreate(ctx context.Context, agentID string, p TaskCreateParams) (*domain.Task, error) {
	if p.TaskName != "" {
		existing, err := d.Tasks.Get(ctx, storage.Selector{Name: p.TaskName})
		if err == nil {
			existing.Params = p.Params
			existing.Metadata = p.Metadata
			return d.Tasks.Update(ctx, existing)
		}
		if !domain.IsNotFound(err) {
			return nil, err
		}
	}
	t := &domain.Task{
		Name:     p.TaskName,
		AgentID:  agentID,
		Status:   domain.TaskStatusRunning,
		Params:   p.Params,
		Metadata: p.Metadata,
	}
	return d.Tasks.Create(ctx, t)
}
