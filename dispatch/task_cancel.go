package dispatch

import (
	"context"
	"encoding/json"

	"github.com/agentflow/acpctl/domain"
)

// TaskCancelParams is the task/cancel method's params object (original spec
// §4.6.3).
type TaskCancelParams struct {
	TaskID   string `json:"task_id,omitempty"`
	TaskName string `json:"task_name,omitempty"`
}

// dispatchTaskCancel implements original spec §4.6.3: resolve the task,
// forward task/cancel to the agent, and transition it to CANCELED. A task
// already CANCELED is a no-op success (idempotent retries shouldn't forward
// a second cancel to an agent that may no longer recognize the task).
func (d *Dispatcher) dispatchTaskCancel(ctx context.Context, agent *domain.Agent, raw json.RawMessage, subject, requestID string) (*RPCResult, error) {
	var p TaskCancelParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, domain.ClientError("task/cancel: invalid params: %v", err)
		}
	}
	if p.TaskID == "" && p.TaskName == "" {
		return nil, domain.ClientError("task/cancel requires task_id or task_name")
	}

	task, err := d.authorizePrecheck(ctx, subject, MethodTaskCancel, p.TaskID, p.TaskName)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, domain.NotFound("task/cancel: task not found")
	}
	if task.Status == domain.TaskStatusCanceled {
		return &RPCResult{Task: task}, nil
	}
	if task.Status.IsTerminal() {
		return nil, domain.ClientError("task/cancel: task %q is already %s", task.ID, task.Status)
	}

	if _, err := d.ACP.Call(ctx, agent, MethodTaskCancel, task.ID, map[string]any{"task_id": task.ID}, requestID, nil); err != nil {
		return nil, err
	}

	task.Status = domain.TaskStatusCanceled
	task.StatusReason = "canceled by caller"
	updated, err := d.Tasks.Update(ctx, task)
	if err != nil {
		return nil, err
	}
	d.publishTask(ctx, updated)
	return &RPCResult{Task: updated}, nil
}
