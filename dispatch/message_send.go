package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"

	"github.com/agentflow/acpctl/acp"
	"github.com/agentflow/acpctl/domain"
)

// MessageSendParams is the message/send method's params object (original
// spec §4.6.2). Stream selects the streaming sub-path; SYNC agents must
// send it false and ASYNC agents must send it true (original spec §4.6
// step 1, the acp_type method table).
type MessageSendParams struct {
	TaskID     string         `json:"task_id,omitempty"`
	TaskName   string         `json:"task_name,omitempty"`
	TaskParams map[string]any `json:"task_params,omitempty"`
	Stream     bool           `json:"stream,omitempty"`
	Content    domain.Content `json:"content"`
}

func (d *Dispatcher) dispatchMessageSend(ctx context.Context, agent *domain.Agent, raw json.RawMessage, subject, requestID string, headers http.Header) (*RPCResult, error) {
	var p MessageSendParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, domain.ClientError("message/send: invalid params: %v", err)
	}
	if err := p.Content.Validate(); err != nil {
		return nil, err
	}
	if err := checkStreamMode(agent.ACPType, p.Stream); err != nil {
		return nil, err
	}

	resolved, err := d.authorizePrecheck(ctx, subject, MethodMessageSend, p.TaskID, p.TaskName)
	if err != nil {
		return nil, err
	}
	task, err := d.resolveOrCreateTaskForMessage(ctx, agent.ID, p, resolved)
	if err != nil {
		return nil, err
	}

	release, err := d.acquireLock(ctx, agent.ID, task.ID)
	if err != nil {
		return nil, err
	}
	releaseLock := func() { release(context.WithoutCancel(ctx)) }

	userMsg := &domain.TaskMessage{TaskID: task.ID, Content: p.Content, StreamingStatus: domain.StreamingStatusDone}
	if _, err := d.Messages.Create(ctx, userMsg); err != nil {
		releaseLock()
		return nil, err
	}

	outHeaders := acp.FilterHeaders(headers)
	rawStream, err := d.ACP.Stream(ctx, agent, MethodMessageSend, task.ID, map[string]any{
		"task_id": task.ID,
		"content": p.Content,
	}, requestID, outHeaders)
	if err != nil {
		releaseLock()
		d.maybeFailTask(ctx, task, err)
		return nil, err
	}
	src := newChunkSource(rawStream)

	if !p.Stream {
		return d.assembleSync(ctx, task, src, releaseLock)
	}
	return d.assembleStreaming(ctx, task, src, releaseLock), nil
}

// checkStreamMode enforces the acp_type-specific stream requirement
// (original spec §3 doc comments for ACPTypeSync/ACPTypeAsync): SYNC agents
// never stream, ASYNC agents always do.
func checkStreamMode(acpType domain.ACPType, stream bool) error {
	switch acpType {
	case domain.ACPTypeSync:
		if stream {
			return domain.ClientError("message/send: stream=true is not valid for a SYNC agent")
		}
	case domain.ACPTypeAsync:
		if !stream {
			return domain.ClientError("message/send: stream=false is not valid for an ASYNC agent")
		}
	}
	return nil
}

func (d *Dispatcher) acquireLock(ctx context.Context, agentID, taskID string) (func(context.Context), error) {
	if d.Lock == nil {
		return func(context.Context) {}, nil
	}
	return d.Lock.Acquire(ctx, agentID, taskID)
}

// resolveOrCreateTaskForMessage implements original spec §4.6.2 step 1:
// "Resolve-or-create task (by task_id, else by task_name, else new). If the
// task exists and task_params differs, update them." resolved is whatever
// authorizePrecheck already found (nil means no existing task reference, or
// task_name didn't resolve).
func (d *Dispatcher) resolveOrCreateTaskForMessage(ctx context.Context, agentID string, p MessageSendParams, resolved *domain.Task) (*domain.Task, error) {
	if resolved != nil {
		if p.TaskParams != nil && !reflect.DeepEqual(resolved.Params, p.TaskParams) {
			resolved.Params = p.TaskParams
			return d.Tasks.Update(ctx, resolved)
		}
		return resolved, nil
	}
	if p.TaskID != "" {
		// authorizePrecheck already resolved or errored out for a supplied
		// task_id; a nil result here would mean it silently swallowed a
		// NotFound, which would be a bug upstream, not a valid state.
		return nil, domain.NotFound("message/send: task %q not found", p.TaskID)
	}
	t := &domain.Task{
		Name:    p.TaskName,
		AgentID: agentID,
		Status:  domain.TaskStatusRunning,
		Params:  p.TaskParams,
	}
	return d.Tasks.Create(ctx, t)
}

// assembleSync drains src fully before returning, per original spec §4.6.2
// "Synchronous sub-path": the caller gets the finished []TaskMessage, not a
// channel.
func (d *Dispatcher) assembleSync(ctx context.Context, task *domain.Task, src ChunkSource, releaseLock func()) (*RPCResult, error) {
	defer releaseLock()
	msgs, err := d.Engine.Assemble(ctx, task.ID, src, nil)
	if err != nil {
		d.maybeFailTask(ctx, task, err)
		return nil, err
	}
	return &RPCResult{Messages: msgs}, nil
}

// assembleStreaming runs assembly in the background, fanning normalized
// updates out over a channel the caller drains (original spec §4.6.2
// "Streaming sub-path"). The channel is always closed; a failure surfaces
// as a final StreamItem carrying Err.
func (d *Dispatcher) assembleStreaming(ctx context.Context, task *domain.Task, src ChunkSource, releaseLock func()) *RPCResult {
	out := make(chan StreamItem, 16)
	go func() {
		defer close(out)
		defer releaseLock()
		_, err := d.Engine.Assemble(ctx, task.ID, src, func(u domain.TaskMessageUpdate) error {
			select {
			case out <- StreamItem{Update: u}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			d.maybeFailTask(ctx, task, err)
			select {
			case out <- StreamItem{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return &RPCResult{Updates: out}
}
