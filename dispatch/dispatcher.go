// Package dispatch implements the RPC dispatcher (C6, first half, original
// spec §2 component C6 and §4.6): it resolves the target agent, enforces the
// acp_type method-allow table and the authorization pre-check, then routes
// to one of the four JSON-RPC method handlers. Grounded on the teacher's
// registry/store/replicated/replicated.go dispatch-to-backend shape
// (resolve, authorize, delegate), generalized from toolset replication to
// agent RPC routing.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agentflow/acpctl/assembly"
	"github.com/agentflow/acpctl/authz"
	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/storage"
	"github.com/agentflow/acpctl/streaming"
	"github.com/agentflow/acpctl/telemetry"
)

// The four JSON-RPC methods the dispatcher recognizes (original spec §4.6).
const (
	MethodTaskCreate  = "task/create"
	MethodMessageSend = "message/send"
	MethodTaskCancel  = "task/cancel"
	MethodEventSend   = "event/send"
)

// allowedMethods is the fixed acp_type -> allowed-method table (original
// spec §4.6 step 1: "Reject methods not allowed for the agent's acp_type").
// AGENTIC agents run their own workflow end to end, so all four methods
// apply. SYNC agents (domain.ACPTypeSync doc comment: "only respond to
// message/send, synchronously") have no notion of a backgrounded,
// cancelable task. ASYNC agents stream message/send and can be canceled or
// nudged with an out-of-band event, but never own task/create: the task
// always originates from a message/send.
var allowedMethods = map[domain.ACPType]map[string]bool{
	domain.ACPTypeAgentic: {
		MethodTaskCreate:  true,
		MethodMessageSend: true,
		MethodTaskCancel:  true,
		MethodEventSend:   true,
	},
	domain.ACPTypeSync: {
		MethodMessageSend: true,
	},
	domain.ACPTypeAsync: {
		MethodMessageSend: true,
		MethodTaskCancel:  true,
		MethodEventSend:   true,
	},
}

func methodAllowed(acpType domain.ACPType, method string) bool {
	return allowedMethods[acpType][method]
}

// knownMethods is the full set of RPC methods the dispatcher recognizes at
// all, independent of any one agent's acp_type. A method outside this set
// is unknown to the protocol itself (original spec §6: "Additional methods
// return JSON-RPC error -32601 (method not found)"), distinct from a
// recognized method merely disallowed for a given acp_type (original spec
// §4.6 step 1).
var knownMethods = map[string]bool{
	MethodTaskCreate:  true,
	MethodMessageSend: true,
	MethodTaskCancel:  true,
	MethodEventSend:   true,
}

// RPCResult is the tagged result of a dispatched method: exactly one field
// besides Updates is populated, per the method that produced it (original
// spec §4.6: task/create and task/cancel return a Task, event/send returns
// an Event, message/send returns either []TaskMessage or a live Updates
// channel).
type RPCResult struct {
	Task     *domain.Task
	Event    *domain.Event
	Messages []*domain.TaskMessage
	Updates  <-chan StreamItem
}

// StreamItem is one element of a streaming message/send's Updates channel.
// Err is set, and Update is zero, on the final item only if assembly failed
// partway through.
type StreamItem struct {
	Update domain.TaskMessageUpdate
	Err    error
}

// AdvisoryLock is the subset of acp.AdvisoryLock the dispatcher depends on.
type AdvisoryLock interface {
	Acquire(ctx context.Context, agentID, taskID string) (release func(context.Context), err error)
}

// ChunkSource is an alias for the assembly package's stream contract, kept
// under this name so the handler files in this package don't need to import
// assembly directly just to name the parameter type.
type ChunkSource = assembly.ChunkSource

// Dispatcher wires the agent/task/message/event repositories, the outbound
// ACP client, the authorization checker and the assembly engine into the
// single entry point the HTTP surface calls (original spec §4.6).
type Dispatcher struct {
	Agents   storage.Store[*domain.Agent]
	Tasks    storage.Store[*domain.Task]
	Messages storage.Store[*domain.TaskMessage]
	Events   storage.Store[*domain.Event]

	ACP    ACP
	Authz  authz.Checker
	Lock   AdvisoryLock // nil disables advisory locking (original spec §4.5, §9)
	Engine *assembly.Engine
	Topic  *streaming.Topic // nil disables status fan-out; transitions still persist

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// publishTask fans task's current state out over Topic, best-effort: a
// publish failure is logged, never surfaced to the RPC caller, since the
// authoritative write to Tasks already succeeded (original spec §5, "the
// authoritative write's return value defines observable state").
func (d *Dispatcher) publishTask(ctx context.Context, task *domain.Task) {
	if d.Topic == nil || task == nil {
		return
	}
	if err := d.Topic.Publish(context.WithoutCancel(ctx), task); err != nil {
		d.Logger.Warn(ctx, "dispatch: publish task update failed", "task_id", task.ID, "error", err.Error())
	}
}

// HandleRPCRequest is the single entry point the HTTP surface calls: it
// resolves agentSel to an Agent, checks method against the acp_type table,
// runs the authorization pre-check, and routes to the method-specific
// handler (original spec §4.6, steps 1-3 shared across all four methods).
func (d *Dispatcher) HandleRPCRequest(ctx context.Context, method string, rawParams json.RawMessage, agentSel storage.Selector, subject, requestID string, headers http.Header) (*RPCResult, error) {
	agent, err := d.Agents.Get(ctx, agentSel)
	if err != nil {
		return nil, err
	}
	if !knownMethods[method] {
		return nil, domain.MethodNotFound("method %q not found", method)
	}
	if !methodAllowed(agent.ACPType, method) {
		return nil, domain.ClientError("method %q is not allowed for agent acp_type %q", method, agent.ACPType)
	}
	switch method {
	case MethodTaskCreate:
		return d.dispatchTaskCreate(ctx, agent, rawParams, subject, requestID)
	case MethodMessageSend:
		return d.dispatchMessageSend(ctx, agent, rawParams, subject, requestID, headers)
	case MethodTaskCancel:
		return d.dispatchTaskCancel(ctx, agent, rawParams, subject, requestID)
	case MethodEventSend:
		return d.dispatchEventSend(ctx, agent, rawParams, subject, requestID, headers)
	default:
		return nil, domain.MethodNotFound("method %q not found", method)
	}
}

// authorizePrecheck implements original spec §4.6 step 2 for the three
// task-scoped methods (message/send, event/send, task/cancel): it resolves
// the referenced task (if any) and checks the matching operation, returning
// the resolved task so callers don't re-fetch it. A nil task with a nil
// error means "no existing task, caller is authorized to create one" (only
// meaningful for message/send).
func (d *Dispatcher) authorizePrecheck(ctx context.Context, subject, method, taskID, taskName string) (*domain.Task, error) {
	switch {
	case taskID != "":
		task, err := d.Tasks.Get(ctx, storage.Selector{ID: taskID})
		if err != nil {
			return nil, err
		}
		if err := d.Authz.Check(ctx, subject, task.ID, authz.OpExecute); err != nil {
			return nil, err
		}
		return task, nil

	case taskName != "":
		task, err := d.Tasks.Get(ctx, storage.Selector{Name: taskName})
		switch {
		case err == nil:
			if aerr := d.Authz.Check(ctx, subject, task.ID, authz.OpExecute); aerr != nil {
				return nil, aerr
			}
			return task, nil
		case domain.IsNotFound(err):
			if method != MethodMessageSend {
				return nil, domain.NotFound("%s: task %q not found", method, taskName)
			}
			if aerr := d.Authz.Check(ctx, subject, authz.WildcardTask, authz.OpCreate); aerr != nil {
				return nil, aerr
			}
			return nil, nil
		default:
			return nil, err
		}

	default:
		if method != MethodMessageSend {
			return nil, domain.ClientError("%s requires task_id or task_name", method)
		}
		if err := d.Authz.Check(ctx, subject, authz.WildcardTask, authz.OpCreate); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

// maybeFailTask marks task FAILED unless cause is a caller cancellation
// (original spec §5: "must not mark the task FAILED purely due to caller
// cancellation"). The update runs in a context detached from ctx so it
// survives even when ctx itself is what just got canceled.
func (d *Dispatcher) maybeFailTask(ctx context.Context, task *domain.Task, cause error) {
	if task == nil || errors.Is(cause, context.Canceled) {
		return
	}
	flushCtx := context.WithoutCancel(ctx)
	task.Status = domain.TaskStatusFailed
	task.StatusReason = cause.Error()
	updated, err := d.Tasks.Update(flushCtx, task)
	if err != nil {
		d.Logger.Error(ctx, "dispatch: failed to mark task FAILED", "task_id", task.ID, "error", err.Error())
		return
	}
	d.publishTask(ctx, updated)
}
