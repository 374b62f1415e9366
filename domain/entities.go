package domain

import "time"

// ACPType enumerates the invocation style an agent's ACP endpoint supports.
type ACPType string

const (
	// ACPTypeAgentic agents run their own multi-step workflow; task/create is
	// forwarded to let them begin working immediately.
	ACPTypeAgentic ACPType = "AGENTIC"
	// ACPTypeSync agents only respond to message/send, synchronously.
	ACPTypeSync ACPType = "SYNC"
	// ACPTypeAsync agents respond to message/send via streaming updates only.
	ACPTypeAsync ACPType = "ASYNC"
)

// AgentStatus reflects the registration-time health of an agent.
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "ACTIVE"
	AgentStatusInactive AgentStatus = "INACTIVE"
)

// Agent is a registered external service addressable by id or name, exposing
// an ACP endpoint (original spec §3).
type Agent struct {
	ID          string      `json:"id" bson:"_id,omitempty"`
	Name        string      `json:"name" bson:"name"`
	Description string      `json:"description,omitempty" bson:"description,omitempty"`
	ACPURL      string      `json:"acp_url" bson:"acp_url"`
	ACPType     ACPType     `json:"acp_type" bson:"acp_type"`
	Status      AgentStatus `json:"status" bson:"status"`
	CreatedAt   time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" bson:"updated_at"`
}

func (a *Agent) GetID() string              { return a.ID }
func (a *Agent) SetID(id string)            { a.ID = id }
func (a *Agent) GetCreatedAt() time.Time    { return a.CreatedAt }
func (a *Agent) SetCreatedAt(t time.Time)   { a.CreatedAt = t }
func (a *Agent) GetUpdatedAt() time.Time    { return a.UpdatedAt }
func (a *Agent) SetUpdatedAt(t time.Time)   { a.UpdatedAt = t }
func (a *Agent) GetName() string            { return a.Name }

// TaskStatus is the task lifecycle state (original spec §3, §4.6).
type TaskStatus string

const (
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCanceled  TaskStatus = "CANCELED"
	TaskStatusTerminated TaskStatus = "TERMINATED"
	TaskStatusTimedOut  TaskStatus = "TIMED_OUT"
)

// IsTerminal reports whether s is a sink state with no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCanceled, TaskStatusTerminated, TaskStatusTimedOut:
		return true
	default:
		return false
	}
}

// Task is a long-lived conversation unit owned by a single agent.
type Task struct {
	ID           string         `json:"id" bson:"_id,omitempty"`
	Name         string         `json:"name,omitempty" bson:"name,omitempty"`
	AgentID      string         `json:"agent_id" bson:"agent_id"`
	Status       TaskStatus     `json:"status" bson:"status"`
	StatusReason string         `json:"status_reason,omitempty" bson:"status_reason,omitempty"`
	Params       map[string]any `json:"params,omitempty" bson:"params,omitempty"`
	Metadata     map[string]any `json:"task_metadata,omitempty" bson:"task_metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" bson:"updated_at"`
}

func (t *Task) GetID() string            { return t.ID }
func (t *Task) SetID(id string)          { t.ID = id }
func (t *Task) GetCreatedAt() time.Time  { return t.CreatedAt }
func (t *Task) SetCreatedAt(ts time.Time) { t.CreatedAt = ts }
func (t *Task) GetUpdatedAt() time.Time  { return t.UpdatedAt }
func (t *Task) SetUpdatedAt(ts time.Time) { t.UpdatedAt = ts }
func (t *Task) GetName() string          { return t.Name }

// StreamingStatus tracks accumulation progress of a TaskMessage created
// during a streamed reply (original spec §3).
type StreamingStatus string

const (
	StreamingStatusNone       StreamingStatus = ""
	StreamingStatusInProgress StreamingStatus = "IN_PROGRESS"
	StreamingStatusDone       StreamingStatus = "DONE"
)

// TaskMessage is a single content item within a task.
type TaskMessage struct {
	ID              string          `json:"id" bson:"_id,omitempty"`
	TaskID          string          `json:"task_id" bson:"task_id"`
	Content         Content         `json:"content" bson:"content"`
	StreamingStatus StreamingStatus `json:"streaming_status,omitempty" bson:"streaming_status,omitempty"`
	CreatedAt       time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" bson:"updated_at"`
}

func (m *TaskMessage) GetID() string             { return m.ID }
func (m *TaskMessage) SetID(id string)           { m.ID = id }
func (m *TaskMessage) GetCreatedAt() time.Time   { return m.CreatedAt }
func (m *TaskMessage) SetCreatedAt(t time.Time)  { m.CreatedAt = t }
func (m *TaskMessage) GetUpdatedAt() time.Time   { return m.UpdatedAt }
func (m *TaskMessage) SetUpdatedAt(t time.Time)  { m.UpdatedAt = t }

// Event is an out-of-band signal sent to a task (original spec §3).
type Event struct {
	ID        string    `json:"id" bson:"_id,omitempty"`
	TaskID    string    `json:"task_id" bson:"task_id"`
	AgentID   string    `json:"agent_id" bson:"agent_id"`
	Content   Content   `json:"content" bson:"content"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

func (e *Event) GetID() string            { return e.ID }
func (e *Event) SetID(id string)          { e.ID = id }
func (e *Event) GetCreatedAt() time.Time  { return e.CreatedAt }
func (e *Event) SetCreatedAt(t time.Time) { e.CreatedAt = t }
func (e *Event) GetUpdatedAt() time.Time  { return e.UpdatedAt }
func (e *Event) SetUpdatedAt(t time.Time) { e.UpdatedAt = t }
