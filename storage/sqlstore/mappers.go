package sqlstore

import (
	"encoding/json"

	"github.com/agentflow/acpctl/domain"
)

// AgentMapper maps domain.Agent onto the "agents" table.
func AgentMapper() Mapper[*domain.Agent] {
	return Mapper[*domain.Agent]{
		Table:   "agents",
		Columns: []string{"id", "name", "description", "acp_url", "acp_type", "status", "created_at", "updated_at"},
		Values: func(a *domain.Agent) ([]any, error) {
			return []any{a.ID, a.Name, a.Description, a.ACPURL, string(a.ACPType), string(a.Status), a.CreatedAt, a.UpdatedAt}, nil
		},
		Scan: func(row rowScanner) (*domain.Agent, error) {
			a := &domain.Agent{}
			var acpType, status string
			if err := row.Scan(&a.ID, &a.Name, &a.Description, &a.ACPURL, &acpType, &status, &a.CreatedAt, &a.UpdatedAt); err != nil {
				return nil, err
			}
			a.ACPType, a.Status = domain.ACPType(acpType), domain.AgentStatus(status)
			return a, nil
		},
	}
}

// TaskMapper maps domain.Task onto the "tasks" table; params and
// task_metadata are stored as JSONB.
func TaskMapper() Mapper[*domain.Task] {
	return Mapper[*domain.Task]{
		Table:   "tasks",
		Columns: []string{"id", "name", "agent_id", "status", "status_reason", "params", "task_metadata", "created_at", "updated_at"},
		Values: func(t *domain.Task) ([]any, error) {
			params, err := marshalMap(t.Params)
			if err != nil {
				return nil, err
			}
			metadata, err := marshalMap(t.Metadata)
			if err != nil {
				return nil, err
			}
			return []any{t.ID, t.Name, t.AgentID, string(t.Status), t.StatusReason, params, metadata, t.CreatedAt, t.UpdatedAt}, nil
		},
		Scan: func(row rowScanner) (*domain.Task, error) {
			t := &domain.Task{}
			var status string
			var params, metadata []byte
			if err := row.Scan(&t.ID, &t.Name, &t.AgentID, &status, &t.StatusReason, &params, &metadata, &t.CreatedAt, &t.UpdatedAt); err != nil {
				return nil, err
			}
			t.Status = domain.TaskStatus(status)
			if err := unmarshalMap(params, &t.Params); err != nil {
				return nil, err
			}
			if err := unmarshalMap(metadata, &t.Metadata); err != nil {
				return nil, err
			}
			return t, nil
		},
	}
}

// TaskMessageMapper maps domain.TaskMessage onto the "task_messages"
// table; content is stored as JSONB and is the target of the JSON-path
// filter algebra in filters.go/jsonpath.go.
func TaskMessageMapper() Mapper[*domain.TaskMessage] {
	return Mapper[*domain.TaskMessage]{
		Table:   "task_messages",
		Columns: []string{"id", "task_id", "content", "streaming_status", "created_at", "updated_at"},
		Values: func(m *domain.TaskMessage) ([]any, error) {
			content, err := json.Marshal(m.Content)
			if err != nil {
				return nil, err
			}
			return []any{m.ID, m.TaskID, content, string(m.StreamingStatus), m.CreatedAt, m.UpdatedAt}, nil
		},
		Scan: func(row rowScanner) (*domain.TaskMessage, error) {
			m := &domain.TaskMessage{}
			var streamingStatus string
			var content []byte
			if err := row.Scan(&m.ID, &m.TaskID, &content, &streamingStatus, &m.CreatedAt, &m.UpdatedAt); err != nil {
				return nil, err
			}
			m.StreamingStatus = domain.StreamingStatus(streamingStatus)
			if err := json.Unmarshal(content, &m.Content); err != nil {
				return nil, err
			}
			return m, nil
		},
	}
}

// EventMapper maps domain.Event onto the "events" table.
func EventMapper() Mapper[*domain.Event] {
	return Mapper[*domain.Event]{
		Table:   "events",
		Columns: []string{"id", "task_id", "agent_id", "content", "created_at", "updated_at"},
		Values: func(e *domain.Event) ([]any, error) {
			content, err := json.Marshal(e.Content)
			if err != nil {
				return nil, err
			}
			return []any{e.ID, e.TaskID, e.AgentID, content, e.CreatedAt, e.UpdatedAt}, nil
		},
		Scan: func(row rowScanner) (*domain.Event, error) {
			e := &domain.Event{}
			var content []byte
			if err := row.Scan(&e.ID, &e.TaskID, &e.AgentID, &content, &e.CreatedAt, &e.UpdatedAt); err != nil {
				return nil, err
			}
			if err := json.Unmarshal(content, &e.Content); err != nil {
				return nil, err
			}
			return e, nil
		},
	}
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return json.Marshal(map[string]any{})
	}
	return json.Marshal(m)
}

func unmarshalMap(b []byte, dst *map[string]any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}
