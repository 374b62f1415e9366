package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/acpctl/assembly"
	"github.com/agentflow/acpctl/authz"
	"github.com/agentflow/acpctl/dispatch"
	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/storage"
	"github.com/agentflow/acpctl/storage/dualstore"
)

func newTestServer(t *testing.T) (*httptest.Server, *fakeStore[*domain.Agent], *fakeStore[*domain.Task], *fakeStore[*domain.TaskMessage]) {
	t.Helper()
	agents := newFakeStore[*domain.Agent]()
	tasksPrimary := newFakeStore[*domain.Task]()
	messages := newFakeStore[*domain.TaskMessage]()
	events := newFakeStore[*domain.Event]()
	tasks := dualstore.New[*domain.Task](tasksPrimary, tasksPrimary, dualstore.PrimaryOnly, "task")

	d := &dispatch.Dispatcher{
		Agents:   agents,
		Tasks:    tasks,
		Messages: messages,
		Events:   events,
		ACP:      fakeACP{},
		Authz:    authz.NewMemoryChecker(authz.WildcardTask),
		Engine:   assembly.NewEngine(assembly.NewStoreAdapter(messages)),
		Logger:   noopLogger{},
		Metrics:  noopMetrics{},
	}

	s := &Server{
		Dispatcher: d,
		Agents:     agents,
		Tasks:      tasks,
		Events:     events,
		Messages:   messages,
		Logger:     noopLogger{},
		Metrics:    noopMetrics{},
	}
	srv := httptest.NewServer(s.Router(Options{}))
	t.Cleanup(srv.Close)
	return srv, agents, tasksPrimary, messages
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleRPCByID_TaskCreateRoundTrip(t *testing.T) {
	srv, agents, _, _ := newTestServer(t)
	agent, err := agents.Create(context.Background(), &domain.Agent{Name: "a1", ACPURL: "http://agent.local", ACPType: domain.ACPTypeAgentic})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{
		"id":     "req-1",
		"method": dispatch.MethodTaskCreate,
		"params": map[string]any{"task_name": "my-task"},
	})
	resp, err := http.Post(srv.URL+"/agents/"+agent.ID+"/rpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	result := decoded["result"].(map[string]any)
	task := result["task"].(map[string]any)
	assert.Equal(t, "my-task", task["name"])
}

func TestHandleRPCByID_UnknownAgentIsNotFound(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"id": "req-1", "method": dispatch.MethodTaskCreate, "params": map[string]any{}})
	resp, err := http.Post(srv.URL+"/agents/missing/rpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleRPCByID_MalformedBodyIsClientError(t *testing.T) {
	srv, agents, _, _ := newTestServer(t)
	agent, err := agents.Create(context.Background(), &domain.Agent{Name: "a1", ACPURL: "http://agent.local", ACPType: domain.ACPTypeSync})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/agents/"+agent.ID+"/rpc", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleGetTask_ByIDAndName(t *testing.T) {
	srv, agents, tasks, _ := newTestServer(t)
	agent, err := agents.Create(context.Background(), &domain.Agent{Name: "a1", ACPURL: "http://agent.local", ACPType: domain.ACPTypeSync})
	require.NoError(t, err)
	task, err := tasks.Create(context.Background(), &domain.Task{Name: "t1", AgentID: agent.ID, Status: domain.TaskStatusRunning})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/tasks/" + task.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/tasks/name/t1")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestHandleGetTask_MissingIsNotFound(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/tasks/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatesList_HonorsStorageBackendOverride(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/states?storage_backend=dual_write")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatesList_UnrecognizedStorageBackendIsClientError(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/states?storage_backend=bogus")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteTask_FailsWhileMessagesReferenceIt(t *testing.T) {
	srv, agents, tasks, messages := newTestServer(t)
	agent, err := agents.Create(context.Background(), &domain.Agent{Name: "a1", ACPURL: "http://agent.local", ACPType: domain.ACPTypeSync})
	require.NoError(t, err)
	task, err := tasks.Create(context.Background(), &domain.Task{Name: "t1", AgentID: agent.ID, Status: domain.TaskStatusRunning})
	require.NoError(t, err)
	_, err = messages.Create(context.Background(), &domain.TaskMessage{TaskID: task.ID, Content: domain.Content{Type: domain.ContentTypeText, Author: domain.AuthorUser, Text: "hi"}})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/tasks/"+task.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = tasks.Get(context.Background(), storage.Selector{ID: task.ID})
	assert.NoError(t, err, "task must still exist after the rejected delete")
}

func TestDeleteTask_SucceedsWithNoReferencingRows(t *testing.T) {
	srv, agents, tasks, _ := newTestServer(t)
	agent, err := agents.Create(context.Background(), &domain.Agent{Name: "a1", ACPURL: "http://agent.local", ACPType: domain.ACPTypeSync})
	require.NoError(t, err)
	task, err := tasks.Create(context.Background(), &domain.Task{Name: "t1", AgentID: agent.ID, Status: domain.TaskStatusRunning})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/tasks/"+task.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
