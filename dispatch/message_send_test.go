package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/acpctl/assembly"
	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/storage"
)

// fakeRawStream is a RawStream over a fixed slice of encoded domain.Chunk
// frames, the shape the ACP proxy's ndjson body decodes into.
type fakeRawStream struct {
	frames [][]byte
	pos    int
	closed bool
}

func newFakeRawStream(chunks ...domain.Chunk) *fakeRawStream {
	frames := make([][]byte, len(chunks))
	for i, c := range chunks {
		b, _ := json.Marshal(c)
		frames[i] = b
	}
	return &fakeRawStream{frames: frames}
}

func (s *fakeRawStream) Next(context.Context) (json.RawMessage, bool, error) {
	if s.pos >= len(s.frames) {
		return nil, true, nil
	}
	f := s.frames[s.pos]
	s.pos++
	return f, false, nil
}

func (s *fakeRawStream) Close() error {
	s.closed = true
	return nil
}

// acpWithStream wraps fakeACP, additionally scripting the Stream call
// dispatchMessageSend consumes (Call keeps fakeACP's task/create,
// task/cancel, event/send behavior unchanged).
type acpWithStream struct {
	*fakeACP
	rawStream RawStream
	streamErr error
}

func (s *acpWithStream) Stream(context.Context, *domain.Agent, string, string, any, string, http.Header) (RawStream, error) {
	return s.rawStream, s.streamErr
}

func newTestDispatcherWithEngine() (*Dispatcher, *fakeStore[*domain.Agent], *fakeStore[*domain.Task], *fakeStore[*domain.TaskMessage]) {
	d, agents, tasks, _ := newTestDispatcher()
	messages := d.Messages.(*fakeStore[*domain.TaskMessage])
	d.Engine = assembly.NewEngine(assembly.NewStoreAdapter(messages))
	return d, agents, tasks, messages
}

func TestDispatchMessageSend_SyncAccumulatesAndReturnsMessages(t *testing.T) {
	d, agents, tasks, messages := newTestDispatcherWithEngine()
	agent := mustAgent(t, agents, domain.ACPTypeSync)
	task, err := tasks.Create(context.Background(), &domain.Task{AgentID: agent.ID, Status: domain.TaskStatusRunning})
	require.NoError(t, err)

	stream := newFakeRawStream(
		domain.Chunk{Type: domain.ChunkTypeDelta, Index: 0, Delta: &domain.Delta{Type: domain.DeltaTypeText, TextDelta: "Hi"}},
		domain.Chunk{Type: domain.ChunkTypeDelta, Index: 0, Delta: &domain.Delta{Type: domain.DeltaTypeText, TextDelta: " there"}},
		domain.Chunk{Type: domain.ChunkTypeDone, Index: 0},
	)
	d.ACP = &acpWithStream{fakeACP: newFakeACP(), rawStream: stream}

	raw, _ := json.Marshal(MessageSendParams{
		TaskID:  task.ID,
		Stream:  false,
		Content: domain.Content{Type: domain.ContentTypeText, Author: domain.AuthorUser, Text: "prompt"},
	})
	result, err := d.dispatchMessageSend(context.Background(), agent, raw, "subject-1", "req-1", nil)
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "Hi there", result.Messages[0].Content.Text)
	assert.Equal(t, domain.StreamingStatusDone, result.Messages[0].StreamingStatus)

	// The caller's input message was also persisted, finalized DONE
	// (original spec §4.6.2, "Synchronous sub-path" step 2).
	all, err := messages.List(context.Background(), storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDispatchMessageSend_StreamingEmitsUpdatesOnChannel(t *testing.T) {
	d, agents, tasks, _ := newTestDispatcherWithEngine()
	agent := mustAgent(t, agents, domain.ACPTypeAsync)
	task, err := tasks.Create(context.Background(), &domain.Task{AgentID: agent.ID, Status: domain.TaskStatusRunning})
	require.NoError(t, err)

	stream := newFakeRawStream(
		domain.Chunk{Type: domain.ChunkTypeStart, Index: 0, Content: &domain.Content{Type: domain.ContentTypeText, Author: domain.AuthorAgent}},
		domain.Chunk{Type: domain.ChunkTypeDelta, Index: 0, Delta: &domain.Delta{Type: domain.DeltaTypeText, TextDelta: "go"}},
		domain.Chunk{Type: domain.ChunkTypeDone, Index: 0},
	)
	d.ACP = &acpWithStream{fakeACP: newFakeACP(), rawStream: stream}

	raw, _ := json.Marshal(MessageSendParams{
		TaskID:  task.ID,
		Stream:  true,
		Content: domain.Content{Type: domain.ContentTypeText, Author: domain.AuthorUser, Text: "prompt"},
	})
	result, err := d.dispatchMessageSend(context.Background(), agent, raw, "subject-1", "req-1", nil)
	require.NoError(t, err)
	require.NotNil(t, result.Updates)

	var got []StreamItem
	deadline := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case item, ok := <-result.Updates:
			if !ok {
				t.Fatal("channel closed early")
			}
			got = append(got, item)
		case <-deadline:
			t.Fatal("timed out waiting for updates")
		}
	}
	assert.Equal(t, domain.ChunkTypeStart, got[0].Update.Type)
	assert.Equal(t, domain.ChunkTypeDelta, got[1].Update.Type)
	assert.Equal(t, domain.ChunkTypeDone, got[2].Update.Type)
}

func TestDispatchMessageSend_StreamModeMismatchForSyncAgent(t *testing.T) {
	d, agents, tasks, _ := newTestDispatcherWithEngine()
	agent := mustAgent(t, agents, domain.ACPTypeSync)
	task, err := tasks.Create(context.Background(), &domain.Task{AgentID: agent.ID, Status: domain.TaskStatusRunning})
	require.NoError(t, err)

	raw, _ := json.Marshal(MessageSendParams{TaskID: task.ID, Stream: true, Content: domain.Content{Type: domain.ContentTypeText, Author: domain.AuthorUser}})
	_, err = d.dispatchMessageSend(context.Background(), agent, raw, "subject-1", "req-1", nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindClientError, domain.KindOf(err))
}

func TestDispatchMessageSend_StreamModeMismatchForAsyncAgent(t *testing.T) {
	d, agents, tasks, _ := newTestDispatcherWithEngine()
	agent := mustAgent(t, agents, domain.ACPTypeAsync)
	task, err := tasks.Create(context.Background(), &domain.Task{AgentID: agent.ID, Status: domain.TaskStatusRunning})
	require.NoError(t, err)

	raw, _ := json.Marshal(MessageSendParams{TaskID: task.ID, Stream: false, Content: domain.Content{Type: domain.ContentTypeText, Author: domain.AuthorUser}})
	_, err = d.dispatchMessageSend(context.Background(), agent, raw, "subject-1", "req-1", nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindClientError, domain.KindOf(err))
}

func TestDispatchMessageSend_CreatesTaskWhenNoIdentifierSupplied(t *testing.T) {
	d, agents, _, _ := newTestDispatcherWithEngine()
	agent := mustAgent(t, agents, domain.ACPTypeSync)

	stream := newFakeRawStream(domain.Chunk{Type: domain.ChunkTypeFull, Index: 0, Content: &domain.Content{Type: domain.ContentTypeText, Author: domain.AuthorAgent, Text: "ok"}})
	d.ACP = &acpWithStream{fakeACP: newFakeACP(), rawStream: stream}

	raw, _ := json.Marshal(MessageSendParams{Stream: false, Content: domain.Content{Type: domain.ContentTypeText, Author: domain.AuthorUser, Text: "hi"}})
	result, err := d.dispatchMessageSend(context.Background(), agent, raw, "subject-1", "req-1", nil)
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "ok", result.Messages[0].Content.Text)
}

func TestDispatchMessageSend_ACPCallFailureMarksTaskFailed(t *testing.T) {
	d, agents, tasks, _ := newTestDispatcherWithEngine()
	agent := mustAgent(t, agents, domain.ACPTypeSync)
	task, err := tasks.Create(context.Background(), &domain.Task{AgentID: agent.ID, Status: domain.TaskStatusRunning})
	require.NoError(t, err)
	d.ACP = &acpWithStream{fakeACP: newFakeACP(), streamErr: domain.ServiceError(nil, "agent down")}

	raw, _ := json.Marshal(MessageSendParams{TaskID: task.ID, Content: domain.Content{Type: domain.ContentTypeText, Author: domain.AuthorUser, Text: "hi"}})
	_, err = d.dispatchMessageSend(context.Background(), agent, raw, "subject-1", "req-1", nil)
	require.Error(t, err)

	stored, getErr := tasks.Get(context.Background(), storage.Selector{ID: task.ID})
	require.NoError(t, getErr)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
}
