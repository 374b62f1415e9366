package assembly

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/acpctl/domain"
)

// sliceSource is a ChunkSource over a fixed slice of chunks, used to drive
// the engine through the concrete scenarios from original spec §8.
type sliceSource struct {
	chunks []domain.Chunk
	pos    int
	closed bool
}

func newSliceSource(chunks ...domain.Chunk) *sliceSource { return &sliceSource{chunks: chunks} }

func (s *sliceSource) Next(_ context.Context) (domain.Chunk, bool, error) {
	if s.pos >= len(s.chunks) {
		return domain.Chunk{}, true, nil
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, false, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

// fakeMessageStore implements MessageStore in-memory, assigning sequential
// ids so tests can assert on per-index message identity.
type fakeMessageStore struct {
	seq  int
	rows map[string]*domain.TaskMessage
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{rows: map[string]*domain.TaskMessage{}}
}

func (f *fakeMessageStore) CreateMessage(_ context.Context, taskID string, content domain.Content, status domain.StreamingStatus) (*domain.TaskMessage, error) {
	f.seq++
	m := &domain.TaskMessage{ID: fmt.Sprintf("msg-%d", f.seq), TaskID: taskID, Content: content, StreamingStatus: status}
	f.rows[m.ID] = m
	return m, nil
}

func (f *fakeMessageStore) UpdateMessageContent(_ context.Context, id string, content domain.Content, status domain.StreamingStatus) (*domain.TaskMessage, error) {
	m, ok := f.rows[id]
	if !ok {
		return nil, domain.NotFound("message %q not found", id)
	}
	m.Content = content
	m.StreamingStatus = status
	return m, nil
}

func content(t domain.ContentType, text string) *domain.Content {
	return &domain.Content{Type: t, Author: domain.AuthorAgent, Text: text}
}

// Scenario 1: simple text stream (original spec §8).
func TestEngine_SimpleTextStream(t *testing.T) {
	store := newFakeMessageStore()
	eng := NewEngine(store)
	src := newSliceSource(
		domain.Chunk{Type: domain.ChunkTypeStart, Index: 0, Content: content(domain.ContentTypeText, "")},
		domain.Chunk{Type: domain.ChunkTypeDelta, Index: 0, Delta: &domain.Delta{Type: domain.DeltaTypeText, TextDelta: "Hello"}},
		domain.Chunk{Type: domain.ChunkTypeDelta, Index: 0, Delta: &domain.Delta{Type: domain.DeltaTypeText, TextDelta: " world!"}},
		domain.Chunk{Type: domain.ChunkTypeDone, Index: 0},
	)

	var updates []domain.TaskMessageUpdate
	messages, err := eng.Assemble(context.Background(), "task-1", src, func(u domain.TaskMessageUpdate) error {
		updates = append(updates, u)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, src.closed)

	require.Len(t, updates, 4)
	assert.Equal(t, domain.ChunkTypeStart, updates[0].Type)
	assert.Equal(t, domain.ChunkTypeDelta, updates[1].Type)
	assert.Equal(t, domain.ChunkTypeDelta, updates[2].Type)
	assert.Equal(t, domain.ChunkTypeDone, updates[3].Type)
	for _, u := range updates {
		assert.Equal(t, updates[0].ParentMessageID, u.ParentMessageID)
	}

	require.Len(t, messages, 1)
	assert.Equal(t, "Hello world!", messages[0].Content.Text)
	assert.Equal(t, domain.StreamingStatusDone, messages[0].StreamingStatus)
}

// Scenario 2: FULL-only stream.
func TestEngine_FullOnlyStream(t *testing.T) {
	store := newFakeMessageStore()
	eng := NewEngine(store)
	src := newSliceSource(
		domain.Chunk{Type: domain.ChunkTypeFull, Index: 0, Content: content(domain.ContentTypeText, "Complete.")},
	)

	var updates []domain.TaskMessageUpdate
	messages, err := eng.Assemble(context.Background(), "task-1", src, func(u domain.TaskMessageUpdate) error {
		updates = append(updates, u)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Len(t, messages, 1)
	assert.Equal(t, "Complete.", messages[0].Content.Text)
	assert.Equal(t, domain.StreamingStatusDone, messages[0].StreamingStatus)
}

// Scenario 3: interleaved multi-index deltas with synthesized STARTs.
func TestEngine_InterleavedMultiIndex(t *testing.T) {
	store := newFakeMessageStore()
	eng := NewEngine(store)
	src := newSliceSource(
		domain.Chunk{Type: domain.ChunkTypeDelta, Index: 0, Delta: &domain.Delta{Type: domain.DeltaTypeText, TextDelta: "First"}},
		domain.Chunk{Type: domain.ChunkTypeDelta, Index: 1, Delta: &domain.Delta{Type: domain.DeltaTypeText, TextDelta: "Second"}},
		domain.Chunk{Type: domain.ChunkTypeDelta, Index: 0, Delta: &domain.Delta{Type: domain.DeltaTypeText, TextDelta: " message"}},
		domain.Chunk{Type: domain.ChunkTypeDone, Index: 0},
		domain.Chunk{Type: domain.ChunkTypeDone, Index: 1},
	)

	var updates []domain.TaskMessageUpdate
	messages, err := eng.Assemble(context.Background(), "task-1", src, func(u domain.TaskMessageUpdate) error {
		updates = append(updates, u)
		return nil
	})
	require.NoError(t, err)
	// Two synthesized STARTs plus the five original chunks.
	require.Len(t, updates, 7)
	assert.Equal(t, domain.ChunkTypeStart, updates[0].Type)
	assert.Equal(t, 0, updates[0].Index)
	assert.Equal(t, domain.ChunkTypeDelta, updates[1].Type)
	assert.Equal(t, domain.ChunkTypeStart, updates[2].Type)
	assert.Equal(t, 1, updates[2].Index)

	require.Len(t, messages, 2)
	byIndex := map[int]*domain.TaskMessage{0: messages[0], 1: messages[1]}
	assert.Equal(t, "First message", byIndex[0].Content.Text)
	assert.Equal(t, "Second", byIndex[1].Content.Text)
}

// Scenario 4: mixed content types across indexes, index 0 finalized by FULL.
func TestEngine_MixedContentTypesAcrossIndexes(t *testing.T) {
	store := newFakeMessageStore()
	eng := NewEngine(store)
	src := newSliceSource(
		domain.Chunk{Type: domain.ChunkTypeStart, Index: 0, Content: &domain.Content{Type: domain.ContentTypeToolRequest, Author: domain.AuthorAgent, ToolCallID: "call-1", ToolName: "lookup_weather"}},
		domain.Chunk{Type: domain.ChunkTypeDelta, Index: 0, Delta: &domain.Delta{Type: domain.DeltaTypeToolRequest, ToolCallID: "call-1", Name: "lookup_weather", ArgumentsDelta: `{"l":"SF"}`}},
		domain.Chunk{Type: domain.ChunkTypeFull, Index: 0, Content: &domain.Content{
			Type: domain.ContentTypeToolRequest, Author: domain.AuthorAgent, ToolCallID: "call-1", ToolName: "lookup_weather",
			Arguments: map[string]any{"l": "SF"},
		}},
		domain.Chunk{Type: domain.ChunkTypeStart, Index: 1, Content: &domain.Content{Type: domain.ContentTypeToolResponse, Author: domain.AuthorAgent, ToolCallID: "call-1", ToolName: "lookup_weather"}},
		domain.Chunk{Type: domain.ChunkTypeDelta, Index: 1, Delta: &domain.Delta{Type: domain.DeltaTypeToolResponse, ToolCallID: "call-1", Name: "lookup_weather", ContentDelta: "Sunny"}},
		domain.Chunk{Type: domain.ChunkTypeStart, Index: 2, Content: content(domain.ContentTypeText, "")},
		domain.Chunk{Type: domain.ChunkTypeDelta, Index: 2, Delta: &domain.Delta{Type: domain.DeltaTypeText, TextDelta: "Based on"}},
		domain.Chunk{Type: domain.ChunkTypeDelta, Index: 2, Delta: &domain.Delta{Type: domain.DeltaTypeText, TextDelta: " data."}},
		domain.Chunk{Type: domain.ChunkTypeDone, Index: 1},
		domain.Chunk{Type: domain.ChunkTypeDone, Index: 2},
	)

	messages, err := eng.Assemble(context.Background(), "task-1", src, func(domain.TaskMessageUpdate) error { return nil })
	require.NoError(t, err)
	require.Len(t, messages, 3)

	byIndexOrder := messages // order preserves first-seen index order: 0, 1, 2
	assert.Equal(t, domain.ContentTypeToolRequest, byIndexOrder[0].Content.Type)
	assert.Equal(t, map[string]any{"l": "SF"}, byIndexOrder[0].Content.Arguments)
	assert.Equal(t, domain.ContentTypeToolResponse, byIndexOrder[1].Content.Type)
	assert.Equal(t, "Sunny", byIndexOrder[1].Content.ToolContent)
	assert.Equal(t, domain.ContentTypeText, byIndexOrder[2].Content.Type)
	assert.Equal(t, "Based on data.", byIndexOrder[2].Content.Text)
}

// A stream that ends before its first chunk persists no reply messages and
// the flush pass is a no-op (original spec §8, boundary behaviors).
func TestEngine_EmptyStreamProducesNoMessages(t *testing.T) {
	store := newFakeMessageStore()
	eng := NewEngine(store)
	src := newSliceSource()

	messages, err := eng.Assemble(context.Background(), "task-1", src, nil)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.True(t, src.closed)
}

// DONE after FULL for the same index is a no-op (original spec §9, Open
// Questions: "tolerate receiving both").
func TestEngine_FullThenDoneIsIdempotent(t *testing.T) {
	store := newFakeMessageStore()
	eng := NewEngine(store)
	src := newSliceSource(
		domain.Chunk{Type: domain.ChunkTypeFull, Index: 0, Content: content(domain.ContentTypeText, "Complete.")},
		domain.Chunk{Type: domain.ChunkTypeDone, Index: 0},
	)

	messages, err := eng.Assemble(context.Background(), "task-1", src, func(domain.TaskMessageUpdate) error { return nil })
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "Complete.", messages[0].Content.Text)
}

// A stream that ends while an index is still mid-delta (no FULL or DONE for
// it) still has that index's partial accumulator flushed and marked DONE by
// the final flush pass.
func TestEngine_PartialStreamFlushesRemainingAccumulators(t *testing.T) {
	store := newFakeMessageStore()
	eng := NewEngine(store)
	src := newSliceSource(
		domain.Chunk{Type: domain.ChunkTypeDelta, Index: 0, Delta: &domain.Delta{Type: domain.DeltaTypeText, TextDelta: "partial"}},
	)

	messages, err := eng.Assemble(context.Background(), "task-1", src, nil)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "partial", messages[0].Content.Text)
	assert.Equal(t, domain.StreamingStatusDone, messages[0].StreamingStatus)
}

// Mixing delta types within one index surfaces as a ClientError and fails
// the whole stream (original spec §7, "one bad chunk fails the entire
// stream").
func TestEngine_MixedDeltaTypesFailsStream(t *testing.T) {
	store := newFakeMessageStore()
	eng := NewEngine(store)
	src := newSliceSource(
		domain.Chunk{Type: domain.ChunkTypeDelta, Index: 0, Delta: &domain.Delta{Type: domain.DeltaTypeText, TextDelta: "hi"}},
		domain.Chunk{Type: domain.ChunkTypeDelta, Index: 0, Delta: &domain.Delta{Type: domain.DeltaTypeData, DataDelta: "{}"}},
	)

	_, err := eng.Assemble(context.Background(), "task-1", src, nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindClientError, domain.KindOf(err))
}
