package assembly

import (
	"context"

	"github.com/agentflow/acpctl/domain"
)

// ChunkSource is a lazy sequence of inbound Chunk frames decoded from the
// ACP proxy's ndjson stream (original spec §9, "Coroutine flow in the
// stream assembler"). Implementations must be safe to Close from any exit
// path.
type ChunkSource interface {
	// Next returns the next chunk, or (zero, true, nil) once the source is
	// exhausted.
	Next(ctx context.Context) (chunk domain.Chunk, done bool, err error)
	Close() error
}

// MessageStore is the subset of the C4 dual repository the engine needs
// to persist TaskMessage rows while assembling a reply (original spec
// §4.6.2 steps 4-5).
type MessageStore interface {
	CreateMessage(ctx context.Context, taskID string, content domain.Content, status domain.StreamingStatus) (*domain.TaskMessage, error)
	UpdateMessageContent(ctx context.Context, id string, content domain.Content, status domain.StreamingStatus) (*domain.TaskMessage, error)
}

// indexState tracks one message index's progress through the stream
// (original spec §4.6.2 step 3: "Maintain per-index state: parent_message
// (once created), accumulator, completed?"). It lives on the Assemble
// call's stack; per original spec §5 it is never shared across requests.
type indexState struct {
	message   *domain.TaskMessage
	acc       *Accumulator
	completed bool
}

// Engine is the streaming message assembly engine (C6, second half).
type Engine struct {
	store MessageStore
}

// NewEngine builds an Engine persisting through store.
func NewEngine(store MessageStore) *Engine {
	return &Engine{store: store}
}

// Assemble drains src for taskID, persisting messages through the
// engine's MessageStore and invoking emit for each normalized
// TaskMessageUpdate in arrival order (original spec §4.6.2). emit may be
// nil: the message/send synchronous sub-path accumulates without
// emitting updates to the caller (original spec §4.6.2, "Synchronous
// sub-path" step 3).
//
// Assemble always closes src and always flushes indexes that never
// reached a terminal chunk before returning, even when src.Next or a
// chunk's processing fails or ctx is canceled — using a context detached
// from ctx's cancellation for that final flush, so a caller that
// abandons the stream still gets its partial replies persisted (original
// spec §5, "Cancellation and timeouts").
func (e *Engine) Assemble(ctx context.Context, taskID string, src ChunkSource, emit func(domain.TaskMessageUpdate) error) ([]*domain.TaskMessage, error) {
	defer func() { _ = src.Close() }()

	states := make(map[int]*indexState)
	var order []int

	loopErr := e.drain(ctx, taskID, src, states, &order, emit)

	flushCtx := context.WithoutCancel(ctx)
	for _, idx := range order {
		st := states[idx]
		if st.completed {
			continue
		}
		if err := e.flushIndex(flushCtx, taskID, st); err != nil {
			if loopErr == nil {
				loopErr = err
			}
			continue
		}
		st.completed = true
	}
	return e.finalMessages(states, order), loopErr
}

func (e *Engine) drain(ctx context.Context, taskID string, src ChunkSource, states map[int]*indexState, order *[]int, emit func(domain.TaskMessageUpdate) error) error {
	for {
		chunk, done, err := src.Next(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		st, ok := states[chunk.Index]
		if !ok {
			st = &indexState{acc: NewAccumulator()}
			states[chunk.Index] = st
			*order = append(*order, chunk.Index)
		}
		if st.completed {
			continue
		}
		if err := e.processChunk(ctx, taskID, chunk, st, emit); err != nil {
			return err
		}
	}
}

func (e *Engine) processChunk(ctx context.Context, taskID string, chunk domain.Chunk, st *indexState, emit func(domain.TaskMessageUpdate) error) error {
	switch chunk.Type {
	case domain.ChunkTypeStart:
		return e.handleStart(ctx, taskID, chunk, st, emit)
	case domain.ChunkTypeDelta:
		return e.handleDelta(ctx, taskID, chunk, st, emit)
	case domain.ChunkTypeFull:
		return e.handleFull(ctx, taskID, chunk, st, emit)
	case domain.ChunkTypeDone:
		return e.handleDoneCtx(ctx, taskID, chunk, st, emit)
	default:
		return domain.ClientError("assembly: unknown chunk type %q", chunk.Type)
	}
}

func (e *Engine) handleStart(ctx context.Context, taskID string, chunk domain.Chunk, st *indexState, emit func(domain.TaskMessageUpdate) error) error {
	content := domain.Content{Author: domain.AuthorAgent}
	if chunk.Content != nil {
		content = *chunk.Content
	}
	if st.message == nil {
		msg, err := e.store.CreateMessage(ctx, taskID, content, domain.StreamingStatusInProgress)
		if err != nil {
			return err
		}
		st.message = msg
	}
	return emitUpdate(emit, domain.TaskMessageUpdate{
		Type: domain.ChunkTypeStart, Index: chunk.Index, ParentMessageID: st.message.ID,
		Content: &content, StreamingStatus: domain.StreamingStatusInProgress,
	})
}

func (e *Engine) handleDelta(ctx context.Context, taskID string, chunk domain.Chunk, st *indexState, emit func(domain.TaskMessageUpdate) error) error {
	if chunk.Delta == nil {
		return domain.ClientError("assembly: DELTA chunk missing delta payload at index %d", chunk.Index)
	}
	if st.message == nil {
		// No START arrived first: synthesize one from the delta's empty
		// content (original spec §4.6.2, "Delta-to-content synthesis").
		seed := chunk.Delta.EmptyContent()
		msg, err := e.store.CreateMessage(ctx, taskID, seed, domain.StreamingStatusInProgress)
		if err != nil {
			return err
		}
		st.message = msg
		if err := emitUpdate(emit, domain.TaskMessageUpdate{
			Type: domain.ChunkTypeStart, Index: chunk.Index, ParentMessageID: msg.ID,
			Content: &seed, StreamingStatus: domain.StreamingStatusInProgress,
		}); err != nil {
			return err
		}
	}
	if err := st.acc.Add(*chunk.Delta); err != nil {
		return err
	}
	return emitUpdate(emit, domain.TaskMessageUpdate{
		Type: domain.ChunkTypeDelta, Index: chunk.Index, ParentMessageID: st.message.ID,
		Delta: chunk.Delta, StreamingStatus: domain.StreamingStatusInProgress,
	})
}

func (e *Engine) handleFull(ctx context.Context, taskID string, chunk domain.Chunk, st *indexState, emit func(domain.TaskMessageUpdate) error) error {
	if chunk.Content == nil {
		return domain.ClientError("assembly: FULL chunk missing content at index %d", chunk.Index)
	}
	var msg *domain.TaskMessage
	var err error
	if st.message == nil {
		msg, err = e.store.CreateMessage(ctx, taskID, *chunk.Content, domain.StreamingStatusDone)
	} else {
		msg, err = e.store.UpdateMessageContent(ctx, st.message.ID, *chunk.Content, domain.StreamingStatusDone)
	}
	if err != nil {
		return err
	}
	st.message = msg
	st.completed = true
	return emitUpdate(emit, domain.TaskMessageUpdate{
		Type: domain.ChunkTypeFull, Index: chunk.Index, ParentMessageID: msg.ID,
		Content: chunk.Content, StreamingStatus: domain.StreamingStatusDone,
	})
}

// handleDoneCtx flushes the accumulator synchronously in the caller's
// context, since a DONE chunk is a normal in-band completion, not a
// cancellation.
func (e *Engine) handleDoneCtx(ctx context.Context, taskID string, chunk domain.Chunk, st *indexState, emit func(domain.TaskMessageUpdate) error) error {
	if err := e.flushIndex(ctx, taskID, st); err != nil {
		return err
	}
	st.completed = true
	return emitUpdate(emit, domain.TaskMessageUpdate{
		Type: domain.ChunkTypeDone, Index: chunk.Index, ParentMessageID: st.message.ID,
		StreamingStatus: domain.StreamingStatusDone,
	})
}

// flushIndex persists the accumulator's final content to the index's
// parent message (creating it first if no START/DELTA ever arrived) and
// marks it DONE. A no-op if the index is already completed: the source
// may deliver both a FULL and a DONE for the same index (original spec
// §9, second Open Question), and the caller-cancellation flush pass may
// race with an in-flight DONE that already completed it.
func (e *Engine) flushIndex(ctx context.Context, taskID string, st *indexState) error {
	if st.completed {
		return nil
	}
	content, err := st.acc.Flush()
	if err != nil {
		return err
	}
	if st.message == nil {
		msg, err := e.store.CreateMessage(ctx, taskID, content, domain.StreamingStatusDone)
		if err != nil {
			return err
		}
		st.message = msg
		return nil
	}
	msg, err := e.store.UpdateMessageContent(ctx, st.message.ID, content, domain.StreamingStatusDone)
	if err != nil {
		return err
	}
	st.message = msg
	return nil
}

func (e *Engine) finalMessages(states map[int]*indexState, order []int) []*domain.TaskMessage {
	out := make([]*domain.TaskMessage, 0, len(order))
	for _, idx := range order {
		if st := states[idx]; st.message != nil {
			out = append(out, st.message)
		}
	}
	return out
}

func emitUpdate(emit func(domain.TaskMessageUpdate) error, u domain.TaskMessageUpdate) error {
	if emit == nil {
		return nil
	}
	return emit(u)
}
