// Package streaming publishes and subscribes to per-task status updates
// over Pulse streams, backing the SSE surface at GET /streams/tasks/{id}
// (original spec §6). Grounded on features/stream/pulse/{sink,subscriber}.go,
// generalized from the agent runtime's hook-event vocabulary (tool_end,
// assistant_reply, ...) to the single task_updated envelope the control
// plane needs; features/stream/pulse/clients/pulse/client.go is reused
// unchanged as the underlying Redis/Pulse wrapper.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/features/stream/pulse/clients/pulse"
)

// TaskUpdated is the frame published on a task's topic and read back by the
// SSE handler (original spec §6: `{"type":"task_updated","task":…}`).
type TaskUpdated struct {
	Type string       `json:"type"`
	Task *domain.Task `json:"task"`
}

// Topic publishes and subscribes to one task's status-update stream, named
// "task:<task_id>" so every SSE connection for that task shares the same
// Pulse stream but gets its own consumer group (original spec §6, "fans
// back... a live token stream" generalized to a status stream).
type Topic struct {
	client pulse.Client
}

// NewTopic builds a Topic over client.
func NewTopic(client pulse.Client) *Topic {
	return &Topic{client: client}
}

func streamName(taskID string) string {
	return fmt.Sprintf("task:%s", taskID)
}

// Publish writes a task_updated frame for task. Best-effort: callers should
// log, not fail, a Publish error — pub/sub delivery never gates the RPC
// response that triggered the status change (original spec §5, "the
// authoritative write's return value defines observable state").
func (t *Topic) Publish(ctx context.Context, task *domain.Task) error {
	handle, err := t.client.Stream(streamName(task.ID))
	if err != nil {
		return err
	}
	payload, err := json.Marshal(TaskUpdated{Type: "task_updated", Task: task})
	if err != nil {
		return err
	}
	_, err = handle.Add(ctx, "task_updated", payload)
	return err
}

// Subscribe opens an independent consumer group on task's topic and returns
// a channel of decoded frames, an error channel, and a cancel func that
// stops consumption and closes the sink. Every call gets its own consumer
// group (named with a random suffix) so concurrent SSE viewers of the same
// task each see every update, rather than competing for one.
func (t *Topic) Subscribe(ctx context.Context, taskID string) (<-chan TaskUpdated, <-chan error, context.CancelFunc, error) {
	str, err := t.client.Stream(streamName(taskID))
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, "sse-"+uuid.NewString())
	if err != nil {
		return nil, nil, nil, err
	}
	out := make(chan TaskUpdated, 16)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go t.consume(runCtx, sink, out, errs)
	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return out, errs, cancelFunc, nil
}

func (t *Topic) consume(ctx context.Context, sink pulse.Sink, out chan<- TaskUpdated, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			var decoded TaskUpdated
			if err := json.Unmarshal(evt.Payload, &decoded); err != nil {
				errs <- fmt.Errorf("streaming: decode task update: %w", err)
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if ackErr := sink.Ack(ctx, evt); ackErr != nil {
				errs <- fmt.Errorf("streaming: ack task update: %w", ackErr)
				return
			}
		}
	}
}
