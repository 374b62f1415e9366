package dispatch

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/agentflow/acpctl/acp"
	"github.com/agentflow/acpctl/domain"
)

// RawStream is the subset of *acp.ResultStream the dispatcher depends on;
// kept as an interface (rather than importing the concrete type into ACP's
// signature) so tests can substitute a fake stream of raw frames.
type RawStream interface {
	Next(ctx context.Context) (json.RawMessage, bool, error)
	Close() error
}

// ACP is the subset of *acp.Client the dispatcher calls, narrowed to what
// task/create, task/cancel, event/send (Call) and message/send (Stream)
// need (original spec §4.5, consumed from §4.6).
type ACP interface {
	Call(ctx context.Context, agent *domain.Agent, method, taskID string, params any, requestID string, extraHeaders http.Header) (map[string]any, error)
	Stream(ctx context.Context, agent *domain.Agent, method, taskID string, params any, requestID string, extraHeaders http.Header) (RawStream, error)
}

// NewACP adapts a *acp.Client to the ACP interface.
func NewACP(client *acp.Client) ACP { return acpAdapter{client} }

type acpAdapter struct{ client *acp.Client }

func (a acpAdapter) Call(ctx context.Context, agent *domain.Agent, method, taskID string, params any, requestID string, extraHeaders http.Header) (map[string]any, error) {
	return a.client.Call(ctx, agent, method, taskID, params, requestID, extraHeaders)
}

func (a acpAdapter) Stream(ctx context.Context, agent *domain.Agent, method, taskID string, params any, requestID string, extraHeaders http.Header) (RawStream, error) {
	s, err := a.client.Stream(ctx, agent, method, taskID, params, requestID, extraHeaders)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// chunkSource adapts a RawStream of json.RawMessage result frames into the
// assembly package's ChunkSource, decoding each frame as a domain.Chunk
// (original spec §4.6.2, the ACP stream is "a sequence of typed chunks").
type chunkSource struct {
	raw RawStream
}

func newChunkSource(raw RawStream) *chunkSource { return &chunkSource{raw: raw} }

func (c *chunkSource) Next(ctx context.Context) (domain.Chunk, bool, error) {
	raw, done, err := c.raw.Next(ctx)
	if err != nil || done {
		return domain.Chunk{}, done, err
	}
	var chunk domain.Chunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return domain.Chunk{}, false, domain.ClientError("dispatch: malformed chunk: %v", err)
	}
	return chunk, false, nil
}

func (c *chunkSource) Close() error { return c.raw.Close() }
