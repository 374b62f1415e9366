package acp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/telemetry"
)

const meterScope = "github.com/agentflow/acpctl/acp"

// Defaults for the outbound HTTP call, per original spec §5
// "Cancellation and timeouts": 60s overall, 10s to establish the
// connection.
const (
	DefaultTimeout        = 60 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// APIKeys resolves the internal API key the proxy attaches to every
// outbound call to an agent's ACP endpoint (original spec §4.5,
// "Authentication").
type APIKeys interface {
	AgentAPIKey(ctx context.Context, agentID string) (string, error)
}

// Client is the outbound JSON-RPC 2.0 client over HTTP implementing C5
// (original spec §4.5), grounded on runtime/a2a/httpclient/client.go's
// request/response envelope shape, extended with a streaming (ndjson) call
// mode the teacher's client doesn't have.
type Client struct {
	http            *http.Client
	keys            APIKeys
	requestIDHeader string
	logger          telemetry.Logger
	metrics         telemetry.Metrics
	limiter         *rate.Limiter
}

// Options configures a Client. HTTPClient, when nil, is built with
// DefaultTimeout/DefaultConnectTimeout and a connection pool shared across
// all calls the Client makes (original spec §5, "HTTP connection pools are
// shared across requests").
type Options struct {
	HTTPClient      *http.Client
	Keys            APIKeys
	RequestIDHeader string // defaults to "x-request-id" (original spec §6)

	// RateLimit, when positive, caps the outbound rate of Call/Stream
	// requests across all agents sharing this Client (original spec §5,
	// "a well-behaved proxy does not hammer a struggling agent"). Zero
	// disables limiting.
	RateLimit float64
	RateBurst int
}

// New builds a Client.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: DefaultConnectTimeout,
				}).DialContext,
				MaxIdleConns:        256,
				MaxIdleConnsPerHost: 64,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	header := opts.RequestIDHeader
	if header == "" {
		header = "x-request-id"
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &Client{
		http:            httpClient,
		keys:            opts.Keys,
		requestIDHeader: header,
		logger:          telemetry.NewLogger(),
		metrics:         telemetry.NewMetrics(meterScope),
		limiter:         limiter,
	}
}

// wait blocks until the rate limiter admits the next outbound call, or
// returns ctx's error if it's canceled first. A nil limiter never blocks.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.ServiceError(err, "acp: rate limit wait")
	}
	return nil
}

// requestID picks the caller-propagated correlation id when present,
// otherwise mints one from the envelope id (original spec §4.5,
// "Authentication": "preferring a caller-propagated value when present").
func requestID(propagated, fallback string) string {
	if propagated != "" {
		return propagated
	}
	return fallback
}

func (c *Client) newRequest(ctx context.Context, agent *domain.Agent, method string, body []byte, accept, propagatedRequestID string, extraHeaders http.Header) (*http.Request, error) {
	url := agent.ACPURL + "/api"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, domain.ServiceError(err, "acp: build request for %s", method)
	}
	ApplyTo(req, extraHeaders)
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set(c.requestIDHeader, requestID(propagatedRequestID, NewEnvelopeID(method, "")+"-"+randomSuffix()))
	if c.keys != nil {
		key, err := c.keys.AgentAPIKey(ctx, agent.ID)
		if err != nil {
			return nil, domain.ServiceError(err, "acp: resolve api key for agent %s", agent.ID)
		}
		if key != "" {
			req.Header.Set("x-agent-api-key", key)
		}
	}
	return req, nil
}

// Call performs the synchronous mode: a single POST, returning the parsed
// result map or a domain error built from the envelope's error object
// (original spec §4.5, "Synchronous mode").
func (c *Client) Call(ctx context.Context, agent *domain.Agent, method, taskID string, params any, requestID string, extraHeaders http.Header) (map[string]any, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	env := NewEnvelope(method, taskID, params)
	body, err := json.Marshal(env)
	if err != nil {
		return nil, domain.ServiceError(err, "acp: marshal envelope for %s", method)
	}
	req, err := c.newRequest(ctx, agent, method, body, "application/json", requestID, extraHeaders)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.RecordTimer("acp.call.duration", time.Since(start), "method", method)
	if err != nil {
		c.failTimeout(ctx, method, err)
		return nil, domain.ServiceError(err, "acp: call %s failed", method)
	}
	defer func() { _ = resp.Body.Close() }()

	var respEnv responseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&respEnv); err != nil {
		return nil, domain.ServiceError(err, "acp: decode response for %s", method)
	}
	if respEnv.ID != "" && respEnv.ID != env.ID {
		return nil, domain.ServiceError(nil, "acp: response id %q does not match request id %q", respEnv.ID, env.ID)
	}
	if respEnv.Error != nil {
		return nil, translateRPCError(respEnv.Error)
	}
	var result map[string]any
	if len(respEnv.Result) > 0 {
		if err := json.Unmarshal(respEnv.Result, &result); err != nil {
			return nil, domain.ServiceError(err, "acp: unmarshal result for %s", method)
		}
	}
	return result, nil
}

// failTimeout reports a distinguishable metric for a timed-out call so
// operators can tell a slow agent apart from a hard connection failure;
// the caller (dispatcher) is responsible for marking the task FAILED
// (original spec §5, "ACP HTTP calls carry a fixed timeout... On timeout,
// the task is marked FAILED").
func (c *Client) failTimeout(ctx context.Context, method string, err error) {
	if e, ok := err.(interface{ Timeout() bool }); ok && e.Timeout() {
		c.metrics.IncCounter("acp.call.timeout", 1, "method", method)
		return
	}
	c.metrics.IncCounter("acp.call.error", 1, "method", method)
}

func translateRPCError(e *rpcError) error {
	switch e.Code {
	case -32602, -32601, -32600:
		return domain.ClientError("acp: %s", e.Message)
	default:
		return domain.ServiceError(fmt.Errorf("acp error %d: %s", e.Code, e.Message), "acp: agent returned an error")
	}
}

// Stream performs the streaming mode: a single POST with
// Accept: application/x-ndjson, returning a ResultStream the caller reads
// frame by frame and must Close on every exit path (original spec §4.5,
// "Streaming mode").
func (c *Client) Stream(ctx context.Context, agent *domain.Agent, method, taskID string, params any, requestID string, extraHeaders http.Header) (*ResultStream, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	env := NewEnvelope(method, taskID, params)
	body, err := json.Marshal(env)
	if err != nil {
		return nil, domain.ServiceError(err, "acp: marshal envelope for %s", method)
	}
	req, err := c.newRequest(ctx, agent, method, body, "application/x-ndjson", requestID, extraHeaders)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.failTimeout(ctx, method, err)
		return nil, domain.ServiceError(err, "acp: stream %s failed", method)
	}
	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		return nil, domain.ServiceError(fmt.Errorf("http status %d", resp.StatusCode), "acp: stream %s failed", method)
	}
	return newResultStream(resp, env.ID, c.metrics, method), nil
}

// ResultStream yields each result payload from a streamed ACP response in
// order. The underlying connection is returned to the pool on Close, which
// must be called on every exit path: success, error, or caller
// cancellation (original spec §4.5, §5 "Cancellation and timeouts").
type ResultStream struct {
	resp     *http.Response
	scanner  *bufio.Scanner
	wantID   string
	closed   bool
	metrics  telemetry.Metrics
	method   string
}

func newResultStream(resp *http.Response, wantID string, metrics telemetry.Metrics, method string) *ResultStream {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	return &ResultStream{resp: resp, scanner: scanner, wantID: wantID, metrics: metrics, method: method}
}

// Next reads the next frame, returning (payload, false, nil) for each
// result, or (nil, true, nil) once the stream is exhausted. A malformed
// frame or a mismatched response id is a hard error (original spec §4.5,
// "Responses must echo the id exactly; mismatch is a hard error").
func (s *ResultStream) Next(ctx context.Context) (json.RawMessage, bool, error) {
	if s.closed {
		return nil, true, nil
	}
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var env responseEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			return nil, false, domain.ServiceError(err, "acp: decode stream frame")
		}
		if env.ID != "" && env.ID != s.wantID {
			return nil, false, domain.ServiceError(nil, "acp: stream frame id %q does not match request id %q", env.ID, s.wantID)
		}
		if env.Error != nil {
			return nil, false, translateRPCError(env.Error)
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		default:
		}
		return env.Result, false, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, false, domain.ServiceError(err, "acp: read stream for %s", s.method)
	}
	return nil, true, nil
}

// Close returns the connection to the pool. Safe to call more than once.
func (s *ResultStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.resp.Body.Close()
}

var randSuffixCounter uint64

// randomSuffix adds entropy to the minted request id when no caller id was
// propagated, so concurrent calls for the same method/task don't collide in
// logs. Not a security token; just a disambiguator.
func randomSuffix() string {
	n := atomic.AddUint64(&randSuffixCounter, 1)
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), n)
}
