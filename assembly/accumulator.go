// Package assembly implements the streaming message assembly engine (C6's
// second half, original spec §2 component C6 and §4.6.2): it receives a
// multiplexed stream of typed chunks keyed by message index, assembles
// deltas into complete content, and republishes a normalized update stream
// with stable parent-message identifiers. The coroutine-flow design
// (original spec §9) generalizes the event vocabulary of the teacher's
// deleted agent-side runtime/agent/stream/stream.go (credited, not
// copied — that package modeled hook events for a running agent, not an
// inbound multiplexed reply).
package assembly

import (
	"encoding/json"
	"strings"

	"github.com/agentflow/acpctl/domain"
)

// Accumulator collects deltas for a single message index until a flush
// rule (original spec §4.6.2, "Accumulator flush rules per delta type")
// turns them into a final domain.Content. All deltas fed to one
// Accumulator must share a single DeltaType (original spec §3
// invariants); Add rejects a mismatched type as a ClientError.
type Accumulator struct {
	deltaType     domain.DeltaType
	toolCallID    string
	toolName      string
	textParts     []string
	dataParts     []string
	argsParts     []string
	contentParts  []string
	reasonParts   []string
	started       bool
}

// NewAccumulator builds an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Add appends one delta's fragment. The first call fixes the
// Accumulator's DeltaType and carries over any scalar identifiers
// (tool_call_id, name); every subsequent call must use the same type.
func (a *Accumulator) Add(d domain.Delta) error {
	if !a.started {
		a.started = true
		a.deltaType = d.Type
		a.toolCallID = d.ToolCallID
		a.toolName = d.Name
	} else if a.deltaType != d.Type {
		return domain.ClientError("assembly: mixed delta types %q and %q for one message index", a.deltaType, d.Type)
	}
	switch d.Type {
	case domain.DeltaTypeText:
		a.textParts = append(a.textParts, d.TextDelta)
	case domain.DeltaTypeData:
		a.dataParts = append(a.dataParts, d.DataDelta)
	case domain.DeltaTypeToolRequest:
		a.argsParts = append(a.argsParts, d.ArgumentsDelta)
	case domain.DeltaTypeToolResponse:
		a.contentParts = append(a.contentParts, d.ContentDelta)
	case domain.DeltaTypeReasoningContent:
		a.reasonParts = append(a.reasonParts, d.ContentDelta)
	case domain.DeltaTypeReasoningSummary:
		a.reasonParts = append(a.reasonParts, d.SummaryDelta)
	default:
		return domain.ClientError("assembly: unknown delta type %q", d.Type)
	}
	return nil
}

// Empty reports whether the accumulator has never received a delta (and
// so has no DeltaType fixed yet).
func (a *Accumulator) Empty() bool { return !a.started }

// DeltaType reports the accumulator's fixed delta type, or "" if Empty.
func (a *Accumulator) DeltaType() domain.DeltaType { return a.deltaType }

// Flush concatenates and parses the accumulated fragments into a final
// domain.Content per original spec §4.6.2's per-type rule. Calling Flush
// on an Empty accumulator returns the zero Content.
func (a *Accumulator) Flush() (domain.Content, error) {
	if a.Empty() {
		return domain.Content{}, nil
	}
	c := domain.Content{Type: a.deltaType.ContentType(), Author: domain.AuthorAgent}
	switch a.deltaType {
	case domain.DeltaTypeText:
		c.Text = strings.Join(a.textParts, "")
	case domain.DeltaTypeData:
		raw := strings.Join(a.dataParts, "")
		data, err := parseJSONObject(raw)
		if err != nil {
			return domain.Content{}, domain.ClientError("assembly: malformed DATA delta json: %v", err)
		}
		c.Data = data
	case domain.DeltaTypeToolRequest:
		raw := strings.Join(a.argsParts, "")
		args, err := parseJSONObject(raw)
		if err != nil {
			return domain.Content{}, domain.ClientError("assembly: malformed TOOL_REQUEST arguments json: %v", err)
		}
		c.ToolCallID = a.toolCallID
		c.ToolName = a.toolName
		c.Arguments = args
	case domain.DeltaTypeToolResponse:
		c.ToolCallID = a.toolCallID
		c.ToolName = a.toolName
		c.ToolContent = strings.Join(a.contentParts, "")
	case domain.DeltaTypeReasoningContent:
		c.ReasoningContent = []string{strings.Join(a.reasonParts, "")}
	case domain.DeltaTypeReasoningSummary:
		c.ReasoningSummary = []string{strings.Join(a.reasonParts, "")}
	}
	return c, nil
}

func parseJSONObject(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}
