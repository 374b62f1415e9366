package domain

import "encoding/json"

// Author identifies who produced a Content value (original spec §3).
type Author string

const (
	AuthorUser  Author = "USER"
	AuthorAgent Author = "AGENT"
)

// ContentType discriminates the tagged Content union on the wire. The
// dispatcher rejects unknown discriminators rather than silently coercing
// them (original spec §9, "Dynamic polymorphism of content").
type ContentType string

const (
	ContentTypeText         ContentType = "TEXT"
	ContentTypeData         ContentType = "DATA"
	ContentTypeToolRequest  ContentType = "TOOL_REQUEST"
	ContentTypeToolResponse ContentType = "TOOL_RESPONSE"
	ContentTypeReasoning    ContentType = "REASONING"
)

// Content is the tagged variant persisted on TaskMessage and Event rows. Only
// the field matching Type is meaningful; the others are zero-valued. This
// mirrors the shape of runtime/a2a/types.MessagePart from the teacher (a
// discriminated union over Type), generalized to the five content kinds the
// spec requires instead of text/data/file.
type Content struct {
	Type   ContentType `json:"type" bson:"type"`
	Author Author      `json:"author" bson:"author"`

	// TEXT
	Text string `json:"text,omitempty" bson:"text,omitempty"`

	// DATA
	Data map[string]any `json:"data,omitempty" bson:"data,omitempty"`

	// TOOL_REQUEST / TOOL_RESPONSE
	ToolCallID string `json:"tool_call_id,omitempty" bson:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty" bson:"tool_name,omitempty"`
	// Arguments holds the TOOL_REQUEST payload.
	Arguments map[string]any `json:"arguments,omitempty" bson:"arguments,omitempty"`
	// ToolContent holds the TOOL_RESPONSE payload.
	ToolContent string `json:"tool_content,omitempty" bson:"tool_content,omitempty"`

	// REASONING
	ReasoningContent []string `json:"reasoning_content,omitempty" bson:"reasoning_content,omitempty"`
	ReasoningSummary []string `json:"reasoning_summary,omitempty" bson:"reasoning_summary,omitempty"`
}

// Validate rejects unknown discriminators. It checks only Type; the variant
// fields are not checked against it.
func (c Content) Validate() error {
	switch c.Type {
	case ContentTypeText, ContentTypeData, ContentTypeToolRequest, ContentTypeToolResponse, ContentTypeReasoning:
		return nil
	default:
		return ClientError("unknown content type %q", c.Type)
	}
}

// DeltaType discriminates the in-transit-only delta union (original spec
// §3, "Delta variants").
type DeltaType string

const (
	DeltaTypeText             DeltaType = "TEXT"
	DeltaTypeData             DeltaType = "DATA"
	DeltaTypeToolRequest      DeltaType = "TOOL_REQUEST"
	DeltaTypeToolResponse     DeltaType = "TOOL_RESPONSE"
	DeltaTypeReasoningContent DeltaType = "REASONING_CONTENT"
	DeltaTypeReasoningSummary DeltaType = "REASONING_SUMMARY"
)

// ContentType maps a DeltaType to the persisted ContentType it accumulates
// into, per the flush rules in original spec §4.6.2.
func (d DeltaType) ContentType() ContentType {
	switch d {
	case DeltaTypeText:
		return ContentTypeText
	case DeltaTypeData:
		return ContentTypeData
	case DeltaTypeToolRequest:
		return ContentTypeToolRequest
	case DeltaTypeToolResponse:
		return ContentTypeToolResponse
	case DeltaTypeReasoningContent, DeltaTypeReasoningSummary:
		return ContentTypeReasoning
	default:
		return ""
	}
}

// Delta is a partial content fragment emitted during streaming, keyed by an
// index identifying which reply message it contributes to (GLOSSARY).
type Delta struct {
	Type DeltaType `json:"type"`

	// TEXT
	TextDelta string `json:"text_delta,omitempty"`

	// DATA
	DataDelta string `json:"data_delta,omitempty"`

	// TOOL_REQUEST
	ToolCallID    string `json:"tool_call_id,omitempty"`
	Name          string `json:"name,omitempty"`
	ArgumentsDelta string `json:"arguments_delta,omitempty"`

	// TOOL_RESPONSE / REASONING_CONTENT
	ContentDelta string `json:"content_delta,omitempty"`

	// REASONING_SUMMARY
	SummaryDelta string `json:"summary_delta,omitempty"`
}

// EmptyContent builds the initial, empty Content value a delta of this type
// seeds on first arrival (original spec §4.6.2, "Delta-to-content
// synthesis"). Scalar identifiers from the first delta (tool_call_id, name)
// are carried over.
func (d Delta) EmptyContent() Content {
	c := Content{Type: d.Type.ContentType(), Author: AuthorAgent}
	switch d.Type {
	case DeltaTypeToolRequest:
		c.ToolCallID = d.ToolCallID
		c.ToolName = d.Name
		c.Arguments = map[string]any{}
	case DeltaTypeToolResponse:
		c.ToolCallID = d.ToolCallID
		c.ToolName = d.Name
	case DeltaTypeData:
		c.Data = map[string]any{}
	}
	return c
}

// ChunkType discriminates inbound streaming chunks multiplexed by message
// index (original spec §2 component C6, "start, delta, full, done").
type ChunkType string

const (
	ChunkTypeStart ChunkType = "START"
	ChunkTypeDelta ChunkType = "DELTA"
	ChunkTypeFull  ChunkType = "FULL"
	ChunkTypeDone  ChunkType = "DONE"
)

// Chunk is a single frame of the multiplexed agent reply stream, as decoded
// from the ACP proxy's ndjson body.
type Chunk struct {
	Type  ChunkType `json:"type"`
	Index int       `json:"index"`

	// START carries the initial content for the index; FULL carries the
	// complete content for the index (bypassing deltas).
	Content *Content `json:"content,omitempty"`
	// DELTA carries a partial fragment.
	Delta *Delta `json:"delta,omitempty"`
}

// TaskMessageUpdate is the normalized, caller-facing stream element the
// assembly engine republishes with a stable parent message id attached
// (original spec §2 component C6).
type TaskMessageUpdate struct {
	Type            ChunkType       `json:"type"`
	Index           int             `json:"index"`
	ParentMessageID string          `json:"parent_message_id"`
	Content         *Content        `json:"content,omitempty"`
	Delta           *Delta          `json:"delta,omitempty"`
	StreamingStatus StreamingStatus `json:"streaming_status,omitempty"`
}

// RawJSON is a convenience alias used where a component needs to pass an
// opaque structured blob through without interpreting it (original spec §3,
// "params", "task_metadata").
type RawJSON = json.RawMessage
