// Package aisdk provides the provider-neutral language model abstraction: call options,
// results, the streamed chunk protocol and middleware composition.
package aisdk

import (
	"encoding/json"

	jsonschema "github.com/swaggest/jsonschema-go"
)

// ChunkType tags a streamed chunk.
type ChunkType string

const (
	ChunkStreamStart      ChunkType = "stream-start"
	ChunkResponseMetadata ChunkType = "response-metadata"
	ChunkTextStart        ChunkType = "text-start"
	ChunkTextDelta        ChunkType = "text-delta"
	ChunkTextEnd          ChunkType = "text-end"
	ChunkToolInputStart   ChunkType = "tool-input-start"
	ChunkToolInputDelta   ChunkType = "tool-input-delta"
	ChunkToolInputEnd     ChunkType = "tool-input-end"
	ChunkToolCall         ChunkType = "tool-call"
	ChunkToolResult       ChunkType = "tool-result"
	ChunkFinish           ChunkType = "finish"
	ChunkError            ChunkType = "error"
)

// FinishReason describes why the model stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content-filter"
	FinishToolCalls     FinishReason = "tool-calls"
	FinishError         FinishReason = "error"
	FinishOther         FinishReason = "other"
	FinishUnknown       FinishReason = "unknown"
)

// Chunk is one unit of a model's streamed output. Which fields are set depends on Type.
type Chunk struct {
	Type ChunkType `json:"type"`

	// ID identifies the text span or tool input a start/delta/end chunk belongs to.
	ID    string `json:"id,omitempty"`
	Delta string `json:"delta,omitempty"`

	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	// Input is the stringified JSON arguments of a tool call, possibly empty.
	Input   string          `json:"input,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	IsError bool            `json:"isError,omitempty"`

	Usage        *Usage       `json:"usage,omitempty"`
	FinishReason FinishReason `json:"finishReason,omitempty"`

	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	ModelID  string   `json:"modelId,omitempty"`

	// Raw carries provider specific payloads for chunk types this package does not model.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Clone returns a deep copy of the chunk.
func (c *Chunk) Clone() *Chunk {
	if c == nil {
		return nil
	}
	out := *c
	if c.Result != nil {
		out.Result = append(json.RawMessage(nil), c.Result...)
	}
	if c.Raw != nil {
		out.Raw = append(json.RawMessage(nil), c.Raw...)
	}
	if c.Warnings != nil {
		out.Warnings = append([]string(nil), c.Warnings...)
	}
	if c.Usage != nil {
		u := *c.Usage
		out.Usage = &u
	}
	return &out
}

// Usage represents token usage information.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	TotalTokens  int64 `json:"totalTokens"`
}

// IsZero reports whether no tokens were counted.
func (u *Usage) IsZero() bool {
	return u == nil || (u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0)
}

// Message represents a single message in a prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Name is required for tool responses to identify the function
	Name string `json:"name,omitempty"`
	// ToolCallID is required for tool responses to reference the original call
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolCalls contains function calls requested by the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall represents a function call request from the model.
type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"` // JSON Schema for parameters
}

// CallOptions holds the parameters of one model invocation.
type CallOptions struct {
	Prompt          []*Message     `json:"prompt"`
	Temperature     *float64       `json:"temperature,omitempty"`
	TopP            *float64       `json:"top_p,omitempty"`
	MaxOutputTokens *int           `json:"max_output_tokens,omitempty"`
	Stop            []string       `json:"stop,omitempty"`
	Tools           []*Tool        `json:"tools,omitempty"`
	ToolChoice      string         `json:"tool_choice,omitempty"` // "auto", "none", or specific tool
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// MetadataString returns a string metadata value, or "" when absent.
func (o *CallOptions) MetadataString(key string) string {
	if o == nil || o.Metadata == nil {
		return ""
	}
	v, _ := o.Metadata[key].(string)
	return v
}

// LastUserMessage returns the final message of the prompt if it has the user role.
func (o *CallOptions) LastUserMessage() *Message {
	if o == nil || len(o.Prompt) == 0 {
		return nil
	}
	last := o.Prompt[len(o.Prompt)-1]
	if last == nil || last.Role != "user" {
		return nil
	}
	return last
}

// ContentType tags a part of a non-streaming result.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentToolCall   ContentType = "tool-call"
	ContentToolResult ContentType = "tool-result"
)

// Content is one part of a GenerateResult.
type Content struct {
	Type       ContentType     `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      string          `json:"input,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
}

// GenerateResult is the outcome of a non-streaming call.
type GenerateResult struct {
	Content      []Content    `json:"content"`
	FinishReason FinishReason `json:"finishReason"`
	Usage        Usage        `json:"usage"`
	Warnings     []string     `json:"warnings,omitempty"`
	ModelID      string       `json:"modelId,omitempty"`
}

// Text concatenates the text parts of the result.
func (r *GenerateResult) Text() string {
	var out string
	for _, c := range r.Content {
		if c.Type == ContentText {
			out += c.Text
		}
	}
	return out
}

// StreamResult is the outcome of a streaming call.
type StreamResult struct {
	Stream ChunkStream

	// Optional: Metadata about the stream
	RequestID string
}
