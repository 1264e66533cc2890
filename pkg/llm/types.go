// Package llm is a client for Claude-compatible Messages endpoints.
// It supports vision blocks, structured tool use, and SSE streaming, with
// retry on transient failures and a per-request timeout and token budget.
package llm

import "encoding/json"

// Role values for conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block types on the Messages wire format.
const (
	BlockText       = "text"
	BlockImage      = "image"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ImageSource is a base64 inline image payload.
type ImageSource struct {
	Type      string `json:"type"` // always "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ContentBlock is one block of a message. Fields are populated per Type.
type ContentBlock struct {
	Type string `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockImage
	Source *ImageSource `json:"source,omitempty"`

	// BlockToolUse
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// BlockToolResult
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageBlock builds a base64 PNG image block.
func ImageBlock(base64PNG string) ContentBlock {
	return ContentBlock{
		Type:   BlockImage,
		Source: &ImageSource{Type: "base64", MediaType: "image/png", Data: base64PNG},
	}
}

// ToolResultBlock builds a tool_result block for a prior tool_use id.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is one conversation turn.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UserMessage builds a user turn from blocks.
func UserMessage(blocks ...ContentBlock) Message {
	return Message{Role: RoleUser, Content: blocks}
}

// AssistantMessage builds an assistant turn from blocks.
func AssistantMessage(blocks ...ContentBlock) Message {
	return Message{Role: RoleAssistant, Content: blocks}
}

// Tool describes a capability offered to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolChoice forces the model to emit a specific tool call.
type ToolChoice struct {
	Type string `json:"type"` // "auto", "any", "tool"
	Name string `json:"name,omitempty"`
}

// Request is one Messages call.
type Request struct {
	System      string
	Messages    []Message
	Tools       []Tool
	ToolChoice  *ToolChoice
	MaxTokens   int
	Temperature float64
}

// Usage is token accounting reported by the endpoint.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a complete (non-streaming) Messages result.
type Response struct {
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// FirstToolUse returns the first tool_use block, or nil.
func (r *Response) FirstToolUse() *ContentBlock {
	for i := range r.Content {
		if r.Content[i].Type == BlockToolUse {
			return &r.Content[i]
		}
	}
	return nil
}

// Text concatenates all text blocks.
func (r *Response) TextContent() string {
	var out string
	for _, b := range r.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() string
}

// TextChunk is a delta of assistant text.
type TextChunk struct{ Text string }

// ToolUseChunk is a fully-accumulated tool call (emitted at block stop).
type ToolUseChunk struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// UsageChunk carries final token accounting and the stop reason.
type UsageChunk struct {
	Usage      Usage
	StopReason string
}

// ErrorChunk terminates a stream with a failure.
type ErrorChunk struct{ Err error }

func (TextChunk) chunkType() string    { return "text" }
func (ToolUseChunk) chunkType() string { return "tool_use" }
func (UsageChunk) chunkType() string   { return "usage" }
func (ErrorChunk) chunkType() string   { return "error" }
