// Package provider defines the model client contract used by the task loop
// and its Anthropic and OpenAI-compatible adapters.
//
// The loop speaks XML tool use, so adapters only stream text. Tool use and
// tool result blocks are kept in the history for pairing and are flattened to
// text when sent to the API.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// ── Conversation turns ────────────────────────────────────────────────────────

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeImage      ContentType = "image"
	ContentTypeToolUse    ContentType = "tool_use"
	ContentTypeToolResult ContentType = "tool_result"
)

// Content is one block of a turn.
type Content struct {
	Type ContentType `json:"type"`
	Text string      `json:"text,omitempty"`

	// image
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	// tool_use / tool_result
	ToolUseID  string            `json:"tool_use_id,omitempty"`
	ToolName   string            `json:"name,omitempty"`
	ToolInput  map[string]string `json:"input,omitempty"`
	ToolResult string            `json:"content,omitempty"`
	IsError    bool              `json:"is_error,omitempty"`
}

// TextContent returns a text block.
func TextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}

// ImageContent builds an image block from a data URL
// ("data:image/png;base64,...").
func ImageContent(dataURL string) Content {
	mediaType, data := "image/png", dataURL
	if rest, ok := strings.CutPrefix(dataURL, "data:"); ok {
		if meta, payload, found := strings.Cut(rest, ","); found {
			mediaType = strings.TrimSuffix(meta, ";base64")
			data = payload
		}
	}
	return Content{Type: ContentTypeImage, MediaType: mediaType, Data: data}
}

// ToolResultContent answers the tool_use block with id.
func ToolResultContent(id, name, result string, isError bool) Content {
	return Content{Type: ContentTypeToolResult, ToolUseID: id, ToolName: name, ToolResult: result, IsError: isError}
}

// Message is one turn of the model-facing history.
type Message struct {
	Role    Role      `json:"role"`
	Content []Content `json:"content"`
}

// ToolUses returns the tool_use blocks of m.
func (m Message) ToolUses() []Content {
	var out []Content
	for _, c := range m.Content {
		if c.Type == ContentTypeToolUse {
			out = append(out, c)
		}
	}
	return out
}

// ToolResults returns the tool_result blocks of m.
func (m Message) ToolResults() []Content {
	var out []Content
	for _, c := range m.Content {
		if c.Type == ContentTypeToolResult {
			out = append(out, c)
		}
	}
	return out
}

// flattenToolResult renders a tool_result block as the text the model sees.
func flattenToolResult(c Content) string {
	return fmt.Sprintf("[%s] Result:\n%s", c.ToolName, c.ToolResult)
}

// ── Streaming ─────────────────────────────────────────────────────────────────

type ChunkType int

const (
	// ChunkText carries a text delta.
	ChunkText ChunkType = iota
	// ChunkUsage carries token counts for the request so far.
	ChunkUsage
	// ChunkError ends the stream with an error.
	ChunkError
)

// Usage is the token accounting reported by the API.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheWriteTokens int
	CacheReadTokens  int
	// TotalCost is set when the API reports the dollar cost itself.
	TotalCost *float64
}

// Chunk is one element of a response stream.
type Chunk struct {
	Type  ChunkType
	Text  string
	Usage Usage
	Err   error
}

// Request is what the loop sends for one model turn.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
}

// ModelInfo describes the model a provider talks to.
type ModelInfo struct {
	ID            string
	ContextWindow int
	MaxTokens     int
}

// Provider is a streaming model client.
type Provider interface {
	// Stream starts a request. The channel yields text and usage chunks and
	// is closed when the response ends; a failure is delivered as a final
	// ChunkError. Callers must drain the channel.
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)

	// Name returns the provider identifier, e.g. "anthropic", "deepseek".
	Name() string

	// Model returns the model in use.
	Model() ModelInfo
}
