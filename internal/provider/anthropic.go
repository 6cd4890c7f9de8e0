package provider

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicProvider implements Provider using the Anthropic native API.
type AnthropicProvider struct {
	client anthropic.Client
	model  ModelInfo
}

func NewAnthropicProvider(apiKey, model string, contextWindow int) *AnthropicProvider {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(anthropicoption.WithAPIKey(apiKey)),
		model:  LookupModel(model, contextWindow),
	}
}

func (p *AnthropicProvider) Name() string     { return "anthropic" }
func (p *AnthropicProvider) Model() ModelInfo { return p.model }

func (p *AnthropicProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = int64(p.model.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model.ID),
		Messages:  buildAnthropicMessages(req.Messages),
		MaxTokens: maxTokens,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	ch := make(chan Chunk, 16)
	go p.processStream(ctx, stream, ch)
	return ch, nil
}

// processStream reads the Anthropic SSE stream and emits chunks.
//
// Anthropic streaming event sequence:
//   - MessageStartEvent -> input and cache token usage
//   - ContentBlockDeltaEvent (TextDelta) -> text chunk
//   - MessageDeltaEvent -> output token usage
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], ch chan<- Chunk) {
	defer close(ch)
	defer stream.Close()

	for stream.Next() {
		select {
		case <-ctx.Done():
			ch <- Chunk{Type: ChunkError, Err: ctx.Err()}
			return
		default:
		}

		event := stream.Current()

		switch variant := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			u := variant.Message.Usage
			ch <- Chunk{Type: ChunkUsage, Usage: Usage{
				InputTokens:      int(u.InputTokens),
				CacheWriteTokens: int(u.CacheCreationInputTokens),
				CacheReadTokens:  int(u.CacheReadInputTokens),
			}}

		case anthropic.ContentBlockDeltaEvent:
			if d, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
				ch <- Chunk{Type: ChunkText, Text: d.Text}
			}

		case anthropic.MessageDeltaEvent:
			ch <- Chunk{Type: ChunkUsage, Usage: Usage{
				OutputTokens: int(variant.Usage.OutputTokens),
			}}
		}
	}

	if err := stream.Err(); err != nil {
		ch <- Chunk{Type: ChunkError, Err: fmt.Errorf("anthropic streaming error: %w", err)}
	}
}

// buildAnthropicMessages converts turns to Anthropic params. Tool use blocks
// are already present in the assistant text; tool results become text.
func buildAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	var params []anthropic.MessageParam

	for _, msg := range msgs {
		var blocks []anthropic.ContentBlockParamUnion

		for _, c := range msg.Content {
			switch c.Type {
			case ContentTypeText:
				if c.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(c.Text))
				}
			case ContentTypeImage:
				blocks = append(blocks, anthropic.NewImageBlockBase64(c.MediaType, c.Data))
			case ContentTypeToolResult:
				blocks = append(blocks, anthropic.NewTextBlock(flattenToolResult(c)))
			}
		}
		if len(blocks) == 0 {
			blocks = append(blocks, anthropic.NewTextBlock("(empty)"))
		}

		switch msg.Role {
		case RoleUser:
			params = append(params, anthropic.NewUserMessage(blocks...))
		case RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return params
}
