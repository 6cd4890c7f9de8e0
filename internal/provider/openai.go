package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenAIProvider implements Provider for all OpenAI-compatible APIs,
// including OpenAI, DeepSeek, MiniMax, Kimi, Qwen, etc.
type OpenAIProvider struct {
	client  openai.Client
	model   ModelInfo
	name    string
	baseURL string
}

func NewOpenAIProvider(apiKey, baseURL, model string, contextWindow int) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAIProvider{
		client:  openai.NewClient(opts...),
		model:   LookupModel(model, contextWindow),
		name:    providerNameForURL(baseURL),
		baseURL: baseURL,
	}
}

func providerNameForURL(baseURL string) string {
	switch {
	case strings.Contains(baseURL, "deepseek"):
		return "deepseek"
	case strings.Contains(baseURL, "minimax"):
		return "minimax"
	case strings.Contains(baseURL, "moonshot"):
		return "kimi"
	case strings.Contains(baseURL, "dashscope"):
		return "qwen"
	case strings.Contains(baseURL, "openrouter"):
		return "openrouter"
	default:
		return "openai"
	}
}

func (p *OpenAIProvider) Name() string     { return p.name }
func (p *OpenAIProvider) Model() ModelInfo { return p.model }

func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model.ID),
		Messages: buildOpenAIMessages(req),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan Chunk, 16)
	go p.processStream(ctx, stream, ch)
	return ch, nil
}

// processStream reads the OpenAI SSE stream and emits chunks. With
// include_usage set, the final chunk has no choices and carries usage.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk], ch chan<- Chunk) {
	defer close(ch)

	for stream.Next() {
		select {
		case <-ctx.Done():
			ch <- Chunk{Type: ChunkError, Err: ctx.Err()}
			return
		default:
		}

		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				ch <- Chunk{Type: ChunkText, Text: choice.Delta.Content}
			}
		}

		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			cached := int(chunk.Usage.PromptTokensDetails.CachedTokens)
			ch <- Chunk{Type: ChunkUsage, Usage: Usage{
				InputTokens:     int(chunk.Usage.PromptTokens) - cached,
				OutputTokens:    int(chunk.Usage.CompletionTokens),
				CacheReadTokens: cached,
			}}
		}
	}

	if err := stream.Err(); err != nil {
		ch <- Chunk{Type: ChunkError, Err: fmt.Errorf("openai streaming error: %w", err)}
	}
}

// buildOpenAIMessages converts turns to OpenAI chat params.
func buildOpenAIMessages(req *Request) []openai.ChatCompletionMessageParamUnion {
	var params []openai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		params = append(params, openai.SystemMessage(req.SystemPrompt))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleUser:
			var parts []openai.ChatCompletionContentPartUnionParam
			for _, c := range msg.Content {
				switch c.Type {
				case ContentTypeText:
					parts = append(parts, openai.TextContentPart(c.Text))
				case ContentTypeToolResult:
					parts = append(parts, openai.TextContentPart(flattenToolResult(c)))
				case ContentTypeImage:
					parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
						URL: "data:" + c.MediaType + ";base64," + c.Data,
					}))
				}
			}
			params = append(params, openai.UserMessage(parts))

		case RoleAssistant:
			var text strings.Builder
			for _, c := range msg.Content {
				if c.Type == ContentTypeText {
					text.WriteString(c.Text)
				}
			}
			assistant := openai.ChatCompletionAssistantMessageParam{
				Content: openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text.String())},
			}
			params = append(params, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		}
	}
	return params
}
