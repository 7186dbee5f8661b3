package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	errx "github.com/tanpawarit/chative-relay/internal/core/error"
	"github.com/tanpawarit/chative-relay/internal/relay/model"
	"github.com/tanpawarit/chative-relay/internal/relay/prompts"
	logx "github.com/tanpawarit/chative-relay/pkg/logger"
)

const openaiProvider = "openai"

// OpenAI talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, OpenRouter, Groq, xAI). Image attachments are sent as
// image_url parts; everything else is flattened into text.
type OpenAI struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	builder     *prompts.Builder
}

func NewOpenAI(httpClient *http.Client, config model.GatewayConfig, builder *prompts.Builder) *OpenAI {
	clientCfg := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       config.Model,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		builder:     builder,
	}
}

func (o *OpenAI) Send(ctx context.Context, history []model.Turn) (string, error) {
	system, err := o.builder.RenderSystem(ctx)
	if err != nil {
		return "", err
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	for _, turn := range history {
		msgs = append(msgs, toOpenAIMessage(turn))
	}

	logx.Debug().Str("provider", openaiProvider).Str("model", o.model).Int("messages", len(msgs)).Msg("create chat completion")

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", malformed(openaiProvider, errors.New("empty choices"))
	}
	reply := resp.Choices[0].Message.Content
	if strings.TrimSpace(reply) == "" {
		return "", malformed(openaiProvider, errors.New("empty reply text"))
	}
	if resp.Usage.TotalTokens > 0 {
		logUsage(openaiProvider, o.model, Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		})
	}
	return reply, nil
}

func toOpenAIMessage(turn model.Turn) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	if turn.Role == model.RoleAssistant {
		role = openai.ChatMessageRoleAssistant
	}

	var images []model.AttachmentRef
	for _, a := range turn.Attachments {
		if a.Kind == model.KindImage {
			images = append(images, a)
		}
	}
	if role != openai.ChatMessageRoleUser || len(images) == 0 {
		return openai.ChatCompletionMessage{Role: role, Content: prompts.RenderTurn(turn)}
	}

	// Text and non-image attachments go first as one text part.
	var sb strings.Builder
	sb.WriteString(turn.Content)
	for _, a := range turn.Attachments {
		if a.Kind == model.KindImage {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		prompts.RenderAttachment(&sb, a)
	}

	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	if sb.Len() > 0 {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: sb.String()})
	}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: img.Payload, Detail: openai.ImageURLDetailAuto},
		})
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}

// classifyOpenAIError maps go-openai errors onto the gateway taxonomy.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return errx.New(errx.FromStatus(apiErr.HTTPStatusCode), err, apiErr.HTTPStatusCode, openaiProvider+" request failed")
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return errx.New(errx.FromStatus(reqErr.HTTPStatusCode), err, reqErr.HTTPStatusCode, openaiProvider+" request failed")
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return malformed(openaiProvider, err)
	}
	return transportError(openaiProvider, err)
}
