package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	errx "github.com/tanpawarit/chative-relay/internal/core/error"
	relaymodel "github.com/tanpawarit/chative-relay/internal/relay/model"
	"github.com/tanpawarit/chative-relay/internal/relay/prompts"
	logx "github.com/tanpawarit/chative-relay/pkg/logger"
)

const geminiProvider = "gemini"

// Gemini sends the conversation through eino's Gemini chat model.
type Gemini struct {
	chatModel model.BaseChatModel
	modelName string
	builder   *prompts.Builder
}

// NewGemini creates the genai client and the eino chat model on top of it.
func NewGemini(ctx context.Context, config relaymodel.GatewayConfig, builder *prompts.Builder) (*Gemini, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	temperature := config.Temperature
	maxTokens := config.MaxTokens
	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.Model,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini chat model")
		return nil, fmt.Errorf("error creating Gemini chat model: %w", err)
	}

	return NewGeminiWithModel(chatModel, config.Model, builder), nil
}

// NewGeminiWithModel wraps an existing chat model.
func NewGeminiWithModel(chatModel model.BaseChatModel, modelName string, builder *prompts.Builder) *Gemini {
	return &Gemini{chatModel: chatModel, modelName: modelName, builder: builder}
}

func (g *Gemini) Send(ctx context.Context, history []relaymodel.Turn) (string, error) {
	msgs, err := g.builder.BuildMessages(ctx, history)
	if err != nil {
		return "", err
	}

	logx.Debug().Str("provider", geminiProvider).Str("model", g.modelName).Int("messages", len(msgs)).Msg("generate")

	out, err := g.chatModel.Generate(withModelCallbacks(ctx, geminiProvider, g.modelName), msgs)
	if err != nil {
		return "", classifyGeminiError(err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", malformed(geminiProvider, errors.New("empty reply text"))
	}
	return out.Content, nil
}

// classifyGeminiError maps genai API errors by HTTP code; everything else
// goes through the transport classification.
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return errx.New(errx.FromStatus(apiErr.Code), err, apiErr.Code, geminiProvider+" request failed")
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr.Code != 0 {
		return errx.New(errx.FromStatus(apiErrPtr.Code), err, apiErrPtr.Code, geminiProvider+" request failed")
	}
	return transportError(geminiProvider, err)
}
