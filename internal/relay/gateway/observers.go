package gateway

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/tanpawarit/chative-relay/pkg/logger"
)

// newModelObserver logs the lifecycle of an eino chat model call: the
// context size on start, token usage on end, the cause on error.
func newModelObserver(provider, modelName string) *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			if input == nil {
				return ctx
			}
			logx.Debug().
				Str("provider", provider).
				Str("model", modelName).
				Int("messages", len(input.Messages)).
				Int("last_user_chars", len([]rune(lastUserContent(input.Messages)))).
				Msg("model call started")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			if output == nil || output.TokenUsage == nil {
				return ctx
			}
			logUsage(provider, modelName, Usage{
				PromptTokens:     output.TokenUsage.PromptTokens,
				CompletionTokens: output.TokenUsage.CompletionTokens,
				TotalTokens:      output.TokenUsage.TotalTokens,
			})
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Debug().Err(err).Str("provider", provider).Str("model", modelName).Msg("model call failed")
			return ctx
		},
	}
}

// withModelCallbacks attaches the observer to ctx for one chat model call.
func withModelCallbacks(ctx context.Context, provider, modelName string) context.Context {
	handler := callbackHelper.NewHandlerHelper().
		ChatModel(newModelObserver(provider, modelName)).
		Handler()
	info := &einocb.RunInfo{Name: modelName, Type: provider, Component: components.ComponentOfChatModel}
	return einocb.InitCallbacks(ctx, info, handler)
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
