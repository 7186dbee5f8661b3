// Package gateway sends a conversation to a remote AI service and returns
// the generated reply. Every provider reports failures as errx kinds so the
// retry loop and the relay treat them uniformly.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tanpawarit/chative-relay/internal/relay/model"
	"github.com/tanpawarit/chative-relay/internal/relay/prompts"
)

// Gateway produces the assistant reply for an ordered history whose last
// turn is the user's pending message. Implementations never touch the
// conversation store.
type Gateway interface {
	Send(ctx context.Context, history []model.Turn) (string, error)
}

// New builds the configured provider wrapped in the retry loop.
func New(ctx context.Context, config model.GatewayConfig) (*Retrying, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	builder := prompts.NewBuilder(config)

	var (
		provider Gateway
		err      error
	)
	switch config.Provider {
	case model.ProviderRovo:
		provider = NewRovo(&http.Client{}, config, builder)
	case model.ProviderOpenAI:
		provider = NewOpenAI(&http.Client{}, config, builder)
	case model.ProviderGemini:
		provider, err = NewGemini(ctx, config, builder)
	default:
		err = fmt.Errorf("unknown gateway provider %q", config.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewRetrying(provider, config), nil
}
