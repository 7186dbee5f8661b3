package gateway

import (
	"github.com/rs/zerolog"

	logx "github.com/tanpawarit/chative-relay/pkg/logger"
)

// Pricing is the USD cost per 1M tokens.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// Text-token list prices. Unknown models log tokens without a cost.
var defaultPricing = map[string]Pricing{
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-2.5-pro":        {InputPerM: 1.25, OutputPerM: 10.00},
	"gpt-4o":                {InputPerM: 2.50, OutputPerM: 10.00},
	"gpt-4o-mini":           {InputPerM: 0.15, OutputPerM: 0.60},
}

func ResolvePricing(modelName string) (Pricing, bool) {
	p, ok := defaultPricing[modelName]
	return p, ok
}

// Usage is the token accounting a provider reports for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Cost converts usage to USD using per-1M pricing.
func (u Usage) Cost(p Pricing) (inputCost, outputCost, total float64) {
	inputCost = p.InputPerM * float64(u.PromptTokens) / 1_000_000.0
	outputCost = p.OutputPerM * float64(u.CompletionTokens) / 1_000_000.0
	return inputCost, outputCost, inputCost + outputCost
}

func logUsage(provider, modelName string, u Usage) {
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	ev := logx.Info().
		Str("provider", provider).
		Str("model", modelName).
		Int("prompt_tokens", u.PromptTokens).
		Int("completion_tokens", u.CompletionTokens).
		Int("total_tokens", total)
	addCost(ev, modelName, u)
	ev.Msg("model usage")
}

func addCost(ev *zerolog.Event, modelName string, u Usage) {
	p, ok := ResolvePricing(modelName)
	if !ok {
		return
	}
	_, _, total := u.Cost(p)
	ev.Float64("cost_usd", total)
}
