package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanpawarit/chative-relay/internal/core"
	relaymodel "github.com/tanpawarit/chative-relay/internal/relay/model"
	"github.com/tanpawarit/chative-relay/internal/relay/prompts"
	logx "github.com/tanpawarit/chative-relay/pkg/logger"
)

// captureLogs routes the global logger to JSON lines for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logx.Init(logx.LoggerOpts{Environment: core.Production, Output: &buf})
	t.Cleanup(func() { logx.Init() })
	return &buf
}

func usageEvents(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		if ev["message"] == "model usage" {
			events = append(events, ev)
		}
	}
	return events
}

func TestUsage_Cost(t *testing.T) {
	u := Usage{PromptTokens: 2_000_000, CompletionTokens: 500_000}
	in, out, total := u.Cost(Pricing{InputPerM: 0.30, OutputPerM: 2.50})
	assert.InDelta(t, 0.60, in, 1e-9)
	assert.InDelta(t, 1.25, out, 1e-9)
	assert.InDelta(t, 1.85, total, 1e-9)

	_, ok := ResolvePricing("unknown-model")
	assert.False(t, ok)
}

func TestGemini_LogsTokenUsageThroughCallbacks(t *testing.T) {
	buf := captureLogs(t)
	fake := &fakeChatModel{
		reply: schema.AssistantMessage("hi", nil),
		usage: &model.TokenUsage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150},
	}
	g := NewGeminiWithModel(fake, "gemini-2.5-flash", prompts.NewBuilder(relaymodel.GatewayConfig{}))

	_, err := g.Send(context.Background(), history)
	require.NoError(t, err)

	events := usageEvents(t, buf)
	require.Len(t, events, 1)
	assert.Equal(t, "gemini", events[0]["provider"])
	assert.Equal(t, "gemini-2.5-flash", events[0]["model"])
	assert.EqualValues(t, 120, events[0]["prompt_tokens"])
	assert.EqualValues(t, 150, events[0]["total_tokens"])
	assert.Contains(t, events[0], "cost_usd")
}

func TestOpenAI_LogsUsageWithoutCostForUnknownModel(t *testing.T) {
	buf := captureLogs(t)
	srv := newOpenAIServer(t, func(w http.ResponseWriter, _ map[string]any) {
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}],` +
			`"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`))
	})
	cfg := relaymodel.GatewayConfig{Provider: relaymodel.ProviderOpenAI, BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "local-model"}

	_, err := NewOpenAI(srv.Client(), cfg, prompts.NewBuilder(cfg)).Send(context.Background(), history)
	require.NoError(t, err)

	events := usageEvents(t, buf)
	require.Len(t, events, 1)
	assert.EqualValues(t, 12, events[0]["total_tokens"])
	assert.NotContains(t, events[0], "cost_usd")
}
