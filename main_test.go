package main

import (
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanpawarit/chative-relay/internal/core"
	"github.com/tanpawarit/chative-relay/internal/relay/model"
	"github.com/tanpawarit/chative-relay/internal/telegram"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("GATEWAY_PROVIDER", "rovo")
	t.Setenv("GATEWAY_BASE_URL", "https://example.atlassian.net")
	t.Setenv("GATEWAY_EMAIL", "bot@example.com")
	t.Setenv("GATEWAY_API_KEY", "token")
}

func TestAppConfig_FromEnvironment(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("ALLOWED_TELEGRAM_USER_IDS", "42, 7")
	t.Setenv("CONVERSATION_MAX_TURNS", "10")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	var cfg AppConfig
	require.NoError(t, envconfig.Process("", &cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, core.Production, cfg.Environment)
	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
	assert.Equal(t, telegram.ModePoll, cfg.Telegram.Mode)
	assert.Equal(t, 30*time.Second, cfg.Telegram.PollTimeout)
	assert.Equal(t, 10, cfg.Conversation.MaxTurns)
	assert.Equal(t, model.BackendMemory, cfg.Conversation.Backend)
	assert.Equal(t, 120*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 1<<20, cfg.Attachment.MaxBytes)
	assert.Equal(t, 4096, cfg.Outbound.MaxChunkLength)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 3, cfg.Redis.ReadTimeout)

	ids, err := cfg.Telegram.AllowedUserIDs()
	require.NoError(t, err)
	assert.Equal(t, []model.UserID{model.UserIDFromInt(42), model.UserIDFromInt(7)}, ids)
}

func TestAppConfig_ValidateRejectsInconsistentSettings(t *testing.T) {
	setBaseEnv(t)

	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{
			name:    "redis backend without url",
			mutate:  func(c *AppConfig) { c.Conversation.Backend = model.BackendRedis },
			wantErr: "REDIS_URL",
		},
		{
			name:    "rovo without email",
			mutate:  func(c *AppConfig) { c.Gateway.Email = "" },
			wantErr: "GATEWAY_EMAIL",
		},
		{
			name:    "unknown mode",
			mutate:  func(c *AppConfig) { c.Telegram.Mode = "push" },
			wantErr: "TELEGRAM_MODE",
		},
		{
			name:    "zero chunk length",
			mutate:  func(c *AppConfig) { c.Outbound.MaxChunkLength = 0 },
			wantErr: "OUTBOUND_MAX_CHUNK_LENGTH",
		},
		{
			name:    "zero attachment limit",
			mutate:  func(c *AppConfig) { c.Attachment.MaxBytes = 0 },
			wantErr: "ATTACHMENT_MAX_BYTES",
		},
		{
			name:    "bad allow-list",
			mutate:  func(c *AppConfig) { c.Telegram.AllowedUsers = []string{"alice"} },
			wantErr: "invalid user id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg AppConfig
			require.NoError(t, envconfig.Process("", &cfg))
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
