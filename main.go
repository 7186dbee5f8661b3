package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"

	"github.com/tanpawarit/chative-relay/internal/core"
	"github.com/tanpawarit/chative-relay/internal/relay"
	"github.com/tanpawarit/chative-relay/internal/relay/attachment"
	"github.com/tanpawarit/chative-relay/internal/relay/conversations"
	"github.com/tanpawarit/chative-relay/internal/relay/gateway"
	"github.com/tanpawarit/chative-relay/internal/relay/model"
	"github.com/tanpawarit/chative-relay/internal/relay/repo"
	"github.com/tanpawarit/chative-relay/internal/telegram"
	logx "github.com/tanpawarit/chative-relay/pkg/logger"
	pkgredis "github.com/tanpawarit/chative-relay/pkg/redis"
)

// AppConfig defines all configurable parameters of the relay, sourced from
// environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis pkgredis.Config

	// Transport
	Telegram telegram.Config

	// Relay
	Gateway      model.GatewayConfig
	Conversation model.ConversationConfig
	Attachment   model.AttachmentConfig
	Outbound     model.OutboundConfig
}

func (c AppConfig) Validate() error {
	for _, v := range []interface{ Validate() error }{
		c.Telegram, c.Gateway, c.Conversation, c.Attachment, c.Outbound,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	if c.Conversation.Backend == model.BackendRedis && c.Redis.URL == "" {
		return errors.New("REDIS_URL is required when CONVERSATION_BACKEND=redis")
	}
	return nil
}

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file to load before reading the environment")
	mode := pflag.String("mode", "", "override TELEGRAM_MODE (poll or webhook)")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: could not load %s: %v\n", *envFile, err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process environment config: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Telegram.Mode = *mode
	}

	logx.Init(logx.LoggerOpts{Environment: cfg.Environment})

	if err := cfg.Validate(); err != nil {
		logx.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logx.Error().Err(err).Msg("relay stopped with error")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg AppConfig) error {
	conversationRepo, closeRepo, err := newConversationRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	gw, err := gateway.New(ctx, cfg.Gateway)
	if err != nil {
		return fmt.Errorf("initialise gateway: %w", err)
	}

	allowed, err := cfg.Telegram.AllowedUserIDs()
	if err != nil {
		return err
	}
	if len(allowed) == 0 {
		logx.Warn().Msg("ALLOWED_TELEGRAM_USER_IDS is empty, every Telegram user may use the bot")
	}

	service := relay.NewService(
		conversations.NewManager(conversationRepo, cfg.Conversation),
		gw,
		attachment.NewCodec(cfg.Attachment),
		relay.Config{AllowedUsers: allowed, MaxChunkLength: cfg.Outbound.MaxChunkLength},
	)

	client := telegram.NewClient(cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken, &http.Client{})
	bridge := telegram.NewBridge(client, service)

	logx.Info().
		Str("environment", cfg.Environment.String()).
		Str("provider", cfg.Gateway.Provider).
		Str("backend", cfg.Conversation.Backend).
		Str("mode", cfg.Telegram.Mode).
		Int("allowed_users", len(allowed)).
		Msg("relay starting")

	switch cfg.Telegram.Mode {
	case telegram.ModeWebhook:
		if cfg.Telegram.WebhookURL != "" {
			if err := client.SetWebhook(ctx, cfg.Telegram.WebhookURL+telegram.WebhookPath, cfg.Telegram.WebhookSecret); err != nil {
				return fmt.Errorf("register webhook: %w", err)
			}
		}
		return telegram.NewWebhook(ctx, bridge, cfg.Telegram).Serve(ctx, cfg.Telegram.WebhookAddr)
	default:
		if err := client.DeleteWebhook(ctx); err != nil {
			logx.Warn().Err(err).Msg("failed to delete webhook before polling")
		}
		return telegram.NewPoller(client, bridge, cfg.Telegram).Run(ctx)
	}
}

func newConversationRepository(ctx context.Context, cfg AppConfig) (model.ConversationRepository, func(), error) {
	if cfg.Conversation.Backend != model.BackendRedis {
		return repo.NewMemoryConversationRepository(), func() {}, nil
	}
	rdb, err := cfg.Redis.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise redis client: %w", err)
	}
	logx.Info().Dur("ttl", cfg.Conversation.TTL).Msg("connected to redis")
	return repo.NewRedisConversationRepository(rdb, cfg.Conversation.TTL), func() { _ = rdb.Close() }, nil
}
