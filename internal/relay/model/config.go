package model

import (
	"fmt"
	"time"
)

// ================ Config ================
type ConversationConfig struct {
	MaxTurns    int           `envconfig:"CONVERSATION_MAX_TURNS" default:"40"`
	PromptTurns int           `envconfig:"CONVERSATION_PROMPT_TURNS" default:"0"`
	Backend     string        `envconfig:"CONVERSATION_BACKEND" default:"memory"`
	TTL         time.Duration `envconfig:"CONVERSATION_TTL" default:"24h"`
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

func (c ConversationConfig) Validate() error {
	if c.MaxTurns <= 0 {
		return fmt.Errorf("CONVERSATION_MAX_TURNS must be positive, got %d", c.MaxTurns)
	}
	if c.PromptTurns < 0 {
		return fmt.Errorf("CONVERSATION_PROMPT_TURNS must not be negative, got %d", c.PromptTurns)
	}
	switch c.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("CONVERSATION_BACKEND must be %q or %q, got %q", BackendMemory, BackendRedis, c.Backend)
	}
	return nil
}

type GatewayConfig struct {
	Provider       string        `envconfig:"GATEWAY_PROVIDER" default:"rovo"`
	BaseURL        string        `envconfig:"GATEWAY_BASE_URL"`
	Email          string        `envconfig:"GATEWAY_EMAIL"`
	APIKey         string        `envconfig:"GATEWAY_API_KEY"`
	Model          string        `envconfig:"GATEWAY_MODEL"`
	MaxTokens      int           `envconfig:"GATEWAY_MAX_TOKENS" default:"4096"`
	Temperature    float32       `envconfig:"GATEWAY_TEMPERATURE" default:"0.7"`
	Timeout        time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"120s"`
	MaxRetries     int           `envconfig:"GATEWAY_MAX_RETRIES" default:"3"`
	RetryBaseDelay time.Duration `envconfig:"GATEWAY_RETRY_BASE_DELAY" default:"500ms"`
	SystemPrompt   string        `envconfig:"GATEWAY_SYSTEM_PROMPT"`
	AssistantName  string        `envconfig:"GATEWAY_ASSISTANT_NAME" default:"Relay"`
}

const (
	ProviderRovo   = "rovo"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

func (c GatewayConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("GATEWAY_API_KEY is required")
	}
	switch c.Provider {
	case ProviderRovo:
		if c.Email == "" || c.BaseURL == "" {
			return fmt.Errorf("GATEWAY_EMAIL and GATEWAY_BASE_URL are required when GATEWAY_PROVIDER=rovo")
		}
	case ProviderOpenAI, ProviderGemini:
		if c.Model == "" {
			return fmt.Errorf("GATEWAY_MODEL is required when GATEWAY_PROVIDER=%s", c.Provider)
		}
	default:
		return fmt.Errorf("unknown GATEWAY_PROVIDER %q", c.Provider)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("GATEWAY_MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	return nil
}

type AttachmentConfig struct {
	MaxBytes       int      `envconfig:"ATTACHMENT_MAX_BYTES" default:"1048576"`
	TextExtensions []string `envconfig:"ATTACHMENT_TEXT_EXTENSIONS"`
}

type OutboundConfig struct {
	MaxChunkLength int `envconfig:"OUTBOUND_MAX_CHUNK_LENGTH" default:"4096"`
}

func (c AttachmentConfig) Validate() error {
	if c.MaxBytes <= 0 {
		return fmt.Errorf("ATTACHMENT_MAX_BYTES must be positive, got %d", c.MaxBytes)
	}
	return nil
}

func (c OutboundConfig) Validate() error {
	if c.MaxChunkLength <= 0 {
		return fmt.Errorf("OUTBOUND_MAX_CHUNK_LENGTH must be positive, got %d", c.MaxChunkLength)
	}
	return nil
}
