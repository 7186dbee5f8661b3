package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tanpawarit/chative-relay/internal/relay/model"
)

const (
	ModePoll    = "poll"
	ModeWebhook = "webhook"
)

type Config struct {
	BotToken      string        `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	APIBaseURL    string        `envconfig:"TELEGRAM_API_BASE_URL" default:"https://api.telegram.org"`
	Mode          string        `envconfig:"TELEGRAM_MODE" default:"poll"`
	PollTimeout   time.Duration `envconfig:"TELEGRAM_POLL_TIMEOUT" default:"30s"`
	WebhookAddr   string        `envconfig:"TELEGRAM_WEBHOOK_ADDR" default:":8080"`
	WebhookURL    string        `envconfig:"TELEGRAM_WEBHOOK_URL"`
	WebhookSecret string        `envconfig:"TELEGRAM_WEBHOOK_SECRET"`
	Workers       int           `envconfig:"TELEGRAM_WORKERS" default:"8"`
	AllowedUsers  []string      `envconfig:"ALLOWED_TELEGRAM_USER_IDS"`
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModePoll, ModeWebhook:
	default:
		return fmt.Errorf("TELEGRAM_MODE must be %q or %q, got %q", ModePoll, ModeWebhook, c.Mode)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("TELEGRAM_WORKERS must be positive, got %d", c.Workers)
	}
	if _, err := c.AllowedUserIDs(); err != nil {
		return err
	}
	return nil
}

// AllowedUserIDs parses ALLOWED_TELEGRAM_USER_IDS. Blank entries are
// skipped; an empty result means everyone is allowed.
func (c Config) AllowedUserIDs() ([]model.UserID, error) {
	ids := make([]model.UserID, 0, len(c.AllowedUsers))
	for _, raw := range c.AllowedUsers {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ALLOWED_TELEGRAM_USER_IDS: invalid user id %q", raw)
		}
		ids = append(ids, model.UserIDFromInt(n))
	}
	return ids, nil
}
