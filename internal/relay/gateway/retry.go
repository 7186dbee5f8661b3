package gateway

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	errx "github.com/tanpawarit/chative-relay/internal/core/error"
	"github.com/tanpawarit/chative-relay/internal/relay/model"
	logx "github.com/tanpawarit/chative-relay/pkg/logger"
)

const (
	defaultRetryBaseDelay = 500 * time.Millisecond
	maxRetryDelay         = 10 * time.Second
)

// Retrying retries transient and rate-limited failures of the wrapped
// gateway with capped exponential backoff. Each attempt runs under its own
// request timeout.
type Retrying struct {
	next       Gateway
	maxRetries uint64
	baseDelay  time.Duration
	timeout    time.Duration
}

func NewRetrying(next Gateway, config model.GatewayConfig) *Retrying {
	base := config.RetryBaseDelay
	if base <= 0 {
		base = defaultRetryBaseDelay
	}
	maxRetries := config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Retrying{
		next:       next,
		maxRetries: uint64(maxRetries),
		baseDelay:  base,
		timeout:    config.Timeout,
	}
}

func (r *Retrying) Send(ctx context.Context, history []model.Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// hint carries a Retry-After from the last failed attempt into the
	// next backoff step.
	var hint time.Duration
	backoff := r.backoff(&hint)

	var (
		reply   string
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		hint = 0

		out, err := r.attempt(ctx, history)
		if err == nil {
			reply = out
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		kind := errx.KindOf(err)
		if !kind.Retryable() {
			logx.Warn().Err(err).Int("attempt", attempt).Str("kind", kind.String()).Msg("gateway request failed")
			return err
		}
		hint = errx.RetryAfterOf(err)
		logx.Warn().Err(err).Int("attempt", attempt).Str("kind", kind.String()).
			Dur("retry_after", hint).Msg("gateway request failed, retrying")
		return retry.RetryableError(err)
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (r *Retrying) attempt(ctx context.Context, history []model.Turn) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.next.Send(ctx, history)
}

func (r *Retrying) backoff(hint *time.Duration) retry.Backoff {
	b := retry.NewExponential(r.baseDelay)
	b = retry.WithCappedDuration(maxRetryDelay, b)
	b = retry.WithMaxRetries(r.maxRetries, b)
	return retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := b.Next()
		if stop {
			return 0, true
		}
		if *hint > 0 {
			return *hint, false
		}
		return next, false
	})
}
