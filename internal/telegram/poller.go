package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/sourcegraph/conc/pool"

	logx "github.com/tanpawarit/chative-relay/pkg/logger"
)

const (
	pollErrorDelay    = time.Second
	maxPollErrorDelay = 30 * time.Second
)

// Poller receives updates with getUpdates and hands each one to a bounded
// worker pool.
type Poller struct {
	client  *Client
	bridge  *Bridge
	timeout time.Duration
	workers int
}

func NewPoller(client *Client, bridge *Bridge, config Config) *Poller {
	workers := config.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Poller{client: client, bridge: bridge, timeout: config.PollTimeout, workers: workers}
}

// Run polls until ctx is cancelled, then waits for in-flight updates.
func (p *Poller) Run(ctx context.Context) error {
	workers := pool.New().WithMaxGoroutines(p.workers)
	defer workers.Wait()

	logx.Info().Int("workers", p.workers).Dur("timeout", p.timeout).Msg("long polling started")

	var offset int64
	delay := pollErrorDelay
	for {
		if ctx.Err() != nil {
			logx.Info().Msg("long polling stopped")
			return nil
		}

		updates, err := p.client.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				delay = apiErr.RetryAfter
			}
			logx.Warn().Err(err).Dur("retry_in", delay).Msg("getUpdates failed")
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			delay = min(delay*2, maxPollErrorDelay)
			continue
		}
		delay = pollErrorDelay

		for _, u := range updates {
			offset = u.UpdateID + 1
			workers.Go(func() {
				p.bridge.HandleUpdate(ctx, u)
			})
		}
	}
}
