package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errx "github.com/tanpawarit/chative-relay/internal/core/error"
	"github.com/tanpawarit/chative-relay/internal/relay/model"
	"github.com/tanpawarit/chative-relay/internal/relay/prompts"
)

type scriptedGateway struct {
	calls   atomic.Int32
	results []error
	reply   string
}

func (s *scriptedGateway) Send(ctx context.Context, _ []model.Turn) (string, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.results) && s.results[n] != nil {
		return "", s.results[n]
	}
	return s.reply, nil
}

func fastConfig() model.GatewayConfig {
	return model.GatewayConfig{MaxRetries: 3, RetryBaseDelay: time.Millisecond, Timeout: 5 * time.Second}
}

var history = []model.Turn{model.UserTurn("hello")}

func TestRetrying_ServerErrorsThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":{"content":"hi there"}}`))
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.BaseURL, cfg.Email, cfg.APIKey = srv.URL, "me@example.com", "key"
	g := NewRetrying(NewRovo(srv.Client(), cfg, prompts.NewBuilder(cfg)), cfg)

	reply, err := g.Send(context.Background(), history)
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)
	assert.Equal(t, int32(4), calls.Load())
}

func TestRetrying_AuthIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"bad token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.BaseURL, cfg.Email, cfg.APIKey = srv.URL, "me@example.com", "wrong"
	g := NewRetrying(NewRovo(srv.Client(), cfg, prompts.NewBuilder(cfg)), cfg)

	_, err := g.Send(context.Background(), history)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.ErrAuth))
	assert.Equal(t, int32(1), calls.Load())
	assert.NotContains(t, errx.UserMessage(err), "bad token")
}

func TestRetrying_GivesUpAfterMaxRetries(t *testing.T) {
	transient := errx.New(errx.KindTransient, errors.New("503"), http.StatusServiceUnavailable, "down")
	fake := &scriptedGateway{results: []error{transient, transient, transient, transient, transient}}

	_, err := NewRetrying(fake, fastConfig()).Send(context.Background(), history)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.ErrTransient))
	assert.Equal(t, int32(4), fake.calls.Load(), "one attempt plus three retries")
}

func TestRetrying_MalformedIsNotRetried(t *testing.T) {
	fake := &scriptedGateway{results: []error{malformed("test", errors.New("garbage"))}}

	_, err := NewRetrying(fake, fastConfig()).Send(context.Background(), history)
	assert.True(t, errors.Is(err, errx.ErrMalformedResponse))
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestRetrying_HonoursRetryAfter(t *testing.T) {
	limited := errx.New(errx.KindRateLimited, errors.New("429"), http.StatusTooManyRequests, "slow down")
	limited.RetryAfter = 50 * time.Millisecond
	fake := &scriptedGateway{results: []error{limited}, reply: "ok"}

	start := time.Now()
	reply, err := NewRetrying(fake, fastConfig()).Send(context.Background(), history)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int32(2), fake.calls.Load())
}

func TestRetrying_CancelledContextIsReturnedAsIs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &scriptedGateway{reply: "never"}
	_, err := NewRetrying(fake, fastConfig()).Send(ctx, history)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), fake.calls.Load())
}

func TestRetrying_AttemptTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := fastConfig()
	cfg.MaxRetries = 1
	cfg.Timeout = 20 * time.Millisecond
	cfg.BaseURL, cfg.Email, cfg.APIKey = srv.URL, "me@example.com", "key"
	g := NewRetrying(NewRovo(srv.Client(), cfg, prompts.NewBuilder(cfg)), cfg)

	_, err := g.Send(context.Background(), history)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.ErrTransient), "%v", err)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 2*time.Second, parseRetryAfter("2", now))
	assert.Equal(t, 1500*time.Millisecond, parseRetryAfter("1.5", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, maxRetryAfter, parseRetryAfter("3600", now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Zero(t, parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}

func TestStatusError_RateLimitCarriesRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "3")

	err := statusError("rovo", http.StatusTooManyRequests, h, "too many")
	assert.True(t, errors.Is(err, errx.ErrRateLimited))
	assert.Equal(t, 3*time.Second, errx.RetryAfterOf(err))

	assert.True(t, errors.Is(statusError("rovo", http.StatusForbidden, nil, ""), errx.ErrAuth))
	assert.True(t, errors.Is(statusError("rovo", http.StatusRequestTimeout, nil, ""), errx.ErrTransient))
	assert.True(t, errors.Is(statusError("rovo", http.StatusBadGateway, nil, ""), errx.ErrTransient))
	assert.True(t, errors.Is(statusError("rovo", http.StatusBadRequest, nil, ""), errx.ErrMalformedResponse))
}
