package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sourcegraph/conc/pool"

	logx "github.com/tanpawarit/chative-relay/pkg/logger"
)

const (
	WebhookPath  = "/telegram/webhook"
	secretHeader = "X-Telegram-Bot-Api-Secret-Token"

	maxUpdateSize = 1 << 20
)

// Webhook receives updates pushed by Telegram. Updates are acknowledged
// at once and processed on a bounded pool under the server's context, so
// a slow exchange never makes Telegram redeliver.
type Webhook struct {
	ctx     context.Context
	bridge  *Bridge
	secret  string
	workers *pool.Pool
}

func NewWebhook(ctx context.Context, bridge *Bridge, config Config) *Webhook {
	workers := config.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Webhook{
		ctx:     ctx,
		bridge:  bridge,
		secret:  config.WebhookSecret,
		workers: pool.New().WithMaxGoroutines(workers),
	}
}

func (wh *Webhook) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post(WebhookPath, wh.HandleUpdate)
	return r
}

func (wh *Webhook) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if wh.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(secretHeader)), []byte(wh.secret)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var u Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateSize)).Decode(&u); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	wh.workers.Go(func() {
		wh.bridge.HandleUpdate(wh.ctx, u)
	})
}

// Wait blocks until every accepted update has been processed.
func (wh *Webhook) Wait() {
	wh.workers.Wait()
}

// Serve runs the webhook server on addr until ctx is cancelled, then shuts
// it down and drains in-flight updates.
func (wh *Webhook) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           wh.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", addr).Str("path", WebhookPath).Msg("webhook server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logx.Warn().Err(err).Msg("webhook server shutdown")
	}
	wh.Wait()
	logx.Info().Msg("webhook server stopped")
	return nil
}
