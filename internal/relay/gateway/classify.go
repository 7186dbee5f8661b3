package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	errx "github.com/tanpawarit/chative-relay/internal/core/error"
)

// maxRetryAfter bounds a provider-indicated delay.
const maxRetryAfter = time.Minute

// statusError classifies a non-2xx response. The body is kept for logs
// only; errx.UserMessage never shows it.
func statusError(provider string, status int, header http.Header, body string) error {
	kind := errx.FromStatus(status)
	e := errx.New(kind, fmt.Errorf("%s: %s", provider, truncate(body, 512)), status, provider+" request failed")
	if kind == errx.KindRateLimited && header != nil {
		e.RetryAfter = parseRetryAfter(header.Get("Retry-After"), time.Now())
	}
	return e
}

// transportError classifies an error raised before any response arrived.
// Context cancellation is returned unchanged so callers can tell it apart
// from a provider failure.
func transportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &ne) && ne.Timeout():
		return errx.New(errx.KindTransient, err, 0, provider+" request timed out")
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return errx.New(errx.KindTransient, err, 0, provider+" connection failed")
	}
	var e *errx.Error
	if errors.As(err, &e) {
		return err
	}
	// Remaining network failures (DNS, TLS, EOF mid-response) are worth
	// another attempt.
	return errx.New(errx.KindTransient, err, 0, provider+" request failed")
}

func malformed(provider string, err error) error {
	return errx.New(errx.KindMalformedResponse, err, 0, provider+" returned an unusable response")
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		d = time.Duration(secs * float64(time.Second))
	} else if at, err := http.ParseTime(v); err == nil {
		d = at.Sub(now)
	}
	if d < 0 {
		return 0
	}
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
