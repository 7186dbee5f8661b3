package errx

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failure so the relay can pick retry behaviour and the
// single chat line shown to the user.
type Kind int

const (
	KindInternal Kind = iota
	KindDecode
	KindAttachmentTooLarge
	KindAuth
	KindTransient
	KindRateLimited
	KindMalformedResponse
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindAttachmentTooLarge:
		return "attachment_too_large"
	case KindAuth:
		return "auth"
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindMalformedResponse:
		return "malformed_response"
	case KindBusy:
		return "busy"
	default:
		return "internal"
	}
}

// Retryable reports whether the gateway retry loop may try again.
func (k Kind) Retryable() bool {
	return k == KindTransient || k == KindRateLimited
}

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "❌ Something went wrong on our side. Please try again."
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "conversation storage unavailable"

	DecodeMessage             = "⚠️ I couldn't read that file as text. Check its encoding and try again."
	AttachmentTooLargeMessage = "⚠️ That file is too large for me to process. Please send a smaller file."
	AuthMessage               = "🔑 The AI service rejected our credentials. Please ask the bot owner to check its configuration."
	TransientMessage          = "⏳ The AI service is temporarily unavailable. Please try again in a moment."
	RateLimitedMessage        = "⏳ The AI service is busy right now. Please try again in a little while."
	MalformedResponseMessage  = "❌ The AI service returned a response I couldn't understand. Please try again."
	BusyMessage               = "⏳ Please wait, I'm still working on your previous message."
)

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrDecode             = &Error{Kind: KindDecode}
	ErrAttachmentTooLarge = &Error{Kind: KindAttachmentTooLarge}
	ErrAuth               = &Error{Kind: KindAuth}
	ErrTransient          = &Error{Kind: KindTransient}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrMalformedResponse  = &Error{Kind: KindMalformedResponse}
	ErrBusy               = &Error{Kind: KindBusy}
)

// Error wraps an underlying error with a kind, an optional upstream HTTP
// status and a message that is safe to show to a chat user.
type Error struct {
	Kind    Kind
	Err     error
	Status  int
	Message string

	// RetryAfter is the provider-indicated delay for KindRateLimited.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind, then falls through to the wrapped error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Kind == e.Kind
	}
	return false
}

// New creates a new Error with the provided information.
func New(kind Kind, err error, status int, message string) *Error {
	return &Error{
		Kind:    kind,
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Decode reports bytes that claimed to be text but are not.
func Decode(name string, err error) *Error {
	return New(KindDecode, err, 0, fmt.Sprintf("%s is not valid UTF-8 text", name))
}

// TooLarge reports an attachment above the configured limit.
func TooLarge(name string, size, limit int) *Error {
	return New(KindAttachmentTooLarge, nil, 0,
		fmt.Sprintf("%s is %d bytes, limit is %d", name, size, limit))
}

// FromStatus maps an upstream HTTP status to a Kind. Success codes map to
// KindInternal and callers should not call it for them.
func FromStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status >= 500:
		return KindTransient
	case status >= 400:
		return KindMalformedResponse
	default:
		return KindInternal
	}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// RetryAfterOf returns the provider-indicated delay carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// UserMessage turns any error into exactly one chat line. The wrapped
// error text never reaches the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindDecode:
		return DecodeMessage
	case KindAttachmentTooLarge:
		return AttachmentTooLargeMessage
	case KindAuth:
		return AuthMessage
	case KindTransient:
		return TransientMessage
	case KindRateLimited:
		return RateLimitedMessage
	case KindMalformedResponse:
		return MalformedResponseMessage
	case KindBusy:
		return BusyMessage
	default:
		return SystemErrorMessage
	}
}
