// Package relay runs one exchange between a chat user and the AI gateway:
// encode the input, record the user turn, ask the gateway, record the
// reply and split it for the transport.
package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	errx "github.com/tanpawarit/chative-relay/internal/core/error"
	"github.com/tanpawarit/chative-relay/internal/relay/attachment"
	"github.com/tanpawarit/chative-relay/internal/relay/conversations"
	"github.com/tanpawarit/chative-relay/internal/relay/gateway"
	"github.com/tanpawarit/chative-relay/internal/relay/model"
	"github.com/tanpawarit/chative-relay/internal/relay/outbound"
	logx "github.com/tanpawarit/chative-relay/pkg/logger"
)

// DefaultFileCaption is used when a file arrives without a caption.
const DefaultFileCaption = "Please analyse the file: %s"

type Config struct {
	// AllowedUsers restricts access; empty allows everyone.
	AllowedUsers   []model.UserID
	MaxChunkLength int
}

type Service struct {
	store    *conversations.Manager
	gateway  gateway.Gateway
	codec    *attachment.Codec
	maxChunk int
	allowed  map[model.UserID]struct{}
}

func NewService(store *conversations.Manager, gw gateway.Gateway, codec *attachment.Codec, config Config) *Service {
	allowed := make(map[model.UserID]struct{}, len(config.AllowedUsers))
	for _, u := range config.AllowedUsers {
		allowed[u] = struct{}{}
	}
	return &Service{
		store:    store,
		gateway:  gw,
		codec:    codec,
		maxChunk: config.MaxChunkLength,
		allowed:  allowed,
	}
}

// IsAllowed must be checked by the transport before any other call.
func (s *Service) IsAllowed(user model.UserID) bool {
	if len(s.allowed) == 0 {
		return true
	}
	_, ok := s.allowed[user]
	return ok
}

// HandleText runs an exchange for a plain text message. Blank text is
// ignored and yields no chunks.
func (s *Service) HandleText(ctx context.Context, user model.UserID, text string) ([]model.OutboundChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return s.exchange(ctx, user, model.UserTurn(text))
}

// HandleFile encodes the file and runs an exchange with it attached. A file
// the codec rejects leaves the history untouched.
func (s *Service) HandleFile(ctx context.Context, user model.UserID, file attachment.File, caption string) ([]model.OutboundChunk, error) {
	ref, err := s.codec.Encode(file)
	if err != nil {
		logx.Warn().Err(err).Str("user_id", user.String()).Str("file", file.Name).
			Int("size_bytes", len(file.Data)).Msg("attachment rejected")
		return nil, err
	}
	if strings.TrimSpace(caption) == "" {
		caption = fmt.Sprintf(DefaultFileCaption, file.Name)
	}
	return s.exchange(ctx, user, model.UserTurn(caption, ref))
}

// Reset clears the user's history. It is rejected while an exchange for
// the same user is in flight.
func (s *Service) Reset(ctx context.Context, user model.UserID) error {
	release, ok := s.store.Begin(user)
	if !ok {
		return busy()
	}
	defer release()

	if err := s.store.Reset(ctx, user); err != nil {
		return err
	}
	logx.Info().Str("user_id", user.String()).Msg("conversation reset")
	return nil
}

// History returns a snapshot of the user's stored turns.
func (s *Service) History(ctx context.Context, user model.UserID) ([]model.Turn, error) {
	return s.store.Read(ctx, user)
}

// MaxAttachmentBytes is the codec's size limit, for transports that can
// refuse oversized files before downloading them.
func (s *Service) MaxAttachmentBytes() int {
	return s.codec.MaxBytes()
}

func (s *Service) exchange(ctx context.Context, user model.UserID, turn model.Turn) ([]model.OutboundChunk, error) {
	release, ok := s.store.Begin(user)
	if !ok {
		return nil, busy()
	}
	defer release()

	log := logx.With().Str("user_id", user.String()).Str("exchange_id", uuid.NewString()).Logger()
	start := time.Now()

	if err := s.store.Append(ctx, user, turn); err != nil {
		log.Error().Err(err).Msg("failed to record user turn")
		return nil, err
	}
	history, err := s.store.PromptHistory(ctx, user)
	if err != nil {
		log.Error().Err(err).Msg("failed to read history")
		return nil, err
	}

	log.Debug().Int("turns", len(history)).Int("attachments", len(turn.Attachments)).Msg("sending to gateway")
	reply, err := s.gateway.Send(ctx, history)
	if err != nil {
		if ctx.Err() != nil {
			log.Info().Err(ctx.Err()).Msg("exchange abandoned")
			return nil, ctx.Err()
		}
		log.Error().Err(err).Str("kind", errx.KindOf(err).String()).Dur("elapsed", time.Since(start)).Msg("gateway failed")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		log.Info().Err(err).Msg("exchange abandoned")
		return nil, err
	}

	if err := s.store.Append(ctx, user, model.AssistantTurn(reply)); err != nil {
		log.Error().Err(err).Msg("failed to record assistant turn")
		return nil, err
	}

	chunks := outbound.Split(reply, s.maxChunk)
	log.Info().Int("reply_runes", len([]rune(reply))).Int("chunks", len(chunks)).
		Dur("elapsed", time.Since(start)).Msg("exchange complete")
	return chunks, nil
}

func busy() error {
	return errx.New(errx.KindBusy, nil, 0, "exchange already in progress")
}
