package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	errx "github.com/tanpawarit/chative-relay/internal/core/error"
	"github.com/tanpawarit/chative-relay/internal/relay/attachment"
	"github.com/tanpawarit/chative-relay/internal/relay/model"
	logx "github.com/tanpawarit/chative-relay/pkg/logger"
)

const (
	UnauthorizedMessage = "⛔ You are not authorized to use this bot."
	ResetMessage        = "🔄 Conversation history cleared. Let's start fresh!"
	DownloadFailMessage = "❌ Could not download the file. Please try again."

	helpMessage = "Commands:\n" +
		"/start — Welcome message\n" +
		"/reset — Clear conversation history\n" +
		"/help — Show this help\n\n" +
		"How to use:\n" +
		"• Type any question and I'll answer it.\n" +
		"• Send any file (document, photo, audio, video) optionally with a caption " +
		"describing what you want to know about it.\n\n" +
		"Supported for analysis: text, code, CSV, JSON, Markdown, images (JPG, PNG, GIF, WebP) and more."

	typingInterval = 4 * time.Second
)

// Relay is the part of the relay service the bridge drives.
type Relay interface {
	IsAllowed(user model.UserID) bool
	HandleText(ctx context.Context, user model.UserID, text string) ([]model.OutboundChunk, error)
	HandleFile(ctx context.Context, user model.UserID, file attachment.File, caption string) ([]model.OutboundChunk, error)
	Reset(ctx context.Context, user model.UserID) error
	MaxAttachmentBytes() int
}

// Bridge turns Telegram updates into relay calls and relay results into
// Telegram messages.
type Bridge struct {
	client *Client
	relay  Relay
}

func NewBridge(client *Client, relay Relay) *Bridge {
	return &Bridge{client: client, relay: relay}
}

// HandleUpdate processes one update to completion. It never returns an
// error: every failure ends as a single chat message or a log line.
func (b *Bridge) HandleUpdate(ctx context.Context, u Update) {
	msg := u.Message
	if msg == nil || msg.From == nil {
		return
	}
	user := model.UserIDFromInt(msg.From.ID)
	chatID := msg.Chat.ID

	if !b.relay.IsAllowed(user) {
		logx.Warn().Str("user_id", user.String()).Msg("unauthorized user")
		b.reply(ctx, chatID, UnauthorizedMessage)
		return
	}

	if cmd, ok := command(msg.Text); ok {
		switch cmd {
		case "/start":
			b.reply(ctx, chatID, greeting(msg.From.FirstName))
			return
		case "/help":
			b.reply(ctx, chatID, helpMessage)
			return
		case "/reset":
			if err := b.relay.Reset(ctx, user); err != nil {
				b.fail(ctx, chatID, user, err)
				return
			}
			b.reply(ctx, chatID, ResetMessage)
			return
		}
	}

	if meta, name, mimeType, ok := fileOf(msg); ok {
		b.handleFile(ctx, chatID, user, msg, meta, name, mimeType)
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		return
	}

	stop := b.keepTyping(ctx, chatID)
	chunks, err := b.relay.HandleText(ctx, user, strings.TrimSpace(msg.Text))
	stop()
	if err != nil {
		b.fail(ctx, chatID, user, err)
		return
	}
	b.deliver(ctx, chatID, user, chunks)
}

func (b *Bridge) handleFile(ctx context.Context, chatID int64, user model.UserID, msg *Message, meta FileMeta, name, mimeType string) {
	log := logx.With().Str("user_id", user.String()).Str("file", name).Logger()
	limit := b.relay.MaxAttachmentBytes()

	if meta.FileSize > int64(limit) {
		b.fail(ctx, chatID, user, errx.TooLarge(name, int(meta.FileSize), limit))
		return
	}

	stop := b.keepTyping(ctx, chatID)
	defer stop()

	f, err := b.client.GetFile(ctx, meta.FileID)
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve file")
		b.reply(ctx, chatID, DownloadFailMessage)
		return
	}
	data, err := b.client.Download(ctx, f, name, limit)
	if err != nil {
		if errors.Is(err, errx.ErrAttachmentTooLarge) {
			b.fail(ctx, chatID, user, err)
			return
		}
		log.Error().Err(err).Msg("failed to download file")
		b.reply(ctx, chatID, DownloadFailMessage)
		return
	}

	b.reply(ctx, chatID, fmt.Sprintf("📂 Received %s (%s). Analysing…", name, humanize.Bytes(uint64(len(data)))))

	chunks, err := b.relay.HandleFile(ctx, user, attachment.File{Name: name, MimeType: mimeType, Data: data}, msg.Caption)
	if err != nil {
		b.fail(ctx, chatID, user, err)
		return
	}
	b.deliver(ctx, chatID, user, chunks)
}

// deliver sends chunks in order and stops at the first failure. History
// is not rolled back.
func (b *Bridge) deliver(ctx context.Context, chatID int64, user model.UserID, chunks []model.OutboundChunk) {
	for _, c := range chunks {
		if err := b.client.SendMessage(ctx, chatID, c.Text); err != nil {
			logx.Warn().Err(err).Str("user_id", user.String()).Int("chunk", c.Index).Int("chunks", len(chunks)).
				Msg("chunk delivery failed, dropping the rest of the reply")
			return
		}
	}
}

func (b *Bridge) fail(ctx context.Context, chatID int64, user model.UserID, err error) {
	if ctx.Err() != nil {
		return
	}
	logx.Debug().Err(err).Str("user_id", user.String()).Str("kind", errx.KindOf(err).String()).Msg("replying with error")
	b.reply(ctx, chatID, errx.UserMessage(err))
}

func (b *Bridge) reply(ctx context.Context, chatID int64, text string) {
	if err := b.client.SendMessage(ctx, chatID, text); err != nil {
		logx.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to send message")
	}
}

// keepTyping shows the typing indicator until stop is called. Telegram
// clears it after about five seconds, so it is refreshed.
func (b *Bridge) keepTyping(ctx context.Context, chatID int64) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			if err := b.client.SendChatAction(ctx, chatID, "typing"); err != nil && ctx.Err() == nil {
				logx.Debug().Err(err).Int64("chat_id", chatID).Msg("sendChatAction failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// command returns the bot command in text, without any @botname suffix.
func command(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := strings.Fields(text)[0]
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), true
}

// fileOf picks the attachment of a message. Photos use the largest size.
func fileOf(msg *Message) (meta FileMeta, name, mimeType string, ok bool) {
	const fallbackMime = "application/octet-stream"
	pick := func(m *FileMeta, defaultName string) (FileMeta, string, string, bool) {
		n := m.FileName
		if n == "" {
			n = defaultName
		}
		mt := m.MimeType
		if mt == "" {
			mt = fallbackMime
		}
		return *m, n, mt, true
	}

	switch {
	case msg.Document != nil:
		return pick(msg.Document, "document")
	case len(msg.Photo) > 0:
		largest := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if p.Width*p.Height > largest.Width*largest.Height {
				largest = p
			}
		}
		return FileMeta{FileID: largest.FileID, FileSize: largest.FileSize}, "photo.jpg", "image/jpeg", true
	case msg.Audio != nil:
		return pick(msg.Audio, "audio")
	case msg.Video != nil:
		return pick(msg.Video, "video")
	}
	return FileMeta{}, "", "", false
}

func greeting(firstName string) string {
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("👋 Hello, %s!\n\n"+
		"You can:\n\n"+
		"• 💬 Ask any question — just type it\n"+
		"• 📎 Upload a file (text, code, PDF, CSV, image…) and I'll analyse it for you\n"+
		"• 🔄 /reset — start a fresh conversation\n"+
		"• ℹ️ /help — show the help message\n\n"+
		"Go ahead and ask me anything!", name)
}
