package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errx "github.com/tanpawarit/chative-relay/internal/core/error"
	"github.com/tanpawarit/chative-relay/internal/relay/attachment"
	"github.com/tanpawarit/chative-relay/internal/relay/conversations"
	"github.com/tanpawarit/chative-relay/internal/relay/model"
	"github.com/tanpawarit/chative-relay/internal/relay/repo"
)

type gatewayFunc func(ctx context.Context, history []model.Turn) (string, error)

func (f gatewayFunc) Send(ctx context.Context, history []model.Turn) (string, error) {
	return f(ctx, history)
}

func newService(t *testing.T, gw gatewayFunc, cfg Config) *Service {
	t.Helper()
	store := conversations.NewManager(repo.NewMemoryConversationRepository(), model.ConversationConfig{MaxTurns: 40})
	codec := attachment.NewCodec(model.AttachmentConfig{MaxBytes: 64})
	return NewService(store, gw, codec, cfg)
}

func roles(turns []model.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = string(t.Role) + ":" + t.Content
	}
	return out
}

func TestService_HelloThenReset(t *testing.T) {
	ctx := context.Background()
	var seen []model.Turn
	s := newService(t, func(_ context.Context, history []model.Turn) (string, error) {
		seen = history
		return "hi there", nil
	}, Config{})

	chunks, err := s.HandleText(ctx, "7", "hello")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hi there", chunks[0].Text)
	assert.True(t, chunks[0].IsFinal)
	assert.Equal(t, []string{"user:hello"}, roles(seen))

	h, err := s.History(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:hello", "assistant:hi there"}, roles(h))

	require.NoError(t, s.Reset(ctx, "7"))
	h, err = s.History(ctx, "7")
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestService_GatewayAuthFailureKeepsUserTurn(t *testing.T) {
	ctx := context.Background()
	s := newService(t, func(context.Context, []model.Turn) (string, error) {
		return "", errx.New(errx.KindAuth, errors.New("401 body"), http.StatusUnauthorized, "rejected")
	}, Config{})

	_, err := s.HandleText(ctx, "7", "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.ErrAuth))
	assert.Equal(t, errx.AuthMessage, errx.UserMessage(err))

	h, err := s.History(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:hello"}, roles(h))
}

func TestService_CancelledExchangeAppendsNoReply(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newService(t, func(ctx context.Context, _ []model.Turn) (string, error) {
		cancel()
		return "too late", nil
	}, Config{})

	_, err := s.HandleText(ctx, "7", "hello")
	assert.ErrorIs(t, err, context.Canceled)

	h, err := s.History(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:hello"}, roles(h))
}

func TestService_SecondMessageWhileBusy(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	unblock := make(chan struct{})
	s := newService(t, func(context.Context, []model.Turn) (string, error) {
		close(entered)
		<-unblock
		return "done", nil
	}, Config{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.HandleText(ctx, "7", "first")
		assert.NoError(t, err)
	}()
	<-entered

	_, err := s.HandleText(ctx, "7", "second")
	assert.True(t, errors.Is(err, errx.ErrBusy))
	assert.True(t, errors.Is(s.Reset(ctx, "7"), errx.ErrBusy))

	close(unblock)
	wg.Wait()

	h, err := s.History(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:first", "assistant:done"}, roles(h))
}

func TestService_UsersDoNotBlockEachOther(t *testing.T) {
	ctx := context.Background()
	unblock := make(chan struct{})
	s := newService(t, func(_ context.Context, history []model.Turn) (string, error) {
		if history[len(history)-1].Content == "slow" {
			<-unblock
		}
		return "ok", nil
	}, Config{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.HandleText(ctx, "a", "slow")
	}()

	require.Eventually(t, func() bool {
		_, err := s.HandleText(ctx, "b", "fast")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	close(unblock)
	<-done
}

func TestService_FileWithoutCaption(t *testing.T) {
	ctx := context.Background()
	var last model.Turn
	s := newService(t, func(_ context.Context, history []model.Turn) (string, error) {
		last = history[len(history)-1]
		return "looks fine", nil
	}, Config{})

	_, err := s.HandleFile(ctx, "7", attachment.File{Name: "cfg.yaml", MimeType: "application/x-yaml", Data: []byte("a: 1")}, "")
	require.NoError(t, err)

	assert.Equal(t, "Please analyse the file: cfg.yaml", last.Content)
	require.Len(t, last.Attachments, 1)
	assert.Equal(t, model.KindText, last.Attachments[0].Kind)
	assert.Equal(t, "a: 1", last.Attachments[0].Payload)
}

func TestService_RejectedFileLeavesHistoryUntouched(t *testing.T) {
	ctx := context.Background()
	called := false
	s := newService(t, func(context.Context, []model.Turn) (string, error) {
		called = true
		return "", nil
	}, Config{})

	_, err := s.HandleFile(ctx, "7", attachment.File{Name: "big.txt", Data: []byte(strings.Repeat("x", 65))}, "read this")
	assert.True(t, errors.Is(err, errx.ErrAttachmentTooLarge))
	assert.Equal(t, errx.AttachmentTooLargeMessage, errx.UserMessage(err))
	assert.False(t, called)

	h, err := s.History(ctx, "7")
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestService_LongReplyIsChunked(t *testing.T) {
	reply := strings.Repeat("word ", 30)
	s := newService(t, func(context.Context, []model.Turn) (string, error) {
		return reply, nil
	}, Config{MaxChunkLength: 40})

	chunks, err := s.HandleText(context.Background(), "7", "talk")
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Text)
	}
	assert.Equal(t, reply, sb.String())
}

func TestService_BlankTextIgnored(t *testing.T) {
	s := newService(t, func(context.Context, []model.Turn) (string, error) {
		t.Fatal("gateway must not be called")
		return "", nil
	}, Config{})

	chunks, err := s.HandleText(context.Background(), "7", "  \n ")
	require.NoError(t, err)
	assert.Nil(t, chunks)
}

func TestService_IsAllowed(t *testing.T) {
	open := newService(t, nil, Config{})
	assert.True(t, open.IsAllowed("anyone"))

	closed := newService(t, nil, Config{AllowedUsers: []model.UserID{"1", "2"}})
	assert.True(t, closed.IsAllowed("2"))
	assert.False(t, closed.IsAllowed("3"))
}
