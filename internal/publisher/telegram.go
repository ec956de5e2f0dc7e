package publisher

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "postpilot/pkg/logx"
)

// telegramClient publishes into a single chat (typically a channel) through
// the Bot API. Telegram has no separate media-upload step, so UploadMedia
// only stages bytes locally and hands out an opaque handle; the actual
// transfer happens in Publish as a single message or album.
type telegramClient struct {
	bot     *tele.Bot
	chat    *tele.Chat
	limiter *rate.Limiter
	log     logx.Logger

	mu     sync.Mutex
	staged map[string]Media
}

func newTelegramClient(cfg Config, log logx.Logger) (*telegramClient, error) {
	if cfg.Telegram.Token == "" {
		return nil, fmt.Errorf("telegram publisher: bot token is required")
	}
	if cfg.Telegram.ChatID == 0 {
		return nil, fmt.Errorf("telegram publisher: chat id is required")
	}
	b, err := tele.NewBot(tele.Settings{
		Token: cfg.Telegram.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram publisher: %w", err)
	}
	return &telegramClient{
		bot:     b,
		chat:    &tele.Chat{ID: cfg.Telegram.ChatID},
		limiter: newLimiter(cfg.RatePerMin),
		log:     log,
		staged:  map[string]Media{},
	}, nil
}

func (c *telegramClient) UploadMedia(_ context.Context, m Media) (string, error) {
	if len(m.Data) == 0 {
		return "", fmt.Errorf("%w: empty media body", ErrMediaUpload)
	}
	handle := "tg-" + uuid.NewString()[:8]
	c.mu.Lock()
	c.staged[handle] = m
	c.mu.Unlock()
	return handle, nil
}

func (c *telegramClient) Publish(ctx context.Context, text string, mediaIDs []string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}

	c.mu.Lock()
	media := make([]Media, 0, len(mediaIDs))
	for _, h := range mediaIDs {
		m, ok := c.staged[h]
		if !ok {
			c.mu.Unlock()
			return "", fmt.Errorf("%w: unknown media handle %s", ErrPublish, h)
		}
		media = append(media, m)
		delete(c.staged, h)
	}
	c.mu.Unlock()

	if len(media) == 0 {
		msg, err := c.bot.Send(c.chat, text)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrPublish, err)
		}
		return strconv.Itoa(msg.ID), nil
	}

	album := make(tele.Album, 0, len(media))
	for i, m := range media {
		photo := &tele.Photo{File: tele.FromReader(bytes.NewReader(m.Data))}
		if i == 0 {
			// Telegram renders the album caption from its first item.
			photo.Caption = text
		}
		album = append(album, photo)
	}
	msgs, err := c.bot.SendAlbum(c.chat, album)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("%w: empty album response", ErrPublish)
	}
	return strconv.Itoa(msgs[0].ID), nil
}
