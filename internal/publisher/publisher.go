// Package publisher abstracts the outbound posting client.
//
// The executor only sees the Publisher interface; the concrete driver is
// chosen from config. A missing driver is not an error: Open returns
// (nil, nil) and the executor records jobs as EXECUTED_NO_PUBLISHER, which
// keeps "system not provisioned" distinguishable from "provisioned but
// failed".
package publisher

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "postpilot/pkg/logx"
)

// Error kinds. Drivers wrap these so callers can tell a media-stage failure
// (skippable per image) from a publish failure (terminal for the job).
var (
	ErrMediaUpload = errors.New("media upload failed")
	ErrPublish     = errors.New("publish failed")
)

// Media is one resolved image, ready for upload.
type Media struct {
	Data        []byte
	ContentType string
}

// Publisher turns text plus uploaded media into a published post.
// At most 4 media ids per publish call.
type Publisher interface {
	// UploadMedia stages one media item and returns its id.
	UploadMedia(ctx context.Context, m Media) (string, error)
	// Publish creates the post and returns the platform's id for it.
	Publish(ctx context.Context, text string, mediaIDs []string) (string, error)
}

// Config selects and configures a driver.
type Config struct {
	Driver     string
	RatePerMin int

	X        XConfig
	Telegram TelegramConfig
}

type XConfig struct {
	BaseURL     string
	BearerToken string
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

// Open initializes the configured driver.
// It returns (nil, nil) if no driver is configured.
func Open(cfg Config, log logx.Logger) (Publisher, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return nil, nil
	case "x", "twitter":
		return newXClient(cfg, log)
	case "telegram":
		return newTelegramClient(cfg, log)
	default:
		return nil, errors.New("unknown publisher driver: " + cfg.Driver)
	}
}

// newLimiter builds the shared posts-per-minute limiter. Platform APIs
// throttle aggressively; the default stays well under every known limit.
func newLimiter(perMin int) *rate.Limiter {
	if perMin <= 0 {
		perMin = 10
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1)
}
