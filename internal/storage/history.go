package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "postpilot/pkg/logx"
)

// History is the append-only record of what the service has done: posts that
// went out, and articles pulled from the content API. It is deliberately
// separate from the mutable job store so the post history stays immutable.
type History interface {
	AppendPost(ctx context.Context, r PostRecord) error
	RecentPosts(ctx context.Context, limit int) ([]PostRecord, error)
	CountPosts(ctx context.Context, since time.Time) (int, error)

	AppendArticle(ctx context.Context, r ArticleRecord) error
	RecentArticles(ctx context.Context, limit int) ([]ArticleRecord, error)

	Close() error
}

// OpenHistory initializes the configured history backend.
func OpenHistory(cfg Config, log logx.Logger) (History, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openFileHistory(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLiteHistory(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + cfg.Driver)
	}
}
