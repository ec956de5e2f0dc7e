//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "postpilot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteHistory struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLiteHistory(cfg Config, log logx.Logger) (History, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, errors.New("storage dir is required for sqlite history")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "history.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	h := &sqliteHistory{db: db, log: log}
	if err := h.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

func (h *sqliteHistory) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = h.db.ExecContext(ctx, string(b))
	return err
}

func (h *sqliteHistory) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

func (h *sqliteHistory) AppendPost(ctx context.Context, r PostRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO posts(at, remote_id, text, media_count, status) VALUES(?,?,?,?,?)`,
		r.At.UTC().Format(time.RFC3339), r.RemoteID, r.Text, r.MediaCount, r.Status,
	)
	return err
}

func (h *sqliteHistory) RecentPosts(ctx context.Context, limit int) ([]PostRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT at, remote_id, text, media_count, status FROM posts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PostRecord
	for rows.Next() {
		var r PostRecord
		var at string
		if err := rows.Scan(&at, &r.RemoteID, &r.Text, &r.MediaCount, &r.Status); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			r.At = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (h *sqliteHistory) CountPosts(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE at >= ?`, since.UTC().Format(time.RFC3339)).Scan(&n)
	return n, err
}

func (h *sqliteHistory) AppendArticle(ctx context.Context, r ArticleRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO articles(at, title, image_count, source_url, page, status) VALUES(?,?,?,?,?,?)`,
		r.At.UTC().Format(time.RFC3339), r.Title, r.ImageCount, r.SourceURL, r.Page, r.Status,
	)
	return err
}

func (h *sqliteHistory) RecentArticles(ctx context.Context, limit int) ([]ArticleRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT at, title, image_count, source_url, page, status FROM articles ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArticleRecord
	for rows.Next() {
		var r ArticleRecord
		var at string
		if err := rows.Scan(&at, &r.Title, &r.ImageCount, &r.SourceURL, &r.Page, &r.Status); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			r.At = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
