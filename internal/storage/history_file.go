package storage

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "postpilot/pkg/logx"
)

const (
	postsFileName    = "posted_posts.txt"
	articlesFileName = "processed_articles.txt"
)

// fileHistory is the dependency-free history backend: two append-only
// pipe-delimited files, held open for the store's lifetime.
type fileHistory struct {
	log logx.Logger

	mu       sync.Mutex
	posts    *os.File
	articles *os.File

	postsPath    string
	articlesPath string
}

func openFileHistory(cfg Config, log logx.Logger) (History, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, errors.New("storage dir is required for file history")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	postsPath := filepath.Join(dir, postsFileName)
	articlesPath := filepath.Join(dir, articlesFileName)

	pf, err := os.OpenFile(postsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	af, err := os.OpenFile(articlesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = pf.Close()
		return nil, err
	}

	return &fileHistory{
		log:          log,
		posts:        pf,
		articles:     af,
		postsPath:    postsPath,
		articlesPath: articlesPath,
	}, nil
}

func (h *fileHistory) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var err1, err2 error
	if h.posts != nil {
		err1 = h.posts.Close()
		h.posts = nil
	}
	if h.articles != nil {
		err2 = h.articles.Close()
		h.articles = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (h *fileHistory) AppendPost(ctx context.Context, r PostRecord) error {
	_ = ctx
	if r.At.IsZero() {
		r.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.posts == nil {
		return ErrClosed
	}
	_, err := h.posts.WriteString(encodePost(r) + "\n")
	return err
}

func (h *fileHistory) RecentPosts(ctx context.Context, limit int) ([]PostRecord, error) {
	_ = ctx
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []PostRecord
	err := scanLines(h.postsPath, func(lineNo int, line string) {
		r, err := parsePost(line)
		if err != nil {
			h.log.Warn("skipping malformed post record", logx.Int("line", lineNo), logx.Err(err))
			return
		}
		out = append(out, r)
	})
	if err != nil {
		return nil, err
	}
	return lastReversed(out, limit), nil
}

func (h *fileHistory) CountPosts(ctx context.Context, since time.Time) (int, error) {
	_ = ctx
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	err := scanLines(h.postsPath, func(lineNo int, line string) {
		r, err := parsePost(line)
		if err != nil {
			return
		}
		if !r.At.Before(since) {
			n++
		}
	})
	return n, err
}

func (h *fileHistory) AppendArticle(ctx context.Context, r ArticleRecord) error {
	_ = ctx
	if r.At.IsZero() {
		r.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.articles == nil {
		return ErrClosed
	}
	_, err := h.articles.WriteString(encodeArticle(r) + "\n")
	return err
}

func (h *fileHistory) RecentArticles(ctx context.Context, limit int) ([]ArticleRecord, error) {
	_ = ctx
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []ArticleRecord
	err := scanLines(h.articlesPath, func(lineNo int, line string) {
		r, err := parseArticle(line)
		if err != nil {
			h.log.Warn("skipping malformed article record", logx.Int("line", lineNo), logx.Err(err))
			return
		}
		out = append(out, r)
	})
	if err != nil {
		return nil, err
	}
	return lastReversed(out, limit), nil
}

func scanLines(path string, fn func(lineNo int, line string)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fn(lineNo, line)
	}
	return sc.Err()
}

// lastReversed returns the newest `limit` entries, newest first.
func lastReversed[T any](in []T, limit int) []T {
	if limit <= 0 || limit > len(in) {
		limit = len(in)
	}
	out := make([]T, 0, limit)
	for i := len(in) - 1; i >= len(in)-limit; i-- {
		out = append(out, in[i])
	}
	return out
}
