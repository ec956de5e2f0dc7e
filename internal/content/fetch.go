// Package content pulls publishable articles from a JSON source and
// optionally rewrites their titles through an AI text endpoint.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

const (
	fetchTimeout    = 20 * time.Second
	maxResponseSize = 8 << 20
	userAgent       = "postpilot/1.0"
)

// Article is one extracted content item.
type Article struct {
	Title     string
	ImageURLs []string
}

// History is the slice of the article history the fetcher writes to.
type History interface {
	AppendArticle(ctx context.Context, rec storage.ArticleRecord) error
}

type FetcherConfig struct {
	SourceURL string
}

// Fetcher retrieves article lists from the configured source. Source shapes
// vary between providers, so extraction walks the whole decoded document
// instead of binding to one schema.
type Fetcher struct {
	cfg     FetcherConfig
	http    *http.Client
	history History
	log     logx.Logger
}

func NewFetcher(cfg FetcherConfig, history History, log logx.Logger) (*Fetcher, error) {
	if strings.TrimSpace(cfg.SourceURL) == "" {
		return nil, fmt.Errorf("content source url is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{
		cfg:     cfg,
		http:    &http.Client{Timeout: fetchTimeout},
		history: history,
		log:     log,
	}, nil
}

// Fetch returns up to limit articles from the source, newest first as the
// source orders them. Extracted articles are recorded to the processed
// article log.
func (f *Fetcher) Fetch(ctx context.Context, page, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 10
	}
	url := f.cfg.SourceURL
	if page > 1 {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url = fmt.Sprintf("%s%spage=%d", url, sep, page)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch articles: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("content source returned %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read articles: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode articles: %w", err)
	}

	articles := extractArticles(doc, limit)
	f.log.Info("articles fetched",
		logx.String("source", f.cfg.SourceURL),
		logx.Int("page", page),
		logx.Int("count", len(articles)))

	if f.history != nil {
		for _, a := range articles {
			rec := storage.ArticleRecord{
				At:         time.Now().UTC(),
				Title:      a.Title,
				ImageCount: len(a.ImageURLs),
				SourceURL:  f.cfg.SourceURL,
				Page:       page,
				Status:     "FETCHED",
			}
			if err := f.history.AppendArticle(ctx, rec); err != nil {
				f.log.Warn("article history append failed", logx.String("title", a.Title), logx.Err(err))
			}
		}
	}
	return articles, nil
}

// extractArticles walks the decoded document depth-first and collects every
// object that looks like an article: a non-empty title plus an optional image
// URL list. Collection stops at limit.
func extractArticles(node any, limit int) []Article {
	var out []Article
	var walk func(n any)
	walk = func(n any) {
		if len(out) >= limit {
			return
		}
		switch v := n.(type) {
		case map[string]any:
			if a, ok := articleFromMap(v); ok {
				out = append(out, a)
				return
			}
			for _, child := range v {
				walk(child)
			}
		case []any:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(node)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func articleFromMap(m map[string]any) (Article, bool) {
	title := stringField(m, "title", "headline", "name")
	if title == "" {
		return Article{}, false
	}
	urls := urlListField(m, "imageUrls", "image_urls", "images")
	return Article{Title: title, ImageURLs: urls}, true
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if t := strings.TrimSpace(s); t != "" {
				return t
			}
		}
	}
	return ""
}

func urlListField(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		list, ok := m[k].([]any)
		if !ok {
			continue
		}
		urls := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				// some feeds wrap each image in an object with a url field
				if obj, isMap := item.(map[string]any); isMap {
					s = stringField(obj, "url", "src")
				}
			}
			if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
				urls = append(urls, s)
			}
		}
		if len(urls) > 0 {
			return urls
		}
	}
	return nil
}
