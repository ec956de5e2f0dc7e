package publisher

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "postpilot/pkg/logx"
)

const defaultXBaseURL = "https://api.x.com"

// xClient posts through the X API v2 with app bearer auth. Media goes up
// first as base64 payloads; the returned media ids are then attached to the
// tweet-create call.
type xClient struct {
	http    *http.Client
	baseURL string
	token   string
	limiter *rate.Limiter
	log     logx.Logger
}

func newXClient(cfg Config, log logx.Logger) (*xClient, error) {
	token := strings.TrimSpace(cfg.X.BearerToken)
	if token == "" {
		return nil, fmt.Errorf("x publisher: bearer token is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.X.BaseURL), "/")
	if base == "" {
		base = defaultXBaseURL
	}
	return &xClient{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: base,
		token:   token,
		limiter: newLimiter(cfg.RatePerMin),
		log:     log,
	}, nil
}

type xMediaUploadRequest struct {
	Media         string `json:"media"`
	MediaCategory string `json:"media_category"`
}

type xMediaUploadResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *xClient) UploadMedia(ctx context.Context, m Media) (string, error) {
	req := xMediaUploadRequest{
		Media:         base64.StdEncoding.EncodeToString(m.Data),
		MediaCategory: "tweet_image",
	}
	var resp xMediaUploadResponse
	if err := c.doJSON(ctx, "/2/media/upload", req, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMediaUpload, err)
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("%w: response carried no media id", ErrMediaUpload)
	}
	c.log.Debug("media uploaded", logx.String("media_id", resp.Data.ID), logx.Int("bytes", len(m.Data)))
	return resp.Data.ID, nil
}

type xTweetRequest struct {
	Text  string       `json:"text"`
	Media *xTweetMedia `json:"media,omitempty"`
}

type xTweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type xTweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *xClient) Publish(ctx context.Context, text string, mediaIDs []string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}
	req := xTweetRequest{Text: text}
	if len(mediaIDs) > 0 {
		req.Media = &xTweetMedia{MediaIDs: mediaIDs}
	}
	var resp xTweetResponse
	if err := c.doJSON(ctx, "/2/tweets", req, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("%w: response carried no tweet id", ErrPublish)
	}
	return resp.Data.ID, nil
}

func (c *xClient) doJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, truncate(string(raw), 256))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
