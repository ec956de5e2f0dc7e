package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "postpilot/pkg/logx"
)

const rewritePrompt = "Rewrite the following article title as an engaging " +
	"social media post in the same language. Keep it under 200 characters, " +
	"no hashtags, no quotes around the result."

type RewriterConfig struct {
	Enabled bool
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Rewriter turns article titles into post copy through an OpenAI-compatible
// chat-completions endpoint. It is strictly best-effort: any failure, or a
// disabled config, falls back to a local template so scheduling never stalls
// on the AI service.
type Rewriter struct {
	cfg  RewriterConfig
	http *http.Client
	log  logx.Logger
}

func NewRewriter(cfg RewriterConfig, log logx.Logger) *Rewriter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Rewriter{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// Rewrite returns post copy for title. It never returns an error: the
// fallback template covers every failure mode.
func (r *Rewriter) Rewrite(ctx context.Context, title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}
	if !r.cfg.Enabled || r.cfg.BaseURL == "" {
		return fallbackCopy(title)
	}
	out, err := r.complete(ctx, title)
	if err != nil {
		r.log.Warn("rewrite fell back to template", logx.String("title", title), logx.Err(err))
		return fallbackCopy(title)
	}
	return out
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (r *Rewriter) complete(ctx context.Context, title string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: r.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: rewritePrompt},
			{Role: "user", Content: title},
		},
	})
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(r.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completions returned %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completions returned no choices")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("completions returned empty content")
	}
	return strings.Trim(text, `"`), nil
}

// fallbackCopy is deterministic so tests and reruns produce stable output.
func fallbackCopy(title string) string {
	return fmt.Sprintf("%s\n\nRead the full story now.", title)
}
