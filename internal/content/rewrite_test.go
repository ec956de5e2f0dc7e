package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "postpilot/pkg/logx"
)

func TestRewriteDisabledUsesFallback(t *testing.T) {
	r := NewRewriter(RewriterConfig{Enabled: false}, logx.Nop())
	got := r.Rewrite(context.Background(), "big headline")
	if got != "big headline\n\nRead the full story now." {
		t.Fatalf("fallback: %q", got)
	}
}

func TestRewriteEmptyTitle(t *testing.T) {
	r := NewRewriter(RewriterConfig{}, logx.Nop())
	if got := r.Rewrite(context.Background(), "   "); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestRewriteUsesCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"\"fresh copy\""}}]}`))
	}))
	t.Cleanup(srv.Close)

	r := NewRewriter(RewriterConfig{
		Enabled: true,
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		Model:   "test-model",
	}, logx.Nop())

	got := r.Rewrite(context.Background(), "big headline")
	if got != "fresh copy" {
		t.Fatalf("rewrite: %q", got)
	}
}

func TestRewriteFallsBackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	r := NewRewriter(RewriterConfig{Enabled: true, BaseURL: srv.URL, Model: "m"}, logx.Nop())
	got := r.Rewrite(context.Background(), "headline")
	if got != "headline\n\nRead the full story now." {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestRewriteFallsBackOnEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	t.Cleanup(srv.Close)

	r := NewRewriter(RewriterConfig{Enabled: true, BaseURL: srv.URL, Model: "m"}, logx.Nop())
	if got := r.Rewrite(context.Background(), "headline"); got != "headline\n\nRead the full story now." {
		t.Fatalf("expected fallback, got %q", got)
	}
}
