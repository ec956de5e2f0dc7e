package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"postpilot/internal/content"
	"postpilot/internal/scheduler"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

type fakeSched struct {
	scheduled []storage.Job
	cancelled []string
}

func (f *fakeSched) Schedule(text string, imageURLs []string, fireAt time.Time) (storage.Job, error) {
	if strings.TrimSpace(text) == "" {
		return storage.Job{}, scheduler.ErrEmptyText
	}
	if !fireAt.After(time.Now()) {
		return storage.Job{}, scheduler.ErrFireTimeNotFuture
	}
	job := storage.Job{
		ID:        fmt.Sprintf("job-%d", len(f.scheduled)+1),
		FireAt:    fireAt.UTC(),
		Text:      text,
		ImageURLs: imageURLs,
		Status:    storage.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	f.scheduled = append(f.scheduled, job)
	return job, nil
}

func (f *fakeSched) Cancel(id string) error {
	for _, j := range f.scheduled {
		if j.ID == id {
			f.cancelled = append(f.cancelled, id)
			return nil
		}
	}
	return scheduler.ErrNotFound
}

func (f *fakeSched) Snapshot() scheduler.Snapshot {
	return scheduler.Snapshot{Timezone: "UTC", Armed: len(f.scheduled)}
}

func (f *fakeSched) DistributeBulk(items []scheduler.BulkItem, _ time.Time) ([]scheduler.BulkResult, error) {
	out := make([]scheduler.BulkResult, 0, len(items))
	for i, item := range items {
		job, err := f.Schedule(item.Text, item.ImageURLs, time.Now().Add(time.Duration(i+1)*time.Hour))
		if err != nil {
			out = append(out, scheduler.BulkResult{Title: item.Title, Error: err.Error()})
			continue
		}
		out = append(out, scheduler.BulkResult{Title: item.Title, ID: job.ID, OK: true})
	}
	return out, nil
}

func (f *fakeSched) Location() *time.Location { return time.UTC }

type fakeJobs struct{ jobs []storage.Job }

func (f *fakeJobs) ListPending() ([]storage.Job, error) {
	var out []storage.Job
	for _, j := range f.jobs {
		if j.Status == storage.StatusPending {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeJobs) ListAll() ([]storage.Job, error) { return f.jobs, nil }

type fakeHistory struct{ recs []storage.PostRecord }

func (f *fakeHistory) RecentPosts(_ context.Context, limit int) ([]storage.PostRecord, error) {
	if limit > len(f.recs) {
		limit = len(f.recs)
	}
	return f.recs[:limit], nil
}

type fakeFetcher struct{ articles []content.Article }

func (f *fakeFetcher) Fetch(_ context.Context, _, limit int) ([]content.Article, error) {
	if limit > len(f.articles) {
		limit = len(f.articles)
	}
	return f.articles[:limit], nil
}

type upperRewriter struct{}

func (upperRewriter) Rewrite(_ context.Context, title string) string {
	return strings.ToUpper(title)
}

type fakeRunner struct{ out scheduler.Outcome }

func (f *fakeRunner) Execute(_ context.Context, _ storage.Job) scheduler.Outcome { return f.out }

type testEnv struct {
	sched  *fakeSched
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	sched := &fakeSched{}
	jobs := &fakeJobs{jobs: []storage.Job{
		{ID: "p1", Status: storage.StatusPending, Text: "one"},
		{ID: "d1", Status: storage.StatusPosted, Text: "two"},
	}}
	hist := &fakeHistory{recs: []storage.PostRecord{
		{RemoteID: "r1", Text: "posted", Status: string(storage.StatusPosted)},
	}}
	fetcher := &fakeFetcher{articles: []content.Article{
		{Title: "alpha", ImageURLs: []string{"https://cdn.example.com/a.jpg"}},
		{Title: "beta"},
	}}
	runner := &fakeRunner{out: scheduler.Outcome{Status: storage.StatusPosted, RemoteID: "now-1"}}

	h := NewHandler(sched, jobs, hist, fetcher, upperRewriter{}, runner, logx.Nop())
	r := chi.NewRouter()
	r.Route("/api", h.RegisterRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{sched: sched, server: srv}
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestScheduleEndpoint(t *testing.T) {
	env := newTestEnv(t)
	fireAt := time.Now().Add(2 * time.Hour).Format(time.RFC3339)

	resp, body := doJSON(t, http.MethodPost, env.server.URL+"/api/posts/schedule", map[string]any{
		"text":    "hello",
		"fire_at": fireAt,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status: %d, body: %v", resp.StatusCode, body)
	}
	if body["id"] != "job-1" || body["status"] != "PENDING" {
		t.Fatalf("body: %v", body)
	}
}

func TestScheduleEndpointValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		req  map[string]any
	}{
		{"bad time format", map[string]any{"text": "x", "fire_at": "tomorrow"}},
		{"past fire time", map[string]any{"text": "x", "fire_at": time.Now().Add(-time.Hour).Format(time.RFC3339)}},
		{"empty text", map[string]any{"text": " ", "fire_at": time.Now().Add(time.Hour).Format(time.RFC3339)}},
		{"unknown field", map[string]any{"text": "x", "fire_at": time.Now().Add(time.Hour).Format(time.RFC3339), "bogus": 1}},
	}
	for _, tc := range cases {
		resp, _ := doJSON(t, http.MethodPost, env.server.URL+"/api/posts/schedule", tc.req)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status %d, want 400", tc.name, resp.StatusCode)
		}
	}
	if len(env.sched.scheduled) != 0 {
		t.Fatalf("invalid requests scheduled jobs: %+v", env.sched.scheduled)
	}
}

func TestListScheduled(t *testing.T) {
	env := newTestEnv(t)

	resp, body := doJSON(t, http.MethodGet, env.server.URL+"/api/posts/scheduled", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if body["count"].(float64) != 1 {
		t.Fatalf("pending count: %v", body["count"])
	}

	resp, body = doJSON(t, http.MethodGet, env.server.URL+"/api/posts/scheduled?all=true", nil)
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 2 {
		t.Fatalf("all count: %v", body["count"])
	}
}

func TestCancelEndpoint(t *testing.T) {
	env := newTestEnv(t)
	fireAt := time.Now().Add(time.Hour).Format(time.RFC3339)
	_, created := doJSON(t, http.MethodPost, env.server.URL+"/api/posts/schedule", map[string]any{
		"text": "x", "fire_at": fireAt,
	})
	id := created["id"].(string)

	resp, _ := doJSON(t, http.MethodDelete, env.server.URL+"/api/posts/scheduled/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status: %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodDelete, env.server.URL+"/api/posts/scheduled/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel unknown: %d, want 404", resp.StatusCode)
	}
}

func TestBulkEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := doJSON(t, http.MethodPost, env.server.URL+"/api/posts/bulk", map[string]any{
		"page": 1, "limit": 10,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d, body: %v", resp.StatusCode, body)
	}
	if body["scheduled"].(float64) != 2 {
		t.Fatalf("scheduled: %v", body["scheduled"])
	}
	// Titles pass through the rewriter before scheduling.
	if env.sched.scheduled[0].Text != "ALPHA" {
		t.Fatalf("rewritten text: %q", env.sched.scheduled[0].Text)
	}
}

func TestPostNowEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := doJSON(t, http.MethodPost, env.server.URL+"/api/posts/now", map[string]any{
		"text": "immediate",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if body["status"] != "POSTED" || body["remote_id"] != "now-1" {
		t.Fatalf("body: %v", body)
	}

	resp, _ = doJSON(t, http.MethodPost, env.server.URL+"/api/posts/now", map[string]any{"text": "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty text: %d, want 400", resp.StatusCode)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := doJSON(t, http.MethodGet, env.server.URL+"/api/history/posts?limit=5", nil)
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("status %d, body %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodGet, env.server.URL+"/api/history/posts?limit=0", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("limit=0: %d, want 400", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, body := doJSON(t, http.MethodGet, env.server.URL+"/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if body["timezone"] != "UTC" {
		t.Fatalf("body: %v", body)
	}
}
