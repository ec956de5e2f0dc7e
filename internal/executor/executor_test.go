package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"postpilot/internal/publisher"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

type fakePublisher struct {
	mu         sync.Mutex
	uploads    int
	published  []string
	mediaSeen  [][]string
	failUpload bool
	failPost   bool
}

func (p *fakePublisher) UploadMedia(_ context.Context, m publisher.Media) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failUpload {
		return "", fmt.Errorf("%w: rejected", publisher.ErrMediaUpload)
	}
	p.uploads++
	return fmt.Sprintf("m%d", p.uploads), nil
}

func (p *fakePublisher) Publish(_ context.Context, text string, mediaIDs []string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failPost {
		return "", fmt.Errorf("%w: api down", publisher.ErrPublish)
	}
	p.published = append(p.published, text)
	p.mediaSeen = append(p.mediaSeen, mediaIDs)
	return "remote-1", nil
}

type memHistory struct {
	mu   sync.Mutex
	recs []storage.PostRecord
}

func (h *memHistory) AppendPost(_ context.Context, r storage.PostRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recs = append(h.recs, r)
	return nil
}

func (h *memHistory) last(t *testing.T) storage.PostRecord {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.recs) == 0 {
		t.Fatal("no history records")
	}
	return h.recs[len(h.recs)-1]
}

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(bytes.Repeat([]byte{0xAB}, 4096))
		case "/tiny.jpg":
			_, _ = w.Write([]byte("too small"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testJob(urls []string) storage.Job {
	return storage.Job{
		ID:        "job-1",
		FireAt:    time.Now().UTC(),
		Text:      "hello world",
		ImageURLs: urls,
		Status:    storage.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestExecuteSuccessWithImages(t *testing.T) {
	srv := imageServer(t)
	pub := &fakePublisher{}
	hist := &memHistory{}
	e := New(pub, hist, logx.Nop())

	out := e.Execute(context.Background(), testJob([]string{srv.URL + "/good.jpg", srv.URL + "/good.jpg"}))
	if out.Status != storage.StatusPosted || out.Err != nil {
		t.Fatalf("outcome: %+v", out)
	}
	if out.RemoteID != "remote-1" || out.MediaCount != 2 {
		t.Fatalf("outcome: %+v", out)
	}
	rec := hist.last(t)
	if rec.Status != string(storage.StatusPosted) || rec.MediaCount != 2 || rec.Text != "hello world" {
		t.Fatalf("history record: %+v", rec)
	}
}

func TestExecuteSkipsBrokenImages(t *testing.T) {
	srv := imageServer(t)
	pub := &fakePublisher{}
	e := New(pub, &memHistory{}, logx.Nop())

	urls := []string{srv.URL + "/missing.jpg", srv.URL + "/tiny.jpg", srv.URL + "/good.jpg"}
	out := e.Execute(context.Background(), testJob(urls))
	if out.Status != storage.StatusPosted {
		t.Fatalf("broken images must not sink the post: %+v", out)
	}
	if out.MediaCount != 1 {
		t.Fatalf("media count: %d, want 1", out.MediaCount)
	}
}

func TestExecuteAllImagesBrokenStillPosts(t *testing.T) {
	srv := imageServer(t)
	pub := &fakePublisher{}
	e := New(pub, &memHistory{}, logx.Nop())

	out := e.Execute(context.Background(), testJob([]string{srv.URL + "/missing.jpg"}))
	if out.Status != storage.StatusPosted || out.MediaCount != 0 {
		t.Fatalf("outcome: %+v", out)
	}
	if len(pub.mediaSeen) != 1 || len(pub.mediaSeen[0]) != 0 {
		t.Fatalf("publish media: %+v", pub.mediaSeen)
	}
}

func TestExecuteUploadFailureSkipsImage(t *testing.T) {
	srv := imageServer(t)
	pub := &fakePublisher{failUpload: true}
	e := New(pub, &memHistory{}, logx.Nop())

	out := e.Execute(context.Background(), testJob([]string{srv.URL + "/good.jpg"}))
	if out.Status != storage.StatusPosted || out.MediaCount != 0 {
		t.Fatalf("outcome: %+v", out)
	}
}

func TestExecutePublishFailure(t *testing.T) {
	pub := &fakePublisher{failPost: true}
	hist := &memHistory{}
	e := New(pub, hist, logx.Nop())

	out := e.Execute(context.Background(), testJob(nil))
	if out.Status != storage.StatusError {
		t.Fatalf("outcome: %+v", out)
	}
	if !errors.Is(out.Err, publisher.ErrPublish) {
		t.Fatalf("err: %v", out.Err)
	}
	if rec := hist.last(t); rec.Status != string(storage.StatusError) {
		t.Fatalf("history record: %+v", rec)
	}
}

func TestExecuteNilPublisher(t *testing.T) {
	hist := &memHistory{}
	e := New(nil, hist, logx.Nop())

	out := e.Execute(context.Background(), testJob(nil))
	if out.Status != storage.StatusExecutedNoPublisher || out.Err != nil {
		t.Fatalf("outcome: %+v", out)
	}
	if rec := hist.last(t); rec.Status != string(storage.StatusExecutedNoPublisher) {
		t.Fatalf("history record: %+v", rec)
	}
}
