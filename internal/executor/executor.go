// Package executor performs the publish side effect for a due job: resolve
// image URLs to bytes, upload them, create the post, and record the result
// in history. Media failures degrade (the post still goes out with fewer
// images); publish failures are terminal for the job.
package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"postpilot/internal/publisher"
	"postpilot/internal/scheduler"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

const (
	imageFetchTimeout = 15 * time.Second
	maxImageBytes     = 5 << 20
	// Anything smaller is a tracking pixel or an error page, not a photo.
	minImageBytes = 1024
)

// History is the slice of the post history the executor writes to.
type History interface {
	AppendPost(ctx context.Context, rec storage.PostRecord) error
}

type Executor struct {
	pub     publisher.Publisher // nil when no driver is configured
	history History
	http    *http.Client
	log     logx.Logger
}

func New(pub publisher.Publisher, history History, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{
		pub:     pub,
		history: history,
		http:    &http.Client{Timeout: imageFetchTimeout},
		log:     log,
	}
}

// Execute publishes one due job and reports the terminal status the trigger
// engine should persist. It never panics the engine: every failure mode maps
// to a status.
func (e *Executor) Execute(ctx context.Context, job storage.Job) scheduler.Outcome {
	log := e.log.With(logx.String("job", job.ID))

	if e.pub == nil {
		log.Warn("no publisher configured; job consumed without posting")
		e.record(ctx, job, storage.StatusExecutedNoPublisher, "", 0)
		return scheduler.Outcome{Status: storage.StatusExecutedNoPublisher}
	}

	mediaIDs := e.uploadImages(ctx, log, job.ImageURLs)

	remoteID, err := e.pub.Publish(ctx, job.Text, mediaIDs)
	if err != nil {
		log.Error("publish failed", logx.Err(err))
		e.record(ctx, job, storage.StatusError, "", len(mediaIDs))
		return scheduler.Outcome{Status: storage.StatusError, Err: err}
	}

	e.record(ctx, job, storage.StatusPosted, remoteID, len(mediaIDs))
	return scheduler.Outcome{Status: storage.StatusPosted, RemoteID: remoteID, MediaCount: len(mediaIDs)}
}

// uploadImages resolves and uploads each URL independently. A broken image
// never sinks the post; it is logged and skipped.
func (e *Executor) uploadImages(ctx context.Context, log logx.Logger, urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	ids := make([]string, 0, len(urls))
	for _, url := range urls {
		m, err := e.fetchImage(ctx, url)
		if err != nil {
			log.Warn("image skipped", logx.String("url", url), logx.Err(err))
			continue
		}
		id, err := e.pub.UploadMedia(ctx, m)
		if err != nil {
			log.Warn("image upload skipped", logx.String("url", url), logx.Err(err))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (e *Executor) fetchImage(ctx context.Context, url string) (publisher.Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return publisher.Media{}, err
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return publisher.Media{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return publisher.Media{}, fmt.Errorf("fetch returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return publisher.Media{}, err
	}
	if len(data) > maxImageBytes {
		return publisher.Media{}, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	if len(data) < minImageBytes {
		return publisher.Media{}, fmt.Errorf("image body too small (%d bytes)", len(data))
	}
	return publisher.Media{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

func (e *Executor) record(ctx context.Context, job storage.Job, status storage.Status, remoteID string, mediaCount int) {
	if e.history == nil {
		return
	}
	rec := storage.PostRecord{
		At:         time.Now().UTC(),
		RemoteID:   remoteID,
		Text:       job.Text,
		MediaCount: mediaCount,
		Status:     string(status),
	}
	if err := e.history.AppendPost(ctx, rec); err != nil {
		e.log.Error("history append failed", logx.String("job", job.ID), logx.Err(err))
	}
}
