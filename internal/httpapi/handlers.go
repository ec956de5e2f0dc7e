// Package httpapi exposes the service over HTTP: scheduling, cancellation,
// bulk distribution, immediate posting, and history inspection.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"postpilot/internal/content"
	"postpilot/internal/scheduler"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

// Scheduler is the slice of the trigger engine the handlers use. Defined
// locally to keep the handler decoupled from the engine's full surface.
type Scheduler interface {
	Schedule(text string, imageURLs []string, fireAt time.Time) (storage.Job, error)
	Cancel(id string) error
	Snapshot() scheduler.Snapshot
	DistributeBulk(items []scheduler.BulkItem, start time.Time) ([]scheduler.BulkResult, error)
	Location() *time.Location
}

// Jobs reads the persisted job list.
type Jobs interface {
	ListPending() ([]storage.Job, error)
	ListAll() ([]storage.Job, error)
}

// History reads the post history.
type History interface {
	RecentPosts(ctx context.Context, limit int) ([]storage.PostRecord, error)
}

// Fetcher pulls articles for bulk distribution. May be nil when no content
// source is configured.
type Fetcher interface {
	Fetch(ctx context.Context, page, limit int) ([]content.Article, error)
}

// Rewriter produces post copy from an article title.
type Rewriter interface {
	Rewrite(ctx context.Context, title string) string
}

// Runner executes a post immediately, bypassing the trigger registry.
type Runner interface {
	Execute(ctx context.Context, job storage.Job) scheduler.Outcome
}

type Handler struct {
	sched    Scheduler
	jobs     Jobs
	history  History
	fetcher  Fetcher
	rewriter Rewriter
	runner   Runner
	log      logx.Logger
	started  time.Time
}

func NewHandler(sched Scheduler, jobs Jobs, history History, fetcher Fetcher, rewriter Rewriter, runner Runner, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{
		sched:    sched,
		jobs:     jobs,
		history:  history,
		fetcher:  fetcher,
		rewriter: rewriter,
		runner:   runner,
		log:      log,
		started:  time.Now(),
	}
}

// RegisterRoutes mounts all endpoints onto the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/posts/schedule", h.handleSchedule)
	r.Get("/posts/scheduled", h.handleListScheduled)
	r.Delete("/posts/scheduled/{id}", h.handleCancel)
	r.Post("/posts/bulk", h.handleBulk)
	r.Post("/posts/now", h.handlePostNow)
	r.Get("/history/posts", h.handleHistory)
	r.Get("/status", h.handleStatus)
}

type scheduleRequest struct {
	Text      string   `json:"text"`
	ImageURLs []string `json:"image_urls"`
	FireAt    string   `json:"fire_at"` // RFC 3339
}

type jobResponse struct {
	ID        string    `json:"id"`
	FireAt    time.Time `json:"fire_at"`
	Text      string    `json:"text"`
	ImageURLs []string  `json:"image_urls,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func toJobResponse(j storage.Job) jobResponse {
	return jobResponse{
		ID:        j.ID,
		FireAt:    j.FireAt,
		Text:      j.Text,
		ImageURLs: j.ImageURLs,
		Status:    string(j.Status),
		CreatedAt: j.CreatedAt,
	}
}

func (h *Handler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fireAt, err := time.Parse(time.RFC3339, req.FireAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "fire_at must be RFC 3339")
		return
	}
	job, err := h.sched.Schedule(req.Text, req.ImageURLs, fireAt)
	if err != nil {
		writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobResponse(job))
}

func (h *Handler) handleListScheduled(w http.ResponseWriter, r *http.Request) {
	var (
		jobs []storage.Job
		err  error
	)
	if r.URL.Query().Get("all") == "true" {
		jobs, err = h.jobs.ListAll()
	} else {
		jobs, err = h.jobs.ListPending()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "job store read failed")
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "jobs": out})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sched.Cancel(id); err != nil {
		if errors.Is(err, scheduler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no armed trigger for that id")
			return
		}
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": string(storage.StatusCancelled)})
}

type bulkRequest struct {
	Page      int    `json:"page"`
	Limit     int    `json:"limit"`
	StartDate string `json:"start_date"` // YYYY-MM-DD, optional
}

func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	if h.fetcher == nil {
		writeError(w, http.StatusServiceUnavailable, "no content source configured")
		return
	}
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}

	var start time.Time
	if s := strings.TrimSpace(req.StartDate); s != "" {
		t, err := time.ParseInLocation("2006-01-02", s, h.sched.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
			return
		}
		start = t
	}

	articles, err := h.fetcher.Fetch(r.Context(), req.Page, req.Limit)
	if err != nil {
		h.log.Warn("bulk fetch failed", logx.Err(err))
		writeError(w, http.StatusBadGateway, "content source unavailable")
		return
	}
	if len(articles) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"scheduled": 0, "results": []scheduler.BulkResult{}})
		return
	}

	items := make([]scheduler.BulkItem, 0, len(articles))
	for _, a := range articles {
		text := a.Title
		if h.rewriter != nil {
			text = h.rewriter.Rewrite(r.Context(), a.Title)
		}
		items = append(items, scheduler.BulkItem{Title: a.Title, Text: text, ImageURLs: capImages(a.ImageURLs)})
	}

	results, err := h.sched.DistributeBulk(items, start)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ok := 0
	for _, res := range results {
		if res.OK {
			ok++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scheduled": ok, "results": results})
}

type postNowRequest struct {
	Text      string   `json:"text"`
	ImageURLs []string `json:"image_urls"`
}

func (h *Handler) handlePostNow(w http.ResponseWriter, r *http.Request) {
	var req postNowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}
	if len(req.ImageURLs) > scheduler.MaxImages {
		writeError(w, http.StatusBadRequest, "at most 4 images per post")
		return
	}

	job := storage.Job{
		ID:        "now-" + strconv.FormatInt(time.Now().UnixMilli(), 10),
		FireAt:    time.Now().UTC(),
		Text:      text,
		ImageURLs: req.ImageURLs,
		Status:    storage.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	out := h.runner.Execute(r.Context(), job)
	if out.Err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"status": string(out.Status),
			"error":  out.Err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    string(out.Status),
		"remote_id": out.RemoteID,
		"media":     out.MediaCount,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be 1..500")
			return
		}
		limit = n
	}
	recs, err := h.history.RecentPosts(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history read failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(recs), "posts": recs})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.sched.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime":   time.Since(h.started).Round(time.Second).String(),
		"timezone": snap.Timezone,
		"armed":    snap.Armed,
		"jobs":     snap.Jobs,
	})
}

func capImages(urls []string) []string {
	if len(urls) > scheduler.MaxImages {
		return urls[:scheduler.MaxImages]
	}
	return urls
}

func writeSchedulerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrEmptyText),
		errors.Is(err, scheduler.ErrTooManyImages),
		errors.Is(err, scheduler.ErrFireTimeNotFuture):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "schedule failed")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
