package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron

	store  Store
	runner Runner

	entries map[string]*jobEntry

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg Config, store Store, runner Runner, log logx.Logger) (*Service, error) {
	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		return nil, fmt.Errorf("scheduler timezone is required")
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		cfg:    cfg,
		loc:    loc,
		parser: cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		store:  store,
		runner: runner,

		entries: map[string]*jobEntry{},
	}, nil
}

// Location returns the configured trigger zone.
func (s *Service) Location() *time.Location { return s.loc }

// Start reconciles persisted PENDING jobs against the clock and begins
// firing triggers. Safe to call once.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))

	pending, err := s.store.ListPending()
	if err != nil {
		s.runCancel()
		s.c = nil
		return fmt.Errorf("load pending jobs: %w", err)
	}

	armed, expired, immediate := 0, 0, 0
	for _, job := range pending {
		switch s.armLocked(job) {
		case armOutcomeArmed:
			armed++
		case armOutcomeExpired:
			expired++
		case armOutcomeImmediate:
			immediate++
		}
	}

	s.c.Start()
	s.log.Info("trigger engine started",
		logx.String("tz", s.loc.String()),
		logx.Int("armed", armed),
		logx.Int("expired", expired),
		logx.Int("overdue_run", immediate))
	return nil
}

// Stop halts the cron runner and waits for in-flight executions.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.entries = map[string]*jobEntry{}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// in-flight executions continue in background; their store writes
		// are idempotent-terminal, so abandoning the wait is safe
		if cancel != nil {
			cancel()
		}
		return
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("trigger engine stopped")
}

// Schedule validates, persists, and arms a new job. The job is not
// scheduled unless the store append succeeded.
func (s *Service) Schedule(text string, imageURLs []string, fireAt time.Time) (storage.Job, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return storage.Job{}, ErrEmptyText
	}
	if len(imageURLs) > MaxImages {
		return storage.Job{}, ErrTooManyImages
	}
	now := time.Now()
	if !fireAt.After(now) {
		return storage.Job{}, fmt.Errorf("%w: %s", ErrFireTimeNotFuture, fireAt.Format(time.RFC3339))
	}

	job := storage.Job{
		ID:        newJobID(),
		FireAt:    fireAt.UTC(),
		Text:      text,
		ImageURLs: imageURLs,
		Status:    storage.StatusPending,
		CreatedAt: now.UTC(),
	}
	if err := s.store.Append(job); err != nil {
		return storage.Job{}, fmt.Errorf("persist job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		// Not started yet: the job is persisted and will be armed by the
		// Start() reconciliation pass.
		return job, nil
	}
	s.armLocked(job)
	s.log.Info("job scheduled",
		logx.String("job", job.ID),
		logx.Time("fire_at", job.FireAt.In(s.loc)),
		logx.Int("images", len(job.ImageURLs)))
	return job, nil
}

// Cancel deregisters a still-armed trigger and marks the job CANCELLED.
// Once execution has begun the entry is gone and Cancel reports ErrNotFound:
// published content is never retracted.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.fired {
		return ErrNotFound
	}
	if s.c != nil {
		s.c.Remove(e.entryID)
	}
	delete(s.entries, id)

	if err := s.store.UpdateStatus(id, storage.StatusCancelled); err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	s.log.Info("job cancelled", logx.String("job", id))
	return nil
}

// Snapshot reports the armed triggers, soonest first.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]JobInfo, 0, len(s.entries))
	for id, e := range s.entries {
		if e.fired {
			continue
		}
		info := JobInfo{ID: id, FireAt: e.fireAt}
		if s.c != nil && e.entryID != 0 {
			info.Next = s.c.Entry(e.entryID).Next
		}
		jobs = append(jobs, info)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].FireAt.Before(jobs[j].FireAt) })
	return Snapshot{Timezone: s.loc.String(), Armed: len(jobs), Jobs: jobs}
}

type armOutcome int

const (
	armOutcomeArmed armOutcome = iota
	armOutcomeExpired
	armOutcomeImmediate
)

// armLocked decides what to do with one PENDING job. Call with s.mu held
// and s.c non-nil.
func (s *Service) armLocked(job storage.Job) armOutcome {
	now := time.Now()

	if job.FireAt.After(now) {
		spec := triggerSpec(job.FireAt.In(s.loc))
		local := job
		eid, err := s.c.AddFunc(spec, func() { s.fire(local) })
		if err != nil {
			// A spec derived from a valid time should always parse; treat
			// failure like expiry so the job cannot be silently lost.
			s.log.Error("trigger registration failed", logx.String("job", job.ID), logx.String("spec", spec), logx.Err(err))
			s.markLocked(job.ID, storage.StatusError)
			return armOutcomeExpired
		}
		s.entries[job.ID] = &jobEntry{entryID: eid, fireAt: job.FireAt}
		s.log.Debug("trigger armed", logx.String("job", job.ID), logx.String("spec", spec))
		return armOutcomeArmed
	}

	if now.Sub(job.FireAt) <= s.cfg.Grace {
		// Overdue but still relevant (e.g. restart after short downtime):
		// run now instead of expiring.
		s.log.Info("job overdue within grace; executing now", logx.String("job", job.ID), logx.Time("fire_at", job.FireAt))
		ctx := s.runCtx
		local := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.execute(ctx, local)
		}()
		return armOutcomeImmediate
	}

	s.log.Warn("job fire time already passed; expiring", logx.String("job", job.ID), logx.Time("fire_at", job.FireAt))
	s.markLocked(job.ID, storage.StatusExpired)
	return armOutcomeExpired
}

// fire consumes the single scheduled occurrence of a job. It runs on the
// cron entry's own goroutine, so a slow publish never delays other triggers.
func (s *Service) fire(job storage.Job) {
	s.mu.Lock()
	e, ok := s.entries[job.ID]
	if !ok || e.fired {
		// cancelled, or a duplicate tick; either way this occurrence is spent
		s.mu.Unlock()
		return
	}
	e.fired = true
	if s.c != nil {
		s.c.Remove(e.entryID)
	}
	delete(s.entries, job.ID)
	ctx := s.runCtx
	s.mu.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()
	s.execute(ctx, job)
}

func (s *Service) execute(ctx context.Context, job storage.Job) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	out := s.runner.Execute(ctx, job)

	status := out.Status
	if !status.Terminal() {
		status = storage.StatusError
	}
	if err := s.store.UpdateStatus(job.ID, status); err != nil {
		s.log.Error("status reconcile failed", logx.String("job", job.ID), logx.String("status", string(status)), logx.Err(err))
	}

	dur := time.Since(start)
	switch {
	case out.Err != nil:
		s.log.Warn("job execution failed",
			logx.String("job", job.ID),
			logx.String("status", string(status)),
			logx.Duration("dur", dur),
			logx.Err(out.Err))
	default:
		s.log.Info("job executed",
			logx.String("job", job.ID),
			logx.String("status", string(status)),
			logx.String("remote_id", out.RemoteID),
			logx.Int("media", out.MediaCount),
			logx.Duration("dur", dur))
	}
}

func (s *Service) markLocked(id string, status storage.Status) {
	if err := s.store.UpdateStatus(id, status); err != nil {
		s.log.Error("status update failed", logx.String("job", id), logx.String("status", string(status)), logx.Err(err))
	}
}

// triggerSpec renders a one-shot calendar spec (second minute hour dom month)
// for t, which must already be in the engine's zone.
func triggerSpec(t time.Time) string {
	return fmt.Sprintf("%d %d %d %d %d *",
		t.Second(), t.Minute(), t.Hour(), t.Day(), int(t.Month()))
}

// newJobID is time-based with a random suffix so concurrent creates in the
// same millisecond cannot collide.
func newJobID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
