package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"postpilot/internal/storage"
)

// Validation errors, returned synchronously by Schedule before anything is
// persisted.
var (
	ErrFireTimeNotFuture = errors.New("fire time must be in the future")
	ErrEmptyText         = errors.New("post text must not be empty")
	ErrTooManyImages     = errors.New("at most 4 images per post")
)

// ErrNotFound is returned by Cancel when no armed trigger exists for the id:
// the job is unknown, already terminal, or its execution has already begun
// (a started publish is never retracted).
var ErrNotFound = errors.New("no armed trigger for job")

// MaxImages is the publish media cap.
const MaxImages = 4

// DefaultGrace bounds how long after its fire time a job found at startup is
// still worth executing rather than expiring.
const DefaultGrace = 2 * time.Minute

type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Ho_Chi_Minh"; required
	Grace    time.Duration
	Slots    []string // HH:MM bulk slots; required for DistributeBulk
}

// Outcome is the result of one job execution, consumed synchronously by the
// engine's reconciliation step.
type Outcome struct {
	Status     storage.Status
	RemoteID   string
	MediaCount int
	Err        error
}

// Runner performs the publish side effect for one due job.
type Runner interface {
	Execute(ctx context.Context, job storage.Job) Outcome
}

// Store is the slice of the job store the engine depends on.
type Store interface {
	Append(job storage.Job) error
	ListPending() ([]storage.Job, error)
	UpdateStatus(id string, status storage.Status) error
}

// jobEntry is the registry record for one armed trigger. fired flips under
// the service mutex exactly once, which is what makes fire and cancel
// mutually exclusive.
type jobEntry struct {
	entryID cron.EntryID
	fireAt  time.Time
	fired   bool
}

// JobInfo describes one armed trigger for status reporting.
type JobInfo struct {
	ID     string    `json:"id"`
	FireAt time.Time `json:"fire_at"`
	Next   time.Time `json:"next"`
}

type Snapshot struct {
	Timezone string    `json:"timezone"`
	Armed    int       `json:"armed"`
	Jobs     []JobInfo `json:"jobs"`
}
