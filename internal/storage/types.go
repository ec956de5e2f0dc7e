package storage

import (
	"errors"
	"time"
)

var (
	ErrClosed   = errors.New("storage closed")
	ErrDisabled = errors.New("storage disabled")
)

// Status is the lifecycle state of a scheduled job. PENDING is the only
// non-terminal value; every transition out of it is final (re-writing the
// same terminal status is allowed and idempotent).
type Status string

const (
	StatusPending             Status = "PENDING"
	StatusPosted              Status = "POSTED"
	StatusExpired             Status = "EXPIRED"
	StatusCancelled           Status = "CANCELLED"
	StatusError               Status = "ERROR"
	StatusExecutedNoPublisher Status = "EXECUTED_NO_PUBLISHER"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool { return s != StatusPending && s != "" }

// Job is one deferred publish action.
//
// ID, FireAt, Text, ImageURLs and CreatedAt are immutable once appended;
// only Status is ever rewritten in place.
type Job struct {
	ID        string
	FireAt    time.Time // UTC-normalized
	Text      string
	ImageURLs []string // at most 4 are used at publish time
	Status    Status
	CreatedAt time.Time
}

// PostRecord is one line of the immutable posted-items history.
type PostRecord struct {
	At         time.Time `json:"at"`
	RemoteID   string    `json:"remote_id,omitempty"`
	Text       string    `json:"text"`
	MediaCount int       `json:"media_count"`
	Status     string    `json:"status"`
}

// ArticleRecord is one line of the processed-articles history.
type ArticleRecord struct {
	At         time.Time
	Title      string
	ImageCount int
	SourceURL  string
	Page       int
	Status     string
}

// Config configures the history backend.
//
// Driver values:
//   - "" or "file": flat files under Dir
//   - "sqlite": SQLite database under Dir (optional build tag)
type Config struct {
	Driver      string
	Dir         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
