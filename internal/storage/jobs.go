package storage

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "postpilot/pkg/logx"
)

const jobsFileName = "scheduled_posts.txt"

// JobStore is the durable, single-writer store for scheduled jobs.
//
// All mutation goes through one mutex, so appends and status rewrites never
// interleave. Reads re-scan the file and are side-effect free; corrupt or
// partially written lines (e.g. truncated by a crash mid-append) are skipped
// with a warning, never fatal.
type JobStore struct {
	mu   sync.Mutex
	path string
	log  logx.Logger
}

func OpenJobs(dir string, log logx.Logger) (*JobStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("storage dir is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &JobStore{path: filepath.Join(dir, jobsFileName), log: log}, nil
}

// Path returns the backing file path (used in status reporting).
func (s *JobStore) Path() string { return s.path }

// Append persists a new job record. The caller must not treat the job as
// scheduled unless this returns nil.
func (s *JobStore) Append(job Job) error {
	if strings.TrimSpace(job.ID) == "" {
		return errors.New("job id is required")
	}
	if job.Status == "" {
		job.Status = StatusPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open jobs file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(encodeJob(job) + "\n"); err != nil {
		return fmt.Errorf("append job %s: %w", job.ID, err)
	}
	return f.Sync()
}

// ListPending returns all PENDING jobs in storage order.
func (s *JobStore) ListPending() ([]Job, error) {
	all, err := s.ListAll()
	if err != nil {
		return nil, err
	}
	pending := all[:0]
	for _, j := range all {
		if j.Status == StatusPending {
			pending = append(pending, j)
		}
	}
	return pending, nil
}

// ListAll returns every decodable job record in storage order.
func (s *JobStore) ListAll() ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *JobStore) readLocked() ([]Job, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open jobs file: %w", err)
	}
	defer f.Close()

	var jobs []Job
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		j, err := parseJob(line)
		if err != nil {
			s.log.Warn("skipping malformed job record", logx.Int("line", lineNo), logx.Err(err))
			continue
		}
		jobs = append(jobs, j)
	}
	if err := sc.Err(); err != nil {
		return jobs, fmt.Errorf("read jobs file: %w", err)
	}
	return jobs, nil
}

// UpdateStatus rewrites the status field of the record(s) with the given id.
// A missing id is a no-op, not an error, so duplicate terminal updates stay
// idempotent. The whole file is replaced atomically (tmp + rename) to keep a
// crash from leaving a half-written record behind.
func (s *JobStore) UpdateStatus(id string, status Status) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read jobs file: %w", err)
	}

	lines := strings.Split(string(b), "\n")
	escaped := escapeText(id)
	changed := false
	for i, line := range lines {
		if !strings.HasPrefix(line, escaped+fieldSep) {
			continue
		}
		parts := strings.Split(line, fieldSep)
		if len(parts) != jobFieldCount {
			continue
		}
		parts[4] = string(status)
		lines[i] = strings.Join(parts, fieldSep)
		changed = true
	}
	if !changed {
		return nil
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		return fmt.Errorf("write jobs file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace jobs file: %w", err)
	}
	return nil
}
