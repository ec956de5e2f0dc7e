package storage

import (
	"os"
	"strings"
	"testing"
	"time"

	logx "postpilot/pkg/logx"
)

func testJob(id string, status Status) Job {
	return Job{
		ID:        id,
		FireAt:    time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
		Text:      "scheduled text",
		Status:    status,
		CreatedAt: time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
	}
}

func openTestJobs(t *testing.T) *JobStore {
	t.Helper()
	s, err := OpenJobs(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("OpenJobs: %v", err)
	}
	return s
}

func TestAppendAndListPending(t *testing.T) {
	s := openTestJobs(t)

	for _, j := range []Job{
		testJob("j1", StatusPending),
		testJob("j2", StatusPosted),
		testJob("j3", StatusPending),
	} {
		if err := s.Append(j); err != nil {
			t.Fatalf("Append(%s): %v", j.ID, err)
		}
	}

	pending, err := s.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "j1" || pending[1].ID != "j3" {
		t.Fatalf("pending: got %+v", pending)
	}

	all, err := s.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all: got %d records", len(all))
	}
}

func TestListOnMissingFileIsEmpty(t *testing.T) {
	s := openTestJobs(t)
	jobs, err := s.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty store, got %d jobs", len(jobs))
	}
}

func TestUpdateStatus(t *testing.T) {
	s := openTestJobs(t)
	if err := s.Append(testJob("j1", StatusPending)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(testJob("j2", StatusPending)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := s.UpdateStatus("j1", StatusPosted); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	all, err := s.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if all[0].Status != StatusPosted {
		t.Fatalf("j1 status: got %q", all[0].Status)
	}
	if all[1].Status != StatusPending {
		t.Fatalf("j2 status: got %q, expected untouched", all[1].Status)
	}
	// Only the status field changes; everything else survives the rewrite.
	if all[0].Text != "scheduled text" || !all[0].FireAt.Equal(testJob("j1", "").FireAt) {
		t.Fatalf("rewrite damaged record: %+v", all[0])
	}
}

func TestUpdateStatusIdempotentAndMissingID(t *testing.T) {
	s := openTestJobs(t)
	if err := s.Append(testJob("j1", StatusPending)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.UpdateStatus("j1", StatusCancelled); err != nil {
			t.Fatalf("UpdateStatus pass %d: %v", i, err)
		}
	}
	if err := s.UpdateStatus("no-such-id", StatusPosted); err != nil {
		t.Fatalf("UpdateStatus on missing id should be a no-op, got %v", err)
	}

	all, _ := s.ListAll()
	if len(all) != 1 || all[0].Status != StatusCancelled {
		t.Fatalf("store state: %+v", all)
	}
}

func TestCorruptLinesAreSkipped(t *testing.T) {
	s := openTestJobs(t)
	if err := s.Append(testJob("j1", StatusPending)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Simulate a crash mid-append: a truncated trailing line.
	f, err := os.OpenFile(s.Path(), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("j2|2026-09-01T0"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	jobs, err := s.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "j1" {
		t.Fatalf("expected only the intact record, got %+v", jobs)
	}
}

func TestUpdateStatusWithPipeInNeighborText(t *testing.T) {
	s := openTestJobs(t)
	j := testJob("j1", StatusPending)
	j.Text = "text with | a pipe"
	if err := s.Append(j); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.UpdateStatus("j1", StatusError); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	all, _ := s.ListAll()
	if all[0].Status != StatusError || all[0].Text != j.Text {
		t.Fatalf("record after rewrite: %+v", all[0])
	}

	raw, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if strings.Count(strings.TrimSpace(string(raw)), "\n") != 0 {
		t.Fatalf("expected a single line, got: %q", raw)
	}
}
