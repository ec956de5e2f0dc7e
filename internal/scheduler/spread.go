package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	logx "postpilot/pkg/logx"
)

// BulkItem is one piece of content to be auto-distributed across the daily
// publish slots.
type BulkItem struct {
	Title     string
	Text      string // falls back to Title when empty
	ImageURLs []string
}

// BulkResult is the per-item outcome of a bulk distribution. One item's
// failure never blocks the rest of the batch.
type BulkResult struct {
	Title  string    `json:"title"`
	ID     string    `json:"id,omitempty"`
	FireAt time.Time `json:"fire_at,omitempty"`
	Slot   string    `json:"slot,omitempty"`
	Day    int       `json:"day,omitempty"` // 1-based day label (dayOffset+1)
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
}

// DistributeBulk assigns item i to day i/K, slot i%K (K = number of daily
// slots) and schedules each independently. start is truncated to local
// midnight; when zero it defaults to tomorrow, which guarantees even day 0
// slot 0 is in the future.
func (s *Service) DistributeBulk(items []BulkItem, start time.Time) ([]BulkResult, error) {
	slots, err := parseSlots(s.cfg.Slots)
	if err != nil {
		return nil, err
	}
	k := len(slots)

	var base time.Time
	if start.IsZero() {
		now := time.Now().In(s.loc)
		base = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, 1)
	} else {
		t := start.In(s.loc)
		base = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
	}

	results := make([]BulkResult, 0, len(items))
	for i, item := range items {
		dayOffset := i / k
		slot := slots[i%k]
		fireAt := base.AddDate(0, 0, dayOffset).
			Add(time.Duration(slot.hour)*time.Hour + time.Duration(slot.minute)*time.Minute)

		text := strings.TrimSpace(item.Text)
		if text == "" {
			text = strings.TrimSpace(item.Title)
		}

		job, err := s.Schedule(text, item.ImageURLs, fireAt)
		if err != nil {
			s.log.Warn("bulk item not scheduled", logx.String("title", item.Title), logx.Err(err))
			results = append(results, BulkResult{Title: item.Title, Error: err.Error()})
			continue
		}
		results = append(results, BulkResult{
			Title:  item.Title,
			ID:     job.ID,
			FireAt: job.FireAt,
			Slot:   slot.String(),
			Day:    dayOffset + 1,
			OK:     true,
		})
	}
	return results, nil
}

type daySlot struct {
	hour, minute int
}

func (d daySlot) String() string {
	return fmt.Sprintf("%02d:%02d", d.hour, d.minute)
}

func parseSlots(raw []string) ([]daySlot, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no daily slots configured")
	}
	slots := make([]daySlot, 0, len(raw))
	for _, s := range raw {
		h, m, err := parseHHMM(s)
		if err != nil {
			return nil, err
		}
		slots = append(slots, daySlot{hour: h, minute: m})
	}
	return slots, nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid slot %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
