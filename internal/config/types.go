package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration document.
//
// The on-disk format is YAML (or JSON); both are decoded strictly, so
// unknown keys are rejected rather than silently ignored.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Publisher PublisherConfig `json:"publisher,omitempty"`
	Content   ContentConfig   `json:"content,omitempty"`
	HTTP      HTTPConfig      `json:"http,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level,omitempty"`
	Console bool           `json:"console"`
	File    LogFileConfig  `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// SchedulerConfig controls trigger behavior.
//
// Timezone must be an explicit IANA zone (e.g. "Asia/Ho_Chi_Minh"): fire
// times are calendar-based and must resolve the same way after a restart on
// a host with a different locale.
type SchedulerConfig struct {
	Timezone string `json:"timezone"`

	// Grace is a Go duration string. A pending job found overdue by at most
	// this much (e.g. after downtime) is executed immediately instead of
	// being expired. "0s" expires anything already past due.
	Grace string `json:"grace,omitempty"`

	// Slots are the daily HH:MM publish slots used by bulk distribution.
	Slots []string `json:"slots,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// The scheduled-jobs file is always the flat pipe-delimited format (it is a
// compatibility contract). HistoryDriver selects the backend for the posted
// and processed-article history:
//   - "file": dependency-free flat files (default)
//   - "sqlite": SQLite database (requires the sqlite build tag)
type StorageConfig struct {
	Dir           string `json:"dir"`
	HistoryDriver string `json:"history_driver,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// PublisherConfig selects and configures the outbound posting client.
//
// Driver values: "x", "telegram", or empty to run without a publisher
// (jobs then finish as EXECUTED_NO_PUBLISHER).
type PublisherConfig struct {
	Driver     string         `json:"driver,omitempty"`
	RatePerMin int            `json:"rate_per_min,omitempty"`
	X          XConfig        `json:"x,omitempty"`
	Telegram   TelegramConfig `json:"telegram,omitempty"`
}

type XConfig struct {
	BaseURL     string `json:"base_url,omitempty"`
	BearerToken string `json:"bearer_token,omitempty"` // falls back to $X_BEARER_TOKEN
}

type TelegramConfig struct {
	Token  string `json:"token,omitempty"` // falls back to $TELEGRAM_BOT_TOKEN
	ChatID int64  `json:"chat_id,omitempty"`
}

type ContentConfig struct {
	SourceURL string   `json:"source_url,omitempty"`
	AI        AIConfig `json:"ai,omitempty"`
}

// AIConfig points at an OpenAI-compatible chat completions endpoint used to
// rewrite article titles. Failures fall back to a local template, so this is
// always best-effort.
type AIConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"` // falls back to $AI_API_KEY
	Model   string `json:"model,omitempty"`
	Timeout string `json:"timeout,omitempty"` // Go duration string
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8090"
}

// DefaultSlots is the original fixed posting schedule: 4 slots per day.
var DefaultSlots = []string{"08:00", "12:00", "17:00", "21:00"}

// Validate checks invariants that would otherwise only surface at runtime.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.Scheduler.Timezone) == "" {
		return errors.New("scheduler.timezone is required")
	}
	if _, err := time.LoadLocation(strings.TrimSpace(c.Scheduler.Timezone)); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if _, err := ParseDurationField("scheduler.grace", c.Scheduler.Grace); err != nil {
		return err
	}
	for _, s := range c.Slots() {
		if err := validateHHMM(s); err != nil {
			return fmt.Errorf("scheduler.slots: %w", err)
		}
	}
	if strings.TrimSpace(c.Storage.Dir) == "" {
		return errors.New("storage.dir is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Publisher.Driver)) {
	case "", "none", "x", "telegram":
	default:
		return fmt.Errorf("publisher.driver: unknown driver %q", c.Publisher.Driver)
	}
	return nil
}

// Slots returns the configured bulk slots, or the default four.
func (c *Config) Slots() []string {
	if len(c.Scheduler.Slots) == 0 {
		return DefaultSlots
	}
	return c.Scheduler.Slots
}

func validateHHMM(s string) error {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return fmt.Errorf("invalid slot %q, expected HH:MM", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return fmt.Errorf("invalid slot %q, expected HH:MM", s)
	}
	return nil
}
