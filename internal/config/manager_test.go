package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
logging:
  level: DEBUG
  console: true
scheduler:
  timezone: Asia/Ho_Chi_Minh
  grace: 2m
  slots: ["09:00", "15:00"]
storage:
  dir: ./data
publisher:
  driver: telegram
  telegram:
    chat_id: -100123456
http:
  enabled: true
  addr: 127.0.0.1:9999
`

func TestLoadValidYAML(t *testing.T) {
	m := NewManager(writeConfig(t, validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.Timezone != "Asia/Ho_Chi_Minh" {
		t.Fatalf("timezone: %q", cfg.Scheduler.Timezone)
	}
	if cfg.Logging.Level != "DEBUG" || !cfg.Logging.Console {
		t.Fatalf("logging: %+v", cfg.Logging)
	}
	if cfg.Publisher.Telegram.ChatID != -100123456 {
		t.Fatalf("chat id: %d", cfg.Publisher.Telegram.ChatID)
	}
	if got := cfg.Slots(); len(got) != 2 || got[1] != "15:00" {
		t.Fatalf("slots: %v", got)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestSlotsDefault(t *testing.T) {
	cfg := &Config{}
	got := cfg.Slots()
	if len(got) != 4 || got[0] != "08:00" || got[3] != "21:00" {
		t.Fatalf("default slots: %v", got)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	m := NewManager(writeConfig(t, `
scheduler:
  timezone: UTC
  tpyo_key: oops
storage:
  dir: ./data
`))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing timezone", "storage:\n  dir: ./data\n"},
		{"bad timezone", "scheduler:\n  timezone: Mars/Olympus\nstorage:\n  dir: ./data\n"},
		{"missing storage dir", "scheduler:\n  timezone: UTC\n"},
		{"bad grace", "scheduler:\n  timezone: UTC\n  grace: fast\nstorage:\n  dir: ./data\n"},
		{"bad slot", "scheduler:\n  timezone: UTC\n  slots: [\"25:99\"]\nstorage:\n  dir: ./data\n"},
		{"bad driver", "scheduler:\n  timezone: UTC\nstorage:\n  dir: ./data\npublisher:\n  driver: myspace\n"},
	}
	for _, tc := range cases {
		m := NewManager(writeConfig(t, tc.yaml))
		if _, err := m.Load(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestValidatorHookRuns(t *testing.T) {
	m := NewManager(writeConfig(t, "scheduler:\n  timezone: UTC\nstorage:\n  dir: ./data\n"))
	called := false
	m.SetValidator(func(cfg *Config) error {
		called = true
		return nil
	})
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !called {
		t.Fatal("validator hook was not called")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"scheduler":{"timezone":"UTC"},"storage":{"dir":"d"}}{"x":1}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := NewManager(path)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for trailing JSON")
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", " 90s "); err != nil || d.Seconds() != 90 {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("expected error for junk duration")
	}
}
