package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "config.json", `{
		"telegram": {"token": "t", "owner_user_ids": [1, 2], "poll_timeout": "10s"},
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}, "telegram": {"enabled": false, "thread_id": 0, "min_level": "", "rate_per_sec": 0}},
		"storage": {"driver": "sqlite", "path": "./test.db"},
		"reminders": {"utc_offset": "3h", "workers": 4}
	}`)

	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "t" || len(cfg.Telegram.OwnerUserIDs) != 2 {
		t.Fatalf("telegram section = %+v", cfg.Telegram)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage.driver = %q", cfg.Storage.Driver)
	}
	if cfg.Reminders == nil || cfg.Reminders.Workers != 4 {
		t.Fatalf("reminders section = %+v", cfg.Reminders)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "config.yaml", `
telegram:
  token: t
  poll_timeout: 10s
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
  telegram:
    enabled: false
    thread_id: 0
    min_level: ""
    rate_per_sec: 0
storage:
  driver: sqlite
  path: ./test.db
  busy_timeout: 5s
`)

	cfg, err := NewManager(p).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.BusyTimeout != "5s" {
		t.Fatalf("storage.busy_timeout = %q", cfg.Storage.BusyTimeout)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "config.json", `{"telegram": {"token": "t"}, "loging": {}}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "config.json", `{"telegram": {"token": "t"}}{"extra": 1}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", " 10s "); err != nil || d != 10*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-3s"); err == nil {
		t.Fatal("negative should fail")
	}
	if _, err := ParseDurationField("x", "nope"); err == nil {
		t.Fatal("garbage should fail")
	}
	if d, err := ParseDurationOrDefault("x", "", 7*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("default: got %v, %v", d, err)
	}
}

func TestParseOffsetField(t *testing.T) {
	t.Parallel()

	if d, err := ParseOffsetField("x", "-5h", 0); err != nil || d != -5*time.Hour {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseOffsetField("x", "", 3*time.Hour); err != nil || d != 3*time.Hour {
		t.Fatalf("default: got %v, %v", d, err)
	}
	if _, err := ParseOffsetField("x", "25h", 0); err == nil {
		t.Fatal("out-of-range offset should fail")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Storage: StorageConfig{Driver: "sqlite", Path: "a.db"}}
	newCfg := &Config{
		Storage:   StorageConfig{Driver: "sqlite", Path: "b.db"},
		Reminders: &RemindersConfig{Workers: 4},
	}
	changed, _ := SummarizeChange(oldCfg, newCfg)
	want := map[string]bool{"storage": true, "reminders": true}
	if len(changed) != 2 || !want[changed[0]] || !want[changed[1]] {
		t.Fatalf("changed = %v", changed)
	}

	changed, _ = SummarizeChange(newCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}
