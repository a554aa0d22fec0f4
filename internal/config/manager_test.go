package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"telegram": {"token": "x", "owner_user_ids": [42], "poll_timeout": "10s"},
		"logging": {"level": "DEBUG", "console": true, "file": {"enabled": false, "path": ""}},
		"scheduler": {"enabled": true, "daily_digest": "09:00"},
		"notifications": {"max_queue_size": 5, "duplicate_window": "10s"},
		"storage": {"driver": "file", "path": "./store"}
	}`)

	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "x" || len(cfg.Telegram.OwnerUserIDs) != 1 {
		t.Fatalf("telegram section mismatch: %+v", cfg.Telegram)
	}
	if cfg.Notifications == nil || cfg.Notifications.MaxQueueSize != 5 {
		t.Fatalf("notifications section mismatch: %+v", cfg.Notifications)
	}
	if cfg.Scheduler.DailyDigest != "09:00" {
		t.Fatalf("scheduler section mismatch: %+v", cfg.Scheduler)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: y
  owner_user_ids: [1, 2]
  poll_timeout: 15s
logging:
  level: INFO
  console: true
  file:
    enabled: false
    path: ""
scheduler:
  enabled: false
notifications:
  aggregation: true
  delays:
    low: 1500ms
    medium: 1s
    high: 500ms
`)

	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "y" || len(cfg.Telegram.OwnerUserIDs) != 2 {
		t.Fatalf("telegram section mismatch: %+v", cfg.Telegram)
	}
	if cfg.Notifications == nil || cfg.Notifications.Delays.Low != "1500ms" {
		t.Fatalf("delays mismatch: %+v", cfg.Notifications)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"telegram": {"token": "x", "poll_timeout": "10s", "owner_user_ids": []},
		"logging": {"level": "INFO", "console": true, "file": {"enabled": false, "path": ""}},
		"scheduler": {"enabled": false},
		"surprise": true
	}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "x", "poll_timeout": "", "owner_user_ids": []}, "logging": {"level": "", "console": false, "file": {"enabled": false, "path": ""}}, "scheduler": {"enabled": false}}{}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing JSON")
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("ignored")
	ch := m.Subscribe(1)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	default:
		t.Fatal("config not delivered")
	}

	m.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Fatal("channel must be closed after Unsubscribe")
	}
}

func TestDurationParsing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "empty", raw: "", want: "0s"},
		{name: "millis", raw: "500ms", want: "500ms"},
		{name: "minutes", raw: "2m", want: "2m0s"},
		{name: "negative", raw: "-5s", wantErr: true},
		{name: "garbage", raw: "pronto", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDurationField("test", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDurationField(%q): expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if d.String() != tt.want {
				t.Fatalf("ParseDurationField(%q) = %v, want %s", tt.raw, d, tt.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("t", "", 42)
	if err != nil || d != 42 {
		t.Fatalf("default not applied: (%v, %v)", d, err)
	}
	d, err = ParseDurationOrDefault("t", "1s", 42)
	if err != nil || d.Seconds() != 1 {
		t.Fatalf("explicit value lost: (%v, %v)", d, err)
	}
}
