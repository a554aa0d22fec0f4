package app

import (
	"fmt"
	"strings"
	"time"

	"dianabot/internal/config"
	"dianabot/internal/engagement"
	"dianabot/internal/notify"
	"dianabot/internal/services/scheduler"
	"dianabot/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 1*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapNotifyConfig translates the config file section into the engine config.
// Omitted fields keep engine defaults.
func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	out := notify.DefaultConfig()
	if cfg == nil || cfg.Notifications == nil {
		return out, nil
	}
	nc := cfg.Notifications

	if nc.Aggregation != nil {
		out.Aggregation = *nc.Aggregation
	}
	if nc.MaxQueueSize > 0 {
		out.MaxQueueSize = nc.MaxQueueSize
	} else if nc.MaxQueueSize < 0 {
		return out, fmt.Errorf("notifications.max_queue_size must be >= 0")
	}

	var err error
	if strings.TrimSpace(nc.DuplicateWindow) != "" {
		out.DuplicateWindow, err = config.ParseDurationField("notifications.duplicate_window", nc.DuplicateWindow)
		if err != nil {
			return out, err
		}
	}
	out.Delays.Low, err = config.ParseDurationOrDefault("notifications.delays.low", nc.Delays.Low, out.Delays.Low)
	if err != nil {
		return out, err
	}
	out.Delays.Medium, err = config.ParseDurationOrDefault("notifications.delays.medium", nc.Delays.Medium, out.Delays.Medium)
	if err != nil {
		return out, err
	}
	out.Delays.High, err = config.ParseDurationOrDefault("notifications.delays.high", nc.Delays.High, out.Delays.High)
	if err != nil {
		return out, err
	}

	if nc.RatePerSec > 0 {
		out.RatePerSec = nc.RatePerSec
	}
	if nc.RetryMax < 0 {
		return out, fmt.Errorf("notifications.retry_max must be >= 0")
	}
	out.RetryMax = nc.RetryMax
	out.RetryBase, err = config.ParseDurationOrDefault("notifications.retry_base", nc.RetryBase, out.RetryBase)
	if err != nil {
		return out, err
	}
	out.PersistDedup = nc.PersistDedup

	if f := nc.Format; f != nil {
		if f.UseEmojis != nil {
			out.Format.UseEmojis = *f.UseEmojis
		}
		if f.UseMarkdown != nil {
			out.Format.UseMarkdown = *f.UseMarkdown
		}
		if f.ShowTotals != nil {
			out.Format.ShowTotals = *f.ShowTotals
		}
		if f.GroupSimilar != nil {
			out.Format.GroupSimilar = *f.GroupSimilar
		}
		if f.DianaPersonality != nil {
			out.Format.DianaPersonality = *f.DianaPersonality
		}
	}
	return out, nil
}

func mapEngagementConfig(cfg *config.Config) (engagement.Config, bool) {
	if cfg == nil || cfg.Engagement == nil {
		return engagement.Config{}, false
	}
	return engagement.Config{PointsPerLevel: cfg.Engagement.PointsPerLevel}, cfg.Engagement.Enabled
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	if cfg == nil {
		return scheduler.Config{}
	}
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}
}
