package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Notifications controls the aggregation engine: batching delays,
	// the duplicate window, rendering flags and delivery retries.
	Notifications *NotificationsConfig `json:"notifications,omitempty"`

	Engagement *EngagementConfig `json:"engagement,omitempty"`
	Scheduler  SchedulerConfig   `json:"scheduler"`
	Storage    *StorageConfig    `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// NotificationsConfig controls the notification aggregation engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, defaults apply (aggregation enabled).
type NotificationsConfig struct {
	Aggregation *bool `json:"aggregation,omitempty"`

	// MaxQueueSize is the per-user pending cap. Exceeding it forces an
	// immediate flush.
	MaxQueueSize int `json:"max_queue_size,omitempty"`

	// DuplicateWindow suppresses repeats of an identical event for a user.
	// Use "0s" to disable dedup.
	DuplicateWindow string `json:"duplicate_window,omitempty"`

	// Delays maps priority to batching delay. Critical is always immediate.
	Delays NotificationDelays `json:"delays,omitempty"`

	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"`

	// PersistDedup mirrors the duplicate window into storage so it
	// survives restarts. Requires a configured storage section.
	PersistDedup bool `json:"persist_dedup,omitempty"`

	Format *MessageFormat `json:"format,omitempty"`
}

type NotificationDelays struct {
	Low    string `json:"low,omitempty"`
	Medium string `json:"medium,omitempty"`
	High   string `json:"high,omitempty"`
}

// MessageFormat controls digest rendering. Pointers distinguish "omitted"
// (keep the default, which is true for every flag) from an explicit false.
type MessageFormat struct {
	UseEmojis        *bool `json:"use_emojis,omitempty"`
	UseMarkdown      *bool `json:"use_markdown,omitempty"`
	ShowTotals       *bool `json:"show_totals,omitempty"`
	GroupSimilar     *bool `json:"group_similar,omitempty"`
	DianaPersonality *bool `json:"diana_personality,omitempty"`
}

// EngagementConfig controls the gamification producers (points, missions,
// achievements, levels).
type EngagementConfig struct {
	Enabled bool `json:"enabled"`

	// PointsPerLevel sets the flat level-up threshold. Default 100.
	PointsPerLevel int `json:"points_per_level,omitempty"`
}

// SchedulerConfig controls the trigger service (daily digest, dedup sweep).
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// DailyDigest is a local "HH:MM" time; empty disables the daily job.
	DailyDigest string `json:"daily_digest,omitempty"`

	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./dianabot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
