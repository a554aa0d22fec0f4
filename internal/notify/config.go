package notify

import "time"

// Config controls the aggregation engine. It is an explicitly constructed
// value: build it once at startup (see internal/config) and pass it in; tests
// swap it atomically via Service.Apply.
type Config struct {
	// Aggregation toggles batching. When false every submission flushes
	// synchronously, as if it were Critical.
	Aggregation bool

	// MaxQueueSize forces an immediate flush once a user's pending queue
	// grows past this many events.
	MaxQueueSize int

	// DuplicateWindow is how long a content fingerprint suppresses repeats.
	// Zero disables duplicate suppression.
	DuplicateWindow time.Duration

	// Delays maps priority to the deferred-flush delay.
	Delays Delays

	// RatePerSec bounds outbound deliveries across all users.
	RatePerSec int

	// RetryMax is the number of delivery retries after the first attempt.
	// Zero keeps the engine strictly at-most-once; see the package doc
	// before raising it.
	RetryMax  int
	RetryBase time.Duration

	// PersistDedup mirrors fingerprints through the storage layer so the
	// duplicate window survives restarts (best-effort).
	PersistDedup bool

	Format Format
}

// Delays holds the per-priority aggregation delay. Critical has no delay by
// definition.
type Delays struct {
	Low    time.Duration
	Medium time.Duration
	High   time.Duration
}

func (d Delays) For(p Priority) time.Duration {
	switch p {
	case PriorityLow:
		return d.Low
	case PriorityHigh:
		return d.High
	default:
		return d.Medium
	}
}

// Format drives the digest renderer.
type Format struct {
	UseEmojis    bool
	UseMarkdown  bool
	ShowTotals   bool
	GroupSimilar bool

	// DianaPersonality adds the narrator header when a digest carries more
	// than one line.
	DianaPersonality bool
}

// DefaultConfig mirrors the shipped config file defaults.
func DefaultConfig() Config {
	return Config{
		Aggregation:     true,
		MaxQueueSize:    10,
		DuplicateWindow: 10 * time.Second,
		Delays: Delays{
			Low:    1500 * time.Millisecond,
			Medium: 1 * time.Second,
			High:   500 * time.Millisecond,
		},
		RatePerSec: 3,
		RetryMax:   0,
		RetryBase:  500 * time.Millisecond,
		Format: Format{
			UseEmojis:        true,
			ShowTotals:       true,
			GroupSimilar:     true,
			DianaPersonality: true,
		},
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = def.MaxQueueSize
	}
	if cfg.DuplicateWindow < 0 {
		cfg.DuplicateWindow = 0
	}
	if cfg.Delays.Low <= 0 {
		cfg.Delays.Low = def.Delays.Low
	}
	if cfg.Delays.Medium <= 0 {
		cfg.Delays.Medium = def.Delays.Medium
	}
	if cfg.Delays.High <= 0 {
		cfg.Delays.High = def.Delays.High
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = def.RatePerSec
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	return cfg
}
