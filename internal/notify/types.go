package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNilPayload      = errors.New("notify: nil payload")
	ErrInvalidPriority = errors.New("notify: invalid priority")
)

// Priority orders events by urgency. It controls both the aggregation delay
// and whether delivery bypasses scheduling entirely (Critical).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority maps config keys ("low", "medium", ...) to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "medium", "normal":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
}

// Kind tags the payload variant of an event. The rendering order of a digest
// follows kindOrder (see render.go), not submission order across kinds.
type Kind string

const (
	KindPoints      Kind = "points"
	KindMission     Kind = "mission"
	KindAchievement Kind = "achievement"
	KindLevel       Kind = "level"
	KindHint        Kind = "hint"
	KindReaction    Kind = "reaction"
	KindError       Kind = "error"
	KindOther       Kind = "other"
)

// Payload is the closed set of event payloads. The unexported methods keep
// the sum type closed to this package; OtherPayload is the open escape hatch
// for one-off notifications.
type Payload interface {
	Kind() Kind

	// normalized returns a stable textual form of the payload used only for
	// duplicate fingerprinting, not identity. Derived display state (e.g. a
	// running total) is excluded so a repeated action dedups even when the
	// total moved.
	normalized() string

	validate() error
}

// PointsPayload reports points awarded (or deducted) and the running total.
type PointsPayload struct {
	Amount int
	Total  int
	Source string
}

func (p PointsPayload) Kind() Kind { return KindPoints }

func (p PointsPayload) normalized() string {
	return fmt.Sprintf("%d|%s", p.Amount, strings.ToLower(strings.TrimSpace(p.Source)))
}

func (p PointsPayload) validate() error {
	if p.Amount == 0 {
		return errors.New("amount must be non-zero")
	}
	return nil
}

// MissionPayload reports a completed mission.
type MissionPayload struct {
	Name        string
	Points      int
	Description string
}

func (p MissionPayload) Kind() Kind { return KindMission }

func (p MissionPayload) normalized() string {
	return strings.ToLower(strings.TrimSpace(p.Name))
}

func (p MissionPayload) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("mission name is empty")
	}
	return nil
}

// AchievementPayload reports an unlocked achievement.
type AchievementPayload struct {
	Name        string
	Description string
}

func (p AchievementPayload) Kind() Kind { return KindAchievement }

func (p AchievementPayload) normalized() string {
	return strings.ToLower(strings.TrimSpace(p.Name))
}

func (p AchievementPayload) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("achievement name is empty")
	}
	return nil
}

// LevelPayload reports a level-up.
type LevelPayload struct {
	Level int
	Title string
}

func (p LevelPayload) Kind() Kind { return KindLevel }

func (p LevelPayload) normalized() string { return fmt.Sprintf("%d", p.Level) }

func (p LevelPayload) validate() error {
	if p.Level <= 0 {
		return errors.New("level must be positive")
	}
	return nil
}

// HintPayload carries a free-form hint or narrative nudge.
type HintPayload struct {
	Text string
}

func (p HintPayload) Kind() Kind { return KindHint }

func (p HintPayload) normalized() string { return strings.TrimSpace(p.Text) }

func (p HintPayload) validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return errors.New("hint text is empty")
	}
	return nil
}

// ReactionPayload confirms a registered channel reaction.
type ReactionPayload struct {
	Emoji   string
	Context string // e.g. the channel post the reaction landed on
}

func (p ReactionPayload) Kind() Kind { return KindReaction }

func (p ReactionPayload) normalized() string {
	return p.Emoji + "|" + strings.ToLower(strings.TrimSpace(p.Context))
}

func (p ReactionPayload) validate() error {
	if strings.TrimSpace(p.Emoji) == "" {
		return errors.New("reaction emoji is empty")
	}
	return nil
}

// ErrorPayload surfaces a user-visible error notice.
type ErrorPayload struct {
	Text string
}

func (p ErrorPayload) Kind() Kind { return KindError }

func (p ErrorPayload) normalized() string { return strings.TrimSpace(p.Text) }

func (p ErrorPayload) validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return errors.New("error text is empty")
	}
	return nil
}

// OtherPayload is the open escape hatch for kinds the engine doesn't know.
type OtherPayload struct {
	Tag  string
	Text string
}

func (p OtherPayload) Kind() Kind { return KindOther }

func (p OtherPayload) normalized() string {
	return strings.ToLower(strings.TrimSpace(p.Tag)) + "|" + strings.TrimSpace(p.Text)
}

func (p OtherPayload) validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return errors.New("text is empty")
	}
	return nil
}

// Event is one unit of information to convey to a user.
type Event struct {
	UserID      int64
	Payload     Payload
	Priority    Priority
	CreatedAt   time.Time
	Fingerprint string
}

// Sink delivers one formatted message to a user. The aggregator treats it as
// opaque; the app wires the Telegram adapter behind it.
type Sink interface {
	Deliver(ctx context.Context, userID int64, text string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, userID int64, text string) error

func (f SinkFunc) Deliver(ctx context.Context, userID int64, text string) error {
	return f(ctx, userID, text)
}

// HistoryItem records a recently delivered digest (for /status).
type HistoryItem struct {
	At     time.Time
	UserID int64
	Text   string
}

// LifecycleEvent is emitted on the event bus for engine lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type LifecycleEvent struct {
	UserID      int64     `json:"user_id"`
	Kind        Kind      `json:"kind,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Events      int       `json:"events,omitempty"`
	At          time.Time `json:"at"`
	Error       string    `json:"error,omitempty"`
}
