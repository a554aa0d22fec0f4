// Package engagement implements the gamification producers: points,
// missions, achievements and levels. Every state change it records is
// announced to the user through the notification engine; delivery is
// fire-and-forget from this package's point of view.
package engagement

import (
	"context"
	"strings"
	"sync"

	"dianabot/internal/notify"
	"dianabot/internal/storage"
	logx "dianabot/pkg/logx"
)

// Notifier is the slice of the notification engine this package needs.
type Notifier interface {
	Submit(ctx context.Context, userID int64, p notify.Payload, prio notify.Priority) error
}

type Config struct {
	// PointsPerLevel is the flat level-up threshold. Level N starts at
	// (N-1)*PointsPerLevel points.
	PointsPerLevel int
}

func (c Config) withDefaults() Config {
	if c.PointsPerLevel <= 0 {
		c.PointsPerLevel = 100
	}
	return c
}

// levelTitles decorates the first few level-ups. Levels beyond the list get
// no title.
var levelTitles = []string{
	"",
	"Novato",
	"Aprendiz",
	"Explorador",
	"Veterano",
	"Maestro",
	"Leyenda",
}

// Service tracks per-user engagement state. With storage configured the
// ledger is durable; without it, state lives in memory and resets on
// restart (missions and achievements then re-unlock, which is acceptable
// for a dev setup).
type Service struct {
	log      logx.Logger
	cfg      Config
	store    storage.Store
	notifier Notifier

	// In-memory fallback ledger, used only when store is nil.
	mu           sync.Mutex
	points       map[int64]int
	missions     map[int64]map[string]bool
	achievements map[int64]map[string]bool
}

func New(cfg Config, store storage.Store, notifier Notifier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:          log,
		cfg:          cfg.withDefaults(),
		store:        store,
		notifier:     notifier,
		points:       map[int64]int{},
		missions:     map[int64]map[string]bool{},
		achievements: map[int64]map[string]bool{},
	}
}

// AwardPoints credits (or debits) points, notifies the user and announces a
// level-up when the total crosses a threshold. Returns the new total.
func (s *Service) AwardPoints(ctx context.Context, userID int64, amount int, source string) (int, error) {
	if amount == 0 {
		return s.Points(ctx, userID), nil
	}

	before, total, err := s.addPoints(ctx, userID, amount)
	if err != nil {
		return 0, err
	}

	s.submit(ctx, userID, notify.PointsPayload{Amount: amount, Total: total, Source: source}, notify.PriorityLow)

	if lvl := s.level(total); amount > 0 && lvl > s.level(before) {
		s.submit(ctx, userID, notify.LevelPayload{Level: lvl, Title: titleFor(lvl)}, notify.PriorityMedium)
	}
	return total, nil
}

// CompleteMission records a mission completion. Repeat completions are
// silent no-ops: no points, no notification. The first completion awards the
// mission's points and announces it.
func (s *Service) CompleteMission(ctx context.Context, userID int64, missionID, name string, points int) error {
	missionID = strings.TrimSpace(missionID)
	if missionID == "" {
		missionID = strings.ToLower(strings.TrimSpace(name))
	}

	first, err := s.putMission(ctx, userID, missionID)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	s.submit(ctx, userID, notify.MissionPayload{Name: name, Points: points}, notify.PriorityMedium)
	if points != 0 {
		if _, err := s.AwardPoints(ctx, userID, points, "misión: "+name); err != nil {
			s.log.Warn("mission points award failed", logx.Int64("user", userID), logx.Err(err))
		}
	}
	return nil
}

// UnlockAchievement records an achievement unlock, idempotent like
// CompleteMission but without a points side effect.
func (s *Service) UnlockAchievement(ctx context.Context, userID int64, achievementID, name, description string) error {
	achievementID = strings.TrimSpace(achievementID)
	if achievementID == "" {
		achievementID = strings.ToLower(strings.TrimSpace(name))
	}

	first, err := s.putAchievement(ctx, userID, achievementID)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	s.submit(ctx, userID, notify.AchievementPayload{Name: name, Description: description}, notify.PriorityHigh)
	return nil
}

// RegisterReaction confirms a channel reaction back to the user. where
// describes the post the reaction landed on.
func (s *Service) RegisterReaction(ctx context.Context, userID int64, emoji, where string) {
	s.submit(ctx, userID, notify.ReactionPayload{Emoji: emoji, Context: where}, notify.PriorityLow)
}

// Points returns the user's current total.
func (s *Service) Points(ctx context.Context, userID int64) int {
	if s.store != nil {
		total, err := s.store.GetPoints(ctx, userID)
		if err == nil {
			return total
		}
		s.log.Debug("points read failed", logx.Int64("user", userID), logx.Err(err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.points[userID]
}

// Level returns the user's current level (1-based).
func (s *Service) Level(ctx context.Context, userID int64) int {
	return s.level(s.Points(ctx, userID))
}

// ---- internals ----

func (s *Service) addPoints(ctx context.Context, userID int64, delta int) (before, after int, err error) {
	if s.store != nil {
		after, err = s.store.AddPoints(ctx, userID, delta)
		if err != nil {
			return 0, 0, err
		}
		return after - delta, after, nil
	}
	s.mu.Lock()
	before = s.points[userID]
	after = before + delta
	s.points[userID] = after
	s.mu.Unlock()
	return before, after, nil
}

func (s *Service) putMission(ctx context.Context, userID int64, missionID string) (bool, error) {
	if s.store != nil {
		return s.store.PutMission(ctx, userID, missionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	done := s.missions[userID]
	if done == nil {
		done = map[string]bool{}
		s.missions[userID] = done
	}
	if done[missionID] {
		return false, nil
	}
	done[missionID] = true
	return true, nil
}

func (s *Service) putAchievement(ctx context.Context, userID int64, achievementID string) (bool, error) {
	if s.store != nil {
		return s.store.PutAchievement(ctx, userID, achievementID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	got := s.achievements[userID]
	if got == nil {
		got = map[string]bool{}
		s.achievements[userID] = got
	}
	if got[achievementID] {
		return false, nil
	}
	got[achievementID] = true
	return true, nil
}

func (s *Service) submit(ctx context.Context, userID int64, p notify.Payload, prio notify.Priority) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Submit(ctx, userID, p, prio); err != nil {
		s.log.Warn("notification submit rejected",
			logx.Int64("user", userID),
			logx.String("kind", string(p.Kind())),
			logx.Err(err),
		)
	}
}

func (s *Service) level(total int) int {
	if total < 0 {
		total = 0
	}
	return total/s.cfg.PointsPerLevel + 1
}

func titleFor(level int) string {
	if level > 0 && level < len(levelTitles) {
		return levelTitles[level]
	}
	return ""
}
