package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "dianabot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.dedup.snapshot.json   (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl   (append-only journal)
//   - <prefix>.engagement.json       (ledger snapshot, atomic rename)
//
// The dedup journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli
	dedupWrites       int

	ledgerPath string
	ledger     ledgerState
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

// ledgerState uses string keys so it JSON-marshals directly.
type ledgerState struct {
	Points       map[string]int             `json:"points"`
	Missions     map[string]map[string]bool `json:"missions"`
	Achievements map[string]map[string]bool `json:"achievements"`
}

func newLedgerState() ledgerState {
	return ledgerState{
		Points:       map[string]int{},
		Missions:     map[string]map[string]bool{},
		Achievements: map[string]map[string]bool{},
	}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".dedup.snapshot.json"
	journalPath := prefix + ".dedup.journal.jsonl"
	ledgerPath := prefix + ".engagement.json"

	// Load dedup from snapshot + journal.
	dedup := map[string]int64{}
	_ = loadDedupSnapshot(snapPath, dedup)
	_ = replayDedupJournal(journalPath, dedup)
	pruneExpiredDedup(dedup)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	ledger := newLedgerState()
	if err := loadJSONFile(ledgerPath, &ledger); err == nil {
		if ledger.Points == nil {
			ledger.Points = map[string]int{}
		}
		if ledger.Missions == nil {
			ledger.Missions = map[string]map[string]bool{}
		}
		if ledger.Achievements == nil {
			ledger.Achievements = map[string]map[string]bool{}
		}
	}

	return &fileStore{
		log:               log,
		dedupSnapshotPath: snapPath,
		dedupJournalFile:  jf,
		dedup:             dedup,
		ledgerPath:        ledgerPath,
		ledger:            ledger,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	err1 = s.saveLedgerLocked()
	if s.dedupJournalFile != nil {
		err2 = s.dedupJournalFile.Close()
		s.dedupJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return errors.New("dedup journal closed")
	}
	s.dedup[key] = ms

	enc := json.NewEncoder(s.dedupJournalFile)
	if err := enc.Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) AddPoints(ctx context.Context, userID int64, delta int) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	k := strconv.FormatInt(userID, 10)
	s.ledger.Points[k] += delta
	total := s.ledger.Points[k]
	if err := s.saveLedgerLocked(); err != nil {
		return total, err
	}
	return total, nil
}

func (s *fileStore) GetPoints(ctx context.Context, userID int64) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Points[strconv.FormatInt(userID, 10)], nil
}

func (s *fileStore) PutMission(ctx context.Context, userID int64, missionID string) (bool, error) {
	_ = ctx
	missionID = strings.TrimSpace(missionID)
	if missionID == "" {
		return false, errors.New("mission id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := strconv.FormatInt(userID, 10)
	done := s.ledger.Missions[k]
	if done == nil {
		done = map[string]bool{}
		s.ledger.Missions[k] = done
	}
	if done[missionID] {
		return false, nil
	}
	done[missionID] = true
	return true, s.saveLedgerLocked()
}

func (s *fileStore) PutAchievement(ctx context.Context, userID int64, achievementID string) (bool, error) {
	_ = ctx
	achievementID = strings.TrimSpace(achievementID)
	if achievementID == "" {
		return false, errors.New("achievement id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := strconv.FormatInt(userID, 10)
	got := s.ledger.Achievements[k]
	if got == nil {
		got = map[string]bool{}
		s.ledger.Achievements[k] = got
	}
	if got[achievementID] {
		return false, nil
	}
	got[achievementID] = true
	return true, s.saveLedgerLocked()
}

func (s *fileStore) saveLedgerLocked() error {
	tmp := s.ledgerPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.ledger); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.ledgerPath)
}

func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.dedup)

	tmp := s.dedupSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.dedup); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.dedupSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.dedupJournalFile.Seek(0, 2)
	return err
}

func loadJSONFile(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(out)
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	var m map[string]int64
	if err := loadJSONFile(path, &m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return s.Err()
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
