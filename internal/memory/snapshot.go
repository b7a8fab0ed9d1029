package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

// snapshotFile is the durable snapshot format.
type snapshotFile struct {
	SavedAt time.Time `json:"saved_at"`
	Entries []*Entry  `json:"entries"`
}

// Snapshot writes the entry map to the configured snapshot path. It is a
// shutdown-time convenience, written atomically via temp file and rename.
// A store without a snapshot path configured snapshots to nowhere and
// returns nil.
func (s *Store) Snapshot() error {
	if s.cfg.SnapshotPath == "" {
		return nil
	}

	s.mu.Lock()
	snap := snapshotFile{SavedAt: s.clock().UTC()}
	for _, entry := range s.entries {
		snap.Entries = append(snap.Entries, entry.clone())
	}
	s.mu.Unlock()

	sort.Slice(snap.Entries, func(i, j int) bool {
		return snap.Entries[i].ID < snap.Entries[j].ID
	})

	raw, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.cfg.SnapshotPath), 0o700); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp := s.cfg.SnapshotPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.cfg.SnapshotPath); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	s.logger.Info("memory snapshot written",
		zap.String("path", s.cfg.SnapshotPath),
		zap.Int("entries", len(snap.Entries)),
	)
	return nil
}

// Rehydrate loads a snapshot written by Snapshot. Entries whose integrity
// hash no longer matches are dropped with a warning rather than trusted.
// A missing snapshot file is not an error.
func (s *Store) Rehydrate() error {
	if s.cfg.SnapshotPath == "" {
		return nil
	}

	raw, err := os.ReadFile(s.cfg.SnapshotPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loaded, dropped := 0, 0
	for _, entry := range snap.Entries {
		if entry.ID == "" || ComputeHash(entry) != entry.Hash {
			dropped++
			continue
		}
		s.entries[entry.ID] = entry
		loaded++
	}

	if dropped > 0 {
		s.logger.Warn("snapshot entries failed integrity check",
			zap.Int("dropped", dropped))
	}
	s.logger.Info("memory snapshot rehydrated",
		zap.Int("entries", loaded))
	return nil
}
