package collector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CheckpointManager persists timestamped snapshots of the record set so an
// interrupted run can resume. Checkpoints are immutable: later ones
// supersede earlier ones, nothing is overwritten.
type CheckpointManager struct {
	dir string
}

func NewCheckpointManager(dir string) (*CheckpointManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &CheckpointManager{dir: dir}, nil
}

// Save writes one checkpoint file and returns its path. Filenames embed the
// creation time in nanoseconds so a lexical sort of the directory matches
// recency order.
func (m *CheckpointManager) Save(records []Record, processed int64) (string, error) {
	cp := Checkpoint{
		Timestamp:      time.Now().UTC(),
		ProcessedCount: processed,
		Records:        records,
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}

	path := filepath.Join(m.dir, fmt.Sprintf("checkpoint-%d.json", cp.Timestamp.UnixNano()))

	// Write-then-rename so a crash mid-write never leaves a half checkpoint
	// that LoadLatest would pick up.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize checkpoint: %w", err)
	}
	return path, nil
}

// LoadLatest returns the most recent checkpoint by embedded timestamp, or
// nil when none exist. No checkpoint is a normal fresh-run outcome, not an
// error. Unreadable files are skipped.
func (m *CheckpointManager) LoadLatest() (*Checkpoint, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	var latest *Checkpoint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "checkpoint-") || !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}

		if latest == nil || cp.Timestamp.After(latest.Timestamp) {
			c := cp
			latest = &c
		}
	}
	return latest, nil
}
