package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ValentinMastro/EncodeTalker/internal/fileutil"
	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

// Snapshot is the persisted form of the three partitions. History is ordered
// oldest first.
type Snapshot struct {
	Queue   []job.Job `json:"queue"`
	Active  []job.Job `json:"active"`
	History []job.Job `json:"history"`
}

// EmptySnapshot returns a snapshot with non-nil partitions.
func EmptySnapshot() Snapshot {
	return Snapshot{Queue: []job.Job{}, Active: []job.Job{}, History: []job.Job{}}
}

// Len returns the total number of jobs in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Queue) + len(s.Active) + len(s.History)
}

// Persistence reads and writes snapshots at a fixed path.
type Persistence struct {
	path string
}

// NewPersistence returns a Persistence bound to path.
func NewPersistence(path string) *Persistence {
	return &Persistence{path: path}
}

// Path returns the state file location.
func (p *Persistence) Path() string {
	return p.path
}

// Save writes the snapshot atomically: the file holds either the previous
// snapshot or the new one.
func (p *Persistence) Save(s Snapshot) error {
	s = normalizeSnapshot(s)
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := fileutil.WriteFileAtomic(p.path, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Load reads the snapshot. A missing file yields an empty snapshot; a
// malformed file yields an error and the caller chooses the fallback.
func (p *Persistence) Load() (Snapshot, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return EmptySnapshot(), nil
		}
		return EmptySnapshot(), fmt.Errorf("read state: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return EmptySnapshot(), fmt.Errorf("parse state %s: %w", p.path, err)
	}
	return normalizeSnapshot(s), nil
}

func normalizeSnapshot(s Snapshot) Snapshot {
	if s.Queue == nil {
		s.Queue = []job.Job{}
	}
	if s.Active == nil {
		s.Active = []job.Job{}
	}
	if s.History == nil {
		s.History = []job.Job{}
	}
	return s
}
