// Package spill manages the on-disk spill directory shared by the
// Priority Deduplicator's partition run files and the Chain Reducer's
// join temporaries: a manifest records which partitions have already
// been merged and emitted, and a dirty directory is refused on the next
// run unless the caller passes --resume (continue) or --force-resume
// (start over).
package spill

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const manifestFile = "run.lock"

// Manifest records one merge run's progress against its spill directory.
// Completed partitions are keyed "<kind>/<idx>" so the node and edge
// dedup passes, which both number their partitions from zero, never
// shadow each other's progress.
type Manifest struct {
	RunID               string          `json:"run_id"`
	StartedAt           time.Time       `json:"started_at"`
	PartitionCount      int             `json:"partition_count"`
	CompletedPartitions map[string]bool `json:"completed_partitions"`
	Completed           bool            `json:"completed"`
}

// Manager owns the spill directory for one merge run.
type Manager struct {
	dir    string
	logger *logrus.Logger

	mu       sync.Mutex
	manifest Manifest
}

// ErrDirty is returned by Prepare when a prior run's spill directory was
// left behind by a crash and neither --resume nor --force-resume was
// given.
var ErrDirty = fmt.Errorf("spill directory has an incomplete prior run; pass --resume or --force-resume")

// NewManager creates a spill manager rooted at dir.
func NewManager(dir string, logger *logrus.Logger) *Manager {
	return &Manager{dir: dir, logger: logger}
}

// Dir returns the spill directory path.
func (m *Manager) Dir() string { return m.dir }

// PartitionPath returns the run-file path for partition idx.
func (m *Manager) PartitionPath(kind string, idx int) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s-part-%04d.gob", kind, idx))
}

// Prepare readies the spill directory for a run with the given partition
// count, honoring the resume/force-resume flags.
func (m *Manager) Prepare(partitionCount int, resume, forceResume bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.loadManifest()
	switch {
	case err != nil && !os.IsNotExist(err):
		return fmt.Errorf("reading spill manifest: %w", err)
	case err == nil && !existing.Completed:
		if forceResume {
			m.logger.WithField("dir", m.dir).Warn("force-resume: discarding incomplete spill directory")
			if err := os.RemoveAll(m.dir); err != nil {
				return fmt.Errorf("clearing spill directory: %w", err)
			}
		} else if !resume {
			return ErrDirty
		} else {
			m.logger.WithField("dir", m.dir).Info("resuming prior run from spill manifest")
			m.manifest = *existing
			if m.manifest.CompletedPartitions == nil {
				m.manifest.CompletedPartitions = map[string]bool{}
			}
			return m.mkdir()
		}
	}

	m.manifest = Manifest{
		RunID:               uuid.NewString(),
		StartedAt:           timeNow(),
		PartitionCount:      partitionCount,
		CompletedPartitions: map[string]bool{},
	}
	if err := m.mkdir(); err != nil {
		return err
	}
	return m.persistLocked()
}

func (m *Manager) mkdir() error {
	return os.MkdirAll(m.dir, 0o755)
}

// IsPartitionDone reports whether partition idx of the given kind
// ("nodes" or "edges") was fully merged and emitted in a prior
// (resumed) run.
func (m *Manager) IsPartitionDone(kind string, idx int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manifest.CompletedPartitions[partitionKey(kind, idx)]
}

// MarkPartitionDone records that partition idx of the given kind has
// been fully merged and its winners emitted, and persists the manifest
// so a crash after this point can resume past it.
func (m *Manager) MarkPartitionDone(kind string, idx int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.manifest.CompletedPartitions == nil {
		m.manifest.CompletedPartitions = map[string]bool{}
	}
	m.manifest.CompletedPartitions[partitionKey(kind, idx)] = true
	return m.persistLocked()
}

func partitionKey(kind string, idx int) string {
	return fmt.Sprintf("%s/%d", kind, idx)
}

// MarkCompleted records that the whole run finished successfully; Cleanup
// may now safely remove the directory.
func (m *Manager) MarkCompleted() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifest.Completed = true
	return m.persistLocked()
}

// Cleanup removes the spill directory. Only called after a clean exit;
// on crash the directory (and its manifest) is left for post-mortem.
func (m *Manager) Cleanup() error {
	return os.RemoveAll(m.dir)
}

func (m *Manager) persistLocked() error {
	data, err := json.MarshalIndent(m.manifest, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(m.dir, manifestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(m.dir, manifestFile))
}

func (m *Manager) loadManifest() (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, manifestFile))
	if err != nil {
		return nil, err
	}
	var man Manifest
	if err := json.Unmarshal(data, &man); err != nil {
		return nil, err
	}
	return &man, nil
}

// timeNow is a seam so tests can avoid depending on wall-clock time if
// they ever need to.
var timeNow = time.Now
