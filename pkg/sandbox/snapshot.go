package sandbox

import (
	"bytes"
	"io/fs"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Snapshot labels used by the before/after convention
const (
	SnapshotBefore = "before"
	SnapshotAfter  = "after"
)

// FileSnapshot captures the verbatim content of one file at one point in
// time, keyed by (path, label).
type FileSnapshot struct {
	Path      string      `json:"path"`
	Label     string      `json:"label"`
	Content   []byte      `json:"content"`
	FileMode  fs.FileMode `json:"fileMode"`
	Timestamp time.Time   `json:"timestamp"`
}

type snapshotKey struct {
	path  string
	label string
}

// SnapshotFile captures the current content of path under the given label.
// Snapshotting the same (path, label) pair again replaces the earlier capture.
func (e *Executor) SnapshotFile(path, label string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "failed to stat %s", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshots[snapshotKey{path: path, label: label}] = &FileSnapshot{
		Path:      path,
		Label:     label,
		Content:   content,
		FileMode:  info.Mode(),
		Timestamp: time.Now(),
	}
	return nil
}

// CompareSnapshots compares the before/after snapshot pair for path by
// content equality. Both snapshots must exist.
func (e *Executor) CompareSnapshots(path string) (bool, error) {
	e.mu.Lock()
	before, okBefore := e.snapshots[snapshotKey{path: path, label: SnapshotBefore}]
	after, okAfter := e.snapshots[snapshotKey{path: path, label: SnapshotAfter}]
	e.mu.Unlock()

	if !okBefore {
		return false, errors.Errorf("no %q snapshot for %s", SnapshotBefore, path)
	}
	if !okAfter {
		return false, errors.Errorf("no %q snapshot for %s", SnapshotAfter, path)
	}

	return bytes.Equal(before.Content, after.Content), nil
}

// RollbackFile rewrites path from its before snapshot, byte for byte.
func (e *Executor) RollbackFile(path string) error {
	e.mu.Lock()
	before, ok := e.snapshots[snapshotKey{path: path, label: SnapshotBefore}]
	e.mu.Unlock()

	if !ok {
		return errors.Errorf("no %q snapshot for %s", SnapshotBefore, path)
	}

	if err := os.WriteFile(path, before.Content, before.FileMode); err != nil {
		return errors.Wrapf(err, "failed to roll back %s", path)
	}
	return nil
}
