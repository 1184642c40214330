package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/pipeline"
	"github.com/pkg/errors"
)

const (
	auditsSubdir   = "audits"
	installsSubdir = "installs"
)

// JSONStore persists one JSON document per record. File names embed the
// record's name and timestamp, so records are never overwritten.
type JSONStore struct {
	basePath string
}

// NewJSONStore creates a JSON file-based report store rooted at basePath
func NewJSONStore(basePath string) (*JSONStore, error) {
	for _, sub := range []string{auditsSubdir, installsSubdir} {
		if err := os.MkdirAll(filepath.Join(basePath, sub), 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create reports directory")
		}
	}
	return &JSONStore{basePath: basePath}, nil
}

// SaveAuditReport appends one audit report document
func (s *JSONStore) SaveAuditReport(_ context.Context, report *audit.Report) error {
	name := fmt.Sprintf("%s-%d.json", sanitizeName(report.SkillName), report.Timestamp.UnixNano())
	return s.writeDocument(filepath.Join(s.basePath, auditsSubdir, name), report)
}

// SaveInstallAttempt appends one installation attempt document
func (s *JSONStore) SaveInstallAttempt(_ context.Context, attempt *pipeline.Attempt) error {
	name := fmt.Sprintf("%s-%d.json", sanitizeName(attempt.SkillName), attempt.StartedAt.UnixNano())
	return s.writeDocument(filepath.Join(s.basePath, installsSubdir, name), attempt)
}

// writeDocument writes atomically via a temp file rename
func (s *JSONStore) writeDocument(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal record")
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write temporary record file")
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return errors.Wrap(err, "failed to rename temporary record file")
	}

	return nil
}

// ListAuditReports returns all stored audit reports, oldest first
func (s *JSONStore) ListAuditReports(_ context.Context) ([]*audit.Report, error) {
	var reports []*audit.Report
	err := s.readDocuments(auditsSubdir, func(data []byte) error {
		var r audit.Report
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		reports = append(reports, &r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Timestamp.Before(reports[j].Timestamp)
	})
	return reports, nil
}

// ListInstallAttempts returns all stored installation attempts, oldest first
func (s *JSONStore) ListInstallAttempts(_ context.Context) ([]*pipeline.Attempt, error) {
	var attempts []*pipeline.Attempt
	err := s.readDocuments(installsSubdir, func(data []byte) error {
		var a pipeline.Attempt
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		attempts = append(attempts, &a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].StartedAt.Before(attempts[j].StartedAt)
	})
	return attempts, nil
}

func (s *JSONStore) readDocuments(subdir string, decode func([]byte) error) error {
	dir := filepath.Join(s.basePath, subdir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "failed to read reports directory")
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		if err := decode(data); err != nil {
			// a corrupt record must not hide the rest of the history
			continue
		}
	}
	return nil
}

// Close is a no-op for the JSON store
func (s *JSONStore) Close() error {
	return nil
}

func sanitizeName(name string) string {
	if name == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
