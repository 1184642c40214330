package reports

import (
	"context"
	"encoding/json"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/db"
	"github.com/jingkaihe/skillgate/pkg/pipeline"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	skill_name TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	risk_score INTEGER NOT NULL,
	risk_level TEXT NOT NULL,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_reports_skill ON audit_reports(skill_name, created_at);

CREATE TABLE IF NOT EXISTS install_attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	skill_name TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	result TEXT NOT NULL,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_install_attempts_skill ON install_attempts(skill_name, created_at);
`

// SQLiteStore persists records as JSON blobs in SQLite, insert-only. The
// indexed columns exist for operator queries; the source of truth per record
// is the data column.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the store database at dbPath
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	database, err := db.Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := database.ExecContext(ctx, sqliteSchema); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to create schema")
	}

	return &SQLiteStore{db: database}, nil
}

// SaveAuditReport inserts one audit report row
func (s *SQLiteStore) SaveAuditReport(ctx context.Context, report *audit.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audit report")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_reports (skill_name, created_at, risk_score, risk_level, data) VALUES (?, ?, ?, ?, ?)`,
		report.SkillName, report.Timestamp.UnixNano(), report.RiskScore, string(report.RiskLevel), string(data))
	return errors.Wrap(err, "failed to insert audit report")
}

// SaveInstallAttempt inserts one installation attempt row
func (s *SQLiteStore) SaveInstallAttempt(ctx context.Context, attempt *pipeline.Attempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return errors.Wrap(err, "failed to marshal install attempt")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO install_attempts (skill_name, created_at, result, data) VALUES (?, ?, ?, ?)`,
		attempt.SkillName, attempt.StartedAt.UnixNano(), string(attempt.Result), string(data))
	return errors.Wrap(err, "failed to insert install attempt")
}

// ListAuditReports returns all stored audit reports, oldest first
func (s *SQLiteStore) ListAuditReports(ctx context.Context) ([]*audit.Report, error) {
	var rows []string
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT data FROM audit_reports ORDER BY created_at ASC`); err != nil {
		return nil, errors.Wrap(err, "failed to query audit reports")
	}

	reports := make([]*audit.Report, 0, len(rows))
	for _, data := range rows {
		var r audit.Report
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			continue
		}
		reports = append(reports, &r)
	}
	return reports, nil
}

// ListInstallAttempts returns all stored installation attempts, oldest first
func (s *SQLiteStore) ListInstallAttempts(ctx context.Context) ([]*pipeline.Attempt, error) {
	var rows []string
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT data FROM install_attempts ORDER BY created_at ASC`); err != nil {
		return nil, errors.Wrap(err, "failed to query install attempts")
	}

	attempts := make([]*pipeline.Attempt, 0, len(rows))
	for _, data := range rows {
		var a pipeline.Attempt
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			continue
		}
		attempts = append(attempts, &a)
	}
	return attempts, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
