// Package reports provides append-only persistence of audit reports and
// installation attempts for traceability. Records are keyed by (name,
// timestamp) and never updated in place; run-time decisions use only the
// in-memory objects from the current pipeline invocation, the store is a
// sink.
package reports

import (
	"context"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/pipeline"
)

// Store persists audit reports and installation attempts. Implementations
// are append-only.
type Store interface {
	SaveAuditReport(ctx context.Context, report *audit.Report) error
	SaveInstallAttempt(ctx context.Context, attempt *pipeline.Attempt) error
	ListAuditReports(ctx context.Context) ([]*audit.Report, error)
	ListInstallAttempts(ctx context.Context) ([]*pipeline.Attempt, error)
	Close() error
}
