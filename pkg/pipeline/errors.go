package pipeline

import (
	"fmt"

	"github.com/jingkaihe/skillgate/pkg/audit"
)

// PolicyRejectionError is an expected, non-exceptional outcome: the audit or
// sandbox verdict exceeded the configured tolerance. It always carries the
// audit report so the full finding list can be logged.
type PolicyRejectionError struct {
	Reason string
	Report *audit.Report
}

func (e *PolicyRejectionError) Error() string {
	return fmt.Sprintf("policy rejection: %s", e.Reason)
}

// VerificationError means Install succeeded but Verify could not confirm the
// artifact. It implies partial state existed and must trigger rollback.
type VerificationError struct {
	Reason string
	Cause  error
}

func (e *VerificationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("verification failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("verification failed: %s", e.Reason)
}

func (e *VerificationError) Unwrap() error {
	return e.Cause
}
