// Package audit implements the static risk scanner for third-party skill
// trees. It walks a source tree, matches file content against a data-driven
// rule table, and aggregates the matches into a scored, immutable report.
package audit

import (
	"time"

	"github.com/pkg/errors"
)

// Severity classifies how dangerous a single finding is
type Severity string

// Severities in descending order of weight
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Weight returns the risk score contribution of a finding of this severity
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 100
	case SeverityHigh:
		return 75
	case SeverityMedium:
		return 50
	case SeverityLow:
		return 25
	default:
		return 0
	}
}

// RiskLevel is the aggregate verdict derived from the risk score
type RiskLevel string

// Risk levels in ascending order
const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Ordinal returns the position of the risk level in the safe..critical order,
// used for threshold comparison against a configured ceiling.
func (r RiskLevel) Ordinal() int {
	switch r {
	case RiskSafe:
		return 0
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return -1
	}
}

// ParseRiskLevel parses a configured risk level string
func ParseRiskLevel(s string) (RiskLevel, error) {
	level := RiskLevel(s)
	if level.Ordinal() == -1 {
		return "", errors.Errorf("invalid risk level %q: expected one of safe, low, medium, high, critical", s)
	}
	return level, nil
}

// RiskLevelFromScore maps a risk score onto a risk level via fixed thresholds
func RiskLevelFromScore(score int) RiskLevel {
	switch {
	case score >= 100:
		return RiskCritical
	case score >= 75:
		return RiskHigh
	case score >= 50:
		return RiskMedium
	case score >= 25:
		return RiskLow
	default:
		return RiskSafe
	}
}

// Finding types
const (
	FindingDangerousPattern     = "dangerous_pattern"
	FindingSuspiciousPermission = "suspicious_permission"
	FindingScanError            = "scan_error"
)

// Finding is one security-relevant observation from the scanner.
// Immutable once created.
type Finding struct {
	Type      string    `json:"type"`
	Severity  Severity  `json:"severity"`
	Name      string    `json:"name"`
	File      string    `json:"file"`
	Context   string    `json:"context"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is the result of one audit call. Created once per audit and
// immutable thereafter.
type Report struct {
	SkillName      string    `json:"skillName"`
	SkillPath      string    `json:"skillPath"`
	SourceURL      string    `json:"sourceUrl,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	FilesScanned   []string  `json:"filesScanned"`
	Findings       []Finding `json:"findings"`
	RiskScore      int       `json:"riskScore"`
	RiskLevel      RiskLevel `json:"riskLevel"`
	Recommendation string    `json:"recommendation"`
}

// CountBySeverity returns the number of findings per severity
func (r *Report) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	for _, f := range r.Findings {
		counts[f.Severity]++
	}
	return counts
}

func recommendationFor(level RiskLevel) string {
	switch level {
	case RiskCritical, RiskHigh:
		return "REJECT: dangerous constructs detected, do not install"
	case RiskMedium:
		return "REVIEW: install only after manual review of the findings"
	default:
		return "APPROVE: no significant risk detected"
	}
}
