package audit

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// contextRadius is the number of bytes captured around each match
const contextRadius = 50

// scannableExtensions is the allowlist of text-like file extensions the
// scanner reads. Anything else is ignored.
var scannableExtensions = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true, ".cjs": true,
	".py": true, ".rb": true, ".php": true, ".pl": true,
	".sh": true, ".bash": true, ".zsh": true, ".ps1": true,
	".go": true, ".rs": true, ".java": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".md": true, ".txt": true, ".cfg": true, ".ini": true,
}

// Sink persists audit reports. Persistence is best-effort from the scanner's
// point of view: a sink failure never fails the audit.
type Sink interface {
	SaveAuditReport(ctx context.Context, report *Report) error
}

// Scanner walks a skill source tree and produces risk-scored audit reports
type Scanner struct {
	rules []Rule
	sink  Sink
}

// Option configures a Scanner
type Option func(*Scanner)

// WithRules replaces the default rule table
func WithRules(rules []Rule) Option {
	return func(s *Scanner) {
		s.rules = rules
	}
}

// WithSink sets the report sink used to persist audit reports
func WithSink(sink Sink) Option {
	return func(s *Scanner) {
		s.sink = sink
	}
}

// NewScanner creates a scanner with the default rule table
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		rules: DefaultRules(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Audit scans the tree rooted at sourcePath and returns a verdict. It never
// returns an error for scan-level I/O problems: unreadable files are skipped,
// and a fully unreadable root yields an info finding describing the failure.
func (s *Scanner) Audit(ctx context.Context, skillName, sourcePath, sourceURL string) (*Report, error) {
	report := &Report{
		SkillName: skillName,
		SkillPath: sourcePath,
		SourceURL: sourceURL,
		Timestamp: time.Now(),
	}

	err := telemetry.WithSpan(ctx, "audit.scan", func(ctx context.Context) error {
		s.scan(ctx, sourcePath, report)
		return nil
	},
		attribute.String("skill.name", skillName),
		attribute.String("skill.path", sourcePath),
	)
	if err != nil {
		return nil, err
	}

	for _, f := range report.Findings {
		report.RiskScore += f.Severity.Weight()
	}
	report.RiskLevel = RiskLevelFromScore(report.RiskScore)
	report.Recommendation = recommendationFor(report.RiskLevel)

	telemetry.SetAttributes(ctx,
		attribute.Int("audit.risk_score", report.RiskScore),
		attribute.String("audit.risk_level", string(report.RiskLevel)),
		attribute.Int("audit.findings", len(report.Findings)),
	)

	if s.sink != nil {
		if err := s.sink.SaveAuditReport(ctx, report); err != nil {
			logger.G(ctx).WithError(err).WithField("skill", skillName).Warn("failed to persist audit report")
		}
	}

	return report, nil
}

func (s *Scanner) scan(ctx context.Context, sourcePath string, report *Report) {
	log := logger.G(ctx)

	if _, err := os.Stat(sourcePath); err != nil {
		report.Findings = append(report.Findings, Finding{
			Type:      FindingScanError,
			Severity:  SeverityInfo,
			Name:      "scan error",
			File:      sourcePath,
			Context:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	walkErr := filepath.WalkDir(sourcePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == sourcePath {
				return err
			}
			log.WithError(err).WithField("path", path).Debug("skipping unreadable entry")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path == sourcePath {
				return nil
			}
			name := d.Name()
			if name == "node_modules" || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if !scannableExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		relPath, err := filepath.Rel(sourcePath, path)
		if err != nil {
			relPath = path
		}
		relPath = filepath.ToSlash(relPath)

		content, err := os.ReadFile(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Debug("skipping unreadable file")
			return nil
		}

		report.FilesScanned = append(report.FilesScanned, relPath)
		s.matchRules(relPath, content, report)
		return nil
	})

	if walkErr != nil {
		report.Findings = append(report.Findings, Finding{
			Type:      FindingScanError,
			Severity:  SeverityInfo,
			Name:      "scan error",
			File:      sourcePath,
			Context:   walkErr.Error(),
			Timestamp: time.Now(),
		})
	}
}

// matchRules applies the full rule table to one file. Repeated matches of
// the same rule in the same file all produce findings; recall is favored
// over precision.
func (s *Scanner) matchRules(relPath string, content []byte, report *Report) {
	for _, rule := range s.rules {
		if !ruleApplies(rule, relPath) {
			continue
		}
		for _, loc := range rule.Pattern.FindAllIndex(content, -1) {
			report.Findings = append(report.Findings, Finding{
				Type:      rule.Type,
				Severity:  rule.Severity,
				Name:      rule.Name,
				File:      relPath,
				Context:   surroundingContext(content, loc[0], loc[1]),
				Timestamp: time.Now(),
			})
		}
	}
}

func ruleApplies(rule Rule, relPath string) bool {
	if len(rule.AppliesTo) == 0 {
		return true
	}
	for _, pattern := range rule.AppliesTo {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}

// surroundingContext extracts roughly 100 characters around a match,
// flattened to a single line.
func surroundingContext(content []byte, start, end int) string {
	from := start - contextRadius
	if from < 0 {
		from = 0
	}
	to := end + contextRadius
	if to > len(content) {
		to = len(content)
	}
	ctx := string(content[from:to])
	ctx = strings.ReplaceAll(ctx, "\n", " ")
	ctx = strings.ReplaceAll(ctx, "\t", " ")
	return strings.TrimSpace(ctx)
}
