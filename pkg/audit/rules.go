package audit

import "regexp"

// Rule is one entry of the scanner's rule table. Rules are evaluated in
// order against every scanned file whose relative path matches AppliesTo
// (nil means all scanned files). Adding a detection rule is a data change,
// not a code change.
type Rule struct {
	Name      string
	Type      string
	Severity  Severity
	Pattern   *regexp.Regexp
	AppliesTo []string
}

// manifestGlobs restricts permission rules to manifest and JSON files
var manifestGlobs = []string{"**/*.json", "*.json", "**/SKILL.md", "SKILL.md"}

// DefaultRules returns the built-in rule table. Dangerous-construct rules
// apply to all scanned files; suspicious-permission rules apply only to
// manifest and JSON files.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "dynamic code execution",
			Type:     FindingDangerousPattern,
			Severity: SeverityCritical,
			Pattern:  regexp.MustCompile(`\beval\s*\(|new\s+Function\s*\(|\bexec\s*\(|\bexecfile\s*\(|\bvm\.runInContext`),
		},
		{
			Name:     "process spawning",
			Type:     FindingDangerousPattern,
			Severity: SeverityHigh,
			Pattern:  regexp.MustCompile(`child_process|\bsubprocess\.|os\.system\s*\(|\bspawn(Sync)?\s*\(|\bpopen\s*\(|\bexecSync\s*\(`),
		},
		{
			Name:     "destructive file operation",
			Type:     FindingDangerousPattern,
			Severity: SeverityHigh,
			Pattern:  regexp.MustCompile(`\brm\s+-[a-z]*r[a-z]*f|\brm\s+-[a-z]*f[a-z]*r|shutil\.rmtree|fs\.rm(dir)?Sync|\bunlinkSync\s*\(|\bos\.RemoveAll\s*\(`),
		},
		{
			Name:     "privilege escalation",
			Type:     FindingDangerousPattern,
			Severity: SeverityHigh,
			Pattern:  regexp.MustCompile(`\bsudo\s|chmod\s+0?777|\bset(e)?uid\s*\(|\brunas\b`),
		},
		{
			Name:     "network call",
			Type:     FindingDangerousPattern,
			Severity: SeverityMedium,
			Pattern:  regexp.MustCompile(`https?://|\bfetch\s*\(|axios\.|requests\.(get|post|put|delete)|XMLHttpRequest|net\.Dial\s*\(|\bcurl\s|\bwget\s`),
		},
		{
			Name:     "environment access",
			Type:     FindingDangerousPattern,
			Severity: SeverityLow,
			Pattern:  regexp.MustCompile(`process\.env\b|os\.environ\b|\bgetenv\s*\(|\bENV\[`),
		},
		{
			Name:     "filesystem write",
			Type:     FindingDangerousPattern,
			Severity: SeverityLow,
			Pattern:  regexp.MustCompile(`fs\.(writeFile|appendFile)|\bos\.WriteFile\s*\(|\bopen\s*\([^)]*["'][wa]b?["']`),
		},
		{
			Name:      "wildcard permission",
			Type:      FindingSuspiciousPermission,
			Severity:  SeverityHigh,
			Pattern:   regexp.MustCompile(`(?m)^\s*-\s*["']?\*|"permissions"\s*:\s*\[[^\]]*"\*"`),
			AppliesTo: manifestGlobs,
		},
		{
			Name:      "elevated permission request",
			Type:      FindingSuspiciousPermission,
			Severity:  SeverityHigh,
			Pattern:   regexp.MustCompile(`(?mi)^\s*-\s*["']?(root|admin|sudo|superuser)\b`),
			AppliesTo: manifestGlobs,
		},
		{
			Name:      "shell permission request",
			Type:      FindingSuspiciousPermission,
			Severity:  SeverityMedium,
			Pattern:   regexp.MustCompile(`(?mi)^\s*-\s*["']?(shell|exec|spawn)\b`),
			AppliesTo: manifestGlobs,
		},
	}
}
