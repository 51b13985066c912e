// Package guard is the policy gate for file paths, code content and
// protected-file changes, including the dual-provider AI security
// review.
package guard

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
)

// PathErrorType classifies a path rejection.
type PathErrorType string

const (
	PathErrTraversal    PathErrorType = "traversal"
	PathErrInvalidChars PathErrorType = "invalid-characters"
	PathErrProtected    PathErrorType = "protected"
)

// PathValidation is the result of ValidatePath.
type PathValidation struct {
	Valid         bool
	CorrectedPath string
	ErrorType     PathErrorType
}

// ChangeValidation is the result of ValidateChange.
type ChangeValidation struct {
	Valid  bool
	Reason string
}

// ContentValidation is the result of ValidateCodeContent.
type ContentValidation struct {
	Safe     bool
	Warnings []string
}

// duplicatePrefixes are path segments that commonly appear duplicated
// in generated paths (src/src/..., dist/dist/...).
var duplicatePrefixes = []string{"src", "workspace", "dist", "apps"}

// invalidPathChars rejects control and shell metacharacters in paths.
var invalidPathChars = regexp.MustCompile("[\x00-\x1f;|&$`<>\"']")

// dangerousPatterns flag code content requiring AI review before write.
var dangerousPatterns = []struct {
	pattern *regexp.Regexp
	warning string
}{
	{regexp.MustCompile(`\beval\s*\(`), "eval() call"},
	{regexp.MustCompile(`\bexec\s*\(`), "exec() call"},
	{regexp.MustCompile(`child_process`), "child_process usage"},
	{regexp.MustCompile(`rm\s+-rf`), "rm -rf invocation"},
	{regexp.MustCompile(`process\.exit`), "process.exit call"},
	{regexp.MustCompile(`require\s*\([^)"']*\+`), "dynamic require"},
	{regexp.MustCompile(`\bspawn\s*\(`), "spawn() call"},
	{regexp.MustCompile(`\bexecSync\s*\(`), "execSync() call"},
	{regexp.MustCompile(`(?:>>?|writeFile[^(]*\()\s*["']?/etc/`), "write to /etc"},
	{regexp.MustCompile(`fetch\s*\(\s*["']file://`), "file:// fetch"},
}

// Policy holds the tunable portions of the guard, overridable from
// workspace/policy.yaml.
type Policy struct {
	StrictlyProtected       []string `yaml:"strictlyProtected"`
	ConditionallyProtected  []string `yaml:"conditionallyProtected"`
	AllowedExtensions       []string `yaml:"allowedExtensions"`
	MaxFilesPerChange       int      `yaml:"maxFilesPerChange"`
	MaxLinesPerFile         int      `yaml:"maxLinesPerFile"`
}

// DefaultPolicy returns the built-in protection tiers and caps.
func DefaultPolicy() Policy {
	return Policy{
		StrictlyProtected: []string{
			"src/safety/",
			".git/",
			"config.json",
			"go.mod",
			"package.json",
		},
		ConditionallyProtected: []string{
			"src/core/",
			"cmd/",
			".github/",
			"Makefile",
		},
		AllowedExtensions: []string{
			".go", ".ts", ".tsx", ".js", ".jsx", ".py",
			".json", ".yaml", ".yml", ".md", ".txt",
		},
		MaxFilesPerChange: 5,
		MaxLinesPerFile:   500,
	}
}

// Guard enforces path, change and content policy.
type Guard struct {
	policy   Policy
	reviewer *Reviewer
	logger   logger.Logger
}

// New creates a Guard with the given policy. reviewer may be nil, in
// which case everything needing AI review is rejected.
func New(policy Policy, reviewer *Reviewer, log logger.Logger) *Guard {
	if policy.MaxFilesPerChange <= 0 {
		policy.MaxFilesPerChange = 5
	}
	if policy.MaxLinesPerFile <= 0 {
		policy.MaxLinesPerFile = 500
	}
	return &Guard{policy: policy, reviewer: reviewer, logger: log}
}

// Reviewer exposes the attached AI reviewer, which may be nil.
func (g *Guard) Reviewer() *Reviewer { return g.reviewer }

// NormalizePath strips a leading "./", collapses duplicate slashes and
// collapses duplicated segment prefixes such as "src/src/...".
func (g *Guard) NormalizePath(p string) string {
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "./")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	for _, prefix := range duplicatePrefixes {
		doubled := prefix + "/" + prefix + "/"
		for strings.HasPrefix(p, doubled) {
			p = strings.TrimPrefix(p, prefix+"/")
		}
	}
	return p
}

// ValidatePath rejects traversal and invalid characters, returning a
// corrected path for duplicate-prefix cases.
func (g *Guard) ValidatePath(p string) PathValidation {
	if strings.Contains(p, "..") {
		return PathValidation{Valid: false, ErrorType: PathErrTraversal}
	}
	if invalidPathChars.MatchString(p) {
		return PathValidation{Valid: false, ErrorType: PathErrInvalidChars}
	}

	normalized := g.NormalizePath(p)
	result := PathValidation{Valid: true}
	if normalized != strings.TrimPrefix(filepath.ToSlash(p), "./") {
		result.CorrectedPath = normalized
	}
	return result
}

// IsStrictlyProtected reports whether the path sits in the
// never-writable tier.
func (g *Guard) IsStrictlyProtected(p string) bool {
	return matchesPrefix(g.NormalizePath(p), g.policy.StrictlyProtected)
}

// IsConditionallyProtected reports whether the path needs an explicit
// AI security-review approval before writes.
func (g *Guard) IsConditionallyProtected(p string) bool {
	return matchesPrefix(g.NormalizePath(p), g.policy.ConditionallyProtected)
}

func matchesPrefix(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(p, prefix) {
				return true
			}
			continue
		}
		if p == prefix {
			return true
		}
	}
	return false
}

// ChangeSet describes a proposed change for validation.
type ChangeSet struct {
	Files      []string
	TotalLines int
}

// ValidateChange enforces the file-count cap, per-file line cap,
// extension allow-list and protected tiers.
func (g *Guard) ValidateChange(change ChangeSet) ChangeValidation {
	if len(change.Files) > g.policy.MaxFilesPerChange {
		return ChangeValidation{Reason: fmt.Sprintf("too many files: %d > %d",
			len(change.Files), g.policy.MaxFilesPerChange)}
	}
	if change.TotalLines > g.policy.MaxLinesPerFile*len(change.Files) {
		return ChangeValidation{Reason: fmt.Sprintf("too many lines: %d > %d",
			change.TotalLines, g.policy.MaxLinesPerFile*len(change.Files))}
	}

	for _, f := range change.Files {
		if g.IsStrictlyProtected(f) {
			return ChangeValidation{Reason: "protected file: " + f}
		}
		ext := filepath.Ext(f)
		allowed := false
		for _, e := range g.policy.AllowedExtensions {
			if ext == e {
				allowed = true
				break
			}
		}
		if !allowed {
			return ChangeValidation{Reason: "extension not allowed: " + f}
		}
	}
	return ChangeValidation{Valid: true}
}

// ValidateCodeContent scans generated code for dangerous patterns.
// Unsafe content requires AI review before it can be written.
func (g *Guard) ValidateCodeContent(code string) ContentValidation {
	var warnings []string
	for _, dp := range dangerousPatterns {
		if dp.pattern.MatchString(code) {
			warnings = append(warnings, dp.warning)
		}
	}
	return ContentValidation{Safe: len(warnings) == 0, Warnings: warnings}
}
