// Package policy validates the changes an executor staged before anything is
// committed: path allow/deny lists and a secret scan over the staged diff.
//
// Violations are values, not errors: Check returns a Result whose Kind the
// caller must switch on. Every refusal carries enough structure (path,
// pattern, detector name) to build a precise user-facing message without the
// caller re-deriving anything.
package policy

import (
	"regexp"
	"strings"
)

// Kind tags a policy check outcome.
type Kind string

const (
	// OK means all staged paths and the diff passed every rule.
	OK Kind = "ok"
	// DeniedPath means a staged path matched a deny pattern. Deny always
	// wins, even when the same path also matches an allow pattern.
	DeniedPath Kind = "write-policy-denied-path"
	// NotAllowed means the allow list is non-empty and a staged path
	// matched none of its patterns.
	NotAllowed Kind = "write-policy-not-allowed"
	// SecretDetected means the staged diff matched a secret-shaped
	// pattern. The report names the detector, never the matched text.
	SecretDetected Kind = "write-policy-secret-detected"
	// NoChanges means the executor staged nothing at all.
	NoChanges Kind = "write-policy-no-changes"
)

// Config is the write policy for one repository.
type Config struct {
	// AllowPaths restricts staged paths when non-empty; empty means no
	// restriction beyond DenyPaths.
	AllowPaths []string `yaml:"allow_paths"`
	// DenyPaths always wins over AllowPaths.
	DenyPaths []string `yaml:"deny_paths"`
	// SecretScan enables the staged-diff secret scan.
	SecretScan bool `yaml:"secret_scan"`
}

// Result is the outcome of a policy check. Zero value is not valid; use
// Check.
type Result struct {
	Kind Kind
	// Path is the offending staged path for DeniedPath / NotAllowed.
	Path string
	// Pattern is the deny pattern that matched, for DeniedPath.
	Pattern string
	// SuggestedAllow is the minimal allow-list addition that would admit
	// Path, for NotAllowed.
	SuggestedAllow string
	// Detector names the secret detector that fired, for SecretDetected.
	Detector string
}

// Passed reports whether the check found no violation.
func (r Result) Passed() bool { return r.Kind == OK }

// secretDetectors are the secret-shaped patterns scanned over staged diff
// text. Order matters only for which detector gets reported first.
var secretDetectors = []struct {
	name string
	re   *regexp.Regexp
}{
	{"private-key-header", regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY( BLOCK)?-----`)},
	{"github-token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{"aws-access-key-id", regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{"slack-token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`)},
	{"anthropic-api-key", regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{20,}\b`)},
	{"token-bearing-url", regexp.MustCompile(`https?://[^/\s:@]+:[^/\s:@]+@`)},
}

// Check runs the policy rules in order: deny list, allow list, secret scan,
// empty-change check. stagedPaths are repo-relative; diff is the staged diff
// text (empty when SecretScan is off or the caller has no diff).
func Check(stagedPaths []string, diff string, cfg Config) Result {
	if len(stagedPaths) == 0 {
		return Result{Kind: NoChanges}
	}

	for _, path := range stagedPaths {
		for _, pattern := range cfg.DenyPaths {
			if MatchPattern(pattern, path) {
				return Result{Kind: DeniedPath, Path: path, Pattern: pattern}
			}
		}
	}

	if len(cfg.AllowPaths) > 0 {
		for _, path := range stagedPaths {
			if !matchAny(cfg.AllowPaths, path) {
				return Result{
					Kind:           NotAllowed,
					Path:           path,
					SuggestedAllow: suggestAllow(path),
				}
			}
		}
	}

	if cfg.SecretScan {
		for _, d := range secretDetectors {
			if d.re.MatchString(diff) {
				return Result{Kind: SecretDetected, Detector: d.name}
			}
		}
	}

	return Result{Kind: OK}
}

// MatchPattern applies one allow/deny pattern to a path:
//
//   - pattern ending in "/" is a path-prefix match
//   - pattern starting with "*." is a suffix match
//   - anything else matches the whole path or its final segment
func MatchPattern(pattern, path string) bool {
	switch {
	case strings.HasSuffix(pattern, "/"):
		return strings.HasPrefix(path, pattern) || path+"/" == pattern
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(path, pattern[1:])
	default:
		if path == pattern {
			return true
		}
		if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
			return path[idx+1:] == pattern
		}
		return false
	}
}

func matchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if MatchPattern(p, path) {
			return true
		}
	}
	return false
}

// suggestAllow returns the minimal allow-list entry admitting path: its top
// directory as a prefix pattern, or the bare filename for a root-level file.
func suggestAllow(path string) string {
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		return path[:idx+1]
	}
	return path
}
