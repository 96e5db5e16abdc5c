// Package intent classifies natural-language messages into read-only, write,
// or clarification-required intent, with a separate high-impact flag.
//
// Classification is a pure scoring function over the message text. Each cue
// is its own predicate so behavior stays inspectable: a test can assert on
// writeCue or ambiguityCue directly instead of reverse-engineering one
// opaque boolean.
package intent

import (
	"regexp"
	"strings"
)

// Kind is the classification outcome.
type Kind string

const (
	ReadOnly              Kind = "read_only"
	Write                 Kind = "write"
	ClarificationRequired Kind = "clarification_required"
)

// Keywords accepted as explicit prefixes.
const (
	KeywordApply  = "apply"
	KeywordChange = "change"
	KeywordPlan   = "plan"
)

// writeThreshold is the minimum heuristic score for a conversational message
// to classify as a write without an explicit prefix.
const writeThreshold = 3

// writeVerbCap bounds how many points write verbs can contribute, so a
// verb-dense read-only question cannot buy its way past the threshold alone.
const writeVerbCap = 2

// Classification is the classifier output. For Write, Keyword and Request
// are set and ConfirmationRequired mirrors HighImpact. For
// ClarificationRequired, RerunCommands holds the two exact commands the user
// can resend.
type Classification struct {
	Kind                 Kind
	Keyword              string
	Request              string
	HighImpact           bool
	HighImpactReasons    []string
	ConfirmationRequired bool
	RerunCommands        []string
}

var (
	slackMentionRe  = regexp.MustCompile(`<@[A-Z0-9]+>`)
	githubMentionRe = regexp.MustCompile(`(?i)(^|\s)@[a-z0-9][a-z0-9-]*(\[bot\])?`)
	whitespaceRe    = regexp.MustCompile(`\s+`)

	explicitPrefixRe = regexp.MustCompile(`(?i)^(apply|change|plan)\s*:\s*`)

	// Imperative verbs that open a sentence read as a direct instruction.
	// A leading politeness marker does not soften the instruction:
	// "please delete X" is still a command.
	imperativeStartRe = regexp.MustCompile(`(?i)^(please\s+|kindly\s+|can you\s+|could you\s+|go ahead and\s+)?(add|update|fix|change|remove|delete|rename|refactor|rewrite|create|implement|replace|move|bump|upgrade|set|make|write)\b`)

	writeVerbRe = regexp.MustCompile(`(?i)\b(add|update|fix|change|remove|delete|rename|refactor|rewrite|create|implement|replace|move|bump|upgrade|modify|edit|apply|migrate)\b`)

	// Anything path-shaped: a/b.c, *.go, .github/workflows, Makefile.
	pathTokenRe = regexp.MustCompile(`(?i)(\b[\w./-]+\.(go|js|ts|py|rb|java|rs|c|h|cpp|md|ya?ml|json|toml|txt|sh|sql|css|html)\b|\b[\w.-]+/[\w./-]+\b|\*\.\w+|\bmakefile\b|\bdockerfile\b)`)

	gitVocabRe = regexp.MustCompile(`(?i)\b(branch|commit|push|pull request|pr|merge|rebase|review|diff|patch)\b`)

	hedgeRe = regexp.MustCompile(`(?i)\b(maybe|perhaps|possibly|might|should we|could we|would it|what if|at some point|when you can|no rush|if you (get a chance|have time))\b|\?$`)
)

// High-impact cue patterns. Matching any of these flags the request for
// explicit confirmation regardless of how the write intent was expressed.
var highImpactCues = []struct {
	reason string
	re     *regexp.Regexp
}{
	{"destructive operation", regexp.MustCompile(`(?i)\b(delete|remove|drop|wipe|purge|truncate)\b`)},
	{"rename", regexp.MustCompile(`(?i)\brenam(e|ing)\b`)},
	{"migration or schema change", regexp.MustCompile(`(?i)\b(migrat\w*|schema|database)\b`)},
	// "auth" alone, not `auth\w*`: that would also catch author/authored.
	{"security-sensitive content", regexp.MustCompile(`(?i)\b(secret|credential|token|password|auth|authn|authz|authenticat\w*|authori[sz]\w*|encrypt\w*)\b`)},
	{"repo-wide scope", regexp.MustCompile(`(?i)\b(entire (repo|repository|codebase|project)|all files|project-wide|across the (repo|repository|codebase))\b`)},
	{"history rewrite", regexp.MustCompile(`(?i)\b(force[- ]push|rewrite history|reset --hard|filter-branch)\b`)},
}

// StripMention removes bot mention tokens (Slack <@U...> and GitHub @handle
// forms) and collapses whitespace.
func StripMention(text string) string {
	text = slackMentionRe.ReplaceAllString(text, " ")
	text = githubMentionRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// Classify scores a message and returns its classification. The text should
// already have mention tokens stripped; Classify strips them again
// defensively since it costs nothing and keeps the function total.
func Classify(text string) Classification {
	text = StripMention(text)

	if text == "" {
		// Bare mention with no request. Skip silently rather than asking
		// a question nobody posed.
		return Classification{Kind: ReadOnly}
	}

	if m := explicitPrefixRe.FindString(text); m != "" {
		keyword := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(m), ":")))
		request := strings.TrimSpace(text[len(m):])
		reasons := highImpactReasons(request)
		return Classification{
			Kind:                 Write,
			Keyword:              keyword,
			Request:              request,
			HighImpact:           len(reasons) > 0,
			HighImpactReasons:    reasons,
			ConfirmationRequired: len(reasons) > 0,
		}
	}

	score, cue := scoreText(text)
	ambiguous := ambiguityCue(text)

	switch {
	case score >= writeThreshold && cue && !ambiguous:
		reasons := highImpactReasons(text)
		return Classification{
			Kind:                 Write,
			Keyword:              KeywordApply,
			Request:              text,
			HighImpact:           len(reasons) > 0,
			HighImpactReasons:    reasons,
			ConfirmationRequired: len(reasons) > 0,
		}
	case cue || score > 0:
		return Classification{
			Kind: ClarificationRequired,
			RerunCommands: []string{
				KeywordApply + ": " + text,
				KeywordChange + ": " + text,
			},
		}
	default:
		return Classification{Kind: ReadOnly}
	}
}

// scoreText computes the heuristic score and whether any write cue fired.
func scoreText(text string) (score int, writeCue bool) {
	if imperativeStart(text) {
		score += 2
		writeCue = true
	}
	if n := writeVerbCount(text); n > 0 {
		if n > writeVerbCap {
			n = writeVerbCap
		}
		score += n
		writeCue = true
	}
	if pathToken(text) {
		score++
	}
	if gitVocab(text) {
		score++
		writeCue = true
	}
	return score, writeCue
}

// imperativeStart reports whether the message opens with a strong
// imperative verb.
func imperativeStart(text string) bool {
	return imperativeStartRe.MatchString(text)
}

// writeVerbCount counts write-verb occurrences anywhere in the text.
func writeVerbCount(text string) int {
	return len(writeVerbRe.FindAllString(text, -1))
}

// pathToken reports whether the text contains a file-path-like token.
func pathToken(text string) bool {
	return pathTokenRe.MatchString(text)
}

// gitVocab reports whether the text uses git/PR/review vocabulary.
func gitVocab(text string) bool {
	return gitVocabRe.MatchString(text)
}

// ambiguityCue reports hedging language. It forces clarification regardless
// of score: "maybe delete everything?" is not a command.
func ambiguityCue(text string) bool {
	return hedgeRe.MatchString(text)
}

// highImpactReasons returns the names of every high-impact cue the request
// matches, in declaration order. Empty means not high-impact.
func highImpactReasons(request string) []string {
	var reasons []string
	for _, cue := range highImpactCues {
		if cue.re.MatchString(request) {
			reasons = append(reasons, cue.reason)
		}
	}
	return reasons
}
