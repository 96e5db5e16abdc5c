package engine

import (
	"fmt"
	"strings"

	"github.com/patchline/patchline/internal/policy"
	"github.com/patchline/patchline/internal/publish"
)

// Reply templates. Tests assert on these literal strings, and users learn
// them; change wording deliberately.

const (
	writeDisabledReply = "Write mode is disabled for this repository. Enable it in .patchline.yml:\n\n" +
		"```yaml\nwrite_mode:\n  enabled: true\n```"

	clarificationHeader = "I couldn't tell if you want me to change files. To run this as a write request, resend it as one of:"

	requiredScopes = "Contents (read/write), Pull requests (read/write), Issues (read/write)"

	alreadyInProgressReply = "A write for this request is already in progress."

	retryHeader = "To retry, resend:"
)

func clarificationReply(rerunCommands []string) string {
	var sb strings.Builder
	sb.WriteString(clarificationHeader)
	for _, cmd := range rerunCommands {
		sb.WriteString(fmt.Sprintf("\n- `%s`", cmd))
	}
	return sb.String()
}

// confirmationPrompt builds the high-impact reminder. The stored pending
// entry keeps this exact string so repeated reminders are verbatim.
func confirmationPrompt(reasons []string, keyword, request string, timeoutMinutes int) string {
	return fmt.Sprintf(
		"This looks high-impact (%s). To proceed, reply exactly:\n\n`confirm: %s: %s`\n\nThis confirmation expires in %d minutes.",
		strings.Join(reasons, ", "), keyword, request, timeoutMinutes)
}

func nothingPendingReply() string {
	return "Nothing is pending confirmation in this thread."
}

func planReply(summary, request string) string {
	if summary == "" {
		summary = "No changes would be made."
	}
	return fmt.Sprintf("%s\n\nTo apply this change, resend:\n`apply: %s`", summary, request)
}

func retryFooter(retryCommand string) string {
	return fmt.Sprintf("\n\n%s\n`%s`", retryHeader, retryCommand)
}

func permissionReply(retryCommand string) string {
	return fmt.Sprintf(
		"I don't have write access to this repository. Grant the app these permissions and try again: %s.%s",
		requiredScopes, retryFooter(retryCommand))
}

func executionFailureReply(errorMessage, retryCommand string) string {
	return fmt.Sprintf("The change could not be completed: %s%s", errorMessage, retryFooter(retryCommand))
}

func unsupportedRepoReply(owner, repo string) string {
	return fmt.Sprintf("I don't have access to %s/%s. Install the app on that repository first.", owner, repo)
}

func policyRefusalReply(res *publish.Result) string {
	pr := res.PolicyResult
	switch policy.Kind(res.RefusalKind) {
	case policy.DeniedPath:
		return fmt.Sprintf(
			"The change touches `%s`, which is blocked by the deny pattern `%s` in the write policy.%s",
			pr.Path, pr.Pattern, retryFooter(res.RetryCommand))
	case policy.NotAllowed:
		return fmt.Sprintf(
			"The change touches `%s`, which is outside the allowed paths. To allow it, add to .patchline.yml:\n\n"+
				"```yaml\nwrite_policy:\n  allow_paths:\n    - %s\n```%s",
			pr.Path, pr.SuggestedAllow, retryFooter(res.RetryCommand))
	case policy.SecretDetected:
		return fmt.Sprintf(
			"The staged change matched the %s secret detector, so nothing was committed. Remove the secret-shaped content and retry.%s",
			pr.Detector, retryFooter(res.RetryCommand))
	case policy.NoChanges:
		return fmt.Sprintf("No file changes were produced, so there is nothing to commit.%s", retryFooter(res.RetryCommand))
	default:
		return fmt.Sprintf("The write policy refused this change: %s%s", res.Reason, retryFooter(res.RetryCommand))
	}
}

func successReply(res *publish.Result) string {
	shortSha := res.HeadSha
	if len(shortSha) > 8 {
		shortSha = shortSha[:8]
	}
	target := res.PRURL
	if target == "" {
		target = "branch " + res.BranchName
	}

	switch {
	case res.AlreadyApplied:
		return fmt.Sprintf("Already applied — %s", target)
	case res.UpdatedExistingPR:
		return fmt.Sprintf("Updated %s (branch %s, %s)", res.PRURL, res.BranchName, shortSha)
	default:
		return fmt.Sprintf("Opened %s (branch %s, %s)", res.PRURL, res.BranchName, shortSha)
	}
}

func publishResultReply(res *publish.Result) string {
	switch res.Kind {
	case publish.Success:
		return successReply(res)
	case publish.Refusal:
		if res.RefusalKind == "permission" {
			return permissionReply(res.RetryCommand)
		}
		if res.PolicyResult != nil {
			return policyRefusalReply(res)
		}
		if policy.Kind(res.RefusalKind) == policy.NoChanges {
			return fmt.Sprintf("No file changes were produced, so there is nothing to commit.%s", retryFooter(res.RetryCommand))
		}
		return fmt.Sprintf("Refused: %s%s", res.Reason, retryFooter(res.RetryCommand))
	default:
		return fmt.Sprintf("Publishing failed: %s%s", res.Reason, retryFooter(res.RetryCommand))
	}
}
