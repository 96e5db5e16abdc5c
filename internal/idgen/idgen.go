// Package idgen derives idempotency keys, branch names, and commit markers
// from the stable identifiers of a write trigger.
//
// Everything here is a pure function of its inputs: two calls with identical
// arguments return identical strings, in this process or any other. That is
// what makes retried webhook deliveries and process restarts safe — the
// publisher greps git history for the marker rather than trusting any
// in-memory state.
package idgen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// keyVersion prefixes every derived key. Bump this if the key format
	// ever changes so new-scheme keys can never collide with old-scheme
	// markers already embedded in git history.
	keyVersion = "plv1"

	// keyDelimiter joins key fields. Chosen because it cannot appear in
	// GitHub owner/repo names, issue numbers, or comment IDs.
	keyDelimiter = "|"

	// MarkerPrefix introduces the idempotency marker line embedded in
	// commit messages and PR bodies. Duplicate detection is a substring
	// scan for "MarkerPrefix + key" over recent commit messages.
	MarkerPrefix = "patchline-write-output-key: "

	// DeliveryPrefix introduces the delivery identifier line that
	// accompanies the marker, for human audit of which event produced
	// which commit.
	DeliveryPrefix = "patchline-delivery: "

	// branchNamespace prefixes every bot branch.
	branchNamespace = "patchline"

	// shortHashLen is the number of hex characters of the key digest used
	// in branch names.
	shortHashLen = 12
)

// TriggerID identifies one write trigger across retries. All fields come
// from the triggering event itself; none are wall-clock derived.
type TriggerID struct {
	InstallationID int64
	Owner          string
	Repo           string
	// ThreadID is the PR number (GitHub surface) or channel/thread pair
	// (Slack surface, pre-joined by the caller as "channel/threadTs").
	ThreadID string
	// TriggerEventID is the comment ID or message timestamp that carried
	// the request.
	TriggerEventID string
	Keyword        string
}

// DeriveKey maps a trigger to its idempotency key. Owner, repo, and keyword
// are lowercased so that case drift between event payloads cannot split one
// logical trigger into two keys.
func DeriveKey(t TriggerID) string {
	fields := []string{
		keyVersion,
		fmt.Sprintf("%d", t.InstallationID),
		strings.ToLower(t.Owner),
		strings.ToLower(t.Repo),
		t.ThreadID,
		t.TriggerEventID,
		strings.ToLower(t.Keyword),
	}
	return strings.Join(fields, keyDelimiter)
}

// ShortHash returns the first 12 hex characters of the SHA-256 digest of a
// key, used to build collision-resistant but readable branch names.
func ShortHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:shortHashLen]
}

// Marker returns the machine-greppable marker line for a key.
func Marker(key string) string {
	return MarkerPrefix + key
}

// MarkerBlock returns the full trailer block embedded in commit messages and
// PR bodies: the marker line plus a delivery identifier line. deliveryID is
// the transport's own delivery ID (webhook GUID, Slack envelope ID) when
// available, or a generated UUID.
func MarkerBlock(key, deliveryID string) string {
	return Marker(key) + "\n" + DeliveryPrefix + deliveryID
}

// GitHubBranchName builds the deterministic bot branch for a GitHub-surface
// trigger: namespace, PR number, triggering comment ID, and the key hash.
func GitHubBranchName(prNumber int, commentID int64, key string) string {
	return fmt.Sprintf("%s/pr-%d-c%d-%s", branchNamespace, prNumber, commentID, ShortHash(key))
}

// SlackBranchName builds the deterministic bot branch for a Slack-surface
// trigger. The hashed material is the key (owner/repo, channel, thread,
// message) plus the request text, so a different request carried by the
// same message identifiers can never land on the same branch.
func SlackBranchName(keyword, key, request string) string {
	return fmt.Sprintf("%s/slack-%s-%s", branchNamespace, strings.ToLower(keyword), ShortHash(key+keyDelimiter+request))
}
