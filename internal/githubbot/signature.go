package githubbot

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ValidateSignature checks a GitHub webhook delivery's X-Hub-Signature-256
// header against the request body. Header format: "sha256=<hex digest>".
func ValidateSignature(payload []byte, header string, secret []byte) error {
	if header == "" {
		return fmt.Errorf("missing signature header")
	}
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return fmt.Errorf("invalid signature format")
	}
	signature, err := hex.DecodeString(hexSig)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}

	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	expected := h.Sum(nil)
	if !hmac.Equal(signature, expected) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

// SignPayload computes the X-Hub-Signature-256 value for a payload.
func SignPayload(payload, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
