package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// VerifySignature checks that a webhook delivery was signed by the gateway.
// The signature is HMAC-SHA256 over the timestamp header concatenated with
// the raw request body, base64 encoded. The body must be the exact bytes
// received; any re-serialization breaks the digest.
//
// Missing inputs are a verification failure, not an error. The comparison is
// constant-time.
func VerifySignature(raw []byte, timestamp, signature, secret string) bool {
	if len(raw) == 0 || timestamp == "" || signature == "" || secret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(raw)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
