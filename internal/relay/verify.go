package relay

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
)

// SignatureHeader carries the Remnawave webhook signature.
const SignatureHeader = "X-Remnawave-Signature"

// VerificationResult reports signature validity plus the exact bytes that
// were hashed, for audit logging. The secret and the computed digest are
// deliberately not part of the result.
type VerificationResult struct {
	Valid       bool
	SignedBytes []byte
}

// Verifier checks HMAC-SHA256 webhook signatures against a shared secret.
type Verifier struct {
	Secret string
	Logger *slog.Logger
}

// CanonicalBody returns the byte form the signer hashed. Structured JSON is
// compacted with no inter-token whitespace; json.Compact preserves key order
// and the literal number and string formatting of the input, which is what
// the signer's compact serializer produced. Raw text passes through as
// received. A body that cannot be canonicalized falls back to its raw bytes
// so verification still runs — the point is rejecting bad signatures, not
// bad JSON.
func CanonicalBody(body []byte, structured bool) []byte {
	if !structured {
		return body
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return body
	}
	return buf.Bytes()
}

// Verify checks signature against the HMAC-SHA256 of the canonical body,
// hex-encoded lowercase. The comparison is constant time. Failures are
// logged at warning level without the secret or the computed digest; success
// is silent.
func (v *Verifier) Verify(body []byte, structured bool, signature string) VerificationResult {
	signed := CanonicalBody(body, structured)

	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write(signed)
	computed := hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(computed), []byte(signature)) != 1 {
		if v.Logger != nil {
			v.Logger.Warn("invalid webhook signature",
				"signature", signature,
				"signed_len", len(signed),
			)
		}
		return VerificationResult{Valid: false, SignedBytes: signed}
	}
	return VerificationResult{Valid: true, SignedBytes: signed}
}
