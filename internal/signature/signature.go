// Package signature implements the HMAC-SHA256 signing scheme used for
// outbound webhook deliveries and inbound webhook verification.
//
// Two forms are exposed to consumers:
//
//   - the replay-protected form, an HMAC over "{timestamp}.{payload}"
//     returned as a bare lowercase hex digest and checked against a
//     freshness window; and
//   - the simple single-key form, an HMAC over the payload alone returned
//     with a "sha256=" prefix, used for outbound delivery headers.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SimplePrefix is prepended to the hex digest in the single-key form.
const SimplePrefix = "sha256="

// DefaultReplayWindow is the span within which a signed request is fresh.
// Timestamps outside the window in either direction are rejected.
const DefaultReplayWindow = 300 * time.Second

// Sign computes the replay-protected signature: a lowercase hex HMAC-SHA256
// over the byte-exact concatenation "{timestamp}.{payload}".
func Sign(payload, secret []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignSimple computes the single-key signature over the payload alone and
// returns it in "sha256=<hex>" form.
func SignSimple(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return SimplePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifyError is the closed set of verification failures. The receiver maps
// every one of them to HTTP 401; none are retryable.
type VerifyError struct {
	Code string
}

func (e *VerifyError) Error() string {
	return e.Code
}

var (
	ErrMissingSignature = &VerifyError{Code: "missing_signature"}
	ErrMissingSecret    = &VerifyError{Code: "missing_secret"}
	ErrTimestampExpired = &VerifyError{Code: "timestamp_expired"}
	ErrInvalidSignature = &VerifyError{Code: "invalid_signature"}
)

// ErrorCode extracts the wire code from a verification error.
func ErrorCode(err error) string {
	var verifyErr *VerifyError
	if errors.As(err, &verifyErr) {
		return verifyErr.Code
	}
	return ErrInvalidSignature.Code
}

// Verify checks a replay-protected signature against the current time with
// the default freshness window. The signature may carry the "sha256=" prefix.
func Verify(payload []byte, sig, timestamp string, secret []byte) error {
	return VerifyAt(time.Now(), DefaultReplayWindow, payload, sig, timestamp, secret)
}

// VerifyAt is Verify with an explicit clock and window.
func VerifyAt(now time.Time, window time.Duration, payload []byte, sig, timestamp string, secret []byte) error {
	if sig == "" {
		return ErrMissingSignature
	}
	if len(secret) == 0 {
		return ErrMissingSecret
	}

	// The anti-replay rule rejects absent and malformed timestamps the same
	// way it rejects stale ones.
	if timestamp == "" {
		return ErrTimestampExpired
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrTimestampExpired
	}
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(window/time.Second) {
		return ErrTimestampExpired
	}

	expected := Sign(payload, secret, ts)
	provided := strings.TrimPrefix(sig, SimplePrefix)

	// hmac.Equal is a constant-time comparison; execution time must not
	// depend on which byte differs.
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifySimple checks a single-key signature with no freshness window.
func VerifySimple(payload []byte, sig string, secret []byte) error {
	if sig == "" {
		return ErrMissingSignature
	}
	if len(secret) == 0 {
		return ErrMissingSecret
	}
	expected := strings.TrimPrefix(SignSimple(payload, secret), SimplePrefix)
	provided := strings.TrimPrefix(sig, SimplePrefix)
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return ErrInvalidSignature
	}
	return nil
}
