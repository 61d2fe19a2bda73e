package convai

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the default replay window for signature timestamps.
const DefaultTolerance = 30 * time.Minute

// MinSecretLength is the shortest webhook secret accepted at startup.
const MinSecretLength = 16

// Verification failure reasons.
const (
	ReasonMissingSecret     = "missing secret"
	ReasonInvalidHeader     = "invalid header"
	ReasonInvalidTimestamp  = "invalid timestamp"
	ReasonExpired           = "expired"
	ReasonSignatureMismatch = "signature mismatch"
)

var ErrAuthentication = errors.New("convai: webhook authentication failed")

// AuthenticationError wraps a failed VerificationResult.
// errors.Is(err, ErrAuthentication) holds for it.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "convai: webhook authentication failed: " + e.Reason
}

func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }

// VerificationResult is the outcome of Verify. Timestamp is the parsed header
// timestamp in unix seconds and is set only when Valid.
type VerificationResult struct {
	Valid     bool
	Reason    string
	Timestamp int64
}

// Err converts a failed result into an *AuthenticationError.
func (r VerificationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &AuthenticationError{Reason: r.Reason}
}

// Verifier checks "t=<unix>,v0=<hex hmac-sha256>" webhook signature headers.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier builds a Verifier. A non-positive tolerance selects DefaultTolerance.
// An empty secret is accepted here; every Verify then fails with ReasonMissingSecret.
// Use ValidateSecret at startup to fail fast instead.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// ValidateSecret reports whether secret is usable as a webhook secret.
func ValidateSecret(secret string) error {
	switch {
	case secret == "":
		return errors.New("webhook secret is empty")
	case strings.TrimSpace(secret) != secret:
		return errors.New("webhook secret has leading or trailing whitespace")
	case len(secret) < MinSecretLength:
		return fmt.Errorf("webhook secret must be at least %d bytes", MinSecretLength)
	}
	return nil
}

// maxUnixSeconds is 9999-12-31T23:59:59Z. Later timestamps are rejected
// before any integer conversion.
const maxUnixSeconds = 253402300799

// Verify never panics and never returns an error; every failure is a reason.
func (v *Verifier) Verify(body []byte, header string) VerificationResult {
	if v == nil || len(v.secret) == 0 {
		return VerificationResult{Reason: ReasonMissingSecret}
	}

	tsRaw, provided, ok := parseSignatureHeader(header)
	if !ok {
		return VerificationResult{Reason: ReasonInvalidHeader}
	}

	ts, err := strconv.ParseFloat(tsRaw, 64)
	if err != nil || math.IsNaN(ts) || math.IsInf(ts, 0) || math.Abs(ts) > maxUnixSeconds {
		return VerificationResult{Reason: ReasonInvalidTimestamp}
	}
	if ts < float64(v.now().Add(-v.tolerance).Unix()) {
		return VerificationResult{Reason: ReasonExpired}
	}

	expected := signatureValue(v.secret, tsRaw, body)
	// hmac.Equal is constant time and returns false on length mismatch.
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return VerificationResult{Reason: ReasonSignatureMismatch}
	}
	return VerificationResult{Valid: true, Timestamp: int64(ts)}
}

// Sign produces a header value for body at ts, as the provider would.
func Sign(secret string, body []byte, ts time.Time) string {
	tsRaw := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + tsRaw + "," + signatureValue([]byte(secret), tsRaw, body)
}

func signatureValue(secret []byte, ts string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

// parseSignatureHeader extracts the t and v0 parts. The v0 part is returned
// with its "v0=" prefix, matching the expected digest format.
func parseSignatureHeader(header string) (ts, sig string, ok bool) {
	for _, part := range strings.Split(header, ",") {
		k, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			ts = strings.TrimSpace(val)
		case "v0":
			sig = "v0=" + strings.TrimSpace(val)
		}
	}
	if ts == "" || sig == "v0=" || sig == "" {
		return "", "", false
	}
	return ts, sig, true
}
