// Package stripe implements the gateway-facing half of webhook ingestion:
// signature verification, the event envelope, event classification, and the
// duplicate-delivery guard for the payment-intent family.
package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the replay window applied to signature timestamps.
const DefaultTolerance = 5 * time.Minute

// SignatureHeader is the HTTP header carrying the gateway signature.
const SignatureHeader = "Stripe-Signature"

// VerifySignature reports whether header authenticates body under secret.
// The header is a comma-separated list of k=v pairs; "t" carries the unix
// timestamp and "v1" the hex HMAC-SHA256 over "{t}.{body}". Multiple v1
// values may be present (secret rotation) and any match passes. The function
// never returns error detail: malformed input, a stale timestamp, a missing
// secret, and a bad MAC all verify false.
func VerifySignature(header string, body []byte, secret string, now time.Time, tolerance time.Duration) bool {
	if strings.TrimSpace(secret) == "" {
		return false
	}
	ts, candidates, ok := parseSignatureHeader(header)
	if !ok {
		return false
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	age := now.Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > tolerance {
		return false
	}
	expected := computeSignature(secret, ts, body)
	for _, candidate := range candidates {
		decoded, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	return false
}

// BuildSignatureHeader produces a header value that VerifySignature accepts
// for the given body and timestamp. Used by tests and local tooling.
func BuildSignatureHeader(secret string, body []byte, ts time.Time) string {
	unix := ts.Unix()
	sig := hex.EncodeToString(computeSignature(secret, unix, body))
	return fmt.Sprintf("t=%d,v1=%s", unix, sig)
}

func computeSignature(secret string, ts int64, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return mac.Sum(nil)
}

// parseSignatureHeader extracts the timestamp and all v1 signatures. Unknown
// keys are ignored; missing t or v1 yields ok=false.
func parseSignatureHeader(header string) (ts int64, sigs []string, ok bool) {
	var haveTS bool
	for _, pair := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, false
			}
			ts = parsed
			haveTS = true
		case "v1":
			if value != "" {
				sigs = append(sigs, value)
			}
		}
	}
	if !haveTS || len(sigs) == 0 {
		return 0, nil, false
	}
	return ts, sigs, true
}
