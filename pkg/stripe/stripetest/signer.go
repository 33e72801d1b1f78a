// Package stripetest signs webhook payloads the way Stripe does so handlers
// can be exercised end to end in tests.
package stripetest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Secret is a signing secret accepted by the verifier in tests.
const Secret = "whsec_test_jewelcraft"

// SignatureHeader builds a Stripe-Signature header for payload at ts.
func SignatureHeader(payload []byte, secret string, ts time.Time) string {
	unix := ts.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", unix, payload)))
	return fmt.Sprintf("t=%d,v1=%s", unix, hex.EncodeToString(mac.Sum(nil)))
}

// Sign is SignatureHeader with Secret and the current time.
func Sign(payload []byte) string {
	return SignatureHeader(payload, Secret, time.Now())
}
