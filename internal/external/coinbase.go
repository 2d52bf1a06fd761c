package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// CoinbaseVerifier implements WebhookVerifier for Coinbase Commerce
// deliveries. Coinbase signs the raw request body with HMAC-SHA256 using the
// shared webhook secret and sends the hex digest in X-CC-Webhook-Signature.
type CoinbaseVerifier struct{}

// Verify recomputes the HMAC-SHA256 hex digest of the payload and compares it
// against the signature header in constant time.
func (v *CoinbaseVerifier) Verify(payload []byte, header string, secret string) error {
	if secret == "" {
		return errors.New("coinbase webhook secret is not configured")
	}
	if header == "" {
		return errors.New("missing webhook signature header")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(header)) {
		return errors.New("webhook signature mismatch")
	}
	return nil
}

// Compile-time assertion that CoinbaseVerifier satisfies WebhookVerifier.
var _ WebhookVerifier = (*CoinbaseVerifier)(nil)
