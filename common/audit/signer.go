// Package audit provides HMAC signing for lifecycle decision events, so the
// event trail behind an applied change can be verified after the fact.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SignatureMetadataKey is the envelope metadata key decision signatures are
// published under.
const SignatureMetadataKey = "audit-signature"

// EventSigner signs and verifies event payloads with an HMAC-SHA256 keyed by
// a shared secret.
type EventSigner struct {
	secretKey []byte
}

// NewEventSigner creates a signer with the given secret key.
func NewEventSigner(secretKey string) *EventSigner {
	return &EventSigner{secretKey: []byte(secretKey)}
}

// Sign computes the signature over the entity identity, its timestamp, the
// actor that caused it, and the payload bytes.
func (s *EventSigner) Sign(entityID string, timestamp time.Time, actor string, data []byte) string {
	payload := entityID + timestamp.Format(time.RFC3339Nano) + actor + string(data)
	h := hmac.New(sha256.New, s.secretKey)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature matches the given fields.
// Comparison is constant-time.
func (s *EventSigner) Verify(entityID string, timestamp time.Time, actor string, data []byte, signature string) bool {
	expected := s.Sign(entityID, timestamp, actor, data)
	return hmac.Equal([]byte(expected), []byte(signature))
}
