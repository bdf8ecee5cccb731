package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignAndVerify(t *testing.T) {
	signer := NewEventSigner("secret-key")
	at := time.Now().UTC()
	data := []byte(`{"proposal_id":"p1"}`)

	sig := signer.Sign("p1", at, "user-1", data)
	assert.NotEmpty(t, sig)
	assert.True(t, signer.Verify("p1", at, "user-1", data, sig))
}

func TestVerifyRejectsTampering(t *testing.T) {
	signer := NewEventSigner("secret-key")
	at := time.Now().UTC()
	data := []byte(`{"proposal_id":"p1"}`)
	sig := signer.Sign("p1", at, "user-1", data)

	assert.False(t, signer.Verify("p2", at, "user-1", data, sig))
	assert.False(t, signer.Verify("p1", at.Add(time.Second), "user-1", data, sig))
	assert.False(t, signer.Verify("p1", at, "user-2", data, sig))
	assert.False(t, signer.Verify("p1", at, "user-1", []byte(`{"proposal_id":"px"}`), sig))
	assert.False(t, signer.Verify("p1", at, "user-1", data, "deadbeef"))
}

func TestDifferentKeysDisagree(t *testing.T) {
	at := time.Now().UTC()
	data := []byte("payload")
	sig := NewEventSigner("key-a").Sign("p1", at, "user-1", data)
	assert.False(t, NewEventSigner("key-b").Verify("p1", at, "user-1", data, sig))
}

func TestSignDeterministic(t *testing.T) {
	signer := NewEventSigner("secret-key")
	at := time.Now().UTC()
	data := []byte("payload")
	assert.Equal(t, signer.Sign("p1", at, "user-1", data), signer.Sign("p1", at, "user-1", data))
}
