package signature

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)

	payload := []byte(`{"event":"usage.threshold.80","client_id":"t1"}`)
	sig, ts := Sign(payload, secret, time.Now())

	assert.True(t, Verify(payload, sig, ts, secret, DefaultTolerance))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	secret, _ := GenerateSecret()
	payload := []byte(`{"a":1}`)
	sig, ts := Sign(payload, secret, time.Now())

	assert.False(t, Verify([]byte(`{"a":2}`), sig, ts, secret, DefaultTolerance))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	secret, _ := GenerateSecret()
	other, _ := GenerateSecret()
	payload := []byte(`{"a":1}`)
	sig, ts := Sign(payload, secret, time.Now())

	assert.False(t, Verify(payload, sig, ts, other, DefaultTolerance))
}

func TestVerifyRejectsOutsideTolerance(t *testing.T) {
	secret, _ := GenerateSecret()
	payload := []byte(`{"a":1}`)

	// signed 10 minutes ago, 5 minute window
	sig, ts := Sign(payload, secret, time.Now().Add(-10*time.Minute))
	assert.False(t, Verify(payload, sig, ts, secret, 5*time.Minute))

	// timestamps in the future are rejected the same way
	sig, ts = Sign(payload, secret, time.Now().Add(10*time.Minute))
	assert.False(t, Verify(payload, sig, ts, secret, 5*time.Minute))
}

func TestVerifyRejectsStructuralProblems(t *testing.T) {
	secret, _ := GenerateSecret()
	payload := []byte(`{"a":1}`)
	sig, ts := Sign(payload, secret, time.Now())

	assert.False(t, Verify(payload, "", ts, secret, DefaultTolerance))
	assert.False(t, Verify(payload, sig, "", secret, DefaultTolerance))
	assert.False(t, Verify(payload, sig, "not-a-number", secret, DefaultTolerance))
}

func TestGenerateSecretShape(t *testing.T) {
	s1, err := GenerateSecret()
	require.NoError(t, err)
	s2, err := GenerateSecret()
	require.NoError(t, err)

	assert.Len(t, s1, 64)
	assert.NotEqual(t, s1, s2)

	_, err = hex.DecodeString(s1)
	assert.NoError(t, err)
}
