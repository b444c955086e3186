package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrGenerate_PersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")

	first, err := LoadOrGenerate(path, nil)
	require.NoError(t, err)
	require.NotEmpty(t, first.PublicKey)

	second, err := LoadOrGenerate(path, nil)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey, second.PublicKey)
	assert.Equal(t, first.PrivateKey, second.PrivateKey)
}

func TestSignatureSoundness(t *testing.T) {
	dir := t.TempDir()
	keys, err := LoadOrGenerate(filepath.Join(dir, "identity.key"), nil)
	require.NoError(t, err)

	msg := []byte("peerA|Workstation|37421|1700000000000")
	sig := keys.Sign(msg)
	assert.True(t, Verify(keys.PublicKey, msg, sig))

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0xFF
	assert.False(t, Verify(keys.PublicKey, tampered, sig))
}

func TestVerify_NeverPanicsOnMalformedInput(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.False(t, Verify(nil, []byte("x"), []byte("y")))
		assert.False(t, Verify([]byte{1, 2, 3}, []byte("x"), []byte("y")))
	})
}

func TestFingerprints(t *testing.T) {
	dir := t.TempDir()
	keys, err := LoadOrGenerate(filepath.Join(dir, "identity.key"), nil)
	require.NoError(t, err)

	full := Fingerprint(keys.PublicKey)
	short := ShortFingerprint(keys.PublicKey)
	assert.Len(t, full, 64) // 32-byte ed25519 pubkey, hex encoded
	assert.Contains(t, short, ":")
}

func TestECDHAgreement(t *testing.T) {
	a, err := NewEphemeral()
	require.NoError(t, err)
	b, err := NewEphemeral()
	require.NoError(t, err)

	keyA, err := DeriveSessionKey(a.Private, b.Public)
	require.NoError(t, err)
	keyB, err := DeriveSessionKey(b.Private, a.Public)
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB)
	assert.Len(t, keyA, SessionKeySize)
}

func TestAEADRoundTrip(t *testing.T) {
	a, err := NewEphemeral()
	require.NoError(t, err)
	b, err := NewEphemeral()
	require.NoError(t, err)
	key, err := DeriveSessionKey(a.Private, b.Public)
	require.NoError(t, err)

	plaintext := []byte("hello\n")
	record, err := AEADSeal(key, plaintext)
	require.NoError(t, err)

	opened, err := AEADOpen(key, record)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestAEADOpen_TamperedRecordFails(t *testing.T) {
	a, err := NewEphemeral()
	require.NoError(t, err)
	b, err := NewEphemeral()
	require.NoError(t, err)
	key, err := DeriveSessionKey(a.Private, b.Public)
	require.NoError(t, err)

	record, err := AEADSeal(key, []byte("secret payload"))
	require.NoError(t, err)

	for i := range record {
		tampered := append([]byte(nil), record...)
		tampered[i] ^= 0x01
		_, err := AEADOpen(key, tampered)
		assert.Error(t, err, "byte %d flip should invalidate the record", i)
	}
}

func TestAEADSeal_NeverReusesNonce(t *testing.T) {
	key := make([]byte, SessionKeySize)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		record, err := AEADSeal(key, []byte("same plaintext every time"))
		require.NoError(t, err)
		nonce := string(record[:GCMNonceSize])
		assert.False(t, seen[nonce], "nonce reused")
		seen[nonce] = true
	}
}
