package identity

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	msg := []byte("challenge-payload")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)

	assert.True(t, Verify(kp.Public(), msg, sig))
}

func TestVerifyRejectsTampering(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)
	other, err := Generate()
	require.NoError(t, err)

	msg := []byte("challenge-payload")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		assert.False(t, Verify(other.Public(), msg, sig))
	})
	t.Run("mutated message", func(t *testing.T) {
		assert.False(t, Verify(kp.Public(), []byte("challenge-payloaq"), sig))
	})
	t.Run("mutated signature", func(t *testing.T) {
		bad := append([]byte(nil), sig...)
		bad[0] ^= 0x01
		assert.False(t, Verify(kp.Public(), msg, bad))
	})
	t.Run("truncated signature", func(t *testing.T) {
		assert.False(t, Verify(kp.Public(), msg, sig[:32]))
	})
	t.Run("short key", func(t *testing.T) {
		assert.False(t, Verify(kp.Public()[:16], msg, sig))
	})
}

func TestVerifyOnlyKeypairCannotSign(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	remote, err := FromPublic(kp.Public())
	require.NoError(t, err)
	assert.False(t, remote.HasPrivate())

	_, err = remote.Sign([]byte("x"))
	assert.ErrorIs(t, err, ErrNoPrivateKey)

	_, err = remote.Seed()
	assert.ErrorIs(t, err, ErrNoPrivateKey)
}

func TestFromSeedDeterministic(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)
	seed, err := kp.Seed()
	require.NoError(t, err)

	again, err := FromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, kp.Public(), again.Public())

	_, err = FromSeed(seed[:16])
	assert.ErrorIs(t, err, ErrInvalidKeyMaterial)
}

func TestFromPublicRejectsBadLength(t *testing.T) {
	_, err := FromPublic(make(ed25519.PublicKey, 16))
	assert.ErrorIs(t, err, ErrInvalidKeyMaterial)
}

func TestAddressRoundTrip(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	addr := kp.Address()
	pub, err := addr.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, kp.Public(), pub)

	parsed, err := ParseAddress(addr.String())
	require.NoError(t, err)
	assert.Equal(t, addr, parsed)
}

func TestAddressRejectsGarbage(t *testing.T) {
	for _, text := range []string{
		"",
		"pk1",
		"pk1zzzz0OIl", // base58 forbids 0, O, I, l
		"pk2z3mJr7AoUXx2Wqd",
		"pk1z3mJr7AoUXx2Wqd", // decodes, wrong length
	} {
		_, err := ParseAddress(text)
		assert.ErrorIs(t, err, ErrInvalidKeyMaterial, "text=%q", text)
	}
}

func TestSeedFileRoundTrip(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "homeserver.key")
	require.NoError(t, kp.SaveSeed(path))

	loaded, err := LoadSeed(path)
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), loaded.Address())
}
