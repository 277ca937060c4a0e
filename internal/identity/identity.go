// Package identity wraps the Ed25519 keypair that names an account (or a
// homeserver) and the textual address derived from its public key.
//
// A Keypair either holds the private key (local identity, can sign) or only
// the public half (remote peer, verify-only). The private key never leaves
// this package except through Seed for persistence.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

var (
	// ErrNoPrivateKey is returned by Sign on a verify-only Keypair.
	ErrNoPrivateKey = errors.New("identity: no private key")

	// ErrInvalidKeyMaterial is returned when key, seed or signature bytes
	// have the wrong length or encoding.
	ErrInvalidKeyMaterial = errors.New("identity: invalid key material")
)

// Keypair is an account identity. The private half is optional.
type Keypair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// Generate creates a fresh Ed25519 keypair.
func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Keypair{public: pub, private: priv}, nil
}

// FromSeed rebuilds a keypair from a 32-byte Ed25519 seed.
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidKeyMaterial
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{
		public:  priv.Public().(ed25519.PublicKey),
		private: priv,
	}, nil
}

// FromPublic wraps a remote party's public key in a verify-only Keypair.
func FromPublic(pub ed25519.PublicKey) (*Keypair, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, ErrInvalidKeyMaterial
	}
	p := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(p, pub)
	return &Keypair{public: p}, nil
}

// Public returns the public key.
func (k *Keypair) Public() ed25519.PublicKey { return k.public }

// Address returns the textual address derived from the public key.
func (k *Keypair) Address() Address { return AddressOf(k.public) }

// HasPrivate reports whether this keypair can sign.
func (k *Keypair) HasPrivate() bool { return k.private != nil }

// Sign signs msg with the private key.
func (k *Keypair) Sign(msg []byte) ([]byte, error) {
	if k.private == nil {
		return nil, ErrNoPrivateKey
	}
	return ed25519.Sign(k.private, msg), nil
}

// Seed returns the 32-byte seed of the private key, for persistence.
func (k *Keypair) Seed() ([]byte, error) {
	if k.private == nil {
		return nil, ErrNoPrivateKey
	}
	return k.private.Seed(), nil
}

// Signer exposes the raw private key for signing APIs that need it
// (EdDSA JWT issuance). Returns ErrNoPrivateKey on verify-only pairs.
func (k *Keypair) Signer() (ed25519.PrivateKey, error) {
	if k.private == nil {
		return nil, ErrNoPrivateKey
	}
	return k.private, nil
}

// Verify reports whether sig is a valid signature of msg under pub.
// Malformed keys or signatures verify as false, never panic.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}
