package identity

import (
	"crypto/ed25519"
	"strings"

	"github.com/mr-tron/base58"
)

// Address is the textual, self-describing encoding of a public key:
// "pk1" + multibase base58btc ("z" prefix) of the raw 32 key bytes.
// The mapping is a bijection; there is no registry behind it.
type Address string

const addressPrefix = "pk1z"

// AddressOf derives the address for a public key.
func AddressOf(pub ed25519.PublicKey) Address {
	return Address(addressPrefix + base58.Encode(pub))
}

// ParseAddress validates text and returns it as an Address.
func ParseAddress(text string) (Address, error) {
	if _, err := Address(text).PublicKey(); err != nil {
		return "", err
	}
	return Address(text), nil
}

// PublicKey decodes the address back to the public key it encodes.
func (a Address) PublicKey() (ed25519.PublicKey, error) {
	s := string(a)
	if !strings.HasPrefix(s, addressPrefix) {
		return nil, ErrInvalidKeyMaterial
	}
	raw, err := base58.Decode(strings.TrimPrefix(s, addressPrefix))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidKeyMaterial
	}
	return ed25519.PublicKey(raw), nil
}

func (a Address) String() string { return string(a) }
