package identity

import (
	"fmt"
	"os"
)

// SaveSeed writes the keypair's seed to path with owner-only permissions.
func (k *Keypair) SaveSeed(path string) error {
	seed, err := k.Seed()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		return fmt.Errorf("identity: writing seed file: %w", err)
	}
	return nil
}

// LoadSeed reads a seed file written by SaveSeed and rebuilds the keypair.
func LoadSeed(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: reading seed file: %w", err)
	}
	kp, err := FromSeed(raw)
	if err != nil {
		return nil, fmt.Errorf("identity: seed file %s: %w", path, err)
	}
	return kp, nil
}
