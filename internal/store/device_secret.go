package store

import (
	"fmt"
	"path/filepath"

	"github.com/pkgw/tectonopedia-ng/internal/crypto"
)

const deviceSecretFile = "device.key"

// LoadOrCreateDeviceSecret returns the device secret under dir, creating it
// on first use. Concurrent first calls agree on one secret.
func LoadOrCreateDeviceSecret(dir string) ([]byte, error) {
	path := filepath.Join(dir, deviceSecretFile)
	for attempt := 0; attempt < 2; attempt++ {
		b, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if b != nil {
			if len(b) != crypto.SecretBytes {
				return nil, fmt.Errorf("%s: want %d bytes, got %d", path, crypto.SecretBytes, len(b))
			}
			return b, nil
		}

		secret, err := crypto.NewDeviceSecret()
		if err != nil {
			return nil, err
		}
		created, err := createExclusive(path, secret, 0o600)
		if err != nil {
			return nil, err
		}
		if created {
			return secret, nil
		}
		// Someone else won; read theirs.
		crypto.Wipe(secret)
	}
	return nil, fmt.Errorf("%s: could not provision device secret", path)
}
