package crypto

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
)

// AlgorithmEd25519 is the only signing algorithm supported by Platform.
const AlgorithmEd25519 = "Ed25519"

var errDestroyed = errors.New("private key destroyed")

// Primitive is the platform capability that mints signing keypairs.
type Primitive interface {
	GenerateSigningKeypair(algorithm string) (domain.Keypair, error)
}

// Platform generates keypairs from a cryptographically secure source.
type Platform struct {
	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
}

// GenerateSigningKeypair returns a fresh non-extractable keypair.
func (p Platform) GenerateSigningKeypair(algorithm string) (domain.Keypair, error) {
	if algorithm != AlgorithmEd25519 {
		return domain.Keypair{}, fmt.Errorf("%w: unsupported algorithm %q", domain.ErrKeyGeneration, algorithm)
	}
	r := p.Rand
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return domain.Keypair{}, fmt.Errorf("%w: %w", domain.ErrKeyGeneration, err)
	}
	return domain.Keypair{Public: pub, Private: &PrivateKey{priv: priv}}, nil
}

// PrivateKey is an Ed25519 signing key that can be used but not read out.
type PrivateKey struct {
	mu   sync.RWMutex
	priv ed25519.PrivateKey
}

// Public returns the ed25519.PublicKey matching this key.
func (k *PrivateKey) Public() crypto.PublicKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.priv == nil {
		return nil
	}
	return k.priv.Public()
}

// Sign signs message with the key. opts must be crypto.Hash(0) or
// &ed25519.Options, as for ed25519.PrivateKey.
func (k *PrivateKey) Sign(rand io.Reader, message []byte, opts crypto.SignerOpts) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.priv == nil {
		return nil, errDestroyed
	}
	return k.priv.Sign(rand, message, opts)
}

// Algorithm names the key's algorithm.
func (k *PrivateKey) Algorithm() string { return AlgorithmEd25519 }

// Export always fails.
func (k *PrivateKey) Export() ([]byte, error) { return nil, domain.ErrNotExtractable }

// MarshalBinary always fails.
func (k *PrivateKey) MarshalBinary() ([]byte, error) { return nil, domain.ErrNotExtractable }

// MarshalText always fails.
func (k *PrivateKey) MarshalText() ([]byte, error) { return nil, domain.ErrNotExtractable }

// MarshalJSON always fails.
func (k *PrivateKey) MarshalJSON() ([]byte, error) { return nil, domain.ErrNotExtractable }

func (k *PrivateKey) String() string   { return "crypto.PrivateKey(Ed25519, redacted)" }
func (k *PrivateKey) GoString() string { return k.String() }

// Destroy wipes the key. Later Sign calls fail.
func (k *PrivateKey) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	Wipe(k.priv)
	k.priv = nil
}

// Discard wipes the private half of kp when it is one of ours.
func Discard(kp domain.Keypair) {
	if pk, ok := kp.Private.(*PrivateKey); ok {
		pk.Destroy()
	}
}

// Verify checks sig over msg with pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

var _ domain.PrivateKey = (*PrivateKey)(nil)
