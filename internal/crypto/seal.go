package crypto

import (
	"bytes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
)

// SecretBytes is the size of a device secret.
const SecretBytes = 32

const sealInfo = "tectonopedia keystore v1"

var (
	errForeignKey = errors.New("cannot seal a private key from another implementation")
	// Returned when the device secret is wrong or the blob has been modified.
	errSealBroken = errors.New("sealed key is corrupted or sealed under another device secret")
)

// Sealer wraps private keys for storage at rest.
type Sealer struct {
	aead cipher.AEAD
}

// NewDeviceSecret returns a fresh random device secret.
func NewDeviceSecret() ([]byte, error) {
	secret := make([]byte, SecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// NewSealer derives the wrapping key from the device secret.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) != SecretBytes {
		return nil, fmt.Errorf("device secret: want %d bytes, got %d", SecretBytes, len(secret))
	}
	key := make([]byte, chacha20poly1305.KeySize)
	defer Wipe(key)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(sealInfo)), key); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// SealPrivateKey encrypts the private seed, binding it to slot.
// The output is nonce || ciphertext.
func (s *Sealer) SealPrivateKey(k domain.PrivateKey, slot string) ([]byte, error) {
	pk, ok := k.(*PrivateKey)
	if !ok {
		return nil, errForeignKey
	}
	pk.mu.RLock()
	defer pk.mu.RUnlock()
	if pk.priv == nil {
		return nil, errDestroyed
	}
	seed := pk.priv.Seed()
	defer Wipe(seed)

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(seed)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, seed, []byte(slot)), nil
}

// OpenPrivateKey decrypts a sealed blob and checks it against pub.
func (s *Sealer) OpenPrivateKey(blob []byte, slot string, pub ed25519.PublicKey) (*PrivateKey, error) {
	n := s.aead.NonceSize()
	if len(blob) < n+s.aead.Overhead() {
		return nil, errSealBroken
	}
	seed, err := s.aead.Open(nil, blob[:n], blob[n:], []byte(slot))
	if err != nil {
		return nil, errSealBroken
	}
	defer Wipe(seed)
	if len(seed) != ed25519.SeedSize {
		return nil, errSealBroken
	}
	priv := ed25519.NewKeyFromSeed(seed)
	if !bytes.Equal(priv.Public().(ed25519.PublicKey), pub) {
		Wipe(priv)
		return nil, fmt.Errorf("sealed key does not match stored public key")
	}
	return &PrivateKey{priv: priv}, nil
}
