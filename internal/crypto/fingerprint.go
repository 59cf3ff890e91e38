package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
)

// FingerprintSize is the number of SHA-256 digest bytes a fingerprint keeps.
const FingerprintSize = 10

// Fingerprint names a public key by the hex of the first FingerprintSize
// bytes of its SHA-256 digest.
func Fingerprint(pub ed25519.PublicKey) domain.Fingerprint {
	digest := sha256.Sum256(pub)
	return domain.Fingerprint(hex.EncodeToString(digest[:FingerprintSize]))
}

// FingerprintMatches reports whether fp names pub.
func FingerprintMatches(pub ed25519.PublicKey, fp domain.Fingerprint) bool {
	want := Fingerprint(pub)
	return subtle.ConstantTimeCompare([]byte(want), []byte(fp)) == 1
}
