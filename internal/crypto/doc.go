// Package crypto exposes the minimal primitives used by tectonopedia clients.
//
// Contents
//
//   - Ed25519 signing keypair generation behind the Primitive capability
//     (Platform, GenerateSigningKeypair)
//   - PrivateKey, an opaque crypto.Signer whose raw bytes are never returned
//   - Sealing of private keys at rest with XChaCha20-Poly1305 under an
//     HKDF-derived key (Sealer)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// The plaintext private seed only exists inside this package. Everything that
// leaves it is either a signature, a public key, or a sealed blob.
package crypto
