package submit

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pkgw/tectonopedia-ng/internal/crypto"
	"github.com/pkgw/tectonopedia-ng/internal/domain"
)

// TokenTTL bounds how long a submit token is accepted.
const TokenTTL = 5 * time.Minute

// ErrBadToken is returned for any token VerifyToken does not accept.
var ErrBadToken = errors.New("invalid submit token")

// Claims of a submit token.
type Claims struct {
	PublicKey  string `json:"pub"`
	DocumentID string `json:"doc"`
	jwt.RegisteredClaims
}

// NewToken signs a token for id with the identity keypair. Signing goes
// through the opaque private key; its bytes are never read.
func NewToken(kp domain.Keypair, id domain.DocumentID, now time.Time) (string, error) {
	if kp.IsZero() {
		return "", fmt.Errorf("%w: no identity key", ErrBadToken)
	}
	claims := Claims{
		PublicKey:  base64.RawURLEncoding.EncodeToString(kp.Public),
		DocumentID: string(id),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   crypto.Fingerprint(kp.Public).String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(kp.Private)
}

// VerifyToken checks that s was signed by the key in its own "pub" claim, is
// still valid and was issued for id.
func VerifyToken(s string, id domain.DocumentID) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(s, claims, func(*jwt.Token) (any, error) {
		raw, err := base64.RawURLEncoding.DecodeString(claims.PublicKey)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("bad pub claim")
		}
		return ed25519.PublicKey(raw), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadToken, err)
	}
	raw, _ := base64.RawURLEncoding.DecodeString(claims.PublicKey)
	if !crypto.FingerprintMatches(raw, domain.Fingerprint(claims.Subject)) {
		return nil, fmt.Errorf("%w: subject %q does not name the signing key", ErrBadToken, claims.Subject)
	}
	if claims.DocumentID != string(id) {
		return nil, fmt.Errorf("%w: issued for %q", ErrBadToken, claims.DocumentID)
	}
	return claims, nil
}

// Fingerprint returns the fingerprint of the key that signed the token.
func (c *Claims) Fingerprint() domain.Fingerprint {
	raw, err := base64.RawURLEncoding.DecodeString(c.PublicKey)
	if err != nil {
		return ""
	}
	return crypto.Fingerprint(raw)
}
