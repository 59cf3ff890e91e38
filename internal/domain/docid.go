package domain

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// DocumentID identifies one replicated document. It is the base58check
// encoding of a random UUID and is otherwise treated as opaque.
type DocumentID string

// String returns the string form of the id.
func (id DocumentID) String() string { return string(id) }

// NewDocumentID returns a fresh random document id.
func NewDocumentID() DocumentID {
	u := uuid.New()
	return DocumentID(base58.Encode(withChecksum(u[:])))
}

// ParseDocumentID validates s and returns it as a DocumentID.
func ParseDocumentID(s string) (DocumentID, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w %q: %w", ErrInvalidDocumentID, s, err)
	}
	if len(raw) != 16+4 {
		return "", fmt.Errorf("%w %q: want 20 bytes, got %d", ErrInvalidDocumentID, s, len(raw))
	}
	if !bytes.Equal(withChecksum(raw[:16]), raw) {
		return "", fmt.Errorf("%w %q: bad checksum", ErrInvalidDocumentID, s)
	}
	return DocumentID(s), nil
}

func withChecksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	out := make([]byte, 0, len(payload)+4)
	out = append(out, payload...)
	return append(out, second[:4]...)
}
