package domain

import "errors"

var (
	// ErrUnsupportedContext is returned when a client-only operation runs
	// outside a client execution context. It is never retried.
	ErrUnsupportedContext = errors.New("operation requires a client execution context")

	// ErrKeyGeneration is returned when the cryptographic primitive is
	// unavailable or rejects the requested algorithm.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrStorage wraps transactional read/write failures. Callers may retry.
	ErrStorage = errors.New("storage failure")

	// ErrDocumentUnavailable is the failure reported by a handle that never
	// reached the ready state.
	ErrDocumentUnavailable = errors.New("document unavailable")

	// ErrNotExtractable is returned by every attempt to serialise a private key.
	ErrNotExtractable = errors.New("private key is not extractable")

	// ErrSessionClosed is returned by operations on a torn-down session.
	ErrSessionClosed = errors.New("replica session closed")

	// ErrInvalidConfig is returned when a sync transport configuration is malformed.
	ErrInvalidConfig = errors.New("invalid sync transport configuration")

	// ErrNotReady is returned when a mutation is attempted on a handle that
	// has not reached the ready state.
	ErrNotReady = errors.New("document handle is not ready")

	// ErrInvalidDocumentID is returned when a document id fails to parse.
	ErrInvalidDocumentID = errors.New("invalid document id")
)
