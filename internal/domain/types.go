package domain

import (
	"crypto"
	"crypto/ed25519"
)

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// PeerID names one participant of the sync protocol.
type PeerID string

// String returns the string form of the peer id.
func (p PeerID) String() string { return string(p) }

// PrivateKey is an opaque signing key handle. Implementations can sign but
// refuse to hand out their raw bytes.
type PrivateKey interface {
	crypto.Signer
	Algorithm() string
	// Export always fails with ErrNotExtractable.
	Export() ([]byte, error)
}

// Keypair is the client's long-term signing identity.
type Keypair struct {
	Public  ed25519.PublicKey
	Private PrivateKey
}

// IsZero reports whether the keypair is missing either half.
func (k Keypair) IsZero() bool { return len(k.Public) == 0 || k.Private == nil }

// ReadyState is the readiness of a document handle.
type ReadyState int

const (
	StateLoading ReadyState = iota
	StateReady
	StateFailed
)

func (s ReadyState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ExecutionContext is the capability token for client-local resources.
// The zero value is not a client context.
type ExecutionContext struct {
	client bool
	name   string
}

// ClientContext returns the capability for code running on a client install.
func ClientContext() ExecutionContext { return ExecutionContext{client: true, name: "client"} }

// ServerContext returns the descriptor for server-side execution.
func ServerContext() ExecutionContext { return ExecutionContext{name: "server"} }

// IsClient reports whether client-local storage and identity may be used.
func (c ExecutionContext) IsClient() bool { return c.client }

func (c ExecutionContext) String() string {
	if c.name == "" {
		return "unspecified"
	}
	return c.name
}
