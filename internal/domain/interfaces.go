package domain

import "context"

// KeyStore persists the client's signing keypair under a logical name.
// Reads treat a missing private half as "no keypair".
type KeyStore interface {
	Get(ctx context.Context, name string) (Keypair, bool, error)
	Put(ctx context.Context, name string, kp Keypair) error
	// PutIfAbsent stores kp unless a complete keypair already exists, in which
	// case the existing one is returned and stored is false.
	PutIfAbsent(ctx context.Context, name string, kp Keypair) (winner Keypair, stored bool, err error)
}

// IdentityProvider hands out the single keypair of this client installation.
type IdentityProvider interface {
	EnsureKeypair(ctx context.Context) (Keypair, error)
	Fingerprint(ctx context.Context) (Fingerprint, error)
}

// DocumentStorage is the local persistence adapter for replicated documents.
type DocumentStorage interface {
	Load(ctx context.Context, id DocumentID) (data []byte, ok bool, err error)
	Save(ctx context.Context, id DocumentID, data []byte) error
}

// Submitter notifies the backend that a document is ready for compilation.
type Submitter interface {
	Submit(ctx context.Context, id DocumentID) (status string, err error)
}
