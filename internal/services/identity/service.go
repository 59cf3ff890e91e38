package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/pkgw/tectonopedia-ng/internal/crypto"
	"github.com/pkgw/tectonopedia-ng/internal/domain"
)

// KeyName is the logical KeyStore name of the identity keypair.
const KeyName = crypto.AlgorithmEd25519

// Service manages identity key creation and access using a backing store.
type Service struct {
	store     domain.KeyStore
	primitive crypto.Primitive

	mu sync.Mutex
}

// New returns an identity service backed by the given store. A nil primitive
// selects crypto.Platform.
func New(s domain.KeyStore, p crypto.Primitive) *Service {
	if p == nil {
		p = crypto.Platform{}
	}
	return &Service{store: s, primitive: p}
}

// EnsureKeypair returns the installation's keypair, creating it if absent.
func (s *Service) EnsureKeypair(ctx context.Context) (domain.Keypair, error) {
	if kp, ok, err := s.store.Get(ctx, KeyName); err != nil || ok {
		return kp, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have finished while we waited for the lock.
	if kp, ok, err := s.store.Get(ctx, KeyName); err != nil || ok {
		return kp, err
	}

	kp, err := s.primitive.GenerateSigningKeypair(crypto.AlgorithmEd25519)
	if err != nil {
		if !errors.Is(err, domain.ErrKeyGeneration) {
			err = fmt.Errorf("%w: %w", domain.ErrKeyGeneration, err)
		}
		return domain.Keypair{}, err
	}

	winner, stored, err := s.store.PutIfAbsent(ctx, KeyName, kp)
	if err != nil {
		crypto.Discard(kp)
		return domain.Keypair{}, err
	}
	if !stored {
		glog.Infof("identity: another writer created the keypair first; discarding ours")
		crypto.Discard(kp)
		return winner, nil
	}

	glog.Infof("identity: created keypair %s", crypto.Fingerprint(kp.Public))
	return kp, nil
}

// Fingerprint returns a short fingerprint of the identity public key, creating
// the keypair if needed.
func (s *Service) Fingerprint(ctx context.Context) (domain.Fingerprint, error) {
	kp, err := s.EnsureKeypair(ctx)
	if err != nil {
		return "", err
	}
	return crypto.Fingerprint(kp.Public), nil
}

// Compile-time assertion that Service implements domain.IdentityProvider.
var _ domain.IdentityProvider = (*Service)(nil)
