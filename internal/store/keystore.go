package store

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/pkgw/tectonopedia-ng/internal/crypto"
	"github.com/pkgw/tectonopedia-ng/internal/domain"
)

const (
	keyStoreFile = "keystore.db"

	// KeyStoreSchemaVersion is the on-disk schema this build expects.
	KeyStoreSchemaVersion = 1
)

// migrations[i] upgrades a store from version i to i+1. Every step must be
// safe to run against a store that already has it applied.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS keys (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`,
}

// KeyStore persists signing keypairs in the "keys" partition of a SQLite
// database. Each logical name maps to two rows, publicKey<name> and
// privateKey<name>, always written in one transaction.
type KeyStore struct {
	db     *sql.DB
	sealer *crypto.Sealer
	ownsDB bool
}

// OpenKeyStore opens (creating and upgrading if needed) the key store under
// dir. Outside a client context it fails with domain.ErrUnsupportedContext
// before touching dir.
func OpenKeyStore(ctx context.Context, ec domain.ExecutionContext, dir string, sealer *crypto.Sealer) (*KeyStore, error) {
	if !ec.IsClient() {
		return nil, unsupported(ec)
	}
	dsn := "file:" + filepath.Join(dir, keyStoreFile) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageErr("open key store", err)
	}
	// One connection: transactions never interleave inside this process.
	db.SetMaxOpenConns(1)

	s, err := NewKeyStore(ctx, ec, db, sealer)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewKeyStore wraps an already open database and runs pending upgrades.
func NewKeyStore(ctx context.Context, ec domain.ExecutionContext, db *sql.DB, sealer *crypto.Sealer) (*KeyStore, error) {
	if !ec.IsClient() {
		return nil, unsupported(ec)
	}
	s := &KeyStore{db: db, sealer: sealer}
	if err := s.upgrade(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the database if this store opened it.
func (s *KeyStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func (s *KeyStore) upgrade(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return storageErr("read schema version", err)
	}
	if version > KeyStoreSchemaVersion {
		return fmt.Errorf("%w: key store schema v%d is newer than supported v%d",
			domain.ErrStorage, version, KeyStoreSchemaVersion)
	}
	if version == KeyStoreSchemaVersion {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin upgrade", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range migrations[version:] {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storageErr("upgrade key store", err)
		}
	}
	// PRAGMA does not take bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", KeyStoreSchemaVersion)); err != nil {
		return storageErr("bump schema version", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit upgrade", err)
	}
	return nil
}

// Get returns the keypair stored under name. A pair missing either half is
// reported as absent.
func (s *KeyStore) Get(ctx context.Context, name string) (domain.Keypair, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Keypair{}, false, storageErr("begin read", err)
	}
	defer func() { _ = tx.Rollback() }()

	kp, ok, err := s.readPair(ctx, tx, name)
	if err != nil {
		return domain.Keypair{}, false, err
	}
	if err := tx.Commit(); err != nil {
		crypto.Discard(kp)
		return domain.Keypair{}, false, storageErr("commit read", err)
	}
	return kp, ok, nil
}

// Put stores both halves of kp under name, replacing any previous pair.
func (s *KeyStore) Put(ctx context.Context, name string, kp domain.Keypair) error {
	if kp.IsZero() {
		return fmt.Errorf("%w: refusing to store an incomplete keypair", domain.ErrStorage)
	}
	sealed, err := s.sealer.SealPrivateKey(kp.Private, privateSlot(name))
	if err != nil {
		return storageErr("seal private key", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin write", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := writePair(ctx, tx, name, kp.Public, sealed); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit write", err)
	}
	return nil
}

// PutIfAbsent stores kp only if no complete pair exists under name. The
// check and the write share one write-locked transaction.
func (s *KeyStore) PutIfAbsent(ctx context.Context, name string, kp domain.Keypair) (domain.Keypair, bool, error) {
	if kp.IsZero() {
		return domain.Keypair{}, false, fmt.Errorf("%w: refusing to store an incomplete keypair", domain.ErrStorage)
	}
	sealed, err := s.sealer.SealPrivateKey(kp.Private, privateSlot(name))
	if err != nil {
		return domain.Keypair{}, false, storageErr("seal private key", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Keypair{}, false, storageErr("begin write", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, ok, err := s.readPair(ctx, tx, name)
	if err != nil {
		return domain.Keypair{}, false, err
	}
	if ok {
		return existing, false, nil
	}

	if err := writePair(ctx, tx, name, kp.Public, sealed); err != nil {
		return domain.Keypair{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Keypair{}, false, storageErr("commit write", err)
	}
	return kp, true, nil
}

func (s *KeyStore) readPair(ctx context.Context, tx *sql.Tx, name string) (domain.Keypair, bool, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT name, data FROM keys WHERE name IN (?, ?)", publicSlot(name), privateSlot(name))
	if err != nil {
		return domain.Keypair{}, false, storageErr("read keypair", err)
	}
	defer func() { _ = rows.Close() }()

	var pub, sealed []byte
	for rows.Next() {
		var slot string
		var data []byte
		if err := rows.Scan(&slot, &data); err != nil {
			return domain.Keypair{}, false, storageErr("scan keypair", err)
		}
		switch slot {
		case publicSlot(name):
			pub = data
		case privateSlot(name):
			sealed = data
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Keypair{}, false, storageErr("read keypair", err)
	}

	// Either half missing means an interrupted or foreign write: no keypair.
	if sealed == nil || pub == nil {
		return domain.Keypair{}, false, nil
	}
	if len(pub) != ed25519.PublicKeySize {
		return domain.Keypair{}, false, fmt.Errorf("%w: public key %q has %d bytes", domain.ErrStorage, name, len(pub))
	}
	priv, err := s.sealer.OpenPrivateKey(sealed, privateSlot(name), ed25519.PublicKey(pub))
	if err != nil {
		return domain.Keypair{}, false, storageErr("open private key", err)
	}
	return domain.Keypair{Public: ed25519.PublicKey(pub), Private: priv}, true, nil
}

func writePair(ctx context.Context, tx *sql.Tx, name string, pub ed25519.PublicKey, sealed []byte) error {
	const upsert = `INSERT INTO keys (name, data) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data`
	if _, err := tx.ExecContext(ctx, upsert, privateSlot(name), sealed); err != nil {
		return storageErr("write private key", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, publicSlot(name), []byte(pub)); err != nil {
		return storageErr("write public key", err)
	}
	return nil
}

func publicSlot(name string) string  { return "publicKey" + name }
func privateSlot(name string) string { return "privateKey" + name }

func unsupported(ec domain.ExecutionContext) error {
	return fmt.Errorf("%w: key store in %s context", domain.ErrUnsupportedContext, ec)
}

func storageErr(op string, err error) error {
	if errors.Is(err, domain.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStorage, op, err)
}

// Compile-time assertion that KeyStore implements domain.KeyStore.
var _ domain.KeyStore = (*KeyStore)(nil)
