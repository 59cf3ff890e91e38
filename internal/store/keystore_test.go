package store_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	tcrypto "github.com/pkgw/tectonopedia-ng/internal/crypto"
	"github.com/pkgw/tectonopedia-ng/internal/domain"
	"github.com/pkgw/tectonopedia-ng/internal/store"
)

func newSealer(t *testing.T, dir string) *tcrypto.Sealer {
	t.Helper()
	secret, err := store.LoadOrCreateDeviceSecret(dir)
	require.NoError(t, err)
	sealer, err := tcrypto.NewSealer(secret)
	require.NoError(t, err)
	return sealer
}

func openKeyStore(t *testing.T, dir string) *store.KeyStore {
	t.Helper()
	ks, err := store.OpenKeyStore(context.Background(), domain.ClientContext(), dir, newSealer(t, dir))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ks.Close() })
	return ks
}

func generate(t *testing.T) domain.Keypair {
	t.Helper()
	kp, err := tcrypto.Platform{}.GenerateSigningKeypair(tcrypto.AlgorithmEd25519)
	require.NoError(t, err)
	return kp
}

func rawDB(t *testing.T, dir string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(dir, "keystore.db")+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestKeyStore_PutGet_OK(t *testing.T) {
	ctx := context.Background()
	ks := openKeyStore(t, t.TempDir())

	_, ok, err := ks.Get(ctx, tcrypto.AlgorithmEd25519)
	require.NoError(t, err)
	require.False(t, ok)

	kp := generate(t)
	require.NoError(t, ks.Put(ctx, tcrypto.AlgorithmEd25519, kp))

	got, ok, err := ks.Get(ctx, tcrypto.AlgorithmEd25519)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, kp.Public, got.Public)

	msg := []byte("round trip")
	sig, err := got.Private.Sign(rand.Reader, msg, crypto.Hash(0))
	require.NoError(t, err)
	require.True(t, tcrypto.Verify(kp.Public, msg, sig))
}

func TestKeyStore_Reopen_SameKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ks, err := store.OpenKeyStore(ctx, domain.ClientContext(), dir, newSealer(t, dir))
	require.NoError(t, err)
	kp := generate(t)
	require.NoError(t, ks.Put(ctx, tcrypto.AlgorithmEd25519, kp))
	require.NoError(t, ks.Close())

	ks2 := openKeyStore(t, dir)
	got, ok, err := ks2.Get(ctx, tcrypto.AlgorithmEd25519)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, kp.Public, got.Public)
}

func TestKeyStore_Upgrade_Idempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ks := openKeyStore(t, dir)
	kp := generate(t)
	require.NoError(t, ks.Put(ctx, tcrypto.AlgorithmEd25519, kp))
	require.NoError(t, ks.Close())

	// Pretend the version bump was lost; the upgrade must run again cleanly.
	db := rawDB(t, dir)
	_, err := db.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ks2 := openKeyStore(t, dir)
	got, ok, err := ks2.Get(ctx, tcrypto.AlgorithmEd25519)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, kp.Public, got.Public)

	var version int
	require.NoError(t, rawDB(t, dir).QueryRow("PRAGMA user_version").Scan(&version))
	require.Equal(t, store.KeyStoreSchemaVersion, version)
}

func TestKeyStore_NewerSchema_Refused(t *testing.T) {
	dir := t.TempDir()
	db := rawDB(t, dir)
	_, err := db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = store.OpenKeyStore(context.Background(), domain.ClientContext(), dir, newSealer(t, dir))
	require.ErrorIs(t, err, domain.ErrStorage)
}

func TestKeyStore_PublicHalfOnly_Absent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ks := openKeyStore(t, dir)

	// A crash between the two writes of a non-transactional store would leave
	// just the public row behind.
	orphan := generate(t)
	db := rawDB(t, dir)
	_, err := db.Exec("INSERT INTO keys (name, data) VALUES (?, ?)", "publicKeyEd25519", []byte(orphan.Public))
	require.NoError(t, err)

	_, ok, err := ks.Get(ctx, tcrypto.AlgorithmEd25519)
	require.NoError(t, err)
	require.False(t, ok)

	kp := generate(t)
	winner, stored, err := ks.PutIfAbsent(ctx, tcrypto.AlgorithmEd25519, kp)
	require.NoError(t, err)
	require.True(t, stored)
	require.Equal(t, kp.Public, winner.Public)

	got, ok, err := ks.Get(ctx, tcrypto.AlgorithmEd25519)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, kp.Public, got.Public)
}

func TestKeyStore_PutIfAbsent_ReturnsWinner(t *testing.T) {
	ctx := context.Background()
	ks := openKeyStore(t, t.TempDir())

	first := generate(t)
	winner, stored, err := ks.PutIfAbsent(ctx, tcrypto.AlgorithmEd25519, first)
	require.NoError(t, err)
	require.True(t, stored)
	require.Equal(t, first.Public, winner.Public)

	second := generate(t)
	winner, stored, err = ks.PutIfAbsent(ctx, tcrypto.AlgorithmEd25519, second)
	require.NoError(t, err)
	require.False(t, stored)
	require.Equal(t, first.Public, winner.Public)
}

func TestKeyStore_WrongDeviceSecret_StorageError(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ks := openKeyStore(t, dir)
	require.NoError(t, ks.Put(ctx, tcrypto.AlgorithmEd25519, generate(t)))
	require.NoError(t, ks.Close())

	secret, err := tcrypto.NewDeviceSecret()
	require.NoError(t, err)
	other, err := tcrypto.NewSealer(secret)
	require.NoError(t, err)

	ks2, err := store.OpenKeyStore(ctx, domain.ClientContext(), dir, other)
	require.NoError(t, err)
	defer ks2.Close()

	_, _, err = ks2.Get(ctx, tcrypto.AlgorithmEd25519)
	require.ErrorIs(t, err, domain.ErrStorage)
}

func TestKeyStore_WriteFailure_StorageError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("PRAGMA user_version").
		WillReturnRows(sqlmock.NewRows([]string{"user_version"}).AddRow(store.KeyStoreSchemaVersion))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO keys").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	ks, err := store.NewKeyStore(context.Background(), domain.ClientContext(), db, newSealer(t, t.TempDir()))
	require.NoError(t, err)

	err = ks.Put(context.Background(), tcrypto.AlgorithmEd25519, generate(t))
	require.ErrorIs(t, err, domain.ErrStorage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyStore_UpgradeFailure_StorageError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("PRAGMA user_version").
		WillReturnRows(sqlmock.NewRows([]string{"user_version"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS keys").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	_, err = store.NewKeyStore(context.Background(), domain.ClientContext(), db, newSealer(t, t.TempDir()))
	require.ErrorIs(t, err, domain.ErrStorage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyStore_NonClientContext_Refused(t *testing.T) {
	for name, ec := range map[string]domain.ExecutionContext{
		"server": domain.ServerContext(),
		"zero":   {},
	} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			_, err := store.OpenKeyStore(context.Background(), ec, dir, newSealer(t, dir))
			require.ErrorIs(t, err, domain.ErrUnsupportedContext)
			_, err = os.Stat(filepath.Join(dir, "keystore.db"))
			require.True(t, os.IsNotExist(err))

			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			_, err = store.NewKeyStore(context.Background(), ec, db, newSealer(t, dir))
			require.ErrorIs(t, err, domain.ErrUnsupportedContext)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
