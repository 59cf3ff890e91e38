package store_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
	"github.com/pkgw/tectonopedia-ng/internal/store"
)

func TestDeviceSecret_Stable(t *testing.T) {
	dir := t.TempDir()
	a, err := store.LoadOrCreateDeviceSecret(dir)
	require.NoError(t, err)
	b, err := store.LoadOrCreateDeviceSecret(dir)
	require.NoError(t, err)
	require.Equal(t, a, b)

	fi, err := os.Stat(filepath.Join(dir, "device.key"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestDeviceSecret_ConcurrentFirstUse(t *testing.T) {
	dir := t.TempDir()
	const n = 8
	secrets := make([][]byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := store.LoadOrCreateDeviceSecret(dir)
			require.NoError(t, err)
			secrets[i] = s
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		require.Equal(t, secrets[0], secrets[i])
	}
}

func TestFileStorage_SaveLoad_OK(t *testing.T) {
	ctx := context.Background()
	fs, err := store.NewFileStorage(filepath.Join(t.TempDir(), "docs"))
	require.NoError(t, err)

	id := domain.NewDocumentID()
	_, ok, err := fs.Load(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, fs.Save(ctx, id, []byte("v1")))
	require.NoError(t, fs.Save(ctx, id, []byte("v2")))

	got, ok, err := fs.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), got)
}

func TestFileStorage_OpaqueIDs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := store.NewFileStorage(dir)
	require.NoError(t, err)

	for i, id := range []domain.DocumentID{"doc-42", "../escape", "a/b\\c", ".."} {
		data := []byte{byte(i)}
		require.NoError(t, fs.Save(ctx, id, data))
		got, ok, err := fs.Load(ctx, id)
		require.NoError(t, err)
		require.True(t, ok, id)
		require.Equal(t, data, got)
	}

	// Everything stays inside dir, one file per id.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	_, err = os.Stat(filepath.Join(filepath.Dir(dir), "escape.automerge"))
	require.True(t, os.IsNotExist(err))
}

func TestFileStorage_RejectsUnstorableIDs(t *testing.T) {
	fs, err := store.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	err = fs.Save(context.Background(), "", []byte("x"))
	require.ErrorIs(t, err, domain.ErrInvalidDocumentID)
	err = fs.Save(context.Background(), domain.DocumentID(strings.Repeat("x", 500)), []byte("x"))
	require.ErrorIs(t, err, domain.ErrInvalidDocumentID)
}

func TestMemoryStorage_CopiesData(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStorage()
	id := domain.NewDocumentID()

	buf := []byte("abc")
	require.NoError(t, ms.Save(ctx, id, buf))
	buf[0] = 'z'

	got, ok, err := ms.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("abc"), got)
}
