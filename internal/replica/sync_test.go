package replica_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pkgw/tectonopedia-ng/internal/config"
	"github.com/pkgw/tectonopedia-ng/internal/domain"
	"github.com/pkgw/tectonopedia-ng/internal/replica"
	"github.com/pkgw/tectonopedia-ng/internal/reposerver"
	"github.com/pkgw/tectonopedia-ng/internal/store"
)

type peerFixture struct {
	srv *reposerver.Server
	url string
}

func newPeer(t *testing.T) *peerFixture {
	t.Helper()
	srv := reposerver.New(reposerver.NewRepo(store.NewMemoryStorage()), reposerver.Config{})
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		hs.Close()
	})
	return &peerFixture{srv: srv, url: "ws" + strings.TrimPrefix(hs.URL, "http") + reposerver.SyncPath}
}

func (p *peerFixture) session(t *testing.T) *replica.Session {
	t.Helper()
	s, err := replica.Open(domain.ClientContext(), config.SyncTransportConfig{
		Endpoint:    p.url,
		Storage:     config.MemoryStorage,
		LoadTimeout: 10 * time.Second,
		MinBackoff:  20 * time.Millisecond,
		MaxBackoff:  100 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.Eventually(t, s.Connected, 5*time.Second, 10*time.Millisecond)
	return s
}

// awaitContent reads snapshots until one carries want.
func awaitContent(t *testing.T, ch <-chan replica.Snapshot, want string) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			require.True(t, ok, "change channel closed")
			if snap.Content == want {
				return
			}
		case <-deadline:
			t.Fatalf("never saw content %q", want)
		}
	}
}

func TestSync_DocumentReachesSecondClient(t *testing.T) {
	ctx := context.Background()
	peer := newPeer(t)
	alice := peer.session(t)
	bob := peer.session(t)

	h, err := alice.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, h.SetContent(ctx, "Wegener, 1912"))
	require.Eventually(t, func() bool {
		c, err := peer.srv.Repo().Content(ctx, h.ID())
		return err == nil && c == "Wegener, 1912"
	}, 10*time.Second, 10*time.Millisecond)

	remote, err := bob.Find(ctx, h.ID())
	require.NoError(t, err)
	require.NoError(t, waitReady(t, remote))
	require.Equal(t, "Wegener, 1912", remote.Snapshot().Content)

	// Edits flow both ways once both sides are ready.
	aliceChanges := h.Changes(ctx)
	require.NoError(t, remote.SetContent(ctx, "Wegener, 1915"))
	awaitContent(t, aliceChanges, "Wegener, 1915")
}

func TestSync_UnknownDocumentFails(t *testing.T) {
	peer := newPeer(t)
	s := peer.session(t)

	h, err := s.Find(context.Background(), domain.NewDocumentID())
	require.NoError(t, err)
	require.ErrorIs(t, waitReady(t, h), domain.ErrDocumentUnavailable)
}

func TestSync_ResumesAfterReconnect(t *testing.T) {
	ctx := context.Background()
	peer := newPeer(t)
	alice := peer.session(t)
	bob := peer.session(t)

	h, err := alice.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, h.SetContent(ctx, "v1"))
	require.Eventually(t, func() bool {
		c, err := peer.srv.Repo().Content(ctx, h.ID())
		return err == nil && c == "v1"
	}, 10*time.Second, 10*time.Millisecond)

	remote, err := bob.Find(ctx, h.ID())
	require.NoError(t, err)
	require.NoError(t, waitReady(t, remote))
	bobChanges := remote.Changes(ctx)
	awaitContent(t, bobChanges, "v1")

	peer.srv.DropConnections()

	// Local edits keep working during the outage and reach bob afterwards.
	require.NoError(t, h.SetContent(ctx, "v2"))
	require.Equal(t, domain.StateReady, remote.State())
	awaitContent(t, bobChanges, "v2")
}

func TestSync_CreatedOfflineUploadsOnConnect(t *testing.T) {
	ctx := context.Background()
	peer := newPeer(t)
	dir := t.TempDir()

	offline, err := replica.Open(domain.ClientContext(), config.SyncTransportConfig{Storage: dir})
	require.NoError(t, err)
	h, err := offline.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, h.SetContent(ctx, "drafted on a plane"))
	require.NoError(t, offline.Close())

	online, err := replica.Open(domain.ClientContext(), config.SyncTransportConfig{
		Endpoint:   peer.url,
		Storage:    dir,
		MinBackoff: 20 * time.Millisecond,
		MaxBackoff: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	defer online.Close()

	again, err := online.Find(ctx, h.ID())
	require.NoError(t, err)
	require.NoError(t, waitReady(t, again))
	require.Eventually(t, func() bool {
		c, err := peer.srv.Repo().Content(ctx, h.ID())
		return err == nil && c == "drafted on a plane"
	}, 10*time.Second, 10*time.Millisecond)
}
