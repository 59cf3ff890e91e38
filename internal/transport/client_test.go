package transport_test

import (
	"context"
	"flag"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
	"github.com/pkgw/tectonopedia-ng/internal/protocol"
	"github.com/pkgw/tectonopedia-ng/internal/transport"
)

func init() {
	_ = flag.Set("logtostderr", "true")
}

// echoPeer answers the handshake and echoes every sync frame back.
type echoPeer struct {
	version string
	dials   atomic.Int32

	mu    sync.Mutex
	conns []*websocket.Conn
}

func (p *echoPeer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.dials.Add(1)
	ws, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	if _, _, err := ws.ReadMessage(); err != nil {
		return
	}
	reply := protocol.Peer("test-peer")
	reply.ProtocolVersion = p.version
	b, _ := protocol.Encode(reply)
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return
	}

	p.mu.Lock()
	p.conns = append(p.conns, ws)
	p.mu.Unlock()

	for {
		_, b, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}

func (p *echoPeer) dropAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ws := range p.conns {
		_ = ws.Close()
	}
	p.conns = nil
}

type recorder struct {
	connected    chan domain.PeerID
	received     chan *protocol.Message
	disconnected chan error
}

func newRecorder() *recorder {
	return &recorder{
		connected:    make(chan domain.PeerID, 8),
		received:     make(chan *protocol.Message, 8),
		disconnected: make(chan error, 8),
	}
}

func (r *recorder) Connected(p domain.PeerID)    { r.connected <- p }
func (r *recorder) Received(m *protocol.Message) { r.received <- m }
func (r *recorder) Disconnected(err error)       { r.disconnected <- err }

func fastSettings() *transport.Settings {
	s := transport.DefaultSettings()
	s.MinBackoff = 10 * time.Millisecond
	s.MaxBackoff = 50 * time.Millisecond
	s.HandshakeTimeout = time.Second
	return s
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func TestClient_SendReceive_OK(t *testing.T) {
	peer := &echoPeer{version: protocol.Version}
	srv := httptest.NewServer(peer)
	defer srv.Close()

	rec := newRecorder()
	c := transport.NewClient(context.Background(), wsURL(srv), "client-test", rec, fastSettings())
	defer c.Close()

	require.Equal(t, domain.PeerID("test-peer"), waitFor(t, rec.connected))
	got, ok := c.Peer()
	require.True(t, ok)
	require.Equal(t, domain.PeerID("test-peer"), got)

	id := domain.NewDocumentID()
	require.NoError(t, c.Send(context.Background(), protocol.Sync(protocol.TypeSync, id, []byte("hello"))))

	m := waitFor(t, rec.received)
	require.Equal(t, protocol.TypeSync, m.Type)
	require.Equal(t, id, m.DocumentID)
	require.Equal(t, []byte("hello"), m.Data)
}

func TestClient_Reconnects(t *testing.T) {
	peer := &echoPeer{version: protocol.Version}
	srv := httptest.NewServer(peer)
	defer srv.Close()

	rec := newRecorder()
	c := transport.NewClient(context.Background(), wsURL(srv), "client-test", rec, fastSettings())
	defer c.Close()

	waitFor(t, rec.connected)
	peer.dropAll()
	waitFor(t, rec.disconnected)
	waitFor(t, rec.connected)
	require.GreaterOrEqual(t, peer.dials.Load(), int32(2))
}

func TestClient_IncompatiblePeer_NeverConnects(t *testing.T) {
	peer := &echoPeer{version: "2.0.0"}
	srv := httptest.NewServer(peer)
	defer srv.Close()

	rec := newRecorder()
	c := transport.NewClient(context.Background(), wsURL(srv), "client-test", rec, fastSettings())
	defer c.Close()

	require.Eventually(t, func() bool { return peer.dials.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	require.Empty(t, rec.connected)

	err := c.Send(context.Background(), protocol.Sync(protocol.TypeSync, domain.NewDocumentID(), []byte("x")))
	require.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestClient_Close_StopsLoop(t *testing.T) {
	rec := newRecorder()
	// Nothing listens here; the client just keeps backing off.
	c := transport.NewClient(context.Background(), "ws://127.0.0.1:1/sync", "client-test", rec, fastSettings())

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	c.Close()
	_, ok := c.Peer()
	require.False(t, ok)
}
