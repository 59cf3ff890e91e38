package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"
	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/pkgw/tectonopedia-ng/internal/config"
	"github.com/pkgw/tectonopedia-ng/internal/domain"
	"github.com/pkgw/tectonopedia-ng/internal/protocol"
	"github.com/pkgw/tectonopedia-ng/internal/store"
	"github.com/pkgw/tectonopedia-ng/internal/transport"
)

type options struct {
	peerID    domain.PeerID
	storage   domain.DocumentStorage
	transport *transport.Settings
}

// Option customizes Open.
type Option func(*options)

// WithPeerID sets the id announced to the sync peer.
func WithPeerID(id domain.PeerID) Option { return func(o *options) { o.peerID = id } }

// WithStorage replaces the storage selected by the configuration.
func WithStorage(s domain.DocumentStorage) Option { return func(o *options) { o.storage = s } }

// WithTransportSettings overrides connection timeouts and pacing. Backoff
// bounds still come from the configuration.
func WithTransportSettings(s *transport.Settings) Option {
	return func(o *options) { o.transport = s }
}

// Session owns the sync connection, the storage binding and the handle
// registry of one view.
type Session struct {
	cfg     config.SyncTransportConfig
	self    domain.PeerID
	storage domain.DocumentStorage
	client  *transport.Client

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	connected bool
	handles   map[domain.DocumentID]*Handle
}

// Open creates a session. It fails with domain.ErrUnsupportedContext outside
// a client context and with domain.ErrInvalidConfig for a bad configuration.
func Open(ec domain.ExecutionContext, cfg config.SyncTransportConfig, opts ...Option) (*Session, error) {
	if !ec.IsClient() {
		return nil, fmt.Errorf("%w: replica session in %s context", domain.ErrUnsupportedContext, ec)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.peerID == "" {
		o.peerID = domain.PeerID("client-" + ulid.Make().String())
	}
	if o.storage == nil {
		st, err := openStorage(cfg.Storage)
		if err != nil {
			return nil, err
		}
		o.storage = st
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:     cfg,
		self:    o.peerID,
		storage: o.storage,
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[domain.DocumentID]*Handle),
	}

	if !cfg.Offline() {
		settings := transport.DefaultSettings()
		if o.transport != nil {
			cp := *o.transport
			settings = &cp
		}
		settings.MinBackoff = cfg.MinBackoff
		settings.MaxBackoff = cfg.MaxBackoff
		s.client = transport.NewClient(ctx, cfg.Endpoint, s.self, link{s}, settings)
	}
	glog.Infof("replica: session %s opened (endpoint %q, storage %q)", s.self, cfg.Endpoint, cfg.Storage)
	return s, nil
}

func openStorage(loc string) (domain.DocumentStorage, error) {
	if loc == config.MemoryStorage {
		return store.NewMemoryStorage(), nil
	}
	return store.NewFileStorage(loc)
}

// PeerID returns the id this session announces.
func (s *Session) PeerID() domain.PeerID { return s.self }

// Connected reports whether a sync peer is currently joined.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Find returns the handle for id, starting its load on first use.
func (s *Session) Find(ctx context.Context, id domain.DocumentID) (*Handle, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", domain.ErrInvalidDocumentID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrSessionClosed
	}
	// A failed handle may not have been evicted yet; it is replaced either way.
	if h, ok := s.handles[id]; ok && h.State() != domain.StateFailed {
		s.mu.Unlock()
		return h, nil
	}
	h := newHandle(s, id)
	s.handles[id] = h
	s.mu.Unlock()

	go s.load(h)
	return h, nil
}

// Create makes a new document with empty content, persists it and returns
// its ready handle.
func (s *Session) Create(ctx context.Context) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, domain.ErrSessionClosed
	}

	doc, err := NewDoc("")
	if err != nil {
		return nil, err
	}
	id := domain.NewDocumentID()
	if err := s.storage.Save(ctx, id, doc.Save()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrSessionClosed
	}
	h := newHandle(s, id)
	s.handles[id] = h
	s.mu.Unlock()

	h.loaded(doc, true)
	s.announce(h)
	glog.Infof("replica: created document %s", id)
	return h, nil
}

// Close tears the session down. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handles := s.handles
	s.handles = make(map[domain.DocumentID]*Handle)
	s.mu.Unlock()

	s.cancel()
	if s.client != nil {
		s.client.Close()
	}
	for _, h := range handles {
		h.teardown()
	}
	glog.Infof("replica: session %s closed", s.self)
	return nil
}

func (s *Session) load(h *Handle) {
	data, ok, err := s.storage.Load(s.ctx, h.id)
	if err != nil {
		h.fail(fmt.Errorf("%w: %s: %w", domain.ErrDocumentUnavailable, h.id, err))
		return
	}
	if ok {
		doc, err := LoadDoc(data)
		if err != nil {
			h.fail(fmt.Errorf("%w: %s: %w", domain.ErrDocumentUnavailable, h.id, err))
			return
		}
		h.loaded(doc, true)
		s.announce(h)
		return
	}

	if s.client == nil {
		h.fail(fmt.Errorf("%w: %s is not in local storage and no sync peer is configured",
			domain.ErrDocumentUnavailable, h.id))
		return
	}
	h.loaded(automerge.New(), false)
	h.armTimeout(s.cfg.LoadTimeout)
	s.announce(h)
}

// announce starts syncing h if a peer is joined. Connected covers the case
// where the peer joins later.
func (s *Session) announce(h *Handle) {
	s.mu.Lock()
	h.mu.Lock()
	h.pending = false
	connected := s.connected
	s.mu.Unlock()
	defer h.mu.Unlock()

	if connected {
		h.resyncLocked()
	}
}

func (s *Session) lookup(id domain.DocumentID) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[id]
}

func (s *Session) evict(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles[h.id] == h {
		delete(s.handles, h.id)
	}
}

func (s *Session) snapshotHandles() []*Handle {
	hs := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		hs = append(hs, h)
	}
	return hs
}

func (s *Session) send(m *protocol.Message) {
	if s.client == nil {
		return
	}
	if err := s.client.Send(s.ctx, m); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		glog.V(2).Infof("replica: send %s %s: %s", m.Type, m.DocumentID, err)
	}
}

func (s *Session) persist(id domain.DocumentID, doc *automerge.Doc) error {
	return s.storage.Save(s.ctx, id, doc.Save())
}

// link adapts the session to transport.Handler.
type link struct{ s *Session }

func (l link) Connected(peer domain.PeerID) {
	l.s.mu.Lock()
	l.s.connected = true
	hs := l.s.snapshotHandles()
	l.s.mu.Unlock()

	glog.Infof("replica: %s joined %s; syncing %d documents", l.s.self, peer, len(hs))
	for _, h := range hs {
		h.mu.Lock()
		if !h.pending {
			h.resyncLocked()
		}
		h.mu.Unlock()
	}
}

func (l link) Disconnected(err error) {
	l.s.mu.Lock()
	l.s.connected = false
	hs := l.s.snapshotHandles()
	l.s.mu.Unlock()

	glog.Infof("replica: %s lost sync peer: %v", l.s.self, err)
	for _, h := range hs {
		h.mu.Lock()
		h.sync = nil
		h.mu.Unlock()
	}
}

func (l link) Received(m *protocol.Message) {
	switch m.Type {
	case protocol.TypeSync, protocol.TypeRequest:
		if h := l.s.lookup(m.DocumentID); h != nil {
			h.receive(m.Data)
		} else {
			glog.V(2).Infof("replica: %s for unopened document %s", m.Type, m.DocumentID)
		}
	case protocol.TypeDocUnavailable:
		if h := l.s.lookup(m.DocumentID); h != nil {
			h.unavailable()
		}
	case protocol.TypeError:
		glog.Warningf("replica: peer error: %s", m.Message)
	default:
		glog.V(2).Infof("replica: ignoring %s frame", m.Type)
	}
}

var _ transport.Handler = link{}
