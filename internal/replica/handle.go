package replica

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/golang/glog"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
	"github.com/pkgw/tectonopedia-ng/internal/protocol"
)

// Handle is a view onto one replicated document within a Session.
type Handle struct {
	id      domain.DocumentID
	session *Session

	ready chan struct{} // closed when the handle leaves loading
	torn  chan struct{} // closed on session teardown

	mu      sync.Mutex
	state   domain.ReadyState
	err     error
	pending bool // local storage lookup still running
	doc     *automerge.Doc
	sync    *automerge.SyncState // per connection; nil while disconnected
	timer   *time.Timer
	subs    map[*subscriber]struct{}
}

type subscriber struct {
	ch chan Snapshot
}

func newHandle(s *Session, id domain.DocumentID) *Handle {
	return &Handle{
		id:      id,
		session: s,
		ready:   make(chan struct{}),
		torn:    make(chan struct{}),
		state:   domain.StateLoading,
		pending: true,
		doc:     automerge.New(),
		subs:    make(map[*subscriber]struct{}),
	}
}

// ID returns the document id.
func (h *Handle) ID() domain.DocumentID { return h.id }

// State returns the current readiness state.
func (h *Handle) State() domain.ReadyState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the failure reason once the handle has failed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// WhenReady blocks until the handle leaves loading. It returns nil when the
// handle is ready and the failure otherwise. Cancelling ctx abandons the wait
// without affecting the handle.
func (h *Handle) WhenReady(ctx context.Context) error {
	select {
	case <-h.ready:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current value. Before the handle is ready the value
// does not reflect any consistent document state.
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// Changes returns a channel that receives a Snapshot after every local edit
// or remote merge that changes the document. A ready handle sends its current
// snapshot first. The channel closes when ctx is done or the session closes.
func (h *Handle) Changes(ctx context.Context) <-chan Snapshot {
	sub := &subscriber{ch: make(chan Snapshot, 1)}

	h.mu.Lock()
	select {
	case <-h.torn:
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch
	default:
	}
	h.subs[sub] = struct{}{}
	if h.state == domain.StateReady {
		sub.ch <- h.snapshotLocked()
	}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-h.torn:
		}
		h.mu.Lock()
		delete(h.subs, sub)
		close(sub.ch)
		h.mu.Unlock()
	}()
	return sub.ch
}

// Change applies fn to a fork of the document and commits the result with
// msg. The document is untouched unless fn and the commit both succeed. The
// handle must be ready.
func (h *Handle) Change(ctx context.Context, msg string, fn func(doc *automerge.Doc) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.writableLocked(); err != nil {
		return err
	}

	fork, err := h.doc.Fork()
	if err != nil {
		return err
	}
	if err := fn(fork); err != nil {
		return err
	}
	if _, err := fork.Commit(msg); err != nil {
		return err
	}

	before := h.doc.Heads()
	if _, err := h.doc.Merge(fork); err != nil {
		return err
	}
	if SameHeads(before, h.doc.Heads()) {
		return nil
	}

	h.notifyLocked()
	h.sendLocked()
	return h.session.persist(h.id, h.doc)
}

// SetContent replaces the document text.
func (h *Handle) SetContent(ctx context.Context, s string) error {
	return h.Change(ctx, "set content", func(doc *automerge.Doc) error {
		return SetContent(doc, s)
	})
}

func (h *Handle) writableLocked() error {
	select {
	case <-h.torn:
		return domain.ErrSessionClosed
	default:
	}
	switch h.state {
	case domain.StateReady:
		return nil
	case domain.StateFailed:
		return h.err
	default:
		return fmt.Errorf("%w: %s is still loading", domain.ErrNotReady, h.id)
	}
}

func (h *Handle) snapshotLocked() Snapshot {
	snap := Snapshot{ID: h.id, State: h.state, Heads: Heads(h.doc)}
	if c, err := Content(h.doc); err == nil {
		snap.Content = c
	}
	return snap
}

// loaded installs the initial document. ready marks a local storage hit.
func (h *Handle) loaded(doc *automerge.Doc, ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != domain.StateLoading {
		return
	}
	h.doc = doc
	if ready {
		h.markReadyLocked()
	}
}

func (h *Handle) armTimeout(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != domain.StateLoading {
		return
	}
	h.timer = time.AfterFunc(d, func() {
		h.fail(fmt.Errorf("%w: %s: sync peer did not supply it within %s",
			domain.ErrDocumentUnavailable, h.id, d))
	})
}

func (h *Handle) markReadyLocked() {
	h.state = domain.StateReady
	if h.timer != nil {
		h.timer.Stop()
	}
	close(h.ready)
	h.notifyLocked()
}

// fail moves a loading handle to failed. Handles that already left loading
// are unaffected.
func (h *Handle) fail(err error) {
	h.mu.Lock()
	if h.state != domain.StateLoading {
		h.mu.Unlock()
		return
	}
	h.state = domain.StateFailed
	h.err = err
	h.sync = nil
	if h.timer != nil {
		h.timer.Stop()
	}
	close(h.ready)
	h.mu.Unlock()

	glog.Infof("replica: %s failed: %s", h.id, err)
	h.session.evict(h)
}

func (h *Handle) unavailable() {
	h.fail(fmt.Errorf("%w: %s: sync peer has no copy", domain.ErrDocumentUnavailable, h.id))
}

func (h *Handle) teardown() {
	h.fail(domain.ErrSessionClosed)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sync = nil
	close(h.torn)
}

// resyncLocked starts a fresh sync exchange for a new connection.
func (h *Handle) resyncLocked() {
	if h.state == domain.StateFailed {
		return
	}
	h.sync = automerge.NewSyncState(h.doc)
	h.sendLocked()
}

func (h *Handle) sendLocked() {
	if h.sync == nil {
		return
	}
	msg, valid := h.sync.GenerateMessage()
	if !valid {
		return
	}
	typ := protocol.TypeSync
	if h.state == domain.StateLoading {
		typ = protocol.TypeRequest
	}
	h.session.send(protocol.Sync(typ, h.id, msg.Bytes()))
}

// receive merges one sync message from the peer.
func (h *Handle) receive(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sync == nil || h.pending || h.state == domain.StateFailed {
		return
	}

	before := h.doc.Heads()
	if _, err := h.sync.ReceiveMessage(data); err != nil {
		glog.Warningf("replica: %s: bad sync message: %s", h.id, err)
		return
	}
	after := h.doc.Heads()

	if !SameHeads(before, after) {
		if err := h.session.persist(h.id, h.doc); err != nil {
			glog.Warningf("replica: %s: persist merged state: %s", h.id, err)
		}
		if h.state == domain.StateLoading {
			if len(after) > 0 {
				h.markReadyLocked()
			}
		} else {
			h.notifyLocked()
		}
	}
	h.sendLocked()
}

// notifyLocked offers the current snapshot to every subscriber, replacing a
// snapshot the subscriber has not taken yet.
func (h *Handle) notifyLocked() {
	if len(h.subs) == 0 {
		return
	}
	snap := h.snapshotLocked()
	for sub := range h.subs {
		select {
		case sub.ch <- snap:
			continue
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- snap:
		default:
		}
	}
}
