package reposerver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"
	"github.com/golang/glog"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
	"github.com/pkgw/tectonopedia-ng/internal/protocol"
	"github.com/pkgw/tectonopedia-ng/internal/replica"
)

// Errors reported by Repo.Content.
var (
	ErrNotFound  = errors.New("document not found")
	ErrMalformed = errors.New("malformatted document")
)

// Repo holds the server's documents and the sync state of every peer
// attached to each of them.
type Repo struct {
	storage domain.DocumentStorage

	mu   sync.Mutex
	docs map[domain.DocumentID]*repoDoc
}

type repoDoc struct {
	id domain.DocumentID

	mu    sync.Mutex
	doc   *automerge.Doc
	peers map[*peer]*automerge.SyncState
}

// NewRepo returns a repository persisting documents to storage.
func NewRepo(storage domain.DocumentStorage) *Repo {
	return &Repo{storage: storage, docs: make(map[domain.DocumentID]*repoDoc)}
}

// open returns the document, loading it from storage on first use. A missing
// document is created empty when create is set and reported as nil otherwise.
func (r *Repo) open(ctx context.Context, id domain.DocumentID, create bool) (*repoDoc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.docs[id]; ok {
		return d, nil
	}

	data, ok, err := r.storage.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	var doc *automerge.Doc
	switch {
	case ok:
		if doc, err = replica.LoadDoc(data); err != nil {
			return nil, err
		}
	case create:
		doc = automerge.New()
	default:
		return nil, nil
	}

	d := &repoDoc{id: id, doc: doc, peers: make(map[*peer]*automerge.SyncState)}
	r.docs[id] = d
	return d, nil
}

// Content returns the text of a stored document.
func (r *Repo) Content(ctx context.Context, id domain.DocumentID) (string, error) {
	d, err := r.open(ctx, id, false)
	if err != nil {
		return "", err
	}
	if d == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.doc.Heads()) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !replica.HasContent(d.doc) {
		return "", fmt.Errorf("%w: %s", ErrMalformed, id)
	}
	c, err := replica.Content(d.doc)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrMalformed, id, err)
	}
	return c, nil
}

// Put stores doc under id, merging into any existing copy.
func (r *Repo) Put(ctx context.Context, id domain.DocumentID, doc *automerge.Doc) error {
	d, err := r.open(ctx, id, true)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.doc.Merge(doc); err != nil {
		return err
	}
	d.broadcastLocked(nil)
	return r.storage.Save(ctx, id, d.doc.Save())
}

// receive applies one sync frame from p. Requests for unknown documents are
// answered with doc-unavailable; sync frames for unknown documents create them.
func (r *Repo) receive(ctx context.Context, p *peer, m *protocol.Message) {
	d, err := r.open(ctx, m.DocumentID, m.Type == protocol.TypeSync)
	if err != nil {
		glog.Warningf("[repo]%s: open %s: %s", p.id, m.DocumentID, err)
		p.enqueue(protocol.Error("cannot open %s", m.DocumentID))
		return
	}
	if d == nil {
		glog.V(2).Infof("[repo]%s: %s unavailable", p.id, m.DocumentID)
		p.enqueue(protocol.Unavailable(m.DocumentID))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ss, ok := d.peers[p]
	if !ok {
		ss = automerge.NewSyncState(d.doc)
		d.peers[p] = ss
		p.attach(d)
	}

	before := d.doc.Heads()
	if _, err := ss.ReceiveMessage(m.Data); err != nil {
		glog.Warningf("[repo]%s: bad sync message for %s: %s", p.id, m.DocumentID, err)
		p.enqueue(protocol.Error("bad sync message for %s", m.DocumentID))
		return
	}
	if !replica.SameHeads(before, d.doc.Heads()) {
		if err := r.storage.Save(ctx, d.id, d.doc.Save()); err != nil {
			glog.Errorf("[repo]save %s: %s", d.id, err)
		}
		d.broadcastLocked(p)
	}
	if msg, ok := ss.GenerateMessage(); ok {
		p.enqueue(protocol.Sync(protocol.TypeSync, d.id, msg.Bytes()))
	}
}

// broadcastLocked offers new changes to every attached peer except from.
func (d *repoDoc) broadcastLocked(from *peer) {
	for other, ss := range d.peers {
		if other == from {
			continue
		}
		if msg, ok := ss.GenerateMessage(); ok {
			other.enqueue(protocol.Sync(protocol.TypeSync, d.id, msg.Bytes()))
		}
	}
}

func (d *repoDoc) detach(p *peer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, p)
}
