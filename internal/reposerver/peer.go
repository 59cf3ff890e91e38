package reposerver

import (
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
	"github.com/pkgw/tectonopedia-ng/internal/protocol"
)

const (
	peerSendBuffer = 256
	writeTimeout   = 5 * time.Second
)

// peer is one joined websocket connection.
type peer struct {
	id   domain.PeerID
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	docs map[*repoDoc]struct{}
}

func newPeer(id domain.PeerID, ws *websocket.Conn) *peer {
	return &peer{
		id:   id,
		ws:   ws,
		send: make(chan []byte, peerSendBuffer),
		done: make(chan struct{}),
		docs: make(map[*repoDoc]struct{}),
	}
}

// enqueue never blocks. A peer too slow to drain its buffer is disconnected;
// it resyncs from scratch when it reconnects.
func (p *peer) enqueue(m *protocol.Message) {
	b, err := protocol.Encode(m)
	if err != nil {
		glog.Errorf("[repo]%s: encode %s: %s", p.id, m.Type, err)
		return
	}
	select {
	case <-p.done:
	case p.send <- b:
	default:
		glog.Infof("[repo]%s: send buffer full; dropping connection", p.id)
		p.close()
	}
}

func (p *peer) writePump() {
	for {
		select {
		case <-p.done:
			return
		case b := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				glog.Infof("[repo]%s-> error = %s", p.id, err)
				p.close()
				return
			}
			glog.V(2).Infof("[repo]%s-> %d bytes", p.id, len(b))
		}
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.ws.Close()
	})
}

func (p *peer) attach(d *repoDoc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.docs != nil {
		p.docs[d] = struct{}{}
	}
}

// detachAll drops this peer's sync state from every document it touched.
func (p *peer) detachAll() {
	p.mu.Lock()
	docs := make([]*repoDoc, 0, len(p.docs))
	for d := range p.docs {
		docs = append(docs, d)
	}
	p.docs = nil
	p.mu.Unlock()

	for _, d := range docs {
		d.detach(p)
	}
}
