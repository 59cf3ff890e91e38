package reposerver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
	"github.com/pkgw/tectonopedia-ng/internal/jobs"
	"github.com/pkgw/tectonopedia-ng/internal/protocol"
	"github.com/pkgw/tectonopedia-ng/internal/submit"
)

// Server defaults and routes.
const (
	SyncPath      = "/ttpapi1/repo/sync"
	DefaultAddr   = "0.0.0.0:29180"
	DefaultPeerID = domain.PeerID("ttpedia")

	handshakeTimeout = 5 * time.Second
)

// Config configures a Server.
type Config struct {
	PeerID        domain.PeerID
	AllowedOrigin string     // CORS and websocket origin; empty allows none cross-origin
	Queue         jobs.Queue // receives compile jobs
}

// Server is the HTTP handler for sync connections, submissions and health
// checks.
type Server struct {
	repo     *Repo
	cfg      Config
	upgrader websocket.Upgrader
	router   chi.Router

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	peers map[*peer]struct{}
}

// New returns a Server over repo. Zero Config fields take their defaults.
func New(repo *Repo, cfg Config) *Server {
	if cfg.PeerID == "" {
		cfg.PeerID = DefaultPeerID
	}
	if cfg.Queue == nil {
		cfg.Queue = jobs.NewMemoryQueue()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		repo:   repo,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[*peer]struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.cors)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get(SyncPath, s.handleSync)
	r.Post(submit.Path, s.handleSubmit)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Repo returns the server's document repository.
func (s *Server) Repo() *Repo { return s.repo }

// DropConnections closes every sync connection. Clients reconnect on their own.
func (s *Server) DropConnections() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
}

// Close drops all connections and stops accepting new work.
func (s *Server) Close() {
	s.cancel()
	s.DropConnections()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.cfg.AllowedOrigin != "" && origin == s.cfg.AllowedOrigin {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || origin != s.cfg.AllowedOrigin {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		glog.Infof("[repo]upgrade from %s: %s", r.RemoteAddr, err)
		return
	}

	p, err := s.join(ws)
	if err != nil {
		glog.Infof("[repo]join from %s: %s", r.RemoteAddr, err)
		_ = ws.Close()
		return
	}

	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	glog.Infof("[repo]%s joined from %s", p.id, r.RemoteAddr)

	defer func() {
		p.close()
		p.detachAll()
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		glog.Infof("[repo]%s left", p.id)
	}()

	go p.writePump()
	p.enqueue(protocol.Peer(s.cfg.PeerID))

	for {
		_, b, err := ws.ReadMessage()
		if err != nil {
			return
		}
		m, err := protocol.Decode(b)
		if err != nil {
			glog.Infof("[repo]%s: drop frame: %s", p.id, err)
			continue
		}
		switch m.Type {
		case protocol.TypeRequest, protocol.TypeSync:
			s.repo.receive(s.ctx, p, m)
		case protocol.TypeError:
			glog.Infof("[repo]%s: peer error: %s", p.id, m.Message)
		default:
			glog.V(2).Infof("[repo]%s: ignoring %s", p.id, m.Type)
		}
	}
}

// join reads the join frame and checks the peer's protocol version. Refusals
// are reported to the peer before the connection is closed.
func (s *Server) join(ws *websocket.Conn) (*peer, error) {
	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, b, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = ws.SetReadDeadline(time.Time{})

	refuse := func(err error) (*peer, error) {
		if frame, encErr := protocol.Encode(protocol.Error("%s", err)); encErr == nil {
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = ws.WriteMessage(websocket.TextMessage, frame)
		}
		return nil, err
	}

	m, err := protocol.Decode(b)
	if err != nil {
		return refuse(err)
	}
	if m.Type != protocol.TypeJoin {
		return refuse(fmt.Errorf("%w: expected %s, got %s", protocol.ErrMalformed, protocol.TypeJoin, m.Type))
	}
	if err := protocol.CheckVersion(m.ProtocolVersion); err != nil {
		return refuse(err)
	}
	return newPeer(m.SenderID, ws), nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submit.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := domain.ParseDocumentID(string(req.DocID))
	if err != nil {
		writeStatus(w, http.StatusOK, fmt.Sprintf("illegal document ID %s", req.DocID))
		return
	}

	if auth := r.Header.Get("Authorization"); auth != "" {
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			writeStatus(w, http.StatusUnauthorized, "unsupported authorization scheme")
			return
		}
		claims, err := submit.VerifyToken(token, id)
		if err != nil {
			glog.Infof("[repo]submit %s: %s", id, err)
			writeStatus(w, http.StatusUnauthorized, "invalid token")
			return
		}
		glog.Infof("[repo]submit %s signed by %s", id, claims.Fingerprint())
	}

	content, err := s.repo.Content(r.Context(), id)
	switch {
	case errors.Is(err, ErrNotFound):
		writeStatus(w, http.StatusOK, fmt.Sprintf("document %s not found", req.DocID))
		return
	case errors.Is(err, ErrMalformed):
		writeStatus(w, http.StatusOK, fmt.Sprintf("malformatted document %s", req.DocID))
		return
	case err != nil:
		glog.Errorf("[repo]submit %s: %s", id, err)
		writeStatus(w, http.StatusInternalServerError, "storage failure")
		return
	}

	job := jobs.NewJob(jobs.KindCompile, string(id), content)
	if err := s.cfg.Queue.Enqueue(r.Context(), job); err != nil {
		glog.Errorf("[repo]enqueue %s: %s", id, err)
		writeStatus(w, http.StatusServiceUnavailable, "job queue unavailable")
		return
	}
	glog.Infof("[repo]queued %s job %s for %s", job.Kind, job.ID, id)
	writeStatus(w, http.StatusOK, submit.StatusOK)
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(submit.Response{Status: status})
}
