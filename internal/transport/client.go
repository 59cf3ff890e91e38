package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
	"github.com/pkgw/tectonopedia-ng/internal/protocol"
)

// ErrNotConnected is returned by Send while no connection is up.
var ErrNotConnected = errors.New("transport: not connected")

// Handler receives connection events. Calls are serialized.
type Handler interface {
	// Connected is called after a successful handshake. Send works from here on.
	Connected(peer domain.PeerID)
	// Received is called for every valid frame, in arrival order.
	Received(m *protocol.Message)
	// Disconnected is called once per connection that reached Connected.
	Disconnected(err error)
}

// Settings tunes timeouts, reconnect backoff and outbound pacing.
type Settings struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	SendRate         rate.Limit
	SendBurst        int
	SendBuffer       int
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() *Settings {
	return &Settings{
		HandshakeTimeout: 5 * time.Second,
		PingInterval:     10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      30 * time.Second,
		MinBackoff:       250 * time.Millisecond,
		MaxBackoff:       10 * time.Second,
		SendRate:         rate.Limit(200),
		SendBurst:        64,
		SendBuffer:       64,
	}
}

type conn struct {
	ctx  context.Context
	send chan []byte
	peer domain.PeerID
}

// Client keeps one connection to a sync peer alive until closed.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	url      string
	self     domain.PeerID
	handler  Handler
	settings *Settings
	dialer   *websocket.Dialer
	limiter  *rate.Limiter

	mu   sync.Mutex
	conn *conn
}

// NewClient starts connecting to url in the background.
func NewClient(ctx context.Context, url string, self domain.PeerID, handler Handler, settings *Settings) *Client {
	if settings == nil {
		settings = DefaultSettings()
	}
	cancelCtx, cancel := context.WithCancel(ctx)
	c := &Client{
		ctx:      cancelCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		url:      url,
		self:     self,
		handler:  handler,
		settings: settings,
		dialer:   &websocket.Dialer{HandshakeTimeout: settings.HandshakeTimeout},
		limiter:  rate.NewLimiter(settings.SendRate, settings.SendBurst),
	}
	go c.run()
	return c
}

// Close stops the client and waits for its goroutine to exit. It is safe to
// call more than once.
func (c *Client) Close() {
	c.cancel()
	<-c.done
}

// Peer returns the connected peer, if any.
func (c *Client) Peer() (domain.PeerID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return "", false
	}
	return c.conn.peer, true
}

// Send queues m on the current connection. Frames are never carried over to a
// later connection.
func (c *Client) Send(ctx context.Context, m *protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	if cn == nil {
		return ErrNotConnected
	}
	select {
	case cn.send <- b:
		return nil
	case <-cn.ctx.Done():
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) run() {
	defer close(c.done)
	defer c.cancel()

	reconnect := backoff.NewExponentialBackOff()
	reconnect.InitialInterval = c.settings.MinBackoff
	reconnect.MaxInterval = c.settings.MaxBackoff

	for {
		ws, peer, err := c.connect()
		if err == nil {
			reconnect.Reset()
			err = c.serve(ws, peer)
		}
		if c.ctx.Err() != nil {
			return
		}

		wait := reconnect.NextBackOff()
		glog.Infof("[t]%s: %v; reconnect in %s", c.url, err, wait)
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// connect dials and performs the join handshake.
func (c *Client) connect() (*websocket.Conn, domain.PeerID, error) {
	ws, _, err := c.dialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return nil, "", err
	}

	success := false
	defer func() {
		if !success {
			_ = ws.Close()
		}
	}()

	join, err := protocol.Encode(protocol.Join(c.self))
	if err != nil {
		return nil, "", err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(c.settings.HandshakeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, join); err != nil {
		return nil, "", err
	}
	_ = ws.SetReadDeadline(time.Now().Add(c.settings.HandshakeTimeout))
	_, b, err := ws.ReadMessage()
	if err != nil {
		return nil, "", err
	}
	m, err := protocol.Decode(b)
	if err != nil {
		return nil, "", err
	}
	switch m.Type {
	case protocol.TypePeer:
	case protocol.TypeError:
		return nil, "", fmt.Errorf("peer refused join: %s", m.Message)
	default:
		return nil, "", fmt.Errorf("%w: expected %s, got %s", protocol.ErrMalformed, protocol.TypePeer, m.Type)
	}
	if err := protocol.CheckVersion(m.ProtocolVersion); err != nil {
		return nil, "", err
	}

	success = true
	glog.Infof("[t]%s: joined peer %s (protocol %s)", c.url, m.SenderID, m.ProtocolVersion)
	return ws, m.SenderID, nil
}

// serve runs one established connection until it fails or the client closes.
func (c *Client) serve(ws *websocket.Conn, peer domain.PeerID) error {
	handleCtx, handleCancel := context.WithCancel(c.ctx)
	defer handleCancel()

	cn := &conn{ctx: handleCtx, send: make(chan []byte, c.settings.SendBuffer), peer: peer}
	c.mu.Lock()
	c.conn = cn
	c.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-handleCtx.Done()
		// Unblocks ReadMessage.
		_ = ws.Close()
	}()
	go func() {
		defer wg.Done()
		defer handleCancel()
		c.writePump(handleCtx, ws, cn.send)
	}()

	c.handler.Connected(peer)
	err := c.readPump(handleCtx, ws)

	handleCancel()
	c.mu.Lock()
	if c.conn == cn {
		c.conn = nil
	}
	c.mu.Unlock()
	wg.Wait()

	c.handler.Disconnected(err)
	return err
}

func (c *Client) writePump(ctx context.Context, ws *websocket.Conn, send <-chan []byte) {
	ping := time.NewTicker(c.settings.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.settings.WriteTimeout))
			return
		case b := <-send:
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
				// A websocket write deadline cannot be recovered from.
				glog.Infof("[ts]%s-> error = %s", c.url, err)
				return
			}
			glog.V(2).Infof("[ts]%s-> %d bytes", c.url, len(b))
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.settings.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context, ws *websocket.Conn) error {
	extend := func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	}
	ws.SetPongHandler(extend)

	for {
		_ = extend("")
		messageType, b, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			glog.Infof("[tr]%s<- error = %s", c.url, err)
			return err
		}
		if messageType != websocket.TextMessage {
			glog.V(2).Infof("[tr]other=%d %s<-", messageType, c.url)
			continue
		}
		m, err := protocol.Decode(b)
		if err != nil {
			glog.Infof("[tr]drop %s<-: %s", c.url, err)
			continue
		}
		glog.V(2).Infof("[tr]%s %s<-", m.Type, c.url)
		c.handler.Received(m)
	}
}
