// Package hostlink carries channel envelopes between the host application and
// the bridge over a loopback websocket.
package hostlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"platformbridge/internal/channel"
	"platformbridge/internal/config"
	"platformbridge/internal/logger"
)

// Server accepts a single host connection at a time and feeds its envelopes
// to a Messenger.
type Server struct {
	cfg       config.HostLinkConfig
	messenger *channel.Messenger
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	listener net.Listener
	server   *http.Server
	active   *hostConn
	wg       sync.WaitGroup
}

// NewServer creates a host link server.
func NewServer(cfg config.HostLinkConfig, messenger *channel.Messenger) *Server {
	return &Server{
		cfg:       cfg,
		messenger: messenger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("host link already running")
	}

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}

	path := s.cfg.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, s.handleUpgrade)

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.listener = ln
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log := logger.WithComponent("hostlink")
			log.Error().Err(err).Msg("Host link server stopped")
		}
	}()

	log := logger.WithComponent("hostlink")
	log.Info().
		Str("address", ln.Addr().String()).
		Str("path", path).
		Msg("Host link listening")
	return nil
}

// Stop closes the listener and the host connection and waits for the
// connection handler to finish.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	srv := s.server
	active := s.active
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log := logger.WithComponent("hostlink")
		log.Warn().Err(err).Msg("Host link shutdown incomplete")
	}
	if active != nil {
		active.close()
	}
	s.wg.Wait()

	log := logger.WithComponent("hostlink")
	log.Info().Msg("Host link stopped")
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("hostlink")

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if s.active != nil {
		s.mu.Unlock()
		log.Warn().Str("remote", r.RemoteAddr).Msg("Rejected second host connection")
		http.Error(w, "host already connected", http.StatusConflict)
		return
	}
	// Reserve the slot before upgrading so a concurrent request is refused.
	hc := newHostConn(s.cfg.WriteTimeout, s.cfg.SendQueue)
	s.active = hc
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket upgrade failed")
		s.release(hc)
		return
	}
	if !hc.start(ws) {
		s.release(hc)
		return
	}

	if !s.messenger.Attach(hc) {
		log.Warn().Msg("Messenger already attached, dropping connection")
		hc.close()
		s.release(hc)
		return
	}

	log.Info().Str("remote", r.RemoteAddr).Msg("Host connected")
	s.readLoop(ctx, ws)

	s.messenger.Detach(hc)
	hc.close()
	s.release(hc)
	log.Info().Str("remote", r.RemoteAddr).Msg("Host disconnected")
}

func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn) {
	log := logger.WithComponent("hostlink")
	if s.cfg.ReadLimit > 0 {
		ws.SetReadLimit(s.cfg.ReadLimit)
	}

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Host connection closed unexpectedly")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var env channel.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Msg("Discarding malformed envelope")
			continue
		}
		s.messenger.Handle(ctx, env)
	}
}

func (s *Server) release(hc *hostConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == hc {
		s.active = nil
	}
}

// frameWriter is the write half of a websocket connection.
type frameWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

var (
	errConnClosed  = errors.New("host connection closed")
	errQueueFull   = errors.New("host send queue full")
	defaultBacklog = 256
)

// hostConn is the outbound side of one websocket connection. WriteEnvelope
// only queues the frame, so callers never wait on the socket; a writer
// goroutine drains the queue in order. A failed write closes the socket and
// the read loop detaches the connection.
type hostConn struct {
	writeTimeout time.Duration
	out          chan []byte
	quit         chan struct{}
	done         chan struct{}
	quitOnce     sync.Once

	mu      sync.Mutex
	started bool
	closed  bool
}

func newHostConn(writeTimeout time.Duration, backlog int) *hostConn {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &hostConn{
		writeTimeout: writeTimeout,
		out:          make(chan []byte, backlog),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// start binds w and launches the writer unless the connection was closed
// during the upgrade.
func (c *hostConn) start(w frameWriter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = w.Close()
		return false
	}
	c.started = true
	go c.writeLoop(w)
	return true
}

// WriteEnvelope queues env as one text frame. It fails without blocking when
// the connection is closed or the queue is full.
func (c *hostConn) WriteEnvelope(env channel.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.started {
		return errConnClosed
	}
	select {
	case c.out <- data:
		return nil
	default:
		return errQueueFull
	}
}

func (c *hostConn) writeLoop(w frameWriter) {
	defer close(c.done)
	for {
		select {
		case data := <-c.out:
			if err := c.write(w, data); err != nil {
				log := logger.WithComponent("hostlink")
				log.Debug().Err(err).Msg("Host write failed, closing connection")
				c.mu.Lock()
				c.closed = true
				c.mu.Unlock()
				_ = w.Close()
				return
			}
		case <-c.quit:
			c.flush(w)
			_ = w.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = w.Close()
			return
		}
	}
}

// flush writes what is already queued, stopping at the first error.
func (c *hostConn) flush(w frameWriter) {
	for {
		select {
		case data := <-c.out:
			if err := c.write(w, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *hostConn) write(w frameWriter, data []byte) error {
	if c.writeTimeout > 0 {
		_ = w.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return w.WriteMessage(websocket.TextMessage, data)
}

// close stops accepting frames, lets the writer flush the queue and send a
// close frame, and waits for it to exit.
func (c *hostConn) close() {
	c.mu.Lock()
	c.closed = true
	started := c.started
	c.mu.Unlock()

	if !started {
		return
	}
	c.quitOnce.Do(func() { close(c.quit) })
	<-c.done
}
