// Package gateway accepts panel connections and runs one session per
// connection, exposing decoded messages and an outbound command surface to
// the embedding application.
package gateway

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"

	"github.com/panellink/itv2/pkg/crypto"
	"github.com/panellink/itv2/pkg/message"
	"github.com/panellink/itv2/pkg/session"
	"github.com/panellink/itv2/pkg/transaction"
	"github.com/panellink/itv2/pkg/transport"
)

// DefaultListenAddr is where panels dial in unless configured otherwise.
const DefaultListenAddr = ":3072"

// Config configures the gateway.
type Config struct {
	// ListenAddr is the TCP address to listen on. Defaults to ":3072".
	// Ignored if Listener is provided.
	ListenAddr string

	// Listener is an optional pre-existing listener, used for tests and
	// for embedding applications that manage sockets themselves.
	Listener net.Listener

	// Keys holds the integration secrets shared with the panels.
	Keys crypto.KeyConfig

	// Session supplies per-session timing; zero fields get defaults.
	Session session.Params

	// OnNotification receives every decoded non-ack message from every
	// session. Optional.
	OnNotification func(session.Notification)

	// OnSessionUp fires when a panel connects. Optional.
	OnSessionUp func(id string, remote net.Addr)

	// OnSessionDown fires when a session ends; err is nil for a clean
	// shutdown. Optional.
	OnSessionDown func(id string, err error)

	// Metrics registers the gateway's collectors when set.
	Metrics prometheus.Registerer

	// LoggerFactory may be nil to disable logging.
	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
}

// Gateway owns the listen socket and the session set.
type Gateway struct {
	cfg     Config
	reg     *message.Registry
	log     logging.LeveledLogger
	metrics *Metrics

	listener net.Listener

	mu       sync.Mutex
	sessions map[string]*session.Session
	started  bool
	closed   bool

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New creates a gateway. Start must be called to accept connections.
func New(cfg Config) (*Gateway, error) {
	cfg.applyDefaults()

	metrics, err := newMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:      cfg,
		reg:      message.NewRegistry(),
		metrics:  metrics,
		listener: cfg.Listener,
		sessions: make(map[string]*session.Session),
		closeCh:  make(chan struct{}),
	}
	if cfg.LoggerFactory != nil {
		g.log = cfg.LoggerFactory.NewLogger("itv2-gateway")
	}
	return g, nil
}

// Start opens the listen socket and begins accepting panels.
func (g *Gateway) Start() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	if g.started {
		g.mu.Unlock()
		return ErrAlreadyStarted
	}
	g.started = true
	g.mu.Unlock()

	if g.listener == nil {
		l, err := net.Listen("tcp", g.cfg.ListenAddr)
		if err != nil {
			return err
		}
		g.listener = l
	}

	if g.log != nil {
		g.log.Infof("listening on %s", g.listener.Addr())
	}

	g.wg.Add(1)
	go g.acceptLoop()
	return nil
}

// Stop closes the listener and every session, then waits for them.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	g.closed = true
	sessions := make([]*session.Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	close(g.closeCh)
	if g.listener != nil {
		g.listener.Close()
	}
	for _, s := range sessions {
		s.Close()
	}
	g.wg.Wait()
	return nil
}

// Addr reports the bound listen address, nil before Start.
func (g *Gateway) Addr() net.Addr {
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Sessions returns the IDs of the connected sessions.
func (g *Gateway) Sessions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.sessions))
	for id := range g.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Send routes an outbound command to one session and returns its
// transaction.
func (g *Gateway) Send(ctx context.Context, sessionID string, msg message.Message) (transaction.Transaction, error) {
	g.mu.Lock()
	s, ok := g.sessions[sessionID]
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s.Send(ctx, msg)
}

func (g *Gateway) acceptLoop() {
	defer g.wg.Done()

	for {
		conn, err := g.listener.Accept()
		if err != nil {
			select {
			case <-g.closeCh:
				return
			default:
				if g.log != nil {
					g.log.Warnf("accept: %v", err)
				}
				continue
			}
		}

		g.wg.Add(1)
		go g.handleConn(conn)
	}
}

// handleConn runs one session for the lifetime of one panel connection.
func (g *Gateway) handleConn(conn net.Conn) {
	defer g.wg.Done()

	id := xid.New().String()
	remote := conn.RemoteAddr()

	s, err := session.New(session.Config{
		ID:                 id,
		Conn:               transport.NewPacketConn(conn, g.cfg.LoggerFactory),
		Registry:           g.reg,
		Keys:               g.cfg.Keys,
		Params:             g.cfg.Session,
		OnNotification:     g.cfg.OnNotification,
		OnEstablished:      g.metrics.handshakeCompleted,
		OnFrameError:       g.metrics.frameError,
		OnFrameReceived:    g.metrics.frameRx,
		OnFrameSent:        g.metrics.frameTx,
		OnTransactionAbort: g.metrics.transactionAbort,
		LoggerFactory:      g.cfg.LoggerFactory,
	})
	if err != nil {
		conn.Close()
		if g.log != nil {
			g.log.Errorf("session setup for %s: %v", remote, err)
		}
		return
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		s.Close()
		return
	}
	g.sessions[id] = s
	g.mu.Unlock()

	g.metrics.sessionUp()
	if g.log != nil {
		g.log.Infof("session %s up for %s", id, remote)
	}
	if g.cfg.OnSessionUp != nil {
		g.cfg.OnSessionUp(id, remote)
	}

	runErr := s.Run(context.Background())

	g.mu.Lock()
	delete(g.sessions, id)
	g.mu.Unlock()

	g.metrics.sessionDown()
	if g.log != nil {
		g.log.Infof("session %s down: %v", id, runErr)
	}
	if g.cfg.OnSessionDown != nil {
		g.cfg.OnSessionDown(id, runErr)
	}
}
