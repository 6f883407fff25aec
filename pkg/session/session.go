// Package session owns one panel connection: the listen loop, sequence
// counters, encryption state, active transactions, the heartbeat and
// shutdown. One Session exists per TCP connection and shares nothing with
// its siblings.
package session

import (
	"context"
	cryptorand "crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	"github.com/panellink/itv2/pkg/crypto"
	"github.com/panellink/itv2/pkg/frame"
	"github.com/panellink/itv2/pkg/message"
	"github.com/panellink/itv2/pkg/transaction"
	"github.com/panellink/itv2/pkg/transport"
)

// serverDeviceType identifies the gateway in the mirrored OpenSession.
const serverDeviceType = 0xF0

// Notification is one decoded inbound message delivered upward.
type Notification struct {
	SessionID  string
	ReceivedAt time.Time
	Msg        message.Message
}

// Config assembles a session.
type Config struct {
	// ID names the session in notifications and logs. Required.
	ID string

	// Conn is the packet transport for this connection. Required; the
	// session takes ownership and closes it on shutdown.
	Conn *transport.PacketConn

	// Registry is the shared command table. Required.
	Registry *message.Registry

	// Keys holds the integration secrets for both keying schemes.
	Keys crypto.KeyConfig

	// Params supplies timing; zero fields get defaults.
	Params Params

	// OnNotification receives every decoded non-ack inbound message.
	// Called without the session lock held. Optional.
	OnNotification func(Notification)

	// OnEstablished fires once when the handshake completes. Optional.
	OnEstablished func()

	// OnFrameError fires for every dropped packet (framing, CRC, codec,
	// decrypt). Optional.
	OnFrameError func(err error)

	// OnFrameReceived fires for every successfully decoded inbound frame,
	// acks included. Optional.
	OnFrameReceived func()

	// OnFrameSent fires for every outbound frame. Optional.
	OnFrameSent func()

	// OnTransactionAbort fires once per aborted transaction. Optional.
	OnTransactionAbort func(err error)

	// Rand sources initializer bytes; defaults to crypto/rand.
	Rand io.Reader

	// LoggerFactory may be nil to disable logging.
	LoggerFactory logging.LoggerFactory
}

// Session is one panel connection's protocol state machine.
type Session struct {
	id     string
	conn   *transport.PacketConn
	reg    *message.Registry
	keys   crypto.KeyConfig
	params Params
	rand   io.Reader
	log    logging.LeveledLogger
	lf     logging.LoggerFactory

	onNotification     func(Notification)
	onEstablished      func()
	onFrameError       func(error)
	onFrameReceived    func()
	onFrameSent        func()
	onTransactionAbort func(error)

	// lock is a one-slot semaphore serialising every state mutation:
	// transaction steps, sequence allocation, the transaction list.
	// A channel rather than sync.Mutex so acquisition can time out.
	lock chan struct{}

	// Guarded by lock.
	local  sequence // outbound frame counter
	app    sequence // app-layer counter, tracks the panel's value inbound
	remote uint8    // last seen panel sender sequence
	txns   []transaction.Transaction

	// keying and outbound are guarded by lock. inbound is written under
	// lock by the listen goroutine and read only by that same goroutine.
	keying   crypto.Keying
	inbound  *crypto.Cipher
	outbound *crypto.Cipher

	established atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New creates a session. Run must be called to start it.
func New(cfg Config) (*Session, error) {
	if cfg.Conn == nil {
		return nil, errors.New("session: config needs a Conn")
	}
	if cfg.Registry == nil {
		return nil, errors.New("session: config needs a Registry")
	}

	s := &Session{
		id:                 cfg.ID,
		conn:               cfg.Conn,
		reg:                cfg.Registry,
		keys:               cfg.Keys,
		params:             cfg.Params.WithDefaults(),
		rand:               cfg.Rand,
		lf:                 cfg.LoggerFactory,
		onNotification:     cfg.OnNotification,
		onEstablished:      cfg.OnEstablished,
		onFrameError:       cfg.OnFrameError,
		onFrameReceived:    cfg.OnFrameReceived,
		onFrameSent:        cfg.OnFrameSent,
		onTransactionAbort: cfg.OnTransactionAbort,
		lock:               make(chan struct{}, 1),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if s.rand == nil {
		s.rand = cryptorand.Reader
	}
	if cfg.LoggerFactory != nil {
		s.log = cfg.LoggerFactory.NewLogger("itv2-session")
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Established reports whether the handshake has completed.
func (s *Session) Established() bool {
	return s.established.Load()
}

// Run executes the listen loop until the connection drops or the context
// is cancelled. It returns ErrDisconnected when the panel hung up, nil on
// a clean shutdown.
func (s *Session) Run(ctx context.Context) error {
	stopParent := context.AfterFunc(ctx, s.cancel)
	defer stopParent()
	defer s.cleanup()

	// Unblock the pending read when the context dies.
	stop := context.AfterFunc(s.ctx, func() { s.conn.Close() })
	defer stop()

	for {
		pkt, err := s.conn.ReadPacket(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, transport.ErrClosed) {
				if s.log != nil {
					s.log.Infof("%s: panel disconnected", s.id)
				}
				return ErrDisconnected
			}
			return err
		}

		env, err := s.decode(pkt)
		if err != nil {
			// Malformed traffic is dropped, counted and survived.
			if s.log != nil {
				s.log.Warnf("%s: dropping packet (%d bytes): %v", s.id, len(pkt), err)
			}
			if s.onFrameError != nil {
				s.onFrameError(err)
			}
			continue
		}

		if s.onFrameReceived != nil {
			s.onFrameReceived()
		}

		// The notification goes up before dispatch and outside the lock,
		// so handlers may call Send without deadlocking.
		if s.onNotification != nil && !env.IsAck() {
			s.onNotification(Notification{
				SessionID:  s.id,
				ReceivedAt: time.Now(),
				Msg:        env.Msg,
			})
		}

		if err := s.dispatch(env); err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// decode runs the inbound pipeline: split, unstuff, decrypt once the
// inbound key is active, strip length and CRC, parse the typed message.
// Runs on the listen goroutine only; s.inbound is safe to read here.
func (s *Session) decode(pkt []byte) (*message.Envelope, error) {
	_, rawInner, err := frame.Split(pkt)
	if err != nil {
		return nil, err
	}
	inner, err := frame.Unstuff(rawInner)
	if err != nil {
		return nil, err
	}
	if s.inbound != nil {
		inner, err = s.inbound.Decrypt(inner)
		if err != nil {
			return nil, err
		}
	}
	body, err := frame.DecodeInner(inner)
	if err != nil {
		return nil, err
	}
	return message.DecodeBody(s.reg, body)
}

// dispatch offers a decoded envelope to the active transactions and falls
// back to opening a new inbound transaction. Returns an error only for
// fatal conditions.
func (s *Session) dispatch(env *message.Envelope) error {
	if err := s.acquire(s.ctx); err != nil {
		return err
	}
	defer s.release()

	// Lenient receiver-sequence check: panels drift, log and carry on.
	if !env.IsAck() && env.ReceiverSeq != s.local.Current() && s.log != nil {
		s.log.Debugf("%s: receiver sequence %d, last emitted %d", s.id, env.ReceiverSeq, s.local.Current())
	}

	s.remote = env.SenderSeq
	if env.HasAppSeq {
		// The server tracks the panel's app-layer counter.
		s.app.Set(env.AppSeq)
	}

	consumed := false
	for _, txn := range s.txns {
		ok, err := txn.TryContinue(env)
		if err != nil && s.log != nil {
			s.log.Warnf("%s: transaction error: %v", s.id, err)
		}
		if ok {
			consumed = true
			break
		}
	}
	s.prune()

	if !consumed && !env.IsAck() {
		if err := s.beginInbound(env); err != nil && s.log != nil {
			s.log.Warnf("%s: inbound %v: %v", s.id, env.Msg.Command(), err)
		}
		s.prune()
	}
	return nil
}

// beginInbound opens a new inbound transaction for an unclaimed message.
// Caller holds the lock.
func (s *Session) beginInbound(env *message.Envelope) error {
	pattern := s.reg.PatternFor(env.Msg)
	txn, err := s.newTransaction(pattern)
	if err != nil {
		return err
	}
	err = txn.BeginInbound(s.ctx, env)
	if txn.CanContinue() {
		s.txns = append(s.txns, txn)
	}
	return err
}

// Send initiates an outbound transaction for msg and returns it so the
// caller can await Done and inspect the outcome. The registered pattern
// decides the exchange shape.
func (s *Session) Send(ctx context.Context, msg message.Message) (transaction.Transaction, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	pattern := s.reg.PatternFor(msg)
	txn, err := s.newTransaction(pattern)
	if err != nil {
		return nil, err
	}

	env := &message.Envelope{ReceiverSeq: s.remote, Msg: msg}
	err = txn.BeginOutbound(s.ctx, env)
	if txn.CanContinue() {
		s.txns = append(s.txns, txn)
	}
	return txn, err
}

// newTransaction builds a transaction wired to this session. Caller holds
// the lock.
func (s *Session) newTransaction(pattern message.Pattern) (transaction.Transaction, error) {
	timeout := s.params.TransactionTimeout
	if pattern == message.PatternHandshake {
		timeout = s.params.HandshakeTimeout
	}
	return transaction.New(pattern, transaction.Deps{
		Sender:        (*lockedSender)(s),
		Handshake:     (*handshakeAdapter)(s),
		Timeout:       timeout,
		OnAbort:       s.onTransactionAbort,
		LoggerFactory: s.lf,
	})
}

// prune drops transactions that no longer accept input. Caller holds the
// lock.
func (s *Session) prune() {
	kept := s.txns[:0]
	for _, txn := range s.txns {
		if txn.CanContinue() {
			kept = append(kept, txn)
		}
	}
	for i := len(kept); i < len(s.txns); i++ {
		s.txns[i] = nil
	}
	s.txns = kept
}

// sendFrameLocked allocates sequences, encodes, encrypts when the outbound
// key is active, and writes one frame. Caller holds the lock.
func (s *Session) sendFrameLocked(env *message.Envelope) error {
	env.SenderSeq = s.local.Next()

	if !env.IsAck() {
		if entry, ok := s.reg.Lookup(env.Msg.Command()); ok && entry.AppSequenced {
			env.AppSeq = s.app.Next()
			env.HasAppSeq = true
		}
	}

	body, err := env.EncodeBody(s.reg)
	if err != nil {
		return err
	}
	inner, err := frame.EncodeInner(body)
	if err != nil {
		return err
	}
	if s.outbound != nil {
		inner = s.outbound.Encrypt(inner)
	}
	if err := s.conn.WritePacket(frame.Wrap(nil, inner)); err != nil {
		return err
	}
	if s.onFrameSent != nil {
		s.onFrameSent()
	}
	return nil
}

// acquire takes the session lock, bounded by the deadlock guard and both
// contexts. Exceeding the guard is fatal to the session.
func (s *Session) acquire(ctx context.Context) error {
	timer := time.NewTimer(s.params.LockTimeout)
	defer timer.Stop()

	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrClosed
	case <-timer.C:
		return fmt.Errorf("%w: after %v", ErrLockTimeout, s.params.LockTimeout)
	}
}

func (s *Session) release() {
	<-s.lock
}

// heartbeat probes the panel's software version once, then polls forever.
// Started when the handshake completes.
func (s *Session) heartbeat() {
	defer s.wg.Done()

	timer := time.NewTimer(s.params.HeartbeatDelay)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return
	case <-timer.C:
	}
	s.sendHeartbeat(&message.SoftwareVersionRequest{})

	ticker := time.NewTicker(s.params.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sendHeartbeat(&message.ConnectionPoll{})
		}
	}
}

func (s *Session) sendHeartbeat(msg message.Message) {
	if _, err := s.Send(s.ctx, msg); err != nil {
		if s.log != nil && s.ctx.Err() == nil {
			s.log.Warnf("%s: heartbeat %v: %v", s.id, msg.Command(), err)
		}
	}
}

// Close requests shutdown. The listen loop unwinds, transactions abort
// through their linked contexts, and crypto state is disposed. Safe to
// call repeatedly and from any goroutine, including transaction callbacks
// running under the session lock.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.conn.Close()
	})
}

// cleanup runs once as Run unwinds: aborts leftover transactions and drops
// key material.
func (s *Session) cleanup() {
	s.cancel()
	s.conn.Close()
	s.wg.Wait()

	// The lock holder (if any) was a dispatch or Send that has since
	// observed the dead context; take the slot directly so the final
	// teardown is exclusive too.
	timer := time.NewTimer(s.params.LockTimeout)
	defer timer.Stop()
	select {
	case s.lock <- struct{}{}:
		defer s.release()
	case <-timer.C:
	}

	for _, txn := range s.txns {
		txn.Abort(transaction.ErrCancelled)
	}
	s.txns = nil

	if s.keying != nil {
		s.keying.Close()
		s.keying = nil
	}
	if s.inbound != nil {
		s.inbound.Close()
		s.inbound = nil
	}
	if s.outbound != nil {
		s.outbound.Close()
		s.outbound = nil
	}
}

// lockedSender adapts the session for transactions, which always run with
// the lock already held.
type lockedSender Session

func (l *lockedSender) SendFrame(env *message.Envelope) error {
	return (*Session)(l).sendFrameLocked(env)
}

// handshakeAdapter exposes the handshake hooks. All methods run under the
// session lock, on the listen goroutine.
type handshakeAdapter Session

func (h *handshakeAdapter) SendFrame(env *message.Envelope) error {
	return (*Session)(h).sendFrameLocked(env)
}

func (h *handshakeAdapter) SelectScheme(scheme uint8) error {
	s := (*Session)(h)
	keying, err := crypto.NewKeying(crypto.Scheme(scheme), s.keys)
	if err != nil {
		return err
	}
	s.keying = keying
	if s.log != nil {
		s.log.Infof("%s: negotiating type %d encryption", s.id, scheme)
	}
	return nil
}

func (h *handshakeAdapter) ActivateOutbound(init []byte) error {
	s := (*Session)(h)
	cipher, err := s.keying.AcceptRemoteInitializer(init)
	if err != nil {
		return err
	}
	s.outbound = cipher
	return nil
}

func (h *handshakeAdapter) BuildInboundInitializer() ([]byte, error) {
	s := (*Session)(h)
	init, cipher, err := s.keying.BuildLocalInitializer(s.rand)
	if err != nil {
		return nil, err
	}
	// Active before the initializer leaves: the panel's next frame is
	// already encrypted with this key.
	s.inbound = cipher
	return init, nil
}

func (h *handshakeAdapter) LocalOpenSession(remote *message.OpenSession) *message.OpenSession {
	return &message.OpenSession{
		DeviceType:      serverDeviceType,
		EncryptionType:  remote.EncryptionType,
		SoftwareVersion: []byte{0x01, 0x00},
		ProtocolVersion: remote.ProtocolVersion,
		TxSize:          remote.RxSize,
		RxSize:          remote.TxSize,
		Flags:           remote.Flags,
	}
}

func (h *handshakeAdapter) HandshakeComplete() {
	s := (*Session)(h)
	s.established.Store(true)
	if s.log != nil {
		s.log.Infof("%s: session established", s.id)
	}
	s.wg.Add(1)
	go s.heartbeat()
	if s.onEstablished != nil {
		s.onEstablished()
	}
}

// HandshakeFailed tears the session down. It can arrive from the timeout
// goroutine as well as the listen loop, so key disposal is left to the
// single exit path in cleanup.
func (h *handshakeAdapter) HandshakeFailed(err error) {
	s := (*Session)(h)
	if s.log != nil {
		s.log.Warnf("%s: handshake failed: %v", s.id, err)
	}
	s.Close()
}
