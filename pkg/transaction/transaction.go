// Package transaction implements the short-lived state machines that pair
// ITv2 requests with their replies: the bare-acknowledge pattern, the
// command/response pattern and the four-phase session handshake.
//
// A transaction owns a temporary correlation window over the session's
// sequence numbers. The session offers every decoded inbound envelope to
// its active transactions in insertion order; the first TryContinue that
// returns true consumes it. Everything except the timeout timer runs under
// the session's exclusive lock.
package transaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/panellink/itv2/pkg/message"
)

// Default time budgets. The handshake gets longer because installers
// watching a panel enrol are slower than firmware.
const (
	DefaultTimeout   = 30 * time.Second
	HandshakeTimeout = 60 * time.Second
)

// Direction records which side sent a transaction's first frame.
type Direction uint8

const (
	// Inbound transactions are opened by a frame from the panel.
	Inbound Direction = iota

	// Outbound transactions are opened by the server.
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// State is a transaction's lifecycle position.
type State uint8

const (
	StateIdle State = iota
	StateAwaitingResponse
	StateAwaitingAck
	StateComplete
	StateAborted
)

// Sender writes frames on behalf of a transaction. The session implements
// it with its lock already held: it allocates the next local sequence
// (and the app sequence when the command demands one), fills them into the
// envelope, and writes the frame.
type Sender interface {
	SendFrame(env *message.Envelope) error
}

// HandshakeSession is the wider surface the handshake transaction drives.
type HandshakeSession interface {
	Sender

	// SelectScheme instantiates the keying for the announced scheme.
	SelectScheme(scheme uint8) error

	// ActivateOutbound derives the server-to-panel key from the panel's
	// initializer and activates it.
	ActivateOutbound(init []byte) error

	// BuildInboundInitializer derives and activates the panel-to-server
	// key, returning the initializer bytes to transmit. Activation happens
	// here, before the bytes go on the wire: the panel's next frame is
	// already encrypted with this key.
	BuildInboundInitializer() ([]byte, error)

	// LocalOpenSession builds the capabilities the server mirrors back.
	LocalOpenSession(remote *message.OpenSession) *message.OpenSession

	// HandshakeComplete is called once phase D's ack round finishes.
	HandshakeComplete()

	// HandshakeFailed is called when the handshake aborts, so the session
	// can tear down half-negotiated crypto.
	HandshakeFailed(err error)
}

// Transaction is one correlation state machine.
type Transaction interface {
	// BeginInbound starts the transaction from the panel's opening
	// envelope, typically sending the first reply.
	BeginInbound(ctx context.Context, env *message.Envelope) error

	// BeginOutbound sends the server's opening envelope and arms the wait
	// for the reply.
	BeginOutbound(ctx context.Context, env *message.Envelope) error

	// TryContinue offers a decoded inbound envelope. It returns true when
	// the envelope correlated with this transaction and was consumed.
	// A correlated-but-wrong-type envelope aborts the transaction and
	// returns false so the message re-enters the unsolicited path.
	TryContinue(env *message.Envelope) (bool, error)

	// Abort cancels the transaction. Idempotent.
	Abort(reason error)

	// CanContinue reports whether the transaction still accepts input.
	CanContinue() bool

	// Done is closed when the transaction reaches a terminal state.
	Done() <-chan struct{}

	// Err returns the terminal error, nil after clean completion.
	Err() error
}

// Deps carries what every transaction needs from its session.
type Deps struct {
	// Sender writes frames. Required.
	Sender Sender

	// Handshake is required only for PatternHandshake.
	Handshake HandshakeSession

	// Timeout overrides the pattern's default budget when positive.
	Timeout time.Duration

	// OnAbort is invoked once per abort with the terminal error.
	// Optional; the session uses it to count aborts.
	OnAbort func(reason error)

	// LoggerFactory may be nil to disable logging.
	LoggerFactory logging.LoggerFactory
}

func (d Deps) logger(scope string) logging.LeveledLogger {
	if d.LoggerFactory == nil {
		return nil
	}
	return d.LoggerFactory.NewLogger(scope)
}

// New constructs a transaction for a registered pattern.
func New(pattern message.Pattern, deps Deps) (Transaction, error) {
	switch pattern {
	case message.PatternSimpleAck:
		return NewSimpleAck(deps), nil
	case message.PatternCommandResponse:
		return NewCommandResponse(deps), nil
	case message.PatternHandshake:
		return NewHandshake(deps), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownPattern, pattern)
	}
}

// base holds the state shared by the three patterns. The timeout timer is
// the only concurrent entrant; everything else runs under the session lock.
type base struct {
	mu sync.Mutex

	dir   Direction
	state State

	// localSeq is the sender sequence of the last frame this transaction
	// emitted; outbound correlation matches the panel's receiver sequence
	// against it.
	localSeq uint8

	// remoteSeq is the panel's sender sequence captured at begin; inbound
	// correlation matches later frames against it.
	remoteSeq uint8

	timeout time.Duration
	cancel  context.CancelFunc
	stop    func() bool // releases the timeout watcher

	done chan struct{}
	err  error

	sender  Sender
	onAbort func(error)
	log     logging.LeveledLogger
}

func newBase(deps Deps, defaultTimeout time.Duration, scope string) base {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return base{
		state:   StateIdle,
		timeout: timeout,
		done:    make(chan struct{}),
		sender:  deps.Sender,
		onAbort: deps.OnAbort,
		log:     deps.logger(scope),
	}
}

// arm starts the timeout clock, linked to the session context so shutdown
// cancels every in-flight transaction transitively.
func (b *base) arm(ctx context.Context, abort func(error) bool) {
	tctx, cancel := context.WithTimeout(ctx, b.timeout)
	b.cancel = cancel
	b.stop = context.AfterFunc(tctx, func() {
		switch tctx.Err() {
		case context.DeadlineExceeded:
			abort(ErrTimeout)
		case context.Canceled:
			// Either the transaction finished (cancel released the
			// watcher first) or the session shut down.
			if ctx.Err() != nil {
				abort(ErrCancelled)
			}
		}
	})
}

// finish transitions to a terminal state. Caller must hold b.mu.
func (b *base) finishLocked(state State, err error) {
	if b.state == StateComplete || b.state == StateAborted {
		return
	}
	b.state = state
	b.err = err
	if b.stop != nil {
		b.stop()
	}
	if b.cancel != nil {
		b.cancel()
	}
	close(b.done)
}

func (b *base) complete() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finishLocked(StateComplete, nil)
}

// abort transitions to StateAborted and reports whether this call did the
// transition; repeat calls are no-ops.
func (b *base) abort(reason error) bool {
	b.mu.Lock()
	if b.state == StateComplete || b.state == StateAborted {
		b.mu.Unlock()
		return false
	}
	b.finishLocked(StateAborted, reason)
	b.mu.Unlock()

	if b.log != nil {
		b.log.Warnf("%s transaction aborted: %v", b.dir, reason)
	}
	if b.onAbort != nil {
		b.onAbort(reason)
	}
	return true
}

// correlates applies the direction's correlation predicate.
func (b *base) correlates(env *message.Envelope) bool {
	if b.dir == Inbound {
		return env.SenderSeq == b.remoteSeq
	}
	return env.ReceiverSeq == b.localSeq
}

// send writes a frame through the session and records the sequence it was
// assigned, moving the correlation window forward.
func (b *base) send(env *message.Envelope) error {
	if err := b.sender.SendFrame(env); err != nil {
		return err
	}
	b.localSeq = env.SenderSeq
	return nil
}

func (b *base) CanContinue() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != StateComplete && b.state != StateAborted && b.state != StateIdle
}

func (b *base) Done() <-chan struct{} {
	return b.done
}

func (b *base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *base) stateNow() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// setState advances a live transaction; terminal states are never
// overwritten (the timeout can fire between a send and the transition).
func (b *base) setState(s State) {
	b.mu.Lock()
	if b.state != StateComplete && b.state != StateAborted {
		b.state = s
	}
	b.mu.Unlock()
}
