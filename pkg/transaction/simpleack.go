package transaction

import (
	"context"
	"fmt"

	"github.com/panellink/itv2/pkg/message"
)

// SimpleAck is the two-frame pattern: a data message answered by a bare
// acknowledge.
//
// Inbound, the whole exchange happens inside BeginInbound: the ack goes
// out and the transaction completes, so it never joins the active list.
// Outbound, the transaction waits for the panel's SimpleAck; a
// CommandError completes it with the NACK recorded (the panel will not
// accept a retry), and anything else aborts.
type SimpleAck struct {
	base

	// nack holds the panel's CommandError when the message was refused.
	nack *message.CommandError
}

// NewSimpleAck creates the pattern with the standard timeout.
func NewSimpleAck(deps Deps) *SimpleAck {
	return &SimpleAck{base: newBase(deps, DefaultTimeout, "itv2-txn-ack")}
}

// Nack returns the panel's CommandError, if the exchange ended in one.
func (t *SimpleAck) Nack() *message.CommandError {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nack
}

// BeginInbound acknowledges the panel's data message and completes.
func (t *SimpleAck) BeginInbound(ctx context.Context, env *message.Envelope) error {
	t.dir = Inbound
	t.remoteSeq = env.SenderSeq
	t.arm(ctx, t.abort)

	err := t.send(&message.Envelope{
		ReceiverSeq: env.SenderSeq,
		Msg:         &message.SimpleAck{},
	})
	if err != nil {
		t.abort(err)
		return err
	}
	t.complete()
	return nil
}

// BeginOutbound sends the data message and waits for the acknowledge.
func (t *SimpleAck) BeginOutbound(ctx context.Context, env *message.Envelope) error {
	t.dir = Outbound
	t.remoteSeq = env.ReceiverSeq
	t.arm(ctx, t.abort)

	if err := t.send(env); err != nil {
		t.abort(err)
		return err
	}
	t.setState(StateAwaitingAck)
	return nil
}

func (t *SimpleAck) TryContinue(env *message.Envelope) (bool, error) {
	if !t.CanContinue() || !t.correlates(env) {
		return false, nil
	}

	switch msg := env.Msg.(type) {
	case *message.SimpleAck:
		t.complete()
		return true, nil

	case *message.CommandError:
		// The panel refused the message. Terminal, no retry; the caller
		// reads the code from Nack().
		if t.log != nil {
			t.log.Warnf("command %v refused: %v", msg.RequestCommand, msg.Code)
		}
		t.mu.Lock()
		t.nack = msg
		t.finishLocked(StateComplete, nil)
		t.mu.Unlock()
		return true, nil

	default:
		// Correlated but not a reply we understand. Abort and leave the
		// message unconsumed so it re-enters the unsolicited path.
		t.abort(fmt.Errorf("%w: %T", ErrUnexpectedResponse, env.Msg))
		return false, nil
	}
}

func (t *SimpleAck) Abort(reason error) {
	t.abort(reason)
}
