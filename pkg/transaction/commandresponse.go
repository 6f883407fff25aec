package transaction

import (
	"context"
	"fmt"

	"github.com/panellink/itv2/pkg/message"
)

// CommandResponse is the three-frame pattern: a command answered by a
// CommandResponse carrying a result code, closed by a SimpleAck from the
// command's originator.
//
// The result code is informational: NotAuthorized still gets its closing
// ack, and the transaction completes cleanly with the code available
// through Response().
type CommandResponse struct {
	base

	// code is the panel's result, valid once hasCode is set.
	code    message.ResponseCode
	hasCode bool
}

// NewCommandResponse creates the pattern with the standard timeout.
func NewCommandResponse(deps Deps) *CommandResponse {
	return &CommandResponse{base: newBase(deps, DefaultTimeout, "itv2-txn-cmd")}
}

// Response returns the panel's result code for an outbound exchange.
func (t *CommandResponse) Response() (message.ResponseCode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.code, t.hasCode
}

// BeginInbound answers the panel's command with Success and waits for the
// closing acknowledge.
func (t *CommandResponse) BeginInbound(ctx context.Context, env *message.Envelope) error {
	t.dir = Inbound
	t.remoteSeq = env.SenderSeq
	t.arm(ctx, t.abort)

	err := t.send(&message.Envelope{
		ReceiverSeq: env.SenderSeq,
		Msg: &message.CommandResponse{
			RequestCommand: env.Msg.Command(),
			Code:           message.ResponseSuccess,
		},
	})
	if err != nil {
		t.abort(err)
		return err
	}
	t.setState(StateAwaitingAck)
	return nil
}

// BeginOutbound sends the command and waits for the panel's response.
func (t *CommandResponse) BeginOutbound(ctx context.Context, env *message.Envelope) error {
	t.dir = Outbound
	t.remoteSeq = env.ReceiverSeq
	t.arm(ctx, t.abort)

	if err := t.send(env); err != nil {
		t.abort(err)
		return err
	}
	t.setState(StateAwaitingResponse)
	return nil
}

func (t *CommandResponse) TryContinue(env *message.Envelope) (bool, error) {
	if !t.CanContinue() {
		return false, nil
	}

	// In either state the last frame in flight is one we sent (the command
	// outbound, the CommandResponse inbound), and the panel allocates a
	// fresh sender sequence for every frame of its own. So correlation is
	// always against the sequence of our last send, never the sequence the
	// panel opened with.
	if env.ReceiverSeq != t.localSeq {
		return false, nil
	}

	switch t.stateNow() {
	case StateAwaitingResponse:
		resp, ok := env.Msg.(*message.CommandResponse)
		if !ok {
			t.abort(fmt.Errorf("%w: %T while awaiting response", ErrUnexpectedResponse, env.Msg))
			return false, nil
		}
		t.mu.Lock()
		t.code = resp.Code
		t.hasCode = true
		t.mu.Unlock()

		// The protocol closes the exchange with an ack either way.
		err := t.send(&message.Envelope{
			ReceiverSeq: env.SenderSeq,
			Msg:         &message.SimpleAck{},
		})
		if err != nil {
			t.abort(err)
			return true, err
		}
		t.complete()
		return true, nil

	case StateAwaitingAck:
		if !env.IsAck() {
			t.abort(fmt.Errorf("%w: %T while awaiting ack", ErrUnexpectedResponse, env.Msg))
			return false, nil
		}
		t.complete()
		return true, nil

	default:
		return false, nil
	}
}

func (t *CommandResponse) Abort(reason error) {
	t.abort(reason)
}
