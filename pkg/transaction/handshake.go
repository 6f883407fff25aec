package transaction

import (
	"context"
	"fmt"

	"github.com/panellink/itv2/pkg/message"
)

// Handshake phases. Each awaits one frame from the panel; the sends
// between them happen inline when the awaited frame arrives.
type hsPhase uint8

const (
	hsIdle               hsPhase = iota
	hsAwaitOpenAck               // replied to the panel's OpenSession, awaiting its ack
	hsAwaitMirrorResp            // sent our OpenSession, awaiting CommandResponse
	hsAwaitRequestAccess         // awaiting the panel's RequestAccess
	hsAwaitAccessAck             // replied to RequestAccess, awaiting its ack
	hsAwaitFinalResp             // sent our RequestAccess, awaiting CommandResponse
)

// Handshake is the compound session-establishment transaction: four
// command/response rounds, one for each of the two OpenSession exchanges
// and the two RequestAccess key negotiations.
//
//	A  in   OpenSession          select scheme, instantiate keying
//	B  out  OpenSession          mirror capabilities back
//	C  in   RequestAccess        derive + activate the outbound key
//	D  out  RequestAccess        derive + activate the inbound key
//
// The inbound key activates before the initializer leaves the server, so
// the panel's very next frame decrypts with it. The outbound key activates
// the moment the panel's initializer checks out. Neither direction ever
// downgrades.
type Handshake struct {
	base

	hs    HandshakeSession
	phase hsPhase

	// remoteOpen is the panel's OpenSession, kept for the mirror.
	remoteOpen *message.OpenSession
}

// NewHandshake creates the pattern with the handshake timeout.
func NewHandshake(deps Deps) *Handshake {
	return &Handshake{
		base: newBase(deps, HandshakeTimeout, "itv2-txn-handshake"),
		hs:   deps.Handshake,
	}
}

// fail aborts and tears down the session's half-negotiated crypto.
func (t *Handshake) fail(reason error) bool {
	if !t.abort(reason) {
		return false
	}
	if t.hs != nil {
		t.hs.HandshakeFailed(reason)
	}
	return true
}

// BeginInbound handles phase A: the panel's OpenSession.
func (t *Handshake) BeginInbound(ctx context.Context, env *message.Envelope) error {
	t.dir = Inbound
	t.remoteSeq = env.SenderSeq
	t.arm(ctx, t.fail)

	open, ok := env.Msg.(*message.OpenSession)
	if !ok {
		err := fmt.Errorf("%w: handshake opened by %T", ErrUnexpectedResponse, env.Msg)
		t.fail(err)
		return err
	}
	t.remoteOpen = open

	if err := t.hs.SelectScheme(open.EncryptionType); err != nil {
		// Tell the panel before giving up, best effort.
		_ = t.send(&message.Envelope{
			ReceiverSeq: env.SenderSeq,
			Msg: &message.CommandResponse{
				RequestCommand: message.CmdOpenSession,
				Code:           message.ResponseUnsupported,
			},
		})
		t.fail(err)
		return err
	}

	err := t.send(&message.Envelope{
		ReceiverSeq: env.SenderSeq,
		Msg: &message.CommandResponse{
			RequestCommand: message.CmdOpenSession,
			Code:           message.ResponseSuccess,
		},
	})
	if err != nil {
		t.fail(err)
		return err
	}
	t.phase = hsAwaitOpenAck
	t.setState(StateAwaitingAck)
	return nil
}

// BeginOutbound is unused: panels always initiate the handshake.
func (t *Handshake) BeginOutbound(ctx context.Context, env *message.Envelope) error {
	err := fmt.Errorf("%w: handshake is panel-initiated", ErrUnexpectedResponse)
	t.fail(err)
	return err
}

func (t *Handshake) TryContinue(env *message.Envelope) (bool, error) {
	if !t.CanContinue() {
		return false, nil
	}

	switch t.phase {
	case hsAwaitOpenAck:
		if env.ReceiverSeq != t.localSeq {
			return false, nil
		}
		if !env.IsAck() {
			t.fail(fmt.Errorf("%w: %T while awaiting open ack", ErrUnexpectedResponse, env.Msg))
			return false, nil
		}
		// Phase B: mirror our capabilities.
		err := t.send(&message.Envelope{
			ReceiverSeq: env.SenderSeq,
			Msg:         t.hs.LocalOpenSession(t.remoteOpen),
		})
		if err != nil {
			t.fail(err)
			return true, err
		}
		t.phase = hsAwaitMirrorResp
		t.setState(StateAwaitingResponse)
		return true, nil

	case hsAwaitMirrorResp:
		if env.ReceiverSeq != t.localSeq {
			return false, nil
		}
		resp, ok := env.Msg.(*message.CommandResponse)
		if !ok {
			t.fail(fmt.Errorf("%w: %T while awaiting mirror response", ErrUnexpectedResponse, env.Msg))
			return false, nil
		}
		if resp.Code != message.ResponseSuccess {
			err := fmt.Errorf("%w: panel answered OpenSession with %v", ErrHandshakeFailed, resp.Code)
			t.fail(err)
			return true, err
		}
		if err := t.ack(env.SenderSeq); err != nil {
			return true, err
		}
		t.phase = hsAwaitRequestAccess
		t.setState(StateAwaitingResponse)
		return true, nil

	case hsAwaitRequestAccess:
		// A fresh panel-initiated round: correlate on type, adopt its
		// sender sequence as the new window.
		req, ok := env.Msg.(*message.RequestAccess)
		if !ok {
			return false, nil
		}
		t.remoteSeq = env.SenderSeq

		// Phase C: the panel's initializer keys our outbound direction.
		if err := t.hs.ActivateOutbound(req.Initializer); err != nil {
			_ = t.send(&message.Envelope{
				ReceiverSeq: env.SenderSeq,
				Msg: &message.CommandResponse{
					RequestCommand: message.CmdRequestAccess,
					Code:           message.ResponseNotAuthorized,
				},
			})
			t.fail(err)
			return true, err
		}
		err := t.send(&message.Envelope{
			ReceiverSeq: env.SenderSeq,
			Msg: &message.CommandResponse{
				RequestCommand: message.CmdRequestAccess,
				Code:           message.ResponseSuccess,
			},
		})
		if err != nil {
			t.fail(err)
			return true, err
		}
		t.phase = hsAwaitAccessAck
		t.setState(StateAwaitingAck)
		return true, nil

	case hsAwaitAccessAck:
		if env.ReceiverSeq != t.localSeq {
			return false, nil
		}
		if !env.IsAck() {
			t.fail(fmt.Errorf("%w: %T while awaiting access ack", ErrUnexpectedResponse, env.Msg))
			return false, nil
		}
		// Phase D: our initializer keys the inbound direction. Activation
		// happens inside BuildInboundInitializer, before the send; the
		// panel's response to this frame is already encrypted.
		init, err := t.hs.BuildInboundInitializer()
		if err != nil {
			t.fail(err)
			return true, err
		}
		err = t.send(&message.Envelope{
			ReceiverSeq: env.SenderSeq,
			Msg:         &message.RequestAccess{Initializer: init},
		})
		if err != nil {
			t.fail(err)
			return true, err
		}
		t.phase = hsAwaitFinalResp
		t.setState(StateAwaitingResponse)
		return true, nil

	case hsAwaitFinalResp:
		if env.ReceiverSeq != t.localSeq {
			return false, nil
		}
		resp, ok := env.Msg.(*message.CommandResponse)
		if !ok {
			t.fail(fmt.Errorf("%w: %T while awaiting final response", ErrUnexpectedResponse, env.Msg))
			return false, nil
		}
		if resp.Code != message.ResponseSuccess {
			err := fmt.Errorf("%w: panel answered RequestAccess with %v", ErrHandshakeFailed, resp.Code)
			t.fail(err)
			return true, err
		}
		if err := t.ack(env.SenderSeq); err != nil {
			return true, err
		}
		t.complete()
		t.hs.HandshakeComplete()
		return true, nil
	}

	return false, nil
}

// ack sends the closing SimpleAck for a command/response round.
func (t *Handshake) ack(remoteSeq uint8) error {
	err := t.send(&message.Envelope{
		ReceiverSeq: remoteSeq,
		Msg:         &message.SimpleAck{},
	})
	if err != nil {
		t.fail(err)
	}
	return err
}

func (t *Handshake) Abort(reason error) {
	t.fail(reason)
}
