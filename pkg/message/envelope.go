package message

import (
	"fmt"

	"github.com/panellink/itv2/pkg/codec"
)

// Envelope pairs a message with the frame metadata that travels around it
// in the inner-frame body: the two transport sequence bytes and the
// optional app-sequence byte.
type Envelope struct {
	SenderSeq   uint8
	ReceiverSeq uint8

	// AppSeq is carried only by commands flagged app-sequenced in the
	// registry: EncodeBody writes it for exactly those commands, and
	// DecodeBody sets HasAppSeq when it read one.
	AppSeq    uint8
	HasAppSeq bool

	Msg Message
}

// IsAck reports whether the envelope carries a bare SimpleAck.
func (e *Envelope) IsAck() bool {
	_, ok := e.Msg.(*SimpleAck)
	return ok
}

// EncodeBody serialises the envelope into inner-frame body bytes: sequence
// bytes, then (except for SimpleAck) the command word, the app-sequence
// byte when the command demands one, and the payload.
func (e *Envelope) EncodeBody(reg *Registry) ([]byte, error) {
	w := codec.NewWriter()
	w.PutUint8(e.SenderSeq)
	w.PutUint8(e.ReceiverSeq)

	if e.IsAck() {
		return w.Bytes()
	}

	cmd := e.Msg.Command()
	w.PutUint16(uint16(cmd))
	if reg.AppSequenced(cmd) {
		w.PutUint8(e.AppSeq)
	}
	if err := e.Msg.AppendPayload(w); err != nil {
		return nil, err
	}
	return w.Bytes()
}

// DecodeBody parses inner-frame body bytes into an envelope. A body
// holding only the sequence bytes is a SimpleAck. Unknown commands decode
// into Default with the raw remainder preserved.
func DecodeBody(reg *Registry, body []byte) (*Envelope, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBodyTooShort, len(body))
	}
	r := codec.NewReader(body)
	env := &Envelope{
		SenderSeq:   r.Uint8("sender sequence"),
		ReceiverSeq: r.Uint8("receiver sequence"),
	}

	if r.Remaining() == 0 {
		env.Msg = &SimpleAck{}
		return env, nil
	}

	cmd := Command(r.Uint16("command"))
	if err := r.Err(); err != nil {
		return nil, err
	}
	if reg.AppSequenced(cmd) {
		env.AppSeq = r.Uint8("app sequence")
		env.HasAppSeq = true
		if err := r.Err(); err != nil {
			return nil, err
		}
	}

	msg, err := reg.Decode(cmd, r.Rest())
	if err != nil {
		return nil, err
	}
	env.Msg = msg
	return env, nil
}
