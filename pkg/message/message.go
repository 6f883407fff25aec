package message

import "github.com/panellink/itv2/pkg/codec"

// Message is one typed ITv2 message. Implementations declare their command
// code and encode/decode their payload field by field; there is no
// reflection anywhere in the codec path.
type Message interface {
	// Command returns the command code written after the sequence bytes.
	Command() Command

	// AppendPayload writes the payload fields in wire order.
	AppendPayload(w *codec.Writer) error

	// DecodePayload reads the payload fields in wire order.
	DecodePayload(r *codec.Reader) error
}

// SimpleAck is the bare acknowledgement. It has no command word, no app
// sequence and no payload; on the wire it is a frame containing only the
// two sequence bytes. It is never registered in the command table.
type SimpleAck struct{}

// Command returns zero; SimpleAck has no command word. Envelope encoding
// special-cases the type and never writes this value.
func (*SimpleAck) Command() Command                    { return 0 }
func (*SimpleAck) AppendPayload(*codec.Writer) error   { return nil }
func (*SimpleAck) DecodePayload(r *codec.Reader) error { return r.Err() }

// Default carries a message whose command the registry does not know.
// Decoding an unrecognised command never fails; the raw payload (including
// any app-sequence byte, since its presence cannot be known) is preserved.
type Default struct {
	Cmd Command
	Raw []byte
}

func (d *Default) Command() Command { return d.Cmd }

func (d *Default) AppendPayload(w *codec.Writer) error {
	w.PutRaw(d.Raw)
	return w.Err()
}

func (d *Default) DecodePayload(r *codec.Reader) error {
	d.Raw = r.Rest()
	return r.Err()
}
