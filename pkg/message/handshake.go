package message

import "github.com/panellink/itv2/pkg/codec"

// OpenSession opens the ITv2 session. The panel sends it first; the server
// mirrors its own capabilities back in the second handshake phase.
type OpenSession struct {
	// DeviceType identifies the peer device class.
	DeviceType uint8

	// EncryptionType selects the keying scheme (1 or 2).
	EncryptionType uint8

	// SoftwareVersion is the peer's firmware version, two packed BCD bytes.
	SoftwareVersion []byte

	// ProtocolVersion is the ITv2 protocol revision, two packed BCD bytes.
	ProtocolVersion []byte

	// TxSize and RxSize advertise the peer's frame size limits.
	TxSize uint16
	RxSize uint16

	// Flags carries the variable capability bitmap.
	Flags []byte
}

func (*OpenSession) Command() Command { return CmdOpenSession }

func (m *OpenSession) AppendPayload(w *codec.Writer) error {
	w.PutUint8(m.DeviceType)
	w.PutUint8(m.EncryptionType)
	w.PutFixedBytes(m.SoftwareVersion, 2)
	w.PutFixedBytes(m.ProtocolVersion, 2)
	w.PutUint16(m.TxSize)
	w.PutUint16(m.RxSize)
	w.PutCountedBytes("flags", m.Flags, 1)
	return w.Err()
}

func (m *OpenSession) DecodePayload(r *codec.Reader) error {
	m.DeviceType = r.Uint8("device type")
	m.EncryptionType = r.Uint8("encryption type")
	m.SoftwareVersion = r.FixedBytes("software version", 2)
	m.ProtocolVersion = r.FixedBytes("protocol version", 2)
	m.TxSize = r.Uint16("tx size")
	m.RxSize = r.Uint16("rx size")
	m.Flags = r.CountedBytes("flags", 1)
	return r.Err()
}

// RequestAccess carries one side's key initializer: 48 bytes for Type 1
// keying, 16 for Type 2.
type RequestAccess struct {
	Initializer []byte
}

func (*RequestAccess) Command() Command { return CmdRequestAccess }

func (m *RequestAccess) AppendPayload(w *codec.Writer) error {
	w.PutCountedBytes("initializer", m.Initializer, 1)
	return w.Err()
}

func (m *RequestAccess) DecodePayload(r *codec.Reader) error {
	m.Initializer = r.CountedBytes("initializer", 1)
	return r.Err()
}
