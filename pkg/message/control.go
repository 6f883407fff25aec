package message

import "github.com/panellink/itv2/pkg/codec"

// CommandResponse reports the outcome of a received command. The protocol
// requires the closing SimpleAck regardless of the code.
type CommandResponse struct {
	// RequestCommand echoes the command being answered.
	RequestCommand Command

	// Code is the result.
	Code ResponseCode
}

func (*CommandResponse) Command() Command { return CmdCommandResponse }

func (m *CommandResponse) AppendPayload(w *codec.Writer) error {
	w.PutUint16(uint16(m.RequestCommand))
	w.PutUint8(uint8(m.Code))
	return w.Err()
}

func (m *CommandResponse) DecodePayload(r *codec.Reader) error {
	m.RequestCommand = Command(r.Uint16("request command"))
	m.Code = ResponseCode(r.Uint8("code"))
	return r.Err()
}

// CommandError is the panel's NACK for a message it could not process.
type CommandError struct {
	RequestCommand Command
	Code           ResponseCode
}

func (*CommandError) Command() Command { return CmdCommandError }

func (m *CommandError) AppendPayload(w *codec.Writer) error {
	w.PutUint16(uint16(m.RequestCommand))
	w.PutUint8(uint8(m.Code))
	return w.Err()
}

func (m *CommandError) DecodePayload(r *codec.Reader) error {
	m.RequestCommand = Command(r.Uint16("request command"))
	m.Code = ResponseCode(r.Uint8("code"))
	return r.Err()
}

// ConnectionPoll is the keep-alive. Empty payload, answered by SimpleAck.
type ConnectionPoll struct{}

func (*ConnectionPoll) Command() Command                    { return CmdConnectionPoll }
func (*ConnectionPoll) AppendPayload(*codec.Writer) error   { return nil }
func (*ConnectionPoll) DecodePayload(r *codec.Reader) error { return r.Err() }

// SoftwareVersionRequest probes the panel's firmware version. The typed
// response is not modelled; it arrives as a Default message.
type SoftwareVersionRequest struct{}

func (*SoftwareVersionRequest) Command() Command                    { return CmdSoftwareVersionRequest }
func (*SoftwareVersionRequest) AppendPayload(*codec.Writer) error   { return nil }
func (*SoftwareVersionRequest) DecodePayload(r *codec.Reader) error { return r.Err() }

// EnterConfigurationMode asks the panel to suspend live status reporting
// while configuration is read or written.
type EnterConfigurationMode struct{}

func (*EnterConfigurationMode) Command() Command                    { return CmdEnterConfigMode }
func (*EnterConfigurationMode) AppendPayload(*codec.Writer) error   { return nil }
func (*EnterConfigurationMode) DecodePayload(r *codec.Reader) error { return r.Err() }

// ExitConfigurationMode resumes live status reporting.
type ExitConfigurationMode struct{}

func (*ExitConfigurationMode) Command() Command                    { return CmdExitConfigMode }
func (*ExitConfigurationMode) AppendPayload(*codec.Writer) error   { return nil }
func (*ExitConfigurationMode) DecodePayload(r *codec.Reader) error { return r.Err() }
