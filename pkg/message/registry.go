package message

import (
	"fmt"

	"github.com/panellink/itv2/pkg/codec"
)

// Entry binds a command code to its message constructor, the transaction
// pattern that governs it, and whether its frames carry an app-sequence
// byte between the command word and the payload.
type Entry struct {
	New          func() Message
	Pattern      Pattern
	AppSequenced bool
}

// Registry is the static command table. It is built once at startup and
// read-only afterwards; lookups take no locks.
type Registry struct {
	byCommand map[Command]Entry
}

// NewRegistry builds the command table for every known message type.
// A duplicate command registration is a programming error and panics.
func NewRegistry() *Registry {
	r := &Registry{byCommand: make(map[Command]Entry)}

	r.add(Entry{New: func() Message { return &CommandError{} }, Pattern: PatternSimpleAck})
	r.add(Entry{New: func() Message { return &CommandResponse{} }, Pattern: PatternSimpleAck})
	r.add(Entry{New: func() Message { return &OpenSession{} }, Pattern: PatternHandshake, AppSequenced: true})
	r.add(Entry{New: func() Message { return &RequestAccess{} }, Pattern: PatternHandshake, AppSequenced: true})
	r.add(Entry{New: func() Message { return &SoftwareVersionRequest{} }, Pattern: PatternCommandResponse, AppSequenced: true})
	r.add(Entry{New: func() Message { return &ConnectionPoll{} }, Pattern: PatternSimpleAck})
	r.add(Entry{New: func() Message { return &EnterConfigurationMode{} }, Pattern: PatternCommandResponse, AppSequenced: true})
	r.add(Entry{New: func() Message { return &ExitConfigurationMode{} }, Pattern: PatternCommandResponse, AppSequenced: true})
	r.add(Entry{New: func() Message { return &PartitionStatus{} }, Pattern: PatternSimpleAck, AppSequenced: true})
	r.add(Entry{New: func() Message { return &ZoneStatus{} }, Pattern: PatternSimpleAck, AppSequenced: true})
	r.add(Entry{New: func() Message { return &TroubleStatus{} }, Pattern: PatternSimpleAck, AppSequenced: true})
	r.add(Entry{New: func() Message { return &EventReport{} }, Pattern: PatternSimpleAck, AppSequenced: true})
	r.add(Entry{New: func() Message { return &TimeDateBroadcast{} }, Pattern: PatternSimpleAck, AppSequenced: true})

	return r
}

func (r *Registry) add(e Entry) {
	cmd := e.New().Command()
	if _, exists := r.byCommand[cmd]; exists {
		panic(fmt.Sprintf("%v: %v", ErrDuplicateCommand, cmd))
	}
	r.byCommand[cmd] = e
}

// Lookup returns the entry for a command.
func (r *Registry) Lookup(cmd Command) (Entry, bool) {
	e, ok := r.byCommand[cmd]
	return e, ok
}

// AppSequenced reports whether frames for this command carry an
// app-sequence byte. Unknown commands do not.
func (r *Registry) AppSequenced(cmd Command) bool {
	return r.byCommand[cmd].AppSequenced
}

// PatternFor returns the transaction pattern registered for a message.
// SimpleAck and unknown (Default) messages fall back to PatternSimpleAck.
func (r *Registry) PatternFor(msg Message) Pattern {
	switch msg.(type) {
	case *SimpleAck, *Default:
		return PatternSimpleAck
	}
	if e, ok := r.byCommand[msg.Command()]; ok {
		return e.Pattern
	}
	return PatternSimpleAck
}

// Decode turns a command and payload into a typed message. Unknown
// commands decode into Default and never fail.
func (r *Registry) Decode(cmd Command, payload []byte) (Message, error) {
	e, ok := r.byCommand[cmd]
	if !ok {
		return &Default{Cmd: cmd, Raw: payload}, nil
	}
	msg := e.New()
	if err := msg.DecodePayload(codec.NewReader(payload)); err != nil {
		return nil, err
	}
	return msg, nil
}
