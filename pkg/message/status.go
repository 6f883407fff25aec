package message

import "github.com/panellink/itv2/pkg/codec"

// PartitionStatus reports a partition state change (armed, alarm, ready).
// The gateway delivers it upward untouched; interpreting the status byte
// is the application's concern.
type PartitionStatus struct {
	Partition uint8 // compact integer
	Status    uint8
	Flags     uint8
}

func (*PartitionStatus) Command() Command { return CmdPartitionStatus }

func (m *PartitionStatus) AppendPayload(w *codec.Writer) error {
	w.PutCompactUint(m.Partition)
	w.PutUint8(m.Status)
	w.PutUint8(m.Flags)
	return w.Err()
}

func (m *PartitionStatus) DecodePayload(r *codec.Reader) error {
	m.Partition = r.CompactUint("partition")
	m.Status = r.Uint8("status")
	m.Flags = r.Uint8("flags")
	return r.Err()
}

// ZoneStatus reports a zone state change (open, fault, tamper).
type ZoneStatus struct {
	Zone   uint8 // compact integer
	Status uint8
}

func (*ZoneStatus) Command() Command { return CmdZoneStatus }

func (m *ZoneStatus) AppendPayload(w *codec.Writer) error {
	w.PutCompactUint(m.Zone)
	w.PutUint8(m.Status)
	return w.Err()
}

func (m *ZoneStatus) DecodePayload(r *codec.Reader) error {
	m.Zone = r.CompactUint("zone")
	m.Status = r.Uint8("status")
	return r.Err()
}

// TroubleStatus reports a device trouble condition.
type TroubleStatus struct {
	Device  uint8
	Trouble uint8
	Status  uint8
}

func (*TroubleStatus) Command() Command { return CmdTroubleStatus }

func (m *TroubleStatus) AppendPayload(w *codec.Writer) error {
	w.PutUint8(m.Device)
	w.PutUint8(m.Trouble)
	w.PutUint8(m.Status)
	return w.Err()
}

func (m *TroubleStatus) DecodePayload(r *codec.Reader) error {
	m.Device = r.Uint8("device")
	m.Trouble = r.Uint8("trouble")
	m.Status = r.Uint8("status")
	return r.Err()
}

// EventReport is a buffered event log entry pushed by the panel.
type EventReport struct {
	Partition uint8 // compact integer
	EventType uint16
	Data      []byte
}

func (*EventReport) Command() Command { return CmdEventReport }

func (m *EventReport) AppendPayload(w *codec.Writer) error {
	w.PutCompactUint(m.Partition)
	w.PutUint16(m.EventType)
	w.PutCountedBytes("data", m.Data, 1)
	return w.Err()
}

func (m *EventReport) DecodePayload(r *codec.Reader) error {
	m.Partition = r.CompactUint("partition")
	m.EventType = r.Uint16("event type")
	m.Data = r.CountedBytes("data", 1)
	return r.Err()
}

// TimeDateBroadcast announces the panel clock. Year is offset from 2000.
type TimeDateBroadcast struct {
	Year   uint8
	Month  uint8
	Day    uint8
	Hour   uint8
	Minute uint8
}

func (*TimeDateBroadcast) Command() Command { return CmdTimeDateBroadcast }

func (m *TimeDateBroadcast) AppendPayload(w *codec.Writer) error {
	w.PutUint8(m.Year)
	w.PutUint8(m.Month)
	w.PutUint8(m.Day)
	w.PutUint8(m.Hour)
	w.PutUint8(m.Minute)
	return w.Err()
}

func (m *TimeDateBroadcast) DecodePayload(r *codec.Reader) error {
	m.Year = r.Uint8("year")
	m.Month = r.Uint8("month")
	m.Day = r.Uint8("day")
	m.Hour = r.Uint8("hour")
	m.Minute = r.Uint8("minute")
	return r.Err()
}
