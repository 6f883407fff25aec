package session

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/panellink/itv2/pkg/crypto"
	"github.com/panellink/itv2/pkg/frame"
	"github.com/panellink/itv2/pkg/message"
	"github.com/panellink/itv2/pkg/transport"
)

const testIACHex = "000102030405060708090a0b0c0d0e0f"

// scriptedPanel drives the panel's side of the wire byte by byte.
type scriptedPanel struct {
	t    *testing.T
	conn net.Conn
	reg  *message.Registry
	seq  uint8

	// encrypt covers panel-to-server frames, decrypt the reverse. Nil
	// until the script activates them mid-handshake.
	encrypt *crypto.Cipher
	decrypt *crypto.Cipher

	buf []byte
}

func newScriptedPanel(t *testing.T, conn net.Conn) *scriptedPanel {
	return &scriptedPanel{t: t, conn: conn, reg: message.NewRegistry()}
}

func (p *scriptedPanel) send(env *message.Envelope) {
	p.t.Helper()
	p.seq++
	env.SenderSeq = p.seq

	if !env.IsAck() {
		if entry, ok := p.reg.Lookup(env.Msg.Command()); ok && entry.AppSequenced {
			env.HasAppSeq = true
		}
	}

	body, err := env.EncodeBody(p.reg)
	if err != nil {
		p.t.Fatalf("panel encode: %v", err)
	}
	inner, err := frame.EncodeInner(body)
	if err != nil {
		p.t.Fatalf("panel frame: %v", err)
	}
	if p.encrypt != nil {
		inner = p.encrypt.Encrypt(inner)
	}
	if _, err := p.conn.Write(frame.Wrap(nil, inner)); err != nil {
		p.t.Fatalf("panel write: %v", err)
	}
}

func (p *scriptedPanel) recv() *message.Envelope {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	for {
		if i := bytes.IndexByte(p.buf, frame.Terminator); i >= 0 {
			pkt := p.buf[:i+1]
			p.buf = p.buf[i+1:]
			return p.parse(pkt)
		}
		tmp := make([]byte, 1024)
		n, err := p.conn.Read(tmp)
		if err != nil {
			p.t.Fatalf("panel read: %v", err)
		}
		p.buf = append(p.buf, tmp[:n]...)
	}
}

func (p *scriptedPanel) parse(pkt []byte) *message.Envelope {
	p.t.Helper()
	_, rawInner, err := frame.Split(pkt)
	if err != nil {
		p.t.Fatalf("panel split: %v", err)
	}
	inner, err := frame.Unstuff(rawInner)
	if err != nil {
		p.t.Fatalf("panel unstuff: %v", err)
	}
	if p.decrypt != nil {
		if inner, err = p.decrypt.Decrypt(inner); err != nil {
			p.t.Fatalf("panel decrypt: %v", err)
		}
	}
	body, err := frame.DecodeInner(inner)
	if err != nil {
		p.t.Fatalf("panel decode inner: %v", err)
	}
	env, err := message.DecodeBody(p.reg, body)
	if err != nil {
		p.t.Fatalf("panel decode body: %v", err)
	}
	return env
}

// startSession builds a session over one end of a net.Pipe and runs it.
func startSession(t *testing.T, cfg Config, conn net.Conn) (*Session, <-chan error) {
	t.Helper()
	cfg.Conn = transport.NewPacketConn(conn, nil)
	if cfg.Registry == nil {
		cfg.Registry = message.NewRegistry()
	}
	if cfg.ID == "" {
		cfg.ID = "test-session"
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		errCh <- s.Run(context.Background())
		close(done)
	}()
	t.Cleanup(func() {
		s.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("session did not stop")
		}
	})
	return s, errCh
}

// A pre-handshake data message gets acknowledged and surfaces upward.
func TestSessionAcksAndNotifies(t *testing.T) {
	server, panel := net.Pipe()
	notifications := make(chan Notification, 4)

	startSession(t, Config{
		OnNotification: func(n Notification) { notifications <- n },
	}, server)

	p := newScriptedPanel(t, panel)
	p.send(&message.Envelope{Msg: &message.ZoneStatus{Zone: 7, Status: 1}, AppSeq: 0x21})

	ack := p.recv()
	if !ack.IsAck() {
		t.Fatalf("reply = %T", ack.Msg)
	}
	if ack.ReceiverSeq != 1 {
		t.Errorf("ack receiver seq = %d", ack.ReceiverSeq)
	}
	if ack.SenderSeq != 1 {
		t.Errorf("ack sender seq = %d, first outbound frame must be 1", ack.SenderSeq)
	}

	select {
	case n := <-notifications:
		zs, ok := n.Msg.(*message.ZoneStatus)
		if !ok || zs.Zone != 7 {
			t.Errorf("notification = %#v", n.Msg)
		}
		if n.SessionID != "test-session" {
			t.Errorf("session id = %q", n.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}
}

// Garbage with a bad CRC is dropped and counted; the session keeps going.
func TestSessionSurvivesFrameErrors(t *testing.T) {
	server, panel := net.Pipe()
	frameErrs := make(chan error, 4)

	startSession(t, Config{
		OnFrameError: func(err error) { frameErrs <- err },
	}, server)

	// A frame with a deliberately wrong CRC.
	bad := frame.Wrap(nil, []byte{0x04, 0x01, 0x00, 0xDE, 0xAD})
	if _, err := panel.Write(bad); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-frameErrs:
		if !errors.Is(err, frame.ErrChecksum) {
			t.Errorf("frame error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame error not reported")
	}

	// Still alive: a valid message gets its ack.
	p := newScriptedPanel(t, panel)
	p.send(&message.Envelope{Msg: &message.ConnectionPoll{}})
	if reply := p.recv(); !reply.IsAck() {
		t.Fatalf("reply = %T", reply.Msg)
	}
}

func TestSessionDisconnect(t *testing.T) {
	server, panel := net.Pipe()
	_, errCh := startSession(t, Config{}, server)

	panel.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrDisconnected) {
			t.Fatalf("Run = %v, want ErrDisconnected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

// Full Type 2 handshake, heartbeat probe, and an encrypted notification.
func TestSessionHandshakeType2(t *testing.T) {
	server, panel := net.Pipe()
	established := make(chan struct{})
	notifications := make(chan Notification, 4)

	sess, _ := startSession(t, Config{
		Keys: crypto.KeyConfig{AccessCodeType2: testIACHex},
		Params: Params{
			HeartbeatDelay: 50 * time.Millisecond,
			PollInterval:   time.Hour, // keep the script deterministic
		},
		OnEstablished: func() { close(established) },
		// Handshake and probe replies are notified too; only the status
		// message sent after the handshake is of interest here.
		OnNotification: func(n Notification) {
			if _, ok := n.Msg.(*message.PartitionStatus); ok {
				notifications <- n
			}
		},
	}, server)

	iacKey, _ := hex.DecodeString(testIACHex)
	iac, err := crypto.NewCipher(iacKey)
	if err != nil {
		t.Fatal(err)
	}

	p := newScriptedPanel(t, panel)

	// Phase A: panel opens the session.
	p.send(&message.Envelope{Msg: &message.OpenSession{
		DeviceType:     0x01,
		EncryptionType: 2,
		TxSize:         1024,
		RxSize:         1024,
	}})
	resp := p.recv()
	cr, ok := resp.Msg.(*message.CommandResponse)
	if !ok || cr.RequestCommand != message.CmdOpenSession || cr.Code != message.ResponseSuccess {
		t.Fatalf("phase A response = %#v", resp.Msg)
	}
	p.send(&message.Envelope{ReceiverSeq: resp.SenderSeq, Msg: &message.SimpleAck{}})

	// Phase B: server mirrors its capabilities.
	mirror := p.recv()
	open, ok := mirror.Msg.(*message.OpenSession)
	if !ok || open.EncryptionType != 2 {
		t.Fatalf("phase B frame = %#v", mirror.Msg)
	}
	if !mirror.HasAppSeq {
		t.Error("mirrored OpenSession must carry an app sequence")
	}
	p.send(&message.Envelope{
		ReceiverSeq: mirror.SenderSeq,
		Msg:         &message.CommandResponse{RequestCommand: message.CmdOpenSession, Code: message.ResponseSuccess},
	})
	if closing := p.recv(); !closing.IsAck() {
		t.Fatalf("phase B closing = %#v", closing.Msg)
	}

	// Phase C: panel sends its initializer. The server's traffic is
	// encrypted from its reply onward.
	panelInit := bytes.Repeat([]byte{0x33}, crypto.Type2InitializerSize)
	p.send(&message.Envelope{Msg: &message.RequestAccess{Initializer: panelInit}})
	if p.decrypt, err = crypto.NewCipher(iac.Encrypt(panelInit)); err != nil {
		t.Fatal(err)
	}
	resp = p.recv()
	cr, ok = resp.Msg.(*message.CommandResponse)
	if !ok || cr.RequestCommand != message.CmdRequestAccess || cr.Code != message.ResponseSuccess {
		t.Fatalf("phase C response = %#v", resp.Msg)
	}
	p.send(&message.Envelope{ReceiverSeq: resp.SenderSeq, Msg: &message.SimpleAck{}})

	// Phase D: server sends its initializer; panel traffic is encrypted
	// from the reply onward.
	access := p.recv()
	req, ok := access.Msg.(*message.RequestAccess)
	if !ok {
		t.Fatalf("phase D frame = %#v", access.Msg)
	}
	if p.encrypt, err = crypto.NewCipher(iac.Encrypt(req.Initializer)); err != nil {
		t.Fatal(err)
	}
	p.send(&message.Envelope{
		ReceiverSeq: access.SenderSeq,
		Msg:         &message.CommandResponse{RequestCommand: message.CmdRequestAccess, Code: message.ResponseSuccess},
	})
	if closing := p.recv(); !closing.IsAck() {
		t.Fatalf("phase D closing = %#v", closing.Msg)
	}

	select {
	case <-established:
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}
	if !sess.Established() {
		t.Error("Established() = false")
	}

	// Heartbeat: the version probe arrives encrypted; answer it.
	probe := p.recv()
	if _, ok := probe.Msg.(*message.SoftwareVersionRequest); !ok {
		t.Fatalf("heartbeat probe = %#v", probe.Msg)
	}
	p.send(&message.Envelope{
		ReceiverSeq: probe.SenderSeq,
		Msg:         &message.CommandResponse{RequestCommand: message.CmdSoftwareVersionRequest, Code: message.ResponseSuccess},
	})
	if closing := p.recv(); !closing.IsAck() {
		t.Fatalf("probe closing = %#v", closing.Msg)
	}

	// Encrypted notification still round-trips.
	p.send(&message.Envelope{Msg: &message.PartitionStatus{Partition: 1, Status: 0x04}})
	if reply := p.recv(); !reply.IsAck() {
		t.Fatalf("status reply = %#v", reply.Msg)
	}
	select {
	case n := <-notifications:
		if ps, ok := n.Msg.(*message.PartitionStatus); !ok || ps.Status != 0x04 {
			t.Errorf("notification = %#v", n.Msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification after handshake")
	}
}

// An unknown encryption scheme fails the handshake and tears the session
// down after telling the panel.
func TestSessionHandshakeUnsupportedScheme(t *testing.T) {
	server, panel := net.Pipe()
	_, errCh := startSession(t, Config{
		Keys: crypto.KeyConfig{AccessCodeType2: testIACHex},
	}, server)

	p := newScriptedPanel(t, panel)
	p.send(&message.Envelope{Msg: &message.OpenSession{EncryptionType: 7}})

	resp := p.recv()
	cr, ok := resp.Msg.(*message.CommandResponse)
	if !ok || cr.Code != message.ResponseUnsupported {
		t.Fatalf("response = %#v", resp.Msg)
	}

	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not shut down")
	}
}

// Outbound send: a notification-style message runs the SimpleAck pattern
// and completes when the panel acks.
func TestSessionSendOutbound(t *testing.T) {
	server, panel := net.Pipe()
	sess, _ := startSession(t, Config{}, server)
	p := newScriptedPanel(t, panel)

	done := make(chan error, 1)
	go func() {
		txn, err := sess.Send(context.Background(), &message.ConnectionPoll{})
		if err != nil {
			done <- err
			return
		}
		<-txn.Done()
		done <- txn.Err()
	}()

	poll := p.recv()
	if _, ok := poll.Msg.(*message.ConnectionPoll); !ok {
		t.Fatalf("sent = %#v", poll.Msg)
	}
	p.send(&message.Envelope{ReceiverSeq: poll.SenderSeq, Msg: &message.SimpleAck{}})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("transaction err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send did not complete")
	}
}

// A command message arriving while a poll waits for its ack aborts the
// poll but still gets processed as fresh inbound traffic.
func TestSessionPollAnsweredByCommand(t *testing.T) {
	server, panel := net.Pipe()
	notifications := make(chan Notification, 4)
	sess, _ := startSession(t, Config{
		OnNotification: func(n Notification) { notifications <- n },
	}, server)
	p := newScriptedPanel(t, panel)

	txnCh := make(chan error, 1)
	go func() {
		txn, err := sess.Send(context.Background(), &message.ConnectionPoll{})
		if err != nil {
			txnCh <- err
			return
		}
		<-txn.Done()
		txnCh <- txn.Err()
	}()

	poll := p.recv()

	// Respond with a status message instead of the expected ack.
	p.send(&message.Envelope{ReceiverSeq: poll.SenderSeq, Msg: &message.ZoneStatus{Zone: 3, Status: 2}})

	// The message is not lost: it is acknowledged and delivered upward.
	if reply := p.recv(); !reply.IsAck() {
		t.Fatalf("reply = %#v", reply.Msg)
	}
	select {
	case n := <-notifications:
		if _, ok := n.Msg.(*message.ZoneStatus); !ok {
			t.Errorf("notification = %#v", n.Msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("zone status not delivered")
	}

	// And the poll transaction aborted.
	select {
	case err := <-txnCh:
		if err == nil {
			t.Error("poll transaction should have aborted")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll transaction never finished")
	}
}
