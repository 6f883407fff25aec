package gateway

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/panellink/itv2/pkg/frame"
	"github.com/panellink/itv2/pkg/message"
	"github.com/panellink/itv2/pkg/session"
)

func startGateway(t *testing.T, cfg Config) *Gateway {
	t.Helper()
	cfg.ListenAddr = "127.0.0.1:0"
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { g.Stop() })
	return g
}

func dialPanel(t *testing.T, g *Gateway) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", g.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// writeMessage frames and writes one unencrypted panel message.
func writeMessage(t *testing.T, conn net.Conn, env *message.Envelope) {
	t.Helper()
	reg := message.NewRegistry()
	body, err := env.EncodeBody(reg)
	if err != nil {
		t.Fatal(err)
	}
	pkt, err := frame.Encode(nil, body)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(pkt); err != nil {
		t.Fatal(err)
	}
}

// readEnvelope reads one packet and decodes it.
func readEnvelope(t *testing.T, conn net.Conn) *message.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var buf []byte
	tmp := make([]byte, 1024)
	for {
		n, err := conn.Read(tmp)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		buf = append(buf, tmp[:n]...)
		if i := bytes.IndexByte(buf, frame.Terminator); i >= 0 {
			dec, err := frame.Decode(buf[:i+1])
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			env, err := message.DecodeBody(message.NewRegistry(), dec.Body)
			if err != nil {
				t.Fatalf("decode body: %v", err)
			}
			return env
		}
	}
}

func TestGatewaySessionLifecycle(t *testing.T) {
	ups := make(chan string, 1)
	downs := make(chan string, 1)
	notifications := make(chan session.Notification, 1)

	g := startGateway(t, Config{
		OnSessionUp:    func(id string, _ net.Addr) { ups <- id },
		OnSessionDown:  func(id string, _ error) { downs <- id },
		OnNotification: func(n session.Notification) { notifications <- n },
	})

	conn := dialPanel(t, g)

	var id string
	select {
	case id = <-ups:
	case <-time.After(2 * time.Second):
		t.Fatal("no session up")
	}

	if got := g.Sessions(); len(got) != 1 || got[0] != id {
		t.Errorf("Sessions = %v", got)
	}

	// A status message gets acknowledged and surfaces with the session ID.
	writeMessage(t, conn, &message.Envelope{
		SenderSeq: 1,
		Msg:       &message.ZoneStatus{Zone: 9, Status: 1},
	})
	if reply := readEnvelope(t, conn); !reply.IsAck() {
		t.Fatalf("reply = %T", reply.Msg)
	}
	select {
	case n := <-notifications:
		if n.SessionID != id {
			t.Errorf("notification session = %q, want %q", n.SessionID, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}

	// Hang up; the session goes away.
	conn.Close()
	select {
	case gone := <-downs:
		if gone != id {
			t.Errorf("down id = %q", gone)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no session down")
	}

	if got := g.Sessions(); len(got) != 0 {
		t.Errorf("Sessions after close = %v", got)
	}
}

func TestGatewaySendRoutes(t *testing.T) {
	ups := make(chan string, 1)
	g := startGateway(t, Config{
		OnSessionUp: func(id string, _ net.Addr) { ups <- id },
	})

	conn := dialPanel(t, g)
	var id string
	select {
	case id = <-ups:
	case <-time.After(2 * time.Second):
		t.Fatal("no session up")
	}

	done := make(chan error, 1)
	go func() {
		txn, err := g.Send(context.Background(), id, &message.ConnectionPoll{})
		if err != nil {
			done <- err
			return
		}
		<-txn.Done()
		done <- txn.Err()
	}()

	poll := readEnvelope(t, conn)
	if _, ok := poll.Msg.(*message.ConnectionPoll); !ok {
		t.Fatalf("sent = %T", poll.Msg)
	}
	writeMessage(t, conn, &message.Envelope{
		SenderSeq:   1,
		ReceiverSeq: poll.SenderSeq,
		Msg:         &message.SimpleAck{},
	})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("transaction: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send never completed")
	}

	if _, err := g.Send(context.Background(), "nope", &message.ConnectionPoll{}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session err = %v", err)
	}
}

func TestGatewayMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	ups := make(chan string, 1)
	g := startGateway(t, Config{
		Metrics:     reg,
		OnSessionUp: func(id string, _ net.Addr) { ups <- id },
	})

	conn := dialPanel(t, g)
	select {
	case <-ups:
	case <-time.After(2 * time.Second):
		t.Fatal("no session up")
	}

	writeMessage(t, conn, &message.Envelope{SenderSeq: 1, Msg: &message.ConnectionPoll{}})
	if reply := readEnvelope(t, conn); !reply.IsAck() {
		t.Fatalf("reply = %T", reply.Msg)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	want := map[string]bool{
		"itv2_sessions_active": false,
		"itv2_sessions_total":  false,
		"itv2_frames_rx_total": false,
		"itv2_frames_tx_total": false,
	}
	for _, mf := range families {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
			if mf.GetMetric()[0].GetCounter().GetValue()+mf.GetMetric()[0].GetGauge().GetValue() == 0 {
				t.Errorf("%s = 0", mf.GetName())
			}
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric %s not gathered", name)
		}
	}
}

func TestGatewayStartStop(t *testing.T) {
	g, err := New(Config{ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Start(); err != nil {
		t.Fatal(err)
	}
	if err := g.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v", err)
	}
	if err := g.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := g.Stop(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Stop = %v", err)
	}
}
