package gateway

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/panellink/itv2/pkg/crypto"
	"github.com/panellink/itv2/pkg/frame"
	"github.com/panellink/itv2/pkg/transaction"
)

// Metrics holds the gateway's Prometheus collectors. All methods are
// nil-safe so an unconfigured gateway costs nothing.
type Metrics struct {
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	framesRx       prometheus.Counter
	framesTx       prometheus.Counter
	frameErrors    *prometheus.CounterVec
	txnAborts      *prometheus.CounterVec
	handshakes     prometheus.Counter
}

// newMetrics builds and registers the collector set. A nil registerer
// yields nil metrics.
func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "itv2_sessions_active",
			Help: "Panel sessions currently connected.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "itv2_sessions_total",
			Help: "Panel sessions accepted since start.",
		}),
		framesRx: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "itv2_frames_rx_total",
			Help: "Frames decoded from panels.",
		}),
		framesTx: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "itv2_frames_tx_total",
			Help: "Frames written to panels.",
		}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itv2_frame_errors_total",
			Help: "Packets dropped before dispatch, by failure kind.",
		}, []string{"kind"}),
		txnAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itv2_transaction_aborts_total",
			Help: "Transactions aborted, by reason.",
		}, []string{"reason"}),
		handshakes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "itv2_handshakes_completed_total",
			Help: "Handshakes completed successfully.",
		}),
	}

	collectors := []prometheus.Collector{
		m.sessionsActive, m.sessionsTotal, m.framesRx, m.framesTx,
		m.frameErrors, m.txnAborts, m.handshakes,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) sessionUp() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) sessionDown() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) frameRx() {
	if m == nil {
		return
	}
	m.framesRx.Inc()
}

func (m *Metrics) frameTx() {
	if m == nil {
		return
	}
	m.framesTx.Inc()
}

func (m *Metrics) frameError(err error) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(frameErrorKind(err)).Inc()
}

func (m *Metrics) transactionAbort(err error) {
	if m == nil {
		return
	}
	m.txnAborts.WithLabelValues(abortReason(err)).Inc()
}

func (m *Metrics) handshakeCompleted() {
	if m == nil {
		return
	}
	m.handshakes.Inc()
}

func frameErrorKind(err error) string {
	switch {
	case errors.Is(err, frame.ErrChecksum):
		return "crc"
	case errors.Is(err, frame.ErrFraming):
		return "framing"
	case errors.Is(err, frame.ErrEncoding):
		return "stuffing"
	case errors.Is(err, crypto.ErrCiphertextLength):
		return "decrypt"
	default:
		return "codec"
	}
}

func abortReason(err error) string {
	switch {
	case errors.Is(err, transaction.ErrTimeout):
		return "timeout"
	case errors.Is(err, transaction.ErrCancelled):
		return "cancelled"
	case errors.Is(err, transaction.ErrUnexpectedResponse):
		return "unexpected_response"
	case errors.Is(err, transaction.ErrHandshakeFailed):
		return "handshake"
	default:
		return "other"
	}
}
