package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "im_client"

// Metrics 会话指标；nil 接收者上的方法都是空操作
type Metrics struct {
	registry *prometheus.Registry

	connectAttempts prometheus.Counter
	reconnects      prometheus.Counter
	authFailures    prometheus.Counter
	inbound         *prometheus.CounterVec
	inboundErrors   *prometheus.CounterVec
	outbound        *prometheus.CounterVec
	state           prometheus.Gauge
	messages        prometheus.Gauge
}

// New 创建独立的 Registry，同一进程内可以有多个会话
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Number of transport dial attempts.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Number of scheduled reconnect retries.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Number of connections refused for authentication.",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_envelopes_total",
			Help:      "Inbound envelopes by topic.",
		}, []string{"topic"}),
		inboundErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_errors_total",
			Help:      "Inbound envelopes that failed to parse or apply, by topic.",
		}, []string{"topic"}),
		outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_intents_total",
			Help:      "Outbound intents by command and result.",
		}, []string{"command", "result"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting).",
		}),
		messages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_messages",
			Help:      "Messages held in the room store.",
		}),
	}
	m.registry.MustRegister(
		m.connectAttempts, m.reconnects, m.authFailures,
		m.inbound, m.inboundErrors, m.outbound,
		m.state, m.messages,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler /metrics 输出
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnectAttempt() {
	if m != nil {
		m.connectAttempts.Inc()
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) AuthFailure() {
	if m != nil {
		m.authFailures.Inc()
	}
}

// Inbound 记录一条入站消息及其处理结果
func (m *Metrics) Inbound(topic string, err error) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(topic).Inc()
	if err != nil {
		m.inboundErrors.WithLabelValues(topic).Inc()
	}
}

// Outbound 记录一次出站意图
func (m *Metrics) Outbound(command string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.outbound.WithLabelValues(command, result).Inc()
}

func (m *Metrics) SetState(state int) {
	if m != nil {
		m.state.Set(float64(state))
	}
}

func (m *Metrics) SetMessages(n int) {
	if m != nil {
		m.messages.Set(float64(n))
	}
}
