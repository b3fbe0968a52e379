package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Metrics(t *testing.T) {
	m := New()
	m.ConnectAttempt()
	m.Reconnect()
	m.Inbound("/topic/room/r", nil)
	m.Inbound("/topic/room/r", errors.New("bad json"))
	m.Outbound("sendMessage", nil)
	m.Outbound("typing/stop", errors.New("not connected"))
	m.SetState(2)
	m.SetMessages(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)

	assert.Contains(t, out, "im_client_connect_attempts_total 1")
	assert.Contains(t, out, `im_client_inbound_envelopes_total{topic="/topic/room/r"} 2`)
	assert.Contains(t, out, `im_client_inbound_errors_total{topic="/topic/room/r"} 1`)
	assert.Contains(t, out, `im_client_outbound_intents_total{command="typing/stop",result="error"} 1`)
	assert.Contains(t, out, "im_client_connection_state 2")
	assert.Contains(t, out, "im_client_store_messages 7")
}

func Test_NilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectAttempt()
		m.Inbound("x", nil)
		m.Outbound("join", nil)
		m.SetState(1)
	})
	assert.Nil(t, m.Registry())
}
