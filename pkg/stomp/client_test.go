package stomp_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"im-client/pkg/stomp"
	"im-client/pkg/stomp/stomptest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextFrame(t *testing.T, b *stomptest.Broker, command string) *stomp.Frame {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f := <-b.Frames():
			if f.Command == command {
				return f
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s frame", command)
			return nil
		}
	}
}

func dial(t *testing.T, b *stomptest.Broker) *stomp.Client {
	t.Helper()
	c, err := stomp.Dial(context.Background(), stomp.Config{
		URL:          b.URL(),
		Token:        "token-1",
		PingInterval: 50 * time.Millisecond,
		ReadTimeout:  time.Second,
	})
	require.NoError(t, err)
	return c
}

func Test_ClientSubscribeAndReceive(t *testing.T) {
	b := stomptest.NewBroker()
	defer b.Close()

	c := dial(t, b)
	defer c.Close()
	assert.Equal(t, "1.2", c.Version())
	assert.Equal(t, "Bearer token-1", b.Authorization())

	id, err := c.Subscribe("/topic/room/r")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	sub := nextFrame(t, b, stomp.CmdSubscribe)
	assert.Equal(t, id, sub.Header.Get(stomp.HdrID))
	assert.Equal(t, "/topic/room/r", sub.Header.Get(stomp.HdrDestination))

	require.Equal(t, 1, b.Publish("/topic/room/r", `{"id":"1"}`))
	select {
	case f := <-c.Messages():
		assert.Equal(t, "/topic/room/r", f.Header.Get(stomp.HdrDestination))
		assert.JSONEq(t, `{"id":"1"}`, string(f.Body))
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func Test_ClientSend(t *testing.T) {
	b := stomptest.NewBroker()
	defer b.Close()

	c := dial(t, b)
	require.NoError(t, c.Send("/app/sendMessage/r", []byte(`{"content":"hi"}`)))
	require.NoError(t, c.Send("/app/join/r", nil))

	f := nextFrame(t, b, stomp.CmdSend)
	assert.Equal(t, "/app/sendMessage/r", f.Header.Get(stomp.HdrDestination))
	assert.Equal(t, "application/json", f.Header.Get(stomp.HdrContentType))
	assert.Equal(t, "16", f.Header.Get(stomp.HdrContentLength))

	f = nextFrame(t, b, stomp.CmdSend)
	assert.Equal(t, "/app/join/r", f.Header.Get(stomp.HdrDestination))
	assert.Empty(t, f.Body)

	require.NoError(t, c.Send("/app/leave/r", nil))
	require.NoError(t, c.Close())
	f = nextFrame(t, b, stomp.CmdSend)
	assert.Equal(t, "/app/leave/r", f.Header.Get(stomp.HdrDestination), "queued frames are flushed before disconnect")
	nextFrame(t, b, stomp.CmdDisconnect)

	assert.ErrorIs(t, c.Send("/app/join/r", nil), stomp.ErrClosed)
	assert.ErrorIs(t, c.Err(), stomp.ErrClosed)
	assert.NoError(t, c.Close(), "close is idempotent")
}

func Test_ClientDrop(t *testing.T) {
	b := stomptest.NewBroker()
	defer b.Close()

	c := dial(t, b)
	defer c.Close()
	b.DropAll()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice the drop")
	}
	_, open := <-c.Messages()
	assert.False(t, open)
	assert.Error(t, c.Err())
	assert.False(t, errors.Is(c.Err(), stomp.ErrClosed))
}

func Test_DialHonorsContext(t *testing.T) {
	b := stomptest.NewBroker()
	defer b.Close()
	b.Stall.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := stomp.Dial(ctx, stomp.Config{URL: b.URL(), ConnectTimeout: 10 * time.Second})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second, "handshake stops waiting once ctx is cancelled")
}

func Test_ClientUnauthorized(t *testing.T) {
	t.Run("upgrade rejected", func(t *testing.T) {
		b := stomptest.NewBroker()
		defer b.Close()
		b.RejectStatus.Store(http.StatusUnauthorized)

		_, err := stomp.Dial(context.Background(), stomp.Config{URL: b.URL(), Token: "x"})
		assert.ErrorIs(t, err, stomp.ErrUnauthorized)
	})

	t.Run("error frame mentioning a token is not an auth failure", func(t *testing.T) {
		b := stomptest.NewBroker()
		defer b.Close()
		b.RejectWith("invalid token in payload")

		_, err := stomp.Dial(context.Background(), stomp.Config{URL: b.URL(), Token: "x"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, stomp.ErrUnauthorized)
	})

	t.Run("error frame naming authentication", func(t *testing.T) {
		b := stomptest.NewBroker()
		defer b.Close()
		b.RejectWith("Authentication failed: invalid JWT")

		_, err := stomp.Dial(context.Background(), stomp.Config{URL: b.URL(), Token: "x"})
		assert.ErrorIs(t, err, stomp.ErrUnauthorized)
	})

	t.Run("other error frames are server errors", func(t *testing.T) {
		b := stomptest.NewBroker()
		defer b.Close()
		b.RejectWith("broker overloaded")

		_, err := stomp.Dial(context.Background(), stomp.Config{URL: b.URL(), Token: "x"})
		var se *stomp.ServerError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "broker overloaded", se.Message)
	})

	t.Run("server unavailable", func(t *testing.T) {
		b := stomptest.NewBroker()
		b.RejectStatus.Store(http.StatusServiceUnavailable)
		defer b.Close()

		_, err := stomp.Dial(context.Background(), stomp.Config{URL: b.URL()})
		require.Error(t, err)
		assert.NotErrorIs(t, err, stomp.ErrUnauthorized)
	})
}
