package stomp

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_WriteFrame(t *testing.T) {
	var buf bytes.Buffer
	f := NewFrame(CmdSend, HdrDestination, "/app/sendMessage/r", HdrContentLength, "2")
	f.Body = []byte("{}")
	require.NoError(t, WriteFrame(&buf, f))
	assert.Equal(t, "SEND\ndestination:/app/sendMessage/r\ncontent-length:2\n\n{}\x00", buf.String())

	t.Run("escapes header values", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, NewFrame(CmdSend, "note", "a:b\nc")))
		assert.Contains(t, buf.String(), `note:a\cb\nc`)
	})

	t.Run("nil is a heartbeat", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, nil))
		assert.Equal(t, "\n", buf.String())
	})
}

func Test_ReadFrames(t *testing.T) {
	read := func(raw string) ([]*Frame, error) {
		return ReadFrames(strings.NewReader(raw))
	}

	t.Run("heartbeat only", func(t *testing.T) {
		frames, err := read("\n")
		require.NoError(t, err)
		assert.Empty(t, frames)
	})

	t.Run("multiple frames with escapes", func(t *testing.T) {
		raw := "\nMESSAGE\ndestination:/topic/room/r\nnote:x\\cy\nnote:ignored\n\nhello\x00\nRECEIPT\nreceipt-id:1\n\n\x00"
		frames, err := read(raw)
		require.NoError(t, err)
		require.Len(t, frames, 2)

		assert.Equal(t, CmdMessage, frames[0].Command)
		assert.Equal(t, "/topic/room/r", frames[0].Header.Get(HdrDestination))
		assert.Equal(t, "x:y", frames[0].Header.Get("note"), "first repeated header wins")
		assert.Equal(t, "hello", string(frames[0].Body))
		assert.Equal(t, CmdReceipt, frames[1].Command)
	})

	t.Run("content-length allows NUL in body", func(t *testing.T) {
		frames, err := read("MESSAGE\ncontent-length:3\n\na\x00b\x00")
		require.NoError(t, err)
		require.Len(t, frames, 1)
		assert.Equal(t, []byte("a\x00b"), frames[0].Body)
	})

	t.Run("round trip", func(t *testing.T) {
		in := NewFrame(CmdMessage, HdrDestination, "/topic/room/r", "k", "v:1")
		in.Body = []byte(`{"id":"1"}`)
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, in))

		frames, err := ReadFrames(&buf)
		require.NoError(t, err)
		require.Len(t, frames, 1)
		assert.Equal(t, "v:1", frames[0].Header.Get("k"))
		assert.Equal(t, in.Body, frames[0].Body)
	})

	t.Run("header without colon", func(t *testing.T) {
		_, err := read("MESSAGE\nbroken\n\n\x00")
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
}

func Test_Classify(t *testing.T) {
	cases := []struct {
		message string
		auth    bool
	}{
		{"Unauthorized", true},
		{"Authentication failed: invalid JWT", true},
		{"JWT expired at 2026-01-01", true},
		{"author not found", false},
		{"invalid token in payload", false},
		{"broker overloaded", false},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			err := classify(NewFrame(CmdError, HdrMessage, tc.message))
			assert.Equal(t, tc.auth, errors.Is(err, ErrUnauthorized))
		})
	}
}
