package dispatch

import (
	"errors"
	"testing"

	"im-client/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	dest string
	body string
}

type fakeSender struct {
	frames []frame
	err    error
}

func (f *fakeSender) Send(dest string, body []byte) error {
	f.frames = append(f.frames, frame{dest, string(body)})
	return f.err
}

func Test_DispatcherCommands(t *testing.T) {
	fs := &fakeSender{}
	d := New("general", func() Sender { return fs }, nil)

	cases := []struct {
		name string
		call func() error
		want frame
	}{
		{"join", d.Join, frame{"/app/join/general", ""}},
		{"leave", d.Leave, frame{"/app/leave/general", ""}},
		{"send", func() error { return d.Send(" hi ") }, frame{"/app/sendMessage/general", `{"content":"hi","roomId":"general"}`}},
		{"reply", func() error { return d.Reply("4", "yes") }, frame{"/app/reply/general", `{"parentMessageId":"4","content":"yes"}`}},
		{"reaction add", func() error { return d.ReactionAdd("5", "👍") }, frame{"/app/reaction/add/general", `{"messageId":"5","emoji":"👍"}`}},
		{"reaction remove", func() error { return d.ReactionRemove("5", "👍") }, frame{"/app/reaction/remove/general", `{"messageId":"5","emoji":"👍"}`}},
		{"typing start", d.TypingStart, frame{"/app/typing/start/general", ""}},
		{"typing stop", d.TypingStop, frame{"/app/typing/stop/general", ""}},
		{"delivered", func() error { return d.MarkDelivered("1") }, frame{"/app/delivered/general", `{"messageId":"1"}`}},
		{"read", func() error { return d.MarkRead("1") }, frame{"/app/read/general", `{"messageId":"1"}`}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs.frames = nil
			require.NoError(t, tc.call())
			require.Len(t, fs.frames, 1, "each intent is emitted once")
			assert.Equal(t, tc.want.dest, fs.frames[0].dest)
			if tc.want.body == "" {
				assert.Empty(t, fs.frames[0].body)
			} else {
				assert.JSONEq(t, tc.want.body, fs.frames[0].body)
			}
		})
	}
}

func Test_DispatcherErrors(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		var seen []string
		d := New("r", func() Sender { return nil }, func(cmd string, err error) {
			if err != nil {
				seen = append(seen, cmd)
			}
		})
		assert.ErrorIs(t, d.Join(), ErrNotConnected)
		assert.Equal(t, []string{CmdJoin}, seen)
	})

	t.Run("empty content", func(t *testing.T) {
		fs := &fakeSender{}
		d := New("r", func() Sender { return fs }, nil)
		assert.ErrorIs(t, d.Send("   "), ErrEmptyContent)
		assert.ErrorIs(t, d.Reply(model.ID("1"), ""), ErrEmptyContent)
		assert.Empty(t, fs.frames)
	})

	t.Run("transport failure is wrapped and not retried", func(t *testing.T) {
		boom := errors.New("broken pipe")
		fs := &fakeSender{err: boom}
		d := New("r", func() Sender { return fs }, nil)
		err := d.Send("hello")
		assert.ErrorIs(t, err, boom)
		assert.Len(t, fs.frames, 1)
	})
}
