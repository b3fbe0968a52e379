package receipt

import (
	"errors"
	"testing"

	"im-client/internal/model"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	delivered []model.ID
	read      []model.ID
	err       error
}

func (r *recorder) MarkDelivered(id model.ID) error {
	r.delivered = append(r.delivered, id)
	return r.err
}

func (r *recorder) MarkRead(id model.ID) error {
	r.read = append(r.read, id)
	return r.err
}

func Test_Observe(t *testing.T) {
	t.Run("duplicate deliveries announce once", func(t *testing.T) {
		rec := &recorder{}
		tr := New("alice", rec)
		m := model.Message{ID: "1", Sender: "bob"}
		for i := 0; i < 5; i++ {
			tr.Observe(m)
		}
		assert.Equal(t, []model.ID{"1"}, rec.delivered)
	})

	t.Run("own messages are exempt", func(t *testing.T) {
		rec := &recorder{}
		tr := New("alice", rec)
		assert.False(t, tr.Observe(model.Message{ID: "1", Sender: "alice"}))
		assert.Empty(t, rec.delivered)
	})

	t.Run("failed announcement is not repeated", func(t *testing.T) {
		rec := &recorder{err: errors.New("not connected")}
		tr := New("alice", rec)
		m := model.Message{ID: "1", Sender: "bob"}
		assert.True(t, tr.Observe(m))
		assert.False(t, tr.Observe(m))
		assert.Len(t, rec.delivered, 1)
	})
}

func Test_Visible(t *testing.T) {
	cases := []struct {
		name   string
		sender string
		ratios []float64
		want   int
	}{
		{"below threshold", "bob", []float64{0.1, 0.49}, 0},
		{"crossing many times", "bob", []float64{0.5, 0.9, 1, 0.6}, 1},
		{"own message", "alice", []float64{1}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			tr := New("alice", rec)
			for _, r := range tc.ratios {
				tr.Visible("7", tc.sender, r)
			}
			assert.Len(t, rec.read, tc.want)
		})
	}

	t.Run("reset allows a fresh session to announce again", func(t *testing.T) {
		rec := &recorder{}
		tr := New("alice", rec)
		tr.Visible("7", "bob", 1)
		tr.Reset()
		tr.Visible("7", "bob", 1)
		assert.Len(t, rec.read, 2)
	})

	t.Run("custom threshold", func(t *testing.T) {
		rec := &recorder{}
		tr := New("alice", rec, WithThreshold(0.8))
		tr.Visible("7", "bob", 0.6)
		assert.Empty(t, rec.read)
		tr.Visible("7", "bob", 0.8)
		assert.Len(t, rec.read, 1)
	})
}
