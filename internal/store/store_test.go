package store

import (
	"testing"
	"time"

	"im-client/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id string, ts int64) model.Message {
	return model.Message{ID: model.ID(id), Sender: "bob", Timestamp: time.Unix(ts, 0), Status: model.StatusSent}
}

func ids(msgs []model.Message) []model.ID {
	out := make([]model.ID, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func Test_Seed(t *testing.T) {
	t.Run("newest first page becomes chronological", func(t *testing.T) {
		s := NewStore()
		s.Seed([]model.Message{msg("2", 20), msg("1", 10)})
		assert.Equal(t, []model.ID{"1", "2"}, ids(s.Snapshot()))
	})

	t.Run("equal timestamps order by id", func(t *testing.T) {
		s := NewStore()
		s.Seed([]model.Message{msg("3", 10), msg("10", 10), msg("2", 10)})
		assert.Equal(t, []model.ID{"2", "3", "10"}, ids(s.Snapshot()))
	})

	t.Run("reseed merges and drops duplicates", func(t *testing.T) {
		s := NewStore()
		s.Seed([]model.Message{msg("1", 10)})
		s.Seed([]model.Message{msg("5", 50), msg("4", 40), msg("4", 40)})
		assert.Equal(t, []model.ID{"1", "4", "5"}, ids(s.Snapshot()), "older messages outside the page stay in front")
	})

	t.Run("reseed keeps realtime messages", func(t *testing.T) {
		s := NewStore()
		s.Seed([]model.Message{msg("1", 10)})
		require.True(t, s.Append(msg("3", 30)))

		s.Seed([]model.Message{msg("2", 20), msg("1", 10)})
		assert.Equal(t, []model.ID{"1", "2", "3"}, ids(s.Snapshot()))
		assert.Equal(t, 3, s.Len())
	})

	t.Run("reseed never regresses status", func(t *testing.T) {
		s := NewStore()
		s.Seed([]model.Message{msg("1", 10)})
		require.True(t, s.ApplyReceipt("1", model.StatusRead, "carol"))

		s.Seed([]model.Message{msg("1", 10)})
		m, ok := s.Get("1")
		require.True(t, ok)
		assert.Equal(t, model.StatusRead, m.Status)
		assert.Equal(t, []string{"carol"}, m.ReadBy)
	})
}

func Test_Append(t *testing.T) {
	s := NewStore()
	s.Seed([]model.Message{msg("2", 20), msg("1", 10)})

	assert.False(t, s.Append(msg("1", 10)), "echo of a seeded message is not appended")
	assert.True(t, s.Append(msg("0", 5)), "realtime messages go to the end")
	assert.False(t, s.Append(model.Message{}), "messages without id are dropped")

	assert.Equal(t, []model.ID{"1", "2", "0"}, ids(s.Snapshot()))
	assert.Equal(t, 3, s.Len())
}

func Test_ApplyReceipt(t *testing.T) {
	t.Run("never regresses", func(t *testing.T) {
		s := NewStore()
		s.Seed([]model.Message{msg("2", 20), msg("1", 10)})

		assert.True(t, s.ApplyReceipt("1", model.StatusRead, "carol"))
		assert.False(t, s.ApplyReceipt("1", model.StatusDelivered))

		m, ok := s.Get("1")
		require.True(t, ok)
		assert.Equal(t, model.StatusRead, m.Status)
		assert.Equal(t, []string{"carol"}, m.ReadBy)
	})

	orders := [][]model.Status{
		{model.StatusDelivered, model.StatusRead},
		{model.StatusRead, model.StatusDelivered},
		{model.StatusDelivered, model.StatusDelivered},
		{model.StatusSent, model.StatusDelivered, model.StatusSent},
	}
	for _, seq := range orders {
		s := NewStore()
		s.Append(msg("1", 1))
		want := model.StatusSent
		prev := 0
		for _, st := range seq {
			s.ApplyReceipt("1", st)
			if st.Rank() > want.Rank() {
				want = st
			}
			m, _ := s.Get("1")
			assert.GreaterOrEqual(t, m.Status.Rank(), prev, "status regressed for %v", seq)
			prev = m.Status.Rank()
		}
		m, _ := s.Get("1")
		assert.Equal(t, want, m.Status, "sequence %v", seq)
	}

	t.Run("unknown id and status are ignored", func(t *testing.T) {
		s := NewStore()
		s.Append(msg("1", 1))
		assert.False(t, s.ApplyReceipt("9", model.StatusRead))
		assert.False(t, s.ApplyReceipt("1", model.Status("SEEN")))
	})
}

func Test_ApplyReactionSnapshot(t *testing.T) {
	t.Run("replaces prior state", func(t *testing.T) {
		s := NewStore()
		s.Append(msg("5", 1))
		s.ApplyReactionSnapshot("5", ReactionSnapshot{
			Reactors: map[string][]string{"❤️": {"alice", "bob"}, "😂": {"carol"}},
			Actor:    "carol", ActorEmoji: "😂",
		}, "alice")

		ok := s.ApplyReactionSnapshot("5", ReactionSnapshot{
			Reactors: map[string][]string{"👍": {"dave"}},
			Counts:   map[string]int{"👍": 7},
			Total:    7,
			Actor:    "dave", ActorEmoji: "👍",
		}, "alice")
		require.True(t, ok)

		m, _ := s.Get("5")
		assert.Equal(t, map[string][]string{"👍": {"dave"}}, m.Reactions.Reactors)
		assert.Equal(t, map[string]int{"👍": 1}, m.Reactions.Counts, "counts follow the reactor sets")
		assert.Equal(t, 1, m.Reactions.Total)
		assert.Empty(t, m.Reactions.UserReaction, "other users do not touch the viewer's reaction")
	})

	t.Run("viewer reaction follows own events", func(t *testing.T) {
		s := NewStore()
		m := msg("5", 1)
		m.Reactions.UserReaction = "❤️"
		s.Append(m)

		s.ApplyReactionSnapshot("5", ReactionSnapshot{
			Reactors: map[string][]string{"👍": {"alice"}},
			Actor:    "alice", ActorEmoji: "👍",
		}, "alice")
		got, _ := s.Get("5")
		assert.Equal(t, "👍", got.Reactions.UserReaction)

		s.ApplyReactionSnapshot("5", ReactionSnapshot{
			Reactors: map[string][]string{"👍": {"alice", "bob"}},
			Actor:    "bob", ActorEmoji: "👍",
		}, "alice")
		got, _ = s.Get("5")
		assert.Equal(t, "👍", got.Reactions.UserReaction)
		assert.Equal(t, 2, got.Reactions.Total)

		s.ApplyReactionSnapshot("5", ReactionSnapshot{
			Reactors: map[string][]string{"👍": {"bob"}},
			Actor:    "alice",
		}, "alice")
		got, _ = s.Get("5")
		assert.Empty(t, got.Reactions.UserReaction, "an empty emoji means the viewer removed it")
	})

	t.Run("counts only payload", func(t *testing.T) {
		s := NewStore()
		s.Append(msg("5", 1))
		s.ApplyReactionSnapshot("5", ReactionSnapshot{Counts: map[string]int{"🔥": 2}, Total: 2}, "alice")
		got, _ := s.Get("5")
		assert.Equal(t, 2, got.Reactions.Counts["🔥"])
		assert.Equal(t, 2, got.Reactions.Total)
	})

	t.Run("unknown id", func(t *testing.T) {
		assert.False(t, NewStore().ApplyReactionSnapshot("1", ReactionSnapshot{}, "alice"))
	})
}

func Test_ApplyReplyDelta(t *testing.T) {
	s := NewStore()
	s.Seed([]model.Message{msg("1", 10)})

	assert.True(t, s.ApplyReplyDelta("1", 3))
	assert.False(t, s.ApplyReplyDelta("9", 1))

	m, _ := s.Get("1")
	assert.True(t, m.Thread.HasReplies)
	assert.Equal(t, 3, m.Thread.ReplyCount)
	assert.Equal(t, 1, s.Len(), "replies never enter the main sequence")
}

func Test_SnapshotIsolation(t *testing.T) {
	s := NewStore()
	s.Append(msg("1", 1))
	snap := s.Snapshot()
	snap[0].Content = "changed"

	m, _ := s.Get("1")
	assert.Empty(t, m.Content)
}
