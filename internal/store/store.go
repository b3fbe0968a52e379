package store

import (
	"sort"

	"im-client/internal/model"
)

// Store 单个房间的有序消息集合
// 只由会话事件循环访问，不做加锁
type Store struct {
	order []*model.Message
	index map[model.ID]*model.Message
}

// NewStore 创建空的消息存储
func NewStore() *Store {
	return &Store{index: make(map[model.ID]*model.Message)}
}

// ReactionSnapshot 服务端推送的完整回应状态及触发者
type ReactionSnapshot struct {
	Reactors   map[string][]string
	Counts     map[string]int
	Total      int
	Actor      string
	ActorEmoji string
}

// SnapshotFromEvent 由回应事件构造快照
func SnapshotFromEvent(e model.ReactionEvent) ReactionSnapshot {
	return ReactionSnapshot{
		Reactors:   e.Reactions,
		Counts:     e.ReactionCounts,
		Total:      e.TotalReactions,
		Actor:      e.Username,
		ActorEmoji: e.Emoji,
	}
}

// Seed 把历史页合并进存储，不删除任何已有消息
// page 为服务端返回的倒序页，按时间正序重建；页中没有的已有消息
// 早于页中最早一条的放在前面，其余（例如实时追加的）按原顺序接在后面
// 同一消息的状态取较高者
func (s *Store) Seed(page []model.Message) {
	prev, prevIndex := s.order, s.index
	s.order = make([]*model.Message, 0, len(prev)+len(page))
	s.index = make(map[model.ID]*model.Message, len(prev)+len(page))

	chrono := make([]model.Message, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		chrono = append(chrono, page[i])
	}
	sort.SliceStable(chrono, func(i, j int) bool { return chrono[i].Before(chrono[j]) })

	inPage := make(map[model.ID]bool, len(chrono))
	for i := range chrono {
		inPage[chrono[i].ID] = true
	}
	if len(chrono) > 0 {
		for _, m := range prev {
			if !inPage[m.ID] && m.Before(chrono[0]) {
				s.keep(m)
			}
		}
	}

	for i := range chrono {
		m := chrono[i]
		if old, ok := prevIndex[m.ID]; ok && old.Status.Rank() > m.Status.Rank() {
			m.Status = old.Status
			m.ReadBy = append([]string(nil), old.ReadBy...)
		}
		s.Append(m)
	}

	for _, m := range prev {
		if _, ok := s.index[m.ID]; !ok {
			s.keep(m)
		}
	}
}

func (s *Store) keep(m *model.Message) {
	s.order = append(s.order, m)
	s.index[m.ID] = m
}

// Append 追加到末尾，重复ID不再写入
func (s *Store) Append(msg model.Message) bool {
	if msg.ID == "" {
		return false
	}
	if _, ok := s.index[msg.ID]; ok {
		return false
	}
	m := msg.Clone()
	if !m.Status.Valid() {
		m.Status = model.StatusSent
	}
	s.order = append(s.order, &m)
	s.index[m.ID] = &m
	return true
}

// ApplyReceipt 仅在新状态级别更高时升级，状态不会回退
func (s *Store) ApplyReceipt(id model.ID, status model.Status, readBy ...string) bool {
	m, ok := s.index[id]
	if !ok || !status.Valid() {
		return false
	}
	if status.Rank() <= m.Status.Rank() {
		return false
	}
	m.Status = status
	if len(readBy) > 0 {
		m.ReadBy = append([]string(nil), readBy...)
	}
	return true
}

// ApplyReactionSnapshot 整体替换回应状态
// 只有触发者是当前用户时才更新 UserReaction
func (s *Store) ApplyReactionSnapshot(id model.ID, snap ReactionSnapshot, viewer string) bool {
	m, ok := s.index[id]
	if !ok {
		return false
	}

	next := normalize(snap)
	next.UserReaction = m.Reactions.UserReaction
	if snap.Actor != "" && snap.Actor == viewer {
		next.UserReaction = snap.ActorEmoji
	}
	m.Reactions = next
	return true
}

// normalize 计数以回应者集合为准
func normalize(snap ReactionSnapshot) model.ReactionState {
	st := model.ReactionState{
		Reactors: make(map[string][]string, len(snap.Reactors)),
		Counts:   make(map[string]int, len(snap.Reactors)),
	}
	for emoji, users := range snap.Reactors {
		if len(users) == 0 {
			continue
		}
		st.Reactors[emoji] = append([]string(nil), users...)
		st.Counts[emoji] = len(users)
		st.Total += len(users)
	}
	// 缺少回应者名单时退回使用服务端计数
	if len(snap.Reactors) == 0 {
		for emoji, n := range snap.Counts {
			if n <= 0 {
				continue
			}
			st.Counts[emoji] = n
			st.Total += n
		}
		if st.Total == 0 {
			st.Total = snap.Total
		}
	}
	return st
}

// ApplyReplyDelta 只更新父消息的回复计数，回复本身不进入主序列
func (s *Store) ApplyReplyDelta(parentID model.ID, replyCount int) bool {
	m, ok := s.index[parentID]
	if !ok {
		return false
	}
	if replyCount < 0 {
		replyCount = 0
	}
	m.Thread.ReplyCount = replyCount
	m.Thread.HasReplies = true
	return true
}

// Get 按ID返回消息副本
func (s *Store) Get(id model.ID) (model.Message, bool) {
	m, ok := s.index[id]
	if !ok {
		return model.Message{}, false
	}
	return m.Clone(), true
}

func (s *Store) Len() int { return len(s.order) }

// Snapshot 返回按展示顺序排列的深拷贝
func (s *Store) Snapshot() []model.Message {
	out := make([]model.Message, 0, len(s.order))
	for _, m := range s.order {
		out = append(out, m.Clone())
	}
	return out
}

// Reset 清空存储
func (s *Store) Reset() {
	s.order = nil
	s.index = make(map[model.ID]*model.Message)
}
