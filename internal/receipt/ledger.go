package receipt

import "im-client/internal/model"

// Ledger 已对外宣告过送达/已读的消息ID
// 只在会话结束时清空
type Ledger struct {
	delivered map[model.ID]struct{}
	read      map[model.ID]struct{}
}

func NewLedger() *Ledger {
	l := &Ledger{}
	l.Reset()
	return l
}

// MarkDelivered 首次记录时返回 true
func (l *Ledger) MarkDelivered(id model.ID) bool {
	return mark(l.delivered, id)
}

// MarkRead 首次记录时返回 true
func (l *Ledger) MarkRead(id model.ID) bool {
	return mark(l.read, id)
}

func (l *Ledger) Reset() {
	l.delivered = make(map[model.ID]struct{})
	l.read = make(map[model.ID]struct{})
}

func mark(set map[model.ID]struct{}, id model.ID) bool {
	if _, ok := set[id]; ok {
		return false
	}
	set[id] = struct{}{}
	return true
}
