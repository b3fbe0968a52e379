package receipt

import (
	"im-client/internal/model"

	"go.uber.org/zap"
)

// ReadThreshold 消息可见比例达到该值视为已读
const ReadThreshold = 0.5

// Announcer 对外宣告送达/已读
type Announcer interface {
	MarkDelivered(id model.ID) error
	MarkRead(id model.ID) error
}

// Tracker 决定何时对外宣告当前用户的送达/已读状态
// 消息自身的状态只由入站回执驱动，这里不做计算
type Tracker struct {
	viewer    string
	ledger    *Ledger
	announcer Announcer
	threshold float64
	logger    *zap.Logger
}

// Option 可选配置
type Option func(*Tracker)

func WithThreshold(v float64) Option {
	return func(t *Tracker) {
		if v > 0 && v <= 1 {
			t.threshold = v
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

func New(viewer string, announcer Announcer, opts ...Option) *Tracker {
	t := &Tracker{
		viewer:    viewer,
		ledger:    NewLedger(),
		announcer: announcer,
		threshold: ReadThreshold,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Observe 本地首次看到他人消息时宣告送达，每个ID至多一次
func (t *Tracker) Observe(msg model.Message) bool {
	if msg.ID == "" || msg.Sender == t.viewer {
		return false
	}
	// 先记账再发送：断线期间发送失败的送达在本会话内不再补发
	if !t.ledger.MarkDelivered(msg.ID) {
		return false
	}
	if err := t.announcer.MarkDelivered(msg.ID); err != nil {
		t.logger.Debug("宣告送达失败", zap.String("message_id", msg.ID.String()), zap.Error(err))
	}
	return true
}

// Visible 可见比例越过阈值时宣告已读，每个ID至多一次
func (t *Tracker) Visible(id model.ID, sender string, ratio float64) bool {
	if id == "" || sender == t.viewer || ratio < t.threshold {
		return false
	}
	if !t.ledger.MarkRead(id) {
		return false
	}
	if err := t.announcer.MarkRead(id); err != nil {
		t.logger.Debug("宣告已读失败", zap.String("message_id", id.String()), zap.Error(err))
	}
	return true
}

// Reset 清空宣告记录，仅在会话结束时调用
func (t *Tracker) Reset() { t.ledger.Reset() }
