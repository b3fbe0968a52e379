package presence

import (
	"time"

	"im-client/pkg/clock"

	"go.uber.org/zap"
)

// DefaultTypingIdle 最后一次按键后多久发送停止输入
const DefaultTypingIdle = 3 * time.Second

// TypingEmitter 输入状态的出站意图
type TypingEmitter interface {
	TypingStart() error
	TypingStop() error
}

// TypingDebouncer 本地输入状态去抖
// 所有方法和定时器回调都必须在会话事件循环中执行，post 负责把回调投递回循环
type TypingDebouncer struct {
	clock  clock.Clock
	idle   time.Duration
	emit   TypingEmitter
	post   func(func())
	logger *zap.Logger

	typing bool
	timer  *clock.Timer
	gen    uint64
}

func NewTypingDebouncer(c clock.Clock, idle time.Duration, emit TypingEmitter, post func(func()), logger *zap.Logger) *TypingDebouncer {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	if post == nil {
		post = func(f func()) { f() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TypingDebouncer{clock: c, idle: idle, emit: emit, post: post, logger: logger}
}

// Keystroke 空闲后的第一次按键发送开始输入，每次按键都重新计时
func (d *TypingDebouncer) Keystroke() {
	if !d.typing {
		d.typing = true
		if err := d.emit.TypingStart(); err != nil {
			d.logger.Debug("发送开始输入失败", zap.Error(err))
		}
	}
	d.arm()
}

// MessageSent 发送消息时立即停止输入状态
func (d *TypingDebouncer) MessageSent() {
	d.stopTimer()
	d.stop()
}

// Cancel 只取消定时器，不发送任何意图
func (d *TypingDebouncer) Cancel() {
	d.stopTimer()
	d.typing = false
}

// Typing 当前是否处于输入状态
func (d *TypingDebouncer) Typing() bool { return d.typing }

func (d *TypingDebouncer) arm() {
	d.stopTimer()
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.idle, func() {
		d.post(func() {
			// 已被重新计时或取消的旧定时器直接丢弃
			if gen != d.gen || d.timer == nil {
				return
			}
			d.timer = nil
			d.stop()
		})
	})
}

func (d *TypingDebouncer) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

func (d *TypingDebouncer) stop() {
	if !d.typing {
		return
	}
	d.typing = false
	if err := d.emit.TypingStop(); err != nil {
		d.logger.Debug("发送停止输入失败", zap.Error(err))
	}
}
