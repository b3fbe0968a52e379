package session

import (
	"errors"

	"im-client/internal/model"
)

// Send 发送一条文本消息；消息只在服务端回显后进入列表
func (s *Session) Send(content string) error {
	var err error
	if derr := s.do(func() {
		s.typing.MessageSent()
		err = s.dispatcher.Send(content)
		s.userActionFailed(err, "Failed to send message")
	}); derr != nil {
		return derr
	}
	return err
}

// Reply 在线程中回复
func (s *Session) Reply(parentID model.ID, content string) error {
	var err error
	if derr := s.do(func() {
		err = s.dispatcher.Reply(parentID, content)
		s.userActionFailed(err, "Failed to send message")
	}); derr != nil {
		return derr
	}
	return err
}

// ToggleReaction 已是当前表情时取消，否则添加；emoji 为空时什么也不做
func (s *Session) ToggleReaction(id model.ID, emoji string) error {
	if emoji == "" {
		return nil
	}
	var err error
	if derr := s.do(func() {
		current := ""
		if msg, ok := s.store.Get(id); ok {
			current = msg.Reactions.UserReaction
		}
		if current == emoji {
			err = s.dispatcher.ReactionRemove(id, emoji)
		} else {
			err = s.dispatcher.ReactionAdd(id, emoji)
		}
		s.userActionFailed(err, "Failed to send message")
	}); derr != nil {
		return derr
	}
	return err
}

func (s *Session) userActionFailed(err error, text string) {
	switch {
	case err == nil, errors.Is(err, ErrEmptyContent):
	case errors.Is(err, ErrNotConnected):
		s.notice(model.NoticeError, "Not connected to chat")
	default:
		s.notice(model.NoticeError, text)
	}
}

// Keystroke 输入框有输入
func (s *Session) Keystroke() error {
	return s.do(s.typing.Keystroke)
}

// Visible 消息在视口中的可见比例变化
func (s *Session) Visible(id model.ID, ratio float64) error {
	return s.do(func() {
		msg, ok := s.store.Get(id)
		if !ok {
			return
		}
		s.receipts.Visible(id, msg.Sender, ratio)
	})
}

// Seed 把一页历史消息（新的在前）合并进消息列表，已收到的实时消息保留
func (s *Session) Seed(page []model.Message) error {
	return s.do(func() {
		s.store.Seed(page)
		for _, msg := range page {
			s.receipts.Observe(msg)
		}
		s.dirty = true
	})
}

// Get 按ID读取消息
func (s *Session) Get(id model.ID) (model.Message, bool, error) {
	var (
		msg model.Message
		ok  bool
	)
	err := s.do(func() {
		msg, ok = s.store.Get(id)
	})
	return msg, ok, err
}

// Notify 记录一条由外部流程产生的提示，例如附件上传
func (s *Session) Notify(level model.NoticeLevel, text string) error {
	return s.do(func() { s.notice(level, text) })
}
