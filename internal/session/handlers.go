package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"im-client/internal/model"
	"im-client/internal/store"

	"go.uber.org/zap"
)

// ErrorQueue 个人错误队列
const ErrorQueue = "/user/queue/errors"

// RoomTopic 房间主题，suffix 为空时是消息主题
func RoomTopic(roomID, suffix string) string {
	if suffix == "" {
		return "/topic/room/" + roomID
	}
	return "/topic/room/" + roomID + "/" + suffix
}

func (s *Session) registerHandlers() {
	room := s.cfg.RoomID
	s.router.Handle(RoomTopic(room, ""), s.handleMessage)
	s.router.Handle(RoomTopic(room, "receipts"), s.handleReceipt)
	s.router.Handle(RoomTopic(room, "reactions"), s.handleReaction)
	s.router.Handle(RoomTopic(room, "replies"), s.handleReply)
	s.router.Handle(RoomTopic(room, "status"), s.handleStatus)
	s.router.Handle(RoomTopic(room, "users"), s.handleUsers)
	s.router.Handle(RoomTopic(room, "typing"), s.handleTyping)
	s.router.Handle(ErrorQueue, s.handleError)
}

func (s *Session) onHandlerError(topic string, err error) {
	kind := strings.TrimPrefix(topic, RoomTopic(s.cfg.RoomID, ""))
	kind = strings.TrimPrefix(kind, "/")
	if kind == "" {
		kind = "message"
	}
	s.notice(model.NoticeError, fmt.Sprintf("Ignored malformed %s update", kind))
}

func (s *Session) handleMessage(body []byte) error {
	var msg model.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("解析消息失败: %w", err)
	}
	// 回复也直接追加，带着 ParentPreview 行内展示；父消息计数只由 replies 主题更新
	if !s.store.Append(msg) {
		return nil
	}
	s.dirty = true
	s.receipts.Observe(msg)
	return nil
}

func (s *Session) handleReceipt(body []byte) error {
	var ev model.ReceiptEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("解析回执失败: %w", err)
	}
	if s.store.ApplyReceipt(ev.MessageID, model.ParseStatus(string(ev.Status)), ev.ReadBy...) {
		s.dirty = true
	}
	return nil
}

func (s *Session) handleReaction(body []byte) error {
	var ev model.ReactionEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("解析表情回应失败: %w", err)
	}
	if s.store.ApplyReactionSnapshot(ev.MessageID, store.SnapshotFromEvent(ev), s.cfg.Viewer) {
		s.dirty = true
	}
	return nil
}

func (s *Session) handleReply(body []byte) error {
	var ev model.ReplyEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("解析回复事件失败: %w", err)
	}
	if ev.Type != model.ReplyEventType {
		return nil
	}
	if s.store.ApplyReplyDelta(ev.ParentMessageID, ev.ReplyCount) {
		s.dirty = true
	}
	return nil
}

func (s *Session) handleStatus(body []byte) error {
	var ev model.StatusEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("解析成员状态失败: %w", err)
	}
	switch ev.Type {
	case model.UserJoined:
		s.notice(model.NoticeSuccess, ev.Username+" joined the room")
	case model.UserLeft:
		s.notice(model.NoticeInfo, ev.Username+" left the room")
	default:
		s.logger.Debug("忽略未知成员状态", zap.String("type", ev.Type))
	}
	return nil
}

func (s *Session) handleUsers(body []byte) error {
	var ev model.UsersEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("解析在线列表失败: %w", err)
	}
	s.presence.ReplaceOnline(ev.Users)
	s.dirty = true
	return nil
}

func (s *Session) handleTyping(body []byte) error {
	var ev model.TypingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("解析输入状态失败: %w", err)
	}
	if s.presence.Typing(ev.Type, ev.Username) {
		s.dirty = true
	}
	return nil
}

// handleError 错误队列可能是 JSON 也可能是纯文本
func (s *Session) handleError(body []byte) error {
	text := strings.TrimSpace(string(body))
	var ev model.ErrorEvent
	if err := json.Unmarshal(body, &ev); err == nil {
		text = ev.Message
	}
	if text == "" {
		text = "WebSocket error"
	}
	s.notice(model.NoticeError, text)
	return nil
}
