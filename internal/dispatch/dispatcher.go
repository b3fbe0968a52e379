package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"im-client/internal/model"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrEmptyContent = errors.New("empty content")
)

// 出站命令
const (
	CmdJoin           = "join"
	CmdLeave          = "leave"
	CmdSend           = "sendMessage"
	CmdReply          = "reply"
	CmdReactionAdd    = "reaction/add"
	CmdReactionRemove = "reaction/remove"
	CmdTypingStart    = "typing/start"
	CmdTypingStop     = "typing/stop"
	CmdDelivered      = "delivered"
	CmdRead           = "read"
)

// Sender 传输层的发送能力
type Sender interface {
	Send(destination string, body []byte) error
}

// Dispatcher 格式化并发出房间级意图
// 每个意图只发送一次，不等待应答，也不重试
type Dispatcher struct {
	roomID  string
	sender  func() Sender
	observe func(cmd string, err error)
}

// New sender 返回当前连接，未连接时返回 nil
func New(roomID string, sender func() Sender, observe func(cmd string, err error)) *Dispatcher {
	if observe == nil {
		observe = func(string, error) {}
	}
	return &Dispatcher{roomID: roomID, sender: sender, observe: observe}
}

// Destination 房间命令的目标地址
func Destination(cmd, roomID string) string {
	return "/app/" + cmd + "/" + roomID
}

type sendBody struct {
	Content string `json:"content"`
	RoomID  string `json:"roomId"`
}

type replyBody struct {
	ParentMessageID model.ID `json:"parentMessageId"`
	Content         string   `json:"content"`
}

type reactionBody struct {
	MessageID model.ID `json:"messageId"`
	Emoji     string   `json:"emoji"`
}

type ackBody struct {
	MessageID model.ID `json:"messageId"`
}

func (d *Dispatcher) Join() error        { return d.emit(CmdJoin, nil) }
func (d *Dispatcher) Leave() error       { return d.emit(CmdLeave, nil) }
func (d *Dispatcher) TypingStart() error { return d.emit(CmdTypingStart, nil) }
func (d *Dispatcher) TypingStop() error  { return d.emit(CmdTypingStop, nil) }

// Send 发送消息；消息只在服务端回显后进入存储
func (d *Dispatcher) Send(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyContent
	}
	return d.emit(CmdSend, sendBody{Content: content, RoomID: d.roomID})
}

func (d *Dispatcher) Reply(parentID model.ID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyContent
	}
	return d.emit(CmdReply, replyBody{ParentMessageID: parentID, Content: content})
}

func (d *Dispatcher) ReactionAdd(id model.ID, emoji string) error {
	return d.emit(CmdReactionAdd, reactionBody{MessageID: id, Emoji: emoji})
}

func (d *Dispatcher) ReactionRemove(id model.ID, emoji string) error {
	return d.emit(CmdReactionRemove, reactionBody{MessageID: id, Emoji: emoji})
}

func (d *Dispatcher) MarkDelivered(id model.ID) error {
	return d.emit(CmdDelivered, ackBody{MessageID: id})
}

func (d *Dispatcher) MarkRead(id model.ID) error {
	return d.emit(CmdRead, ackBody{MessageID: id})
}

func (d *Dispatcher) emit(cmd string, body any) (err error) {
	defer func() { d.observe(cmd, err) }()

	var s Sender
	if d.sender != nil {
		s = d.sender()
	}
	if s == nil {
		return ErrNotConnected
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", cmd, err)
		}
	}
	if err = s.Send(Destination(cmd, d.roomID), payload); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	return nil
}
