package model

import "time"

// ConnState 连接状态
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	default:
		return "DISCONNECTED"
	}
}

func (s ConnState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// NoticeLevel 提示级别
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice 面向用户的非致命提示
type Notice struct {
	Level NoticeLevel `json:"level"`
	Text  string      `json:"text"`
	Time  time.Time   `json:"time"`
}

// Snapshot 发布给渲染层的只读快照
// 每次状态变化都会生成一个新快照，渲染层不得修改其中内容
type Snapshot struct {
	Version  uint64    `json:"version"`
	RoomID   string    `json:"roomId"`
	Viewer   string    `json:"viewer"`
	State    ConnState `json:"state"`
	Messages []Message `json:"messages"`
	Online   []string  `json:"online"`
	Typing   []string  `json:"typing"`
	// TypingText 例如 "alice is typing..."，没有人输入时为空
	TypingText string `json:"typingText,omitempty"`
	Encrypted  bool   `json:"encrypted"`
}

// Find 按ID查找快照中的消息
func (s *Snapshot) Find(id ID) (Message, bool) {
	for _, m := range s.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}
