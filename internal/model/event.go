package model

// 订阅主题上的入站负载

// ReceiptEvent 投递/已读回执
type ReceiptEvent struct {
	MessageID ID       `json:"messageId"`
	Status    Status   `json:"status"`
	ReadBy    []string `json:"readBy,omitempty"`
}

// ReactionEvent 表情回应快照
// Username/Emoji 描述触发这次变化的用户及其当前表情
type ReactionEvent struct {
	MessageID      ID                  `json:"messageId"`
	Reactions      map[string][]string `json:"reactions"`
	ReactionCounts map[string]int      `json:"reactionCounts"`
	TotalReactions int                 `json:"totalReactions"`
	Username       string              `json:"username"`
	Emoji          string              `json:"emoji"`
}

const ReplyEventType = "REPLY"

// ReplyEvent 回复数变化
type ReplyEvent struct {
	Type            string `json:"type"`
	ParentMessageID ID     `json:"parentMessageId"`
	ReplyCount      int    `json:"replyCount"`
}

const (
	UserJoined = "USER_JOINED"
	UserLeft   = "USER_LEFT"
)

// StatusEvent 成员进出通知
type StatusEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// UsersEvent 在线用户全量列表
type UsersEvent struct {
	Users []string `json:"users"`
}

const (
	TypingStart = "TYPING_START"
	TypingStop  = "TYPING_STOP"
)

// TypingEvent 输入状态
type TypingEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// ErrorEvent 个人错误队列中的消息
type ErrorEvent struct {
	Message string `json:"message"`
}
