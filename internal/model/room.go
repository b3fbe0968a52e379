package model

// Room 服务端房间
type Room struct {
	RoomID string `json:"roomId"`
}

// ThreadInfo 某条消息的线程概况
type ThreadInfo struct {
	ParentID   ID       `json:"parentMessageId"`
	Parent     *Message `json:"parentMessage,omitempty"`
	ReplyCount int      `json:"replyCount"`
	HasReplies bool     `json:"hasReplies"`
}
