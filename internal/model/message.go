package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID 房间内唯一的消息ID
// 服务端可能下发字符串或数字，统一按字符串处理
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid message id %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Status 消息投递状态：SENT < DELIVERED < READ，只升不降
type Status string

const (
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
)

// Rank 返回状态的序号，未知状态为 0
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

func (s Status) Valid() bool { return s.Rank() > 0 }

// ParseStatus 大小写不敏感地解析状态
func ParseStatus(v string) Status {
	return Status(strings.ToUpper(strings.TrimSpace(v)))
}

// Message 消息实体
type Message struct {
	ID         ID
	Sender     string
	Content    string
	Timestamp  time.Time
	Status     Status
	ReadBy     []string
	Attachment Attachment
	Reactions  ReactionState
	Thread     ThreadState
}

// ParentPreview 回复消息中父消息的预览
type ParentPreview struct {
	ID      ID     `json:"id"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// ThreadState 线程状态
// 回复本身不进入主消息序列，打开线程时再按需拉取
type ThreadState struct {
	IsReply       bool
	ParentID      ID
	ParentPreview *ParentPreview
	ReplyCount    int
	HasReplies    bool
}

// ReactionState 表情回应状态，总是整体替换为服务端快照
type ReactionState struct {
	Reactors     map[string][]string
	Counts       map[string]int
	Total        int
	UserReaction string
}

// Clone 深拷贝
func (r ReactionState) Clone() ReactionState {
	out := ReactionState{Total: r.Total, UserReaction: r.UserReaction}
	if r.Reactors != nil {
		out.Reactors = make(map[string][]string, len(r.Reactors))
		for e, users := range r.Reactors {
			out.Reactors[e] = append([]string(nil), users...)
		}
	}
	if r.Counts != nil {
		out.Counts = make(map[string]int, len(r.Counts))
		for e, n := range r.Counts {
			out.Counts[e] = n
		}
	}
	return out
}

// Clone 深拷贝消息，快照中只暴露副本
func (m Message) Clone() Message {
	out := m
	out.ReadBy = append([]string(nil), m.ReadBy...)
	out.Reactions = m.Reactions.Clone()
	if m.Thread.ParentPreview != nil {
		p := *m.Thread.ParentPreview
		out.Thread.ParentPreview = &p
	}
	return out
}

// Before 展示顺序 (timestamp, id) 升序
func (m Message) Before(other Message) bool {
	if !m.Timestamp.Equal(other.Timestamp) {
		return m.Timestamp.Before(other.Timestamp)
	}
	return lessID(m.ID, other.ID)
}

// lessID 数字ID按数值比较，其余按字典序
func lessID(a, b ID) bool {
	ai, aerr := strconv.ParseInt(string(a), 10, 64)
	bi, berr := strconv.ParseInt(string(b), 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

// wireMessage 服务端消息的扁平JSON结构
type wireMessage struct {
	ID              ID                  `json:"id"`
	Sender          string              `json:"sender"`
	Content         string              `json:"content"`
	Timestamp       *FlexTime           `json:"timestamp,omitempty"`
	TimeStamp       *FlexTime           `json:"timeStamp,omitempty"`
	CreatedAt       *FlexTime           `json:"createdAt,omitempty"`
	Status          Status              `json:"status,omitempty"`
	ReadBy          []string            `json:"readBy,omitempty"`
	HasAttachment   bool                `json:"hasAttachment"`
	AttachmentType  string              `json:"attachmentType,omitempty"`
	AttachmentURL   string              `json:"attachmentUrl,omitempty"`
	AttachmentName  string              `json:"attachmentName,omitempty"`
	AttachmentSize  int64               `json:"attachmentSize,omitempty"`
	Reactions       map[string][]string `json:"reactions,omitempty"`
	ReactionCounts  map[string]int      `json:"reactionCounts,omitempty"`
	TotalReactions  int                 `json:"totalReactions"`
	UserReaction    string              `json:"userReaction,omitempty"`
	IsReply         bool                `json:"isReply"`
	ParentMessageID ID                  `json:"parentMessageId,omitempty"`
	ParentPreview   *ParentPreview      `json:"parentPreview,omitempty"`
	ReplyCount      int                 `json:"replyCount"`
	HasReplies      bool                `json:"hasReplies"`

	// 仅输出，供渲染层直接展示
	AttachmentLabel       string `json:"attachmentLabel,omitempty"`
	AttachmentDisplaySize string `json:"attachmentDisplaySize,omitempty"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.ID == "" {
		return fmt.Errorf("message without id")
	}

	*m = Message{
		ID:      w.ID,
		Sender:  w.Sender,
		Content: w.Content,
		Status:  ParseStatus(string(w.Status)),
		ReadBy:  w.ReadBy,
		Reactions: ReactionState{
			Reactors:     w.Reactions,
			Counts:       w.ReactionCounts,
			Total:        w.TotalReactions,
			UserReaction: w.UserReaction,
		},
		Thread: ThreadState{
			IsReply:       w.IsReply,
			ParentID:      w.ParentMessageID,
			ParentPreview: w.ParentPreview,
			ReplyCount:    w.ReplyCount,
			HasReplies:    w.HasReplies || w.ReplyCount > 0,
		},
	}
	if !m.Status.Valid() {
		m.Status = StatusSent
	}
	for _, t := range []*FlexTime{w.Timestamp, w.TimeStamp, w.CreatedAt} {
		if t != nil && !t.IsZero() {
			m.Timestamp = t.Time
			break
		}
	}
	if w.HasAttachment {
		m.Attachment = Attachment{
			Kind: ParseAttachmentKind(w.AttachmentType),
			URL:  w.AttachmentURL,
			Name: w.AttachmentName,
			Size: w.AttachmentSize,
		}
	}
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	ts := FlexTime{Time: m.Timestamp}
	w := wireMessage{
		ID:              m.ID,
		Sender:          m.Sender,
		Content:         m.Content,
		Timestamp:       &ts,
		Status:          m.Status,
		ReadBy:          m.ReadBy,
		HasAttachment:   m.Attachment.Present(),
		Reactions:       m.Reactions.Reactors,
		ReactionCounts:  m.Reactions.Counts,
		TotalReactions:  m.Reactions.Total,
		UserReaction:    m.Reactions.UserReaction,
		IsReply:         m.Thread.IsReply,
		ParentMessageID: m.Thread.ParentID,
		ParentPreview:   m.Thread.ParentPreview,
		ReplyCount:      m.Thread.ReplyCount,
		HasReplies:      m.Thread.HasReplies,
	}
	if m.Attachment.Present() {
		w.AttachmentType = m.Attachment.Kind.String()
		w.AttachmentURL = m.Attachment.URL
		w.AttachmentName = m.Attachment.Name
		w.AttachmentSize = m.Attachment.Size
		w.AttachmentLabel = m.Attachment.Kind.Label()
		w.AttachmentDisplaySize = m.Attachment.DisplaySize()
	}
	return json.Marshal(w)
}

// FlexTime 兼容 RFC3339、无时区的 LocalDateTime 以及毫秒时间戳
type FlexTime struct {
	time.Time
}

var localLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s: %w", data, err)
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range localLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp format %q", s)
}

func (t FlexTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
