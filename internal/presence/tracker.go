package presence

import (
	"sort"
	"strconv"

	"im-client/internal/model"
)

// Tracker 在线用户与输入状态
// 在线列表总是整体替换；输入状态按用户增删
type Tracker struct {
	viewer string
	online []string
	typing map[string]struct{}
}

func NewTracker(viewer string) *Tracker {
	return &Tracker{viewer: viewer, typing: make(map[string]struct{})}
}

// ReplaceOnline 用服务端下发的列表替换在线用户
func (t *Tracker) ReplaceOnline(users []string) {
	seen := make(map[string]struct{}, len(users))
	next := make([]string, 0, len(users))
	for _, u := range users {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		next = append(next, u)
	}
	t.online = next
}

// Typing 处理 TYPING_START / TYPING_STOP，返回集合是否变化
func (t *Tracker) Typing(kind, user string) bool {
	if user == "" {
		return false
	}
	_, present := t.typing[user]
	switch kind {
	case model.TypingStart:
		if present {
			return false
		}
		t.typing[user] = struct{}{}
		return true
	case model.TypingStop:
		if !present {
			return false
		}
		delete(t.typing, user)
		return true
	}
	return false
}

func (t *Tracker) Online() []string {
	return append([]string(nil), t.online...)
}

// TypingUsers 正在输入的其他用户，按名字排序
func (t *Tracker) TypingUsers() []string {
	out := make([]string, 0, len(t.typing))
	for u := range t.typing {
		if u == t.viewer {
			continue
		}
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) Reset() {
	t.online = nil
	t.typing = make(map[string]struct{})
}

// ClearTyping 断线时清空输入状态，在线列表保留到下一次全量替换
func (t *Tracker) ClearTyping() bool {
	if len(t.typing) == 0 {
		return false
	}
	t.typing = make(map[string]struct{})
	return true
}

// TypingSummary 输入提示文案
func TypingSummary(users []string) string {
	switch len(users) {
	case 0:
		return ""
	case 1:
		return users[0] + " is typing..."
	case 2:
		return users[0] + " and " + users[1] + " are typing..."
	default:
		return strconv.Itoa(len(users)) + " people are typing..."
	}
}
