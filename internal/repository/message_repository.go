package repository

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"im-client/internal/model"
)

// DefaultPageSize 历史消息默认条数
const DefaultPageSize = 50

// MessageRepository 房间历史消息
type MessageRepository struct {
	client *Client
}

// NewMessageRepository 创建MessageRepository实例
func NewMessageRepository(client *Client) *MessageRepository {
	return &MessageRepository{client: client}
}

// Page 拉取一页历史消息，服务端按新到旧返回
func (r *MessageRepository) Page(ctx context.Context, roomID string, page, size int) ([]model.Message, error) {
	var messages []model.Message
	path := "/rooms/" + url.PathEscape(roomID) + "/messages"
	err := r.client.doJSON(ctx, http.MethodGet, path, pageQuery(page, size), nil, &messages)
	return messages, err
}

// ThreadRepository 线程回复
type ThreadRepository struct {
	client *Client
}

func NewThreadRepository(client *Client) *ThreadRepository {
	return &ThreadRepository{client: client}
}

// Replies 按需拉取某条消息的回复
func (r *ThreadRepository) Replies(ctx context.Context, parentID model.ID, page, size int) ([]model.Message, error) {
	var replies []model.Message
	path := "/messages/" + url.PathEscape(parentID.String()) + "/replies"
	err := r.client.doJSON(ctx, http.MethodGet, path, pageQuery(page, size), nil, &replies)
	return replies, err
}

// Info 线程概况，回复数以服务端为准
func (r *ThreadRepository) Info(ctx context.Context, messageID model.ID) (*model.ThreadInfo, error) {
	var info model.ThreadInfo
	path := "/messages/" + url.PathEscape(messageID.String()) + "/thread"
	if err := r.client.doJSON(ctx, http.MethodGet, path, nil, nil, &info); err != nil {
		return nil, err
	}
	if info.ParentID == "" {
		info.ParentID = messageID
	}
	if info.ReplyCount > 0 {
		info.HasReplies = true
	}
	return &info, nil
}

// RoomRepository 房间查询与创建
type RoomRepository struct {
	client *Client
}

func NewRoomRepository(client *Client) *RoomRepository {
	return &RoomRepository{client: client}
}

// Exists 检查房间是否存在
func (r *RoomRepository) Exists(ctx context.Context, roomID string) (bool, error) {
	var exists bool
	path := "/rooms/" + url.PathEscape(roomID) + "/exists"
	if err := r.client.doJSON(ctx, http.MethodGet, path, nil, nil, &exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Create 创建房间，房间已存在时服务端返回 4xx
func (r *RoomRepository) Create(ctx context.Context, roomID string) (*model.Room, error) {
	var room model.Room
	in := map[string]string{"roomId": roomID}
	if err := r.client.doJSON(ctx, http.MethodPost, "/rooms", nil, in, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// Get 读取房间，不存在时返回 404 的 APIError
func (r *RoomRepository) Get(ctx context.Context, roomID string) (*model.Room, error) {
	var room model.Room
	path := "/rooms/" + url.PathEscape(roomID)
	if err := r.client.doJSON(ctx, http.MethodGet, path, nil, nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func pageQuery(page, size int) url.Values {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	return url.Values{
		"page": {strconv.Itoa(page)},
		"size": {strconv.Itoa(size)},
	}
}
