package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"im-client/internal/model"
	"im-client/internal/repository"
	"im-client/internal/service"
	"im-client/internal/session"
	"im-client/pkg/response"

	"github.com/gin-gonic/gin"
)

// ChatHandler 本地控制接口，供渲染层驱动会话
type ChatHandler struct {
	service *service.ChatService
}

func NewChatHandler(s *service.ChatService) *ChatHandler {
	return &ChatHandler{service: s}
}

// current 当前会话，不在房间中时直接写 409
func (h *ChatHandler) current(c *gin.Context) (*session.Session, bool) {
	sess := h.service.Session()
	if sess == nil {
		response.Conflict(c, "not in a room")
		return nil, false
	}
	return sess, true
}

// fail 把领域错误映射到 HTTP 状态
func fail(c *gin.Context, err error) {
	var apiErr *repository.APIError
	switch {
	case errors.Is(err, session.ErrEmptyContent):
		response.BadRequest(c, err.Error())
	case errors.Is(err, session.ErrNotConnected):
		response.ServiceUnavailable(c, "not connected to chat")
	case errors.Is(err, service.ErrNotAuthenticated):
		response.Unauthorized(c, "not authenticated")
	case errors.Is(err, service.ErrInvalidRoomID):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrRoomNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrRoomExists):
		response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrNoRoom), errors.Is(err, session.ErrClosed):
		response.Conflict(c, "not in a room")
	case errors.Is(err, repository.ErrAttachmentTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, err.Error())
	case errors.As(err, &apiErr):
		if apiErr.IsUnauthorized() {
			response.Unauthorized(c, apiErr.Message)
			return
		}
		response.Error(c, http.StatusBadGateway, apiErr.Error())
	default:
		response.ErrorWithDetails(c, http.StatusInternalServerError, "internal error", err)
	}
}

// Health 健康检查
func (h *ChatHandler) Health(c *gin.Context) {
	status := "ok"
	if err := h.service.Healthy(c.Request.Context()); err != nil {
		status = "state-down"
	}
	state := model.Disconnected
	if sess := h.service.Session(); sess != nil {
		state = sess.State()
	}
	response.Success(c, gin.H{
		"status": status,
		"state":  state,
		"time":   time.Now().Format(time.RFC3339),
	})
}

// GetSession 登录与连接状态
func (h *ChatHandler) GetSession(c *gin.Context) {
	st := h.service.Current()
	out := gin.H{"authenticated": st.Authenticated(), "state": model.Disconnected}
	if st != nil {
		out["username"] = st.Identity()
		out["displayName"] = st.DisplayName
		out["roomId"] = st.RoomID
	}
	if sess := h.service.Session(); sess != nil {
		out["roomId"] = sess.RoomID()
		out["state"] = sess.State()
	}
	response.Success(c, out)
}

// Login 登录
func (h *ChatHandler) Login(c *gin.Context) {
	type req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	st, err := h.service.Login(c.Request.Context(), r.Username, r.Password)
	if err != nil {
		fail(c, err)
		return
	}
	response.SuccessWithMessage(c, "登录成功", gin.H{
		"username":    st.Username,
		"displayName": st.DisplayName,
		"roomId":      st.RoomID,
	})
}

// EnterRoom 进入房间
func (h *ChatHandler) EnterRoom(c *gin.Context) {
	type req struct {
		RoomID string `json:"roomId" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	sess, err := h.service.EnterRoom(c.Request.Context(), r.RoomID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"roomId": sess.RoomID(), "state": sess.State()})
}

// CreateRoom 创建房间并进入
func (h *ChatHandler) CreateRoom(c *gin.Context) {
	type req struct {
		RoomID string `json:"roomId" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	sess, err := h.service.CreateRoom(c.Request.Context(), r.RoomID)
	if err != nil {
		fail(c, err)
		return
	}
	response.SuccessWithMessage(c, "Room created: "+sess.RoomID(), gin.H{"roomId": sess.RoomID(), "state": sess.State()})
}

// GetRoom 房间信息
func (h *ChatHandler) GetRoom(c *gin.Context) {
	room, err := h.service.Room(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, room)
}

// LeaveRoom 离开房间
func (h *ChatHandler) LeaveRoom(c *gin.Context) {
	h.service.LeaveRoom(c.Request.Context())
	response.SuccessWithMessage(c, "已离开房间", nil)
}

// Logout 登出
func (h *ChatHandler) Logout(c *gin.Context) {
	if err := h.service.Logout(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	response.SuccessWithMessage(c, "Logged out", nil)
}

// GetSnapshot 最新快照
func (h *ChatHandler) GetSnapshot(c *gin.Context) {
	sess, ok := h.current(c)
	if !ok {
		return
	}
	response.Success(c, sess.Snapshot())
}

// StreamSnapshot 以 SSE 推送快照，会话结束或客户端断开时返回
func (h *ChatHandler) StreamSnapshot(c *gin.Context) {
	sess, ok := h.current(c)
	if !ok {
		return
	}
	updates, cancel := sess.Subscribe()
	defer cancel()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case snap, open := <-updates:
			if !open {
				return false
			}
			c.SSEvent("snapshot", snap)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// GetNotices 最近的提示
func (h *ChatHandler) GetNotices(c *gin.Context) {
	sess, ok := h.current(c)
	if !ok {
		return
	}
	response.Success(c, sess.Notices())
}

type contentReq struct {
	Content string `json:"content"`
}

// SendMessage 发送消息
func (h *ChatHandler) SendMessage(c *gin.Context) {
	sess, ok := h.current(c)
	if !ok {
		return
	}
	var r contentReq
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := sess.Send(r.Content); err != nil {
		fail(c, err)
		return
	}
	response.SuccessWithMessage(c, "消息已发送", nil)
}

// Reply 线程回复
func (h *ChatHandler) Reply(c *gin.Context) {
	sess, ok := h.current(c)
	if !ok {
		return
	}
	var r contentReq
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := sess.Reply(model.ID(c.Param("id")), r.Content); err != nil {
		fail(c, err)
		return
	}
	response.SuccessWithMessage(c, "回复已发送", nil)
}

// Thread 拉取线程回复
func (h *ChatHandler) Thread(c *gin.Context) {
	replies, err := h.service.Thread(c.Request.Context(), model.ID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, replies)
}

// ThreadInfo 线程概况
func (h *ChatHandler) ThreadInfo(c *gin.Context) {
	info, err := h.service.ThreadInfo(c.Request.Context(), model.ID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, info)
}

// Attachment 跳转到附件的实际地址
func (h *ChatHandler) Attachment(c *gin.Context) {
	sess, ok := h.current(c)
	if !ok {
		return
	}
	msg, found, err := sess.Get(model.ID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	if !found || !msg.Attachment.Present() {
		response.NotFound(c, "attachment not found")
		return
	}
	c.Redirect(http.StatusFound, h.service.AttachmentURL(msg.Attachment))
}

// ToggleReaction 切换表情
func (h *ChatHandler) ToggleReaction(c *gin.Context) {
	sess, ok := h.current(c)
	if !ok {
		return
	}
	type req struct {
		Emoji string `json:"emoji"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := sess.ToggleReaction(model.ID(c.Param("id")), r.Emoji); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}

// Visibility 上报消息的可见比例
func (h *ChatHandler) Visibility(c *gin.Context) {
	sess, ok := h.current(c)
	if !ok {
		return
	}
	type req struct {
		Ratio *float64 `json:"ratio" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := sess.Visible(model.ID(c.Param("id")), *r.Ratio); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}

// Typing 一次按键
func (h *ChatHandler) Typing(c *gin.Context) {
	sess, ok := h.current(c)
	if !ok {
		return
	}
	if err := sess.Keystroke(); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}

// SendAttachment 表单字段 file，可选 content
func (h *ChatHandler) SendAttachment(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	if fh.Size > repository.MaxAttachmentSize {
		fail(c, repository.ErrAttachmentTooLarge)
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	defer f.Close()

	err = h.service.SendAttachment(c.Request.Context(), fh.Filename, f, fh.Size, c.PostForm("content"))
	if err != nil {
		fail(c, err)
		return
	}
	response.SuccessWithMessage(c, "Attachment sent!", nil)
}
