package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"im-client/config"
	"im-client/internal/model"
	"im-client/internal/repository"
	"im-client/internal/session"
	"im-client/pkg/clock"
	"im-client/pkg/jwt"
	"im-client/pkg/metrics"
	"im-client/pkg/stomp"

	"go.uber.org/zap"
)

var (
	ErrNotAuthenticated = session.ErrNotAuthenticated
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomExists       = errors.New("room already exists")
	ErrInvalidRoomID    = errors.New("room id must be at least 3 characters")
	ErrNoRoom           = errors.New("not in a room")
)

// Deps ChatService 的可选协作者，零值使用真实实现
type Deps struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Clock   clock.Clock
	Dial    session.DialFunc
	// OnLogout 登出（包括令牌失效导致的强制登出）后调用
	OnLogout func(reason error)
}

// ChatService 登录、进入房间、历史加载与附件发送
type ChatService struct {
	cfg    *config.Config
	deps   Deps
	logger *zap.Logger
	state  repository.StateStore
	tokens *jwt.Inspector

	client      *repository.Client
	users       *repository.UserRepository
	rooms       *repository.RoomRepository
	messages    *repository.MessageRepository
	threads     *repository.ThreadRepository
	attachments *repository.AttachmentRepository

	mu      sync.Mutex
	current *model.ClientState
	sess    *session.Session
}

func NewChatService(cfg *config.Config, state repository.StateStore, deps Deps) *ChatService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	s := &ChatService{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.Named("chat"),
		state:  state,
		tokens: jwt.NewInspector(cfg.JWT),
	}
	if s.deps.Dial == nil {
		s.deps.Dial = session.StompDialer(stomp.Config{
			URL:            cfg.Server.WebSocketURL,
			ConnectTimeout: cfg.Session.ConnectTimeout,
			PingInterval:   cfg.WebSocket.PingInterval,
			ReadTimeout:    cfg.WebSocket.ReadTimeout,
			WriteTimeout:   cfg.WebSocket.WriteTimeout,
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
			Logger:         deps.Logger.Named("stomp"),
		})
	}
	s.client = repository.NewClient(cfg.Server, s.accessToken, deps.Logger.Named("rest"))
	s.users = repository.NewUserRepository(s.client)
	s.rooms = repository.NewRoomRepository(s.client)
	s.messages = repository.NewMessageRepository(s.client)
	s.threads = repository.NewThreadRepository(s.client)
	s.attachments = repository.NewAttachmentRepository(s.client)
	return s
}

func (s *ChatService) accessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.AccessToken
}

// Restore 读取持久化状态；没有状态时返回 ErrNotAuthenticated
func (s *ChatService) Restore(ctx context.Context) (*model.ClientState, error) {
	st, err := s.state.Load(ctx)
	if errors.Is(err, repository.ErrNoState) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("读取本地状态失败: %w", err)
	}
	if !st.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	s.mu.Lock()
	s.current = st
	s.mu.Unlock()
	return s.Current(), nil
}

// Current 当前登录状态的副本，未登录时返回 nil
func (s *ChatService) Current() *model.ClientState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	st := *s.current
	return &st
}

// Login 登录并保存令牌，保留上次使用的房间
func (s *ChatService) Login(ctx context.Context, username, password string) (*model.ClientState, error) {
	res, err := s.users.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	st := &model.ClientState{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		Username:     res.Username,
		DisplayName:  res.DisplayName,
	}
	if prev, err := s.state.Load(ctx); err == nil {
		st.RoomID = prev.RoomID
	}
	if err := s.state.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("保存登录状态失败: %w", err)
	}
	s.mu.Lock()
	s.current = st
	s.mu.Unlock()
	s.logger.Info("登录成功", zap.String("username", st.Username))
	return s.Current(), nil
}

// Me 服务端眼中的当前用户
func (s *ChatService) Me(ctx context.Context) (*repository.Profile, error) {
	if s.accessToken() == "" {
		return nil, ErrNotAuthenticated
	}
	return s.users.Me(ctx)
}

// viewer 优先使用保存的用户名，其次是令牌中的身份
func (s *ChatService) viewer(st *model.ClientState) string {
	if id := st.Identity(); id != "" {
		return id
	}
	if claims, err := s.tokens.Inspect(st.AccessToken); err == nil {
		return claims.Identity()
	}
	return ""
}

// EnterRoom 退出当前房间（如果有），检查房间存在后建立新会话
// 每次连接成功后都会重新拉取第一页历史并重建消息列表
func (s *ChatService) EnterRoom(ctx context.Context, roomID string) (*session.Session, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, ErrNoRoom
	}
	st := s.Current()
	if !st.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	exists, err := s.rooms.Exists(ctx, roomID)
	if err != nil {
		if repository.IsUnauthorized(err) {
			s.forceLogout(err)
			return nil, fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
		}
		return nil, fmt.Errorf("检查房间失败: %w", err)
	}
	if !exists {
		return nil, ErrRoomNotFound
	}

	s.LeaveRoom(ctx)

	st.RoomID = roomID
	if err := s.state.Save(ctx, st); err != nil {
		s.logger.Warn("保存房间失败", zap.Error(err))
	}

	var sess *session.Session
	sess = session.New(session.Config{
		RoomID:        roomID,
		Viewer:        s.viewer(st),
		Token:         st.AccessToken,
		RetryDelay:    s.cfg.Session.RetryDelay,
		TypingIdle:    s.cfg.Session.TypingIdle,
		ReadThreshold: s.cfg.Session.ReadThreshold,
		NoticeLimit:   s.cfg.Session.NoticeLimit,
		Encrypted:     secureTransport(s.cfg.Server.WebSocketURL),
	}, session.Deps{
		Dial:          s.deps.Dial,
		Clock:         s.deps.Clock,
		Logger:        s.deps.Logger.Named("session"),
		Metrics:       s.deps.Metrics,
		Tokens:        s.tokens,
		OnAuthFailure: func(err error) { go s.forceLogout(err) },
		OnConnected:   func(ctx context.Context) { s.loadHistory(ctx, sess) },
	})

	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		sess.Teardown()
		return nil, ErrNotAuthenticated
	}
	s.current.RoomID = roomID
	s.sess = sess
	s.mu.Unlock()

	if err := sess.Connect(ctx); err != nil {
		s.mu.Lock()
		if s.sess == sess {
			s.sess = nil
		}
		s.mu.Unlock()
		sess.Teardown()
		return nil, err
	}
	s.logger.Info("进入房间", zap.String("room", roomID))
	return sess, nil
}

// MinRoomIDLength 新建房间ID的最短长度
const MinRoomIDLength = 3

// CreateRoom 在服务端创建房间后进入
func (s *ChatService) CreateRoom(ctx context.Context, roomID string) (*session.Session, error) {
	roomID = strings.TrimSpace(roomID)
	if len(roomID) < MinRoomIDLength {
		return nil, ErrInvalidRoomID
	}
	if !s.Current().Authenticated() {
		return nil, ErrNotAuthenticated
	}
	room, err := s.rooms.Create(ctx, roomID)
	if err != nil {
		return nil, s.roomError("创建房间失败", err)
	}
	if room.RoomID != "" {
		roomID = room.RoomID
	}
	s.logger.Info("房间已创建", zap.String("room", roomID))
	return s.EnterRoom(ctx, roomID)
}

// Room 读取房间信息
func (s *ChatService) Room(ctx context.Context, roomID string) (*model.Room, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, ErrNoRoom
	}
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, s.roomError("读取房间失败", err)
	}
	return room, nil
}

// roomError 把房间接口的错误归类
func (s *ChatService) roomError(action string, err error) error {
	var apiErr *repository.APIError
	switch {
	case repository.IsUnauthorized(err):
		s.forceLogout(err)
		return fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		return ErrRoomNotFound
	case errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusConflict):
		return fmt.Errorf("%w: %s", ErrRoomExists, apiErr.Message)
	default:
		return fmt.Errorf("%s: %w", action, err)
	}
}

func secureTransport(wsURL string) bool {
	u, err := url.Parse(wsURL)
	return err == nil && u.Scheme == "wss"
}

// loadHistory 拉取一页历史并重建消息列表，失败只产生提示
func (s *ChatService) loadHistory(ctx context.Context, sess *session.Session) {
	page, err := s.messages.Page(ctx, sess.RoomID(), 0, s.cfg.Session.HistoryPageSize)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn("加载历史消息失败", zap.String("room", sess.RoomID()), zap.Error(err))
		_ = sess.Notify(model.NoticeError, "Failed to load messages")
		if repository.IsUnauthorized(err) {
			s.forceLogout(err)
		}
		return
	}
	if err := sess.Seed(page); err != nil {
		s.logger.Debug("会话已结束，丢弃历史消息", zap.Error(err))
	}
}

// Session 当前房间会话，不在房间中时返回 nil
func (s *ChatService) Session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// LeaveRoom 结束当前会话；不在房间中时什么也不做
func (s *ChatService) LeaveRoom(ctx context.Context) {
	s.mu.Lock()
	sess := s.sess
	s.sess = nil
	s.mu.Unlock()
	if sess == nil {
		return
	}
	sess.Teardown()
	s.logger.Info("离开房间", zap.String("room", sess.RoomID()))
}

// Logout 结束会话并清空本地状态
func (s *ChatService) Logout(ctx context.Context) error {
	return s.logout(ctx, nil)
}

func (s *ChatService) logout(ctx context.Context, reason error) error {
	s.LeaveRoom(ctx)
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	err := s.state.Clear(ctx)
	if err != nil {
		s.logger.Error("清空本地状态失败", zap.Error(err))
	} else {
		s.logger.Info("Logged out")
	}
	if s.deps.OnLogout != nil {
		s.deps.OnLogout(reason)
	}
	return err
}

// forceLogout 令牌被服务端拒绝，不再重试
func (s *ChatService) forceLogout(cause error) {
	s.logger.Warn("认证失败，强制登出", zap.Error(cause))
	_ = s.logout(context.Background(), cause)
}

// SendAttachment 上传附件后连同当前输入一起发送
func (s *ChatService) SendAttachment(ctx context.Context, name string, r io.Reader, size int64, content string) error {
	sess := s.Session()
	if sess == nil {
		return ErrNoRoom
	}
	if sess.State() != model.Connected {
		_ = sess.Notify(model.NoticeError, "Not connected to chat")
		return session.ErrNotConnected
	}

	_ = sess.Notify(model.NoticeInfo, "Sending attachment...")
	res, err := s.attachments.Upload(ctx, sess.RoomID(), name, r, size, func(p int) {
		s.logger.Debug("附件上传进度", zap.String("name", name), zap.Int("percent", p))
	})
	if err == nil {
		err = s.attachments.Send(ctx, res.AttachmentID, sess.RoomID(), content)
	}
	if err != nil {
		s.logger.Warn("发送附件失败", zap.String("name", name), zap.Error(err))
		_ = sess.Notify(model.NoticeError, attachmentError(err))
		return err
	}
	_ = sess.Notify(model.NoticeSuccess, "Attachment sent!")
	return nil
}

func attachmentError(err error) string {
	var apiErr *repository.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if errors.Is(err, repository.ErrAttachmentTooLarge) {
		return "File size must be less than 50MB"
	}
	return "Failed to send attachment"
}

// Thread 拉取某条消息的回复
func (s *ChatService) Thread(ctx context.Context, parentID model.ID) ([]model.Message, error) {
	if parentID == "" {
		return nil, errors.New("parent message id is required")
	}
	return s.threads.Replies(ctx, parentID, 0, repository.DefaultPageSize)
}

// ThreadInfo 某条消息的线程概况
func (s *ChatService) ThreadInfo(ctx context.Context, messageID model.ID) (*model.ThreadInfo, error) {
	if messageID == "" {
		return nil, errors.New("message id is required")
	}
	return s.threads.Info(ctx, messageID)
}

// AttachmentURL 附件的可访问地址
func (s *ChatService) AttachmentURL(a model.Attachment) string {
	return a.ResolveURL(s.client.Origin())
}

// Healthy 检查状态存储的外部依赖，文件存储总是健康
func (s *ChatService) Healthy(ctx context.Context) error {
	if hc, ok := s.state.(repository.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

// Close 进程退出前调用
func (s *ChatService) Close() {
	s.LeaveRoom(context.Background())
}
