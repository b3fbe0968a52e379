package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"im-client/internal/dispatch"
	"im-client/internal/model"
	"im-client/internal/presence"
	"im-client/internal/receipt"
	"im-client/internal/router"
	"im-client/internal/store"
	"im-client/pkg/clock"
	"im-client/pkg/jwt"
	"im-client/pkg/metrics"
	"im-client/pkg/stomp"

	"go.uber.org/zap"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrClosed           = errors.New("session closed")
	ErrNotConnected     = dispatch.ErrNotConnected
	ErrEmptyContent     = dispatch.ErrEmptyContent
	ErrUnauthorized     = stomp.ErrUnauthorized
)

// DefaultRetryDelay 固定重连间隔
const DefaultRetryDelay = 3 * time.Second

// Config 单个房间会话的参数
type Config struct {
	RoomID        string
	Viewer        string
	Token         string
	RetryDelay    time.Duration
	TypingIdle    time.Duration
	ReadThreshold float64
	NoticeLimit   int
	Encrypted     bool
}

// TokenInspector 连接前检查令牌
type TokenInspector interface {
	Inspect(token string) (*jwt.CustomClaims, error)
}

// Deps 外部协作者
// 回调都在会话事件循环之外或以异步方式调用，可以安全地调用会话方法，
// 唯一例外是 OnNotice，它在循环内同步执行，不能调用会话方法
type Deps struct {
	Dial          DialFunc
	Clock         clock.Clock
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	Tokens        TokenInspector
	OnAuthFailure func(err error)
	OnConnected   func(ctx context.Context)
	OnNotice      func(n model.Notice)
}

// Session 一个房间的实时同步会话
// 所有领域状态只由 run 协程修改；公开方法通过 do 把操作投递到该协程
type Session struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	clock  clock.Clock

	// 以下字段只在事件循环中访问
	store      *store.Store
	receipts   *receipt.Tracker
	presence   *presence.Tracker
	typing     *presence.TypingDebouncer
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	conn       Conn
	state      model.ConnState
	dialing    bool
	retry      *clock.Timer
	closed     bool
	dirty      bool
	version    uint64

	ctx    context.Context
	cancel context.CancelFunc

	ops      chan func()
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once

	stateView atomic.Int32
	snapshot  atomic.Pointer[model.Snapshot]

	subMu      sync.Mutex
	subs       map[uint64]chan *model.Snapshot
	nextSub    uint64
	subsClosed bool

	noticeMu sync.Mutex
	notices  []model.Notice
}

// New 创建会话并启动事件循环；调用方最终必须调用 Teardown
func New(cfg Config, deps Deps) *Session {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.NoticeLimit <= 0 {
		cfg.NoticeLimit = 100
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.With(zap.String("room", cfg.RoomID)),
		clock:    deps.Clock,
		store:    store.NewStore(),
		presence: presence.NewTracker(cfg.Viewer),
		ctx:      ctx,
		cancel:   cancel,
		ops:      make(chan func(), 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		subs:     make(map[uint64]chan *model.Snapshot),
	}

	s.dispatcher = dispatch.New(cfg.RoomID, s.sender, deps.Metrics.Outbound)
	opts := []receipt.Option{receipt.WithLogger(s.logger)}
	if cfg.ReadThreshold > 0 {
		opts = append(opts, receipt.WithThreshold(cfg.ReadThreshold))
	}
	s.receipts = receipt.New(cfg.Viewer, s.dispatcher, opts...)
	s.typing = presence.NewTypingDebouncer(s.clock, cfg.TypingIdle, s.dispatcher, func(f func()) { s.post(f) }, s.logger)

	s.router = router.New(s.logger.Named("router"))
	s.router.Observe(deps.Metrics.Inbound)
	s.router.OnError(s.onHandlerError)
	s.registerHandlers()

	s.snapshot.Store(s.buildSnapshot())
	go s.run()
	return s
}

func (s *Session) RoomID() string { return s.cfg.RoomID }
func (s *Session) Viewer() string { return s.cfg.Viewer }

// State 当前连接状态，可在任意协程调用
func (s *Session) State() model.ConnState {
	return model.ConnState(s.stateView.Load())
}

// Snapshot 最近发布的只读快照
func (s *Session) Snapshot() *model.Snapshot {
	return s.snapshot.Load()
}

// Subscribe 订阅快照更新；通道容量为 1，只保留最新快照
// 会话结束后通道关闭
func (s *Session) Subscribe() (<-chan *model.Snapshot, func()) {
	ch := make(chan *model.Snapshot, 1)
	ch <- s.snapshot.Load()

	s.subMu.Lock()
	if s.subsClosed {
		s.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		})
	}
}

// Notices 最近的提示，按时间先后
func (s *Session) Notices() []model.Notice {
	s.noticeMu.Lock()
	defer s.noticeMu.Unlock()
	return append([]model.Notice(nil), s.notices...)
}

// Done 会话结束后关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// Connect 检查令牌并开始连接；已在连接或重连中时直接返回
// 令牌为空、格式错误或已过期时返回 ErrNotAuthenticated 并触发 OnAuthFailure，不会发起连接
func (s *Session) Connect(ctx context.Context) error {
	if err := s.checkToken(); err != nil {
		s.deps.Metrics.AuthFailure()
		s.logger.Warn("令牌无效，放弃连接", zap.Error(err))
		if s.deps.OnAuthFailure != nil {
			s.deps.OnAuthFailure(err)
		}
		return err
	}
	return s.doCtx(ctx, func() {
		if s.state != model.Disconnected {
			return
		}
		s.setState(model.Connecting)
		s.dial()
	})
}

func (s *Session) checkToken() error {
	if s.cfg.Token == "" {
		return ErrNotAuthenticated
	}
	if s.deps.Tokens != nil {
		if _, err := s.deps.Tokens.Inspect(s.cfg.Token); err != nil {
			return fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
		}
	}
	return nil
}

// Teardown 同步结束会话：取消定时器，尽力发送离开，关闭连接
// 之后不会再有任何拨号或出站意图；可重复调用
// 不能在 OnNotice 回调中调用
func (s *Session) Teardown() {
	s.quitOnce.Do(func() { close(s.quit) })
	<-s.done
}

func (s *Session) run() {
	defer close(s.done)
	defer s.closeSubscribers()

	for {
		select {
		case f := <-s.ops:
			f()
			s.flush()
		case <-s.quit:
			s.shutdown()
			s.flush()
			s.drain()
			return
		}
	}
}

// drain 执行结束前已经入队的操作，例如刚完成的拨号需要关闭连接
func (s *Session) drain() {
	for {
		select {
		case f := <-s.ops:
			f()
		default:
			s.typing.Cancel()
			return
		}
	}
}

func (s *Session) shutdown() {
	s.closed = true
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.typing.Cancel()
	if s.conn != nil {
		if err := s.dispatcher.Leave(); err != nil {
			s.logger.Debug("发送离开失败", zap.Error(err))
		}
		conn := s.conn
		s.conn = nil
		_ = conn.Close()
	}
	s.cancel()
	s.receipts.Reset()
	s.presence.Reset()
	s.setState(model.Disconnected)
	s.logger.Info("会话已结束")
}

// post 把操作投递到事件循环；会话已结束时返回 false
// 返回 true 也不保证 f 会执行，结束前最后入队的操作可能被丢弃
func (s *Session) post(f func()) bool {
	select {
	case <-s.quit:
		return false
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ops <- f:
		return true
	case <-s.quit:
		return false
	case <-s.done:
		return false
	}
}

func (s *Session) do(f func()) error {
	return s.doCtx(context.Background(), f)
}

// doCtx 在事件循环中执行 f 并等待完成，返回前快照已发布
func (s *Session) doCtx(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		f()
		s.flush()
	}
	select {
	case s.ops <- op:
	case <-s.quit:
		return ErrClosed
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) sender() dispatch.Sender {
	if s.conn == nil {
		return nil
	}
	return s.conn
}

func (s *Session) setState(st model.ConnState) {
	if s.state == st {
		return
	}
	s.logger.Debug("连接状态变化", zap.Stringer("from", s.state), zap.Stringer("to", st))
	s.state = st
	s.stateView.Store(int32(st))
	s.deps.Metrics.SetState(int(st))
	s.dirty = true
}

func (s *Session) dial() {
	if s.closed || s.dialing || s.conn != nil {
		return
	}
	s.retry = nil
	s.dialing = true
	s.deps.Metrics.ConnectAttempt()

	ctx, token, dialFn := s.ctx, s.cfg.Token, s.deps.Dial
	go func() {
		var conn Conn
		err := ErrNotConnected
		if dialFn != nil {
			conn, err = dialFn(ctx, token)
		}
		if conn == nil {
			s.post(func() { s.onDialed(nil, err) })
			return
		}
		// 拨号期间会话已结束
		if ctx.Err() != nil {
			_ = conn.Close()
			return
		}
		// 连接只有在 onDialed 真正执行后才归事件循环所有
		handed := make(chan struct{})
		if s.post(func() { close(handed); s.onDialed(conn, err) }) {
			select {
			case <-handed:
				return
			case <-s.done:
			}
		}
		select {
		case <-handed:
		default:
			_ = conn.Close()
		}
	}()
}

func (s *Session) onDialed(conn Conn, err error) {
	s.dialing = false
	if s.closed {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			s.authFailed(err)
			return
		}
		s.logger.Warn("连接失败", zap.Error(err))
		s.lost()
		return
	}

	s.conn = conn
	s.setState(model.Connected)
	for _, topic := range s.router.Topics() {
		if _, err := conn.Subscribe(topic); err != nil {
			s.logger.Warn("订阅失败", zap.String("topic", topic), zap.Error(err))
		}
	}
	if err := s.dispatcher.Join(); err != nil {
		s.logger.Debug("发送加入失败", zap.Error(err))
	}
	s.logger.Info("已连接", zap.String("viewer", s.cfg.Viewer))
	s.notice(model.NoticeSuccess, "Connected to chat")

	go s.pump(conn)
	if s.deps.OnConnected != nil {
		go s.deps.OnConnected(s.ctx)
	}
}

// pump 把连接上的入站帧转交给事件循环
func (s *Session) pump(conn Conn) {
	for f := range conn.Messages() {
		frame := f
		if !s.post(func() { s.route(conn, frame) }) {
			return
		}
	}
	s.post(func() { s.onDropped(conn) })
}

func (s *Session) route(conn Conn, f *stomp.Frame) {
	if conn != s.conn {
		return
	}
	_ = s.router.Dispatch(f.Header.Get(stomp.HdrDestination), f.Body)
}

func (s *Session) onDropped(conn Conn) {
	if conn != s.conn || s.closed {
		return
	}
	s.conn = nil
	err := conn.Err()
	_ = conn.Close()
	if errors.Is(err, ErrUnauthorized) {
		s.authFailed(err)
		return
	}
	s.logger.Warn("连接断开", zap.Error(err))
	s.lost()
}

// lost 进入重连状态并按固定间隔重试，直到 Teardown
func (s *Session) lost() {
	s.setState(model.Reconnecting)
	s.typing.Cancel()
	if s.presence.ClearTyping() {
		s.dirty = true
	}
	s.notice(model.NoticeError, "Connection lost. Reconnecting...")

	s.deps.Metrics.Reconnect()
	s.retry = s.clock.AfterFunc(s.cfg.RetryDelay, func() {
		s.post(s.dial)
	})
}

func (s *Session) authFailed(cause error) {
	err := fmt.Errorf("%w: %w", ErrNotAuthenticated, cause)
	s.deps.Metrics.AuthFailure()
	s.logger.Warn("认证失败，停止重连", zap.Error(cause))
	s.typing.Cancel()
	s.setState(model.Disconnected)
	s.notice(model.NoticeError, "Not authenticated")
	if s.deps.OnAuthFailure != nil {
		go s.deps.OnAuthFailure(err)
	}
}

func (s *Session) notice(level model.NoticeLevel, text string) {
	n := model.Notice{Level: level, Text: text, Time: s.clock.Now()}

	s.noticeMu.Lock()
	s.notices = append(s.notices, n)
	if over := len(s.notices) - s.cfg.NoticeLimit; over > 0 {
		s.notices = append([]model.Notice(nil), s.notices[over:]...)
	}
	s.noticeMu.Unlock()

	if s.deps.OnNotice != nil {
		s.deps.OnNotice(n)
	}
}

func (s *Session) buildSnapshot() *model.Snapshot {
	typing := s.presence.TypingUsers()
	return &model.Snapshot{
		Version:    s.version,
		RoomID:     s.cfg.RoomID,
		Viewer:     s.cfg.Viewer,
		State:      s.state,
		Messages:   s.store.Snapshot(),
		Online:     s.presence.Online(),
		Typing:     typing,
		TypingText: presence.TypingSummary(typing),
		Encrypted:  s.cfg.Encrypted,
	}
}

// flush 有变化时发布新快照
func (s *Session) flush() {
	if !s.dirty {
		return
	}
	s.dirty = false
	s.version++
	snap := s.buildSnapshot()
	s.snapshot.Store(snap)
	s.deps.Metrics.SetMessages(len(snap.Messages))

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subsClosed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}
