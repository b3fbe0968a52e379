package stomp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrUnauthorized = errors.New("stomp: unauthorized")
	ErrClosed       = errors.New("stomp: connection closed")
	ErrBufferFull   = errors.New("stomp: send buffer full")
)

// ServerError 服务端返回的 ERROR 帧
type ServerError struct {
	Message string
	Body    string
}

func (e *ServerError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("stomp error: %s: %s", e.Message, e.Body)
	}
	return "stomp error: " + e.Message
}

// Config 连接参数
type Config struct {
	URL            string
	Token          string
	Host           string
	ConnectTimeout time.Duration
	PingInterval   time.Duration // 心跳发送间隔，0 表示不发送
	ReadTimeout    time.Duration // 超过该时间没有任何入站数据即断开，0 表示不限制
	WriteTimeout   time.Duration
	MaxMessageSize int64
	Dialer         *websocket.Dialer
	Logger         *zap.Logger
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Host == "" {
		if u, err := url.Parse(c.URL); err == nil {
			c.Host = u.Hostname()
		}
	}
}

// Client 一条 STOMP over WebSocket 连接
// 读协程把 MESSAGE 帧放入 Messages()，写协程负责所有写操作和心跳
type Client struct {
	cfg    Config
	conn   *websocket.Conn
	logger *zap.Logger

	send     chan *Frame
	messages chan *Frame

	closing    chan struct{}
	closeOnce  sync.Once
	readerDone chan struct{}
	writerDone chan struct{}

	mu      sync.Mutex
	err     error
	version string
}

// Dial 建立 WebSocket 连接并完成 STOMP 握手
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg.setDefaults()

	header := http.Header{}
	if cfg.Token != "" {
		header.Set(HdrAuthorization, "Bearer "+cfg.Token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := cfg.Dialer.DialContext(dialCtx, cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: upgrade rejected with %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	c := &Client{
		cfg:        cfg,
		conn:       conn,
		logger:     cfg.Logger,
		send:       make(chan *Frame, 256),
		messages:   make(chan *Frame, 256),
		closing:    make(chan struct{}),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	if err := c.handshake(dialCtx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readPump()
	go c.writePump()
	return c, nil
}

// handshake ctx 取消时关闭底层连接，阻塞中的读写随之返回
func (c *Client) handshake(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	err := c.connect(ctx)
	if !stop() {
		return fmt.Errorf("stomp handshake: %w", context.Cause(ctx))
	}
	return err
}

func (c *Client) connect(ctx context.Context) error {
	hb := "0,0"
	if c.cfg.PingInterval > 0 {
		ms := strconv.FormatInt(c.cfg.PingInterval.Milliseconds(), 10)
		hb = ms + "," + ms
	}
	connect := NewFrame(CmdConnect,
		HdrAcceptVersion, "1.2",
		HdrHost, c.cfg.Host,
		HdrHeartBeat, hb,
	)
	if c.cfg.Token != "" {
		connect.Header.Set(HdrAuthorization, "Bearer "+c.cfg.Token)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.cfg.ConnectTimeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.writeFrame(connect); err != nil {
		return fmt.Errorf("write CONNECT: %w", err)
	}

	_ = c.conn.SetReadDeadline(deadline)
	for {
		_, r, err := c.conn.NextReader()
		if err != nil {
			return fmt.Errorf("wait CONNECTED: %w", err)
		}
		frames, err := ReadFrames(r)
		if err != nil {
			return err
		}
		for _, f := range frames {
			switch f.Command {
			case CmdConnected:
				c.version = f.Header.Get(HdrVersion)
				_ = c.conn.SetReadDeadline(time.Time{})
				_ = c.conn.SetWriteDeadline(time.Time{})
				return nil
			case CmdError:
				return classify(f)
			}
		}
	}
}

// 只有明确的认证失败才视为未授权，其余错误帧按普通断线处理
var authFailures = []string{
	"unauthorized",
	"authentication failed",
	"authentication required",
	"invalid jwt",
	"jwt expired",
	"access denied",
}

// classify 区分认证失败与其他服务端错误
func classify(f *Frame) error {
	se := &ServerError{Message: f.Header.Get(HdrMessage), Body: string(f.Body)}
	text := strings.ToLower(se.Message + " " + se.Body)
	for _, phrase := range authFailures {
		if strings.Contains(text, phrase) {
			return fmt.Errorf("%w: %s", ErrUnauthorized, se.Error())
		}
	}
	return se
}

// Version 服务端协商的协议版本
func (c *Client) Version() string { return c.version }

// Messages 入站 MESSAGE 帧，连接结束后关闭
func (c *Client) Messages() <-chan *Frame { return c.messages }

// Done 连接结束后关闭
func (c *Client) Done() <-chan struct{} { return c.readerDone }

// Err 连接结束的原因；主动关闭时为 ErrClosed
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

// Subscribe 订阅目标地址，返回订阅ID
func (c *Client) Subscribe(destination string) (string, error) {
	id := uuid.NewString()
	f := NewFrame(CmdSubscribe,
		HdrID, id,
		HdrDestination, destination,
		HdrAck, "auto",
	)
	return id, c.enqueue(f)
}

// Send 发送 JSON 负载，不等待回执
func (c *Client) Send(destination string, body []byte) error {
	f := NewFrame(CmdSend, HdrDestination, destination)
	if len(body) > 0 {
		f.Header.Set(HdrContentType, "application/json")
	}
	f.Header.Set(HdrContentLength, strconv.Itoa(len(body)))
	f.Body = body
	return c.enqueue(f)
}

func (c *Client) enqueue(f *Frame) error {
	select {
	case <-c.closing:
		return ErrClosed
	case <-c.readerDone:
		return ErrClosed
	default:
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close 尽力发送 DISCONNECT 后关闭连接，不等待服务端确认
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.fail(ErrClosed)
		close(c.closing)
	})
	<-c.writerDone
	return nil
}

func (c *Client) readPump() {
	defer close(c.readerDone)
	defer close(c.messages)

	c.refreshReadDeadline()
	for {
		_, r, err := c.conn.NextReader()
		if err != nil {
			select {
			case <-c.closing:
			default:
				c.logger.Warn("STOMP连接读取失败", zap.Error(err))
			}
			c.fail(err)
			return
		}
		c.refreshReadDeadline()

		frames, err := ReadFrames(r)
		if err != nil {
			c.logger.Warn("丢弃无法解析的帧", zap.Error(err))
			continue
		}
		for _, f := range frames {
			switch f.Command {
			case CmdMessage:
				select {
				case c.messages <- f:
				case <-c.closing:
					return
				}
			case CmdError:
				err := classify(f)
				c.logger.Error("收到服务端错误帧", zap.Error(err))
				c.fail(err)
				return
			case CmdReceipt:
			default:
				c.logger.Debug("忽略帧", zap.String("command", f.Command))
			}
		}
	}
}

func (c *Client) refreshReadDeadline() {
	if c.cfg.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
}

func (c *Client) writePump() {
	defer close(c.writerDone)
	defer c.conn.Close()

	var tick <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case f := <-c.send:
			if err := c.write(f); err != nil {
				c.logger.Warn("STOMP写入失败", zap.Error(err))
				c.fail(err)
				return
			}
		case <-tick:
			if err := c.write(nil); err != nil {
				c.fail(err)
				return
			}
		case <-c.readerDone:
			return
		case <-c.closing:
			c.flush()
			_ = c.write(NewFrame(CmdDisconnect))
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout))
			return
		}
	}
}

// flush 关闭前写出已排队的帧，例如离开房间
func (c *Client) flush() {
	for {
		select {
		case f := <-c.send:
			if err := c.write(f); err != nil {
				return
			}
		default:
			return
		}
	}
}

// write 一个帧占一个文本消息，nil 为心跳
func (c *Client) write(f *Frame) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.writeFrame(f)
}

func (c *Client) writeFrame(f *Frame) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := WriteFrame(w, f); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
