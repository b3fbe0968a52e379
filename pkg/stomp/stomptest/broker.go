// Package stomptest 提供测试用的内存 STOMP 代理
package stomptest

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"im-client/pkg/stomp"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Broker 接受 WebSocket 连接并实现最小的 STOMP 服务端
type Broker struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	// RejectStatus 非 0 时拒绝升级
	RejectStatus atomic.Int32
	// rejectMessage 非空时在 CONNECT 后回复 ERROR
	rejectMessage atomic.Value
	// Stall 为 true 时吞掉 CONNECT，握手一直等待
	Stall atomic.Bool

	mu     sync.Mutex
	conns  map[*conn]struct{}
	frames chan *stomp.Frame
	dials  atomic.Int32
}

type conn struct {
	ws   *websocket.Conn
	wmu  sync.Mutex
	subs map[string]string // destination -> subscription id
	auth string
}

// NewBroker 启动代理，调用方负责 Close
func NewBroker() *Broker {
	b := &Broker{
		conns:  make(map[*conn]struct{}),
		frames: make(chan *stomp.Frame, 1024),
	}
	b.upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	return b
}

// URL 代理的 ws:// 地址
func (b *Broker) URL() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http") + "/chat/websocket"
}

func (b *Broker) Close() {
	b.DropAll()
	b.server.Close()
}

// Dials 收到的升级请求次数
func (b *Broker) Dials() int { return int(b.dials.Load()) }

// Frames 客户端发来的 SEND/SUBSCRIBE/DISCONNECT 等帧
func (b *Broker) Frames() <-chan *stomp.Frame { return b.frames }

// RejectWith 之后的 CONNECT 都回复 ERROR
func (b *Broker) RejectWith(message string) { b.rejectMessage.Store(message) }

func (b *Broker) serve(w http.ResponseWriter, r *http.Request) {
	b.dials.Add(1)
	if status := b.RejectStatus.Load(); status != 0 {
		http.Error(w, http.StatusText(int(status)), int(status))
		return
	}
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws, subs: make(map[string]string), auth: r.Header.Get(stomp.HdrAuthorization)}
	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.conns, c)
		b.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, r, err := ws.NextReader()
		if err != nil {
			return
		}
		frames, err := stomp.ReadFrames(r)
		if err != nil {
			return
		}
		for _, f := range frames {
			if !b.handle(c, f) {
				return
			}
		}
	}
}

func (b *Broker) handle(c *conn, f *stomp.Frame) bool {
	switch f.Command {
	case stomp.CmdConnect, stomp.CmdStomp:
		if b.Stall.Load() {
			return true
		}
		if msg, _ := b.rejectMessage.Load().(string); msg != "" {
			_ = c.write(stomp.NewFrame(stomp.CmdError, stomp.HdrMessage, msg))
			return false
		}
		_ = c.write(stomp.NewFrame(stomp.CmdConnected, stomp.HdrVersion, "1.2", stomp.HdrHeartBeat, "0,0"))
		return true
	case stomp.CmdSubscribe:
		b.mu.Lock()
		c.subs[f.Header.Get(stomp.HdrDestination)] = f.Header.Get(stomp.HdrID)
		b.mu.Unlock()
	}
	select {
	case b.frames <- f:
	default:
	}
	return f.Command != stomp.CmdDisconnect
}

func (c *conn) write(f *stomp.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	w, err := c.ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := stomp.WriteFrame(w, f); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Publish 向订阅了 destination 的连接推送消息，返回送达的连接数
func (b *Broker) Publish(destination string, body string) int {
	b.mu.Lock()
	var targets []*conn
	var ids []string
	for c := range b.conns {
		if id, ok := c.subs[destination]; ok {
			targets = append(targets, c)
			ids = append(ids, id)
		}
	}
	b.mu.Unlock()

	n := 0
	for i, c := range targets {
		f := stomp.NewFrame(stomp.CmdMessage,
			stomp.HdrDestination, destination,
			stomp.HdrSubscription, ids[i],
			stomp.HdrMessageID, uuid.NewString(),
			stomp.HdrContentLength, strconv.Itoa(len(body)),
		)
		f.Body = []byte(body)
		if c.write(f) == nil {
			n++
		}
	}
	return n
}

// Subscribed 当前所有连接上订阅的目标数
func (b *Broker) Subscribed(destination string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for c := range b.conns {
		if _, ok := c.subs[destination]; ok {
			n++
		}
	}
	return n
}

// Authorization 当前连接携带的认证头
func (b *Broker) Authorization() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.conns {
		return c.auth
	}
	return ""
}

// DropAll 直接断开所有连接，模拟网络中断
func (b *Broker) DropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.conns {
		_ = c.ws.Close()
	}
}
