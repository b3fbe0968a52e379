package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"im-client/config"
	"im-client/internal/model"
	"im-client/internal/repository"
	"im-client/internal/session"
	"im-client/pkg/secret"
	"im-client/pkg/stomp"

	"github.com/gin-gonic/gin"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accessToken(t *testing.T) string {
	t.Helper()
	tok, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, jwtv5.MapClaims{
		"username": "alice",
		"exp":      time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("server-secret"))
	require.NoError(t, err)
	return tok
}

type stubConn struct {
	mu   sync.Mutex
	sent []string
	msgs chan *stomp.Frame
	once sync.Once
}

func (c *stubConn) Subscribe(dest string) (string, error) { return dest, nil }

func (c *stubConn) Send(dest string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, dest)
	return nil
}

func (c *stubConn) Messages() <-chan *stomp.Frame { return c.msgs }
func (c *stubConn) Err() error                    { return nil }

func (c *stubConn) Close() error {
	c.once.Do(func() { close(c.msgs) })
	return nil
}

func (c *stubConn) destinations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type fixture struct {
	svc       *ChatService
	store     *repository.FileStateStore
	conns     chan *stubConn
	historyOK atomic.Bool
	logouts   chan error
	created   sync.Map
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{conns: make(chan *stubConn, 8), logouts: make(chan error, 4)}
	f.historyOK.Store(true)
	token := accessToken(t)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1")
	api.POST("/auth/login", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"access_token": token, "refresh_token": "ref", "username": "alice"})
	})
	api.GET("/rooms/:room/exists", func(c *gin.Context) {
		_, created := f.created.Load(c.Param("room"))
		c.JSON(http.StatusOK, c.Param("room") == "room1" || created)
	})
	api.POST("/rooms", func(c *gin.Context) {
		var in struct {
			RoomID string `json:"roomId"`
		}
		_ = c.ShouldBindJSON(&in)
		if _, loaded := f.created.LoadOrStore(in.RoomID, true); loaded || in.RoomID == "room1" {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Room already exists!"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"roomId": in.RoomID})
	})
	api.GET("/rooms/:room", func(c *gin.Context) {
		if c.Param("room") != "room1" {
			c.String(http.StatusNotFound, "Room not found!")
			return
		}
		c.JSON(http.StatusOK, gin.H{"roomId": "room1"})
	})
	api.GET("/messages/:id/thread", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"parentMessageId": c.Param("id"), "replyCount": 1})
	})
	api.GET("/rooms/:room/messages", func(c *gin.Context) {
		if !f.historyOK.Load() {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
			return
		}
		c.JSON(http.StatusOK, []gin.H{
			{"id": 2, "sender": "bob", "content": "two", "timestamp": 2000},
			{"id": 1, "sender": "bob", "content": "one", "timestamp": 1000},
		})
	})
	api.POST("/attachments/upload", func(c *gin.Context) {
		_, _ = c.FormFile("file")
		c.JSON(http.StatusOK, gin.H{"attachmentId": 5})
	})
	api.POST("/attachments/send", func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported file type"})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Server.APIBaseURL = srv.URL + "/api/v1"
	cfg.Server.WebSocketURL = "ws://example.invalid/chat/websocket"
	cfg.Session.HistoryPageSize = 50

	f.store = repository.NewFileStateStore(filepath.Join(t.TempDir(), "state.yaml"), "default", secret.New(""))
	f.svc = NewChatService(cfg, f.store, Deps{
		Dial: func(ctx context.Context, token string) (session.Conn, error) {
			c := &stubConn{msgs: make(chan *stomp.Frame, 4)}
			f.conns <- c
			return c, nil
		},
		OnLogout: func(reason error) { f.logouts <- reason },
	})
	t.Cleanup(f.svc.Close)
	return f
}

func (f *fixture) nextConn(t *testing.T) *stubConn {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("没有发起连接")
		return nil
	}
}

func Test_LoginAndRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Restore(ctx)
	require.ErrorIs(t, err, ErrNotAuthenticated)

	st, err := f.svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.NotEmpty(t, st.AccessToken)

	saved, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ref", saved.RefreshToken)

	other := NewChatService(f.svc.cfg, f.store, Deps{})
	restored, err := other.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", restored.Username)
}

func Test_EnterRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.EnterRoom(ctx, "room1")
	require.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = f.svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	_, err = f.svc.EnterRoom(ctx, "missing")
	require.ErrorIs(t, err, ErrRoomNotFound)

	sess, err := f.svc.EnterRoom(ctx, "room1")
	require.NoError(t, err)
	conn := f.nextConn(t)

	require.Eventually(t, func() bool {
		return len(sess.Snapshot().Messages) == 2
	}, 2*time.Second, 5*time.Millisecond, "连接后加载历史")
	msgs := sess.Snapshot().Messages
	assert.Equal(t, model.ID("1"), msgs[0].ID)
	assert.Equal(t, "alice", sess.Viewer())
	assert.Contains(t, conn.destinations(), "/app/delivered/room1")

	saved, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "room1", saved.RoomID)

	t.Run("leave tears the session down", func(t *testing.T) {
		f.svc.LeaveRoom(ctx)
		assert.Nil(t, f.svc.Session())
		assert.Equal(t, model.Disconnected, sess.State())
		assert.Contains(t, conn.destinations(), "/app/leave/room1")
	})
}

func Test_CreateRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateRoom(ctx, "garden")
	require.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = f.svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	_, err = f.svc.CreateRoom(ctx, " ab ")
	require.ErrorIs(t, err, ErrInvalidRoomID)

	_, err = f.svc.CreateRoom(ctx, "room1")
	require.ErrorIs(t, err, ErrRoomExists)

	sess, err := f.svc.CreateRoom(ctx, "garden")
	require.NoError(t, err)
	f.nextConn(t)
	assert.Equal(t, "garden", sess.RoomID())
	assert.Equal(t, sess, f.svc.Session())
}

func Test_RoomAndThreadInfo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	room, err := f.svc.Room(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, "room1", room.RoomID)

	_, err = f.svc.Room(ctx, "missing")
	require.ErrorIs(t, err, ErrRoomNotFound)

	info, err := f.svc.ThreadInfo(ctx, "4")
	require.NoError(t, err)
	assert.Equal(t, model.ID("4"), info.ParentID)
	assert.True(t, info.HasReplies)
}

func Test_HistoryUnauthorizedForcesLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	f.historyOK.Store(false)

	sess, err := f.svc.EnterRoom(ctx, "room1")
	require.NoError(t, err)
	f.nextConn(t)

	select {
	case reason := <-f.logouts:
		assert.True(t, repository.IsUnauthorized(reason))
	case <-time.After(2 * time.Second):
		t.Fatal("未强制登出")
	}
	assert.Nil(t, f.svc.Current())
	_, err = f.store.Load(ctx)
	assert.ErrorIs(t, err, repository.ErrNoState)

	var texts []string
	for _, n := range sess.Notices() {
		texts = append(texts, n.Text)
	}
	assert.Contains(t, texts, "Failed to load messages")
}

func Test_SendAttachment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.svc.SendAttachment(ctx, "a.png", strings.NewReader("x"), 1, ""), ErrNoRoom)

	_, err := f.svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	sess, err := f.svc.EnterRoom(ctx, "room1")
	require.NoError(t, err)
	f.nextConn(t)
	require.Eventually(t, func() bool { return sess.State() == model.Connected }, 2*time.Second, 5*time.Millisecond)

	err = f.svc.SendAttachment(ctx, "a.png", strings.NewReader("png"), 3, "look")
	require.Error(t, err)

	var texts []string
	for _, n := range sess.Notices() {
		texts = append(texts, n.Text)
	}
	assert.Contains(t, texts, "Sending attachment...")
	assert.Contains(t, texts, "Unsupported file type")
	assert.NotContains(t, texts, "Attachment sent!")
}

func Test_Logout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	_, err = f.svc.EnterRoom(ctx, "room1")
	require.NoError(t, err)
	f.nextConn(t)

	require.NoError(t, f.svc.Logout(ctx))
	assert.Nil(t, f.svc.Session())
	assert.Nil(t, f.svc.Current())
	assert.Nil(t, <-f.logouts)
	_, err = f.store.Load(ctx)
	assert.ErrorIs(t, err, repository.ErrNoState)
}
