package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"im-client/internal/handler"
	"im-client/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runRoom string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "进入房间并启动本地控制接口",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		log := a.log

		log.Info("=== IM客户端启动 ===")
		log.Info("客户端配置信息",
			zap.String("api", a.cfg.Server.APIBaseURL),
			zap.String("websocket", a.cfg.Server.WebSocketURL),
			zap.String("state_driver", a.cfg.State.Driver),
			zap.String("profile", a.cfg.State.Profile),
			zap.Duration("retry_delay", a.cfg.Session.RetryDelay),
			zap.String("control_addr", a.cfg.Control.Addr),
		)

		// 恢复登录状态；没有令牌时用命令行参数登录，否则等待控制接口登录
		st, err := a.svc.Restore(cmd.Context())
		if errors.Is(err, service.ErrNotAuthenticated) && loginUser != "" {
			st, err = a.svc.Login(cmd.Context(), loginUser, loginPassword)
		}
		if err == nil {
			room := runRoom
			if room == "" {
				room = st.RoomID
			}
			if room != "" {
				if _, err := a.svc.EnterRoom(cmd.Context(), room); err != nil {
					log.Warn("进入房间失败", zap.String("room", room), zap.Error(err))
				}
			}
		} else if !errors.Is(err, service.ErrNotAuthenticated) {
			return err
		}

		switch a.cfg.Control.Mode {
		case gin.DebugMode, gin.TestMode:
			gin.SetMode(a.cfg.Control.Mode)
		default:
			gin.SetMode(gin.ReleaseMode)
		}
		router := handler.NewRouter(handler.NewChatHandler(a.svc), a.metrics)

		server := &http.Server{
			Addr:              a.cfg.Control.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("控制接口启动", zap.String("addr", a.cfg.Control.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("控制接口启动失败", zap.Error(err))
			}
		}()

		// 优雅关闭
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Info("正在关闭客户端...")
		// 先结束会话，快照流随之关闭
		a.svc.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("控制接口关闭失败", zap.Error(err))
		}
		log.Info("客户端已安全关闭")
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runRoom, "room", "r", "", "进入的房间，缺省使用上次的房间")
	runCmd.Flags().StringVarP(&loginUser, "username", "u", "", "未登录时使用的用户名")
	runCmd.Flags().StringVar(&loginPassword, "password", "", "未登录时使用的密码")
}
