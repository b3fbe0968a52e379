package main

import (
	"context"
	"fmt"
	"os"

	"im-client/config"
	"im-client/internal/repository"
	"im-client/internal/service"
	"im-client/pkg/logger"
	"im-client/pkg/metrics"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

var (
	configPath string
	profile    string
)

var rootCmd = &cobra.Command{
	Use:           "im-client",
	Short:         "聊天房间实时同步客户端",
	Long:          `im-client 维护一个房间的实时会话，并在本地提供控制接口供渲染层读取快照、发送消息。`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 由 main 调用
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "配置文件路径")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "本地档案名，覆盖 state.profile")

	rootCmd.AddCommand(runCmd, loginCmd, logoutCmd, whoamiCmd)
}

// app 各子命令共享的运行时
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
	svc     *service.ChatService
	closeFn func() error
}

func bootstrap(ctx context.Context) (*app, error) {
	// 1. 加载配置
	cfg := config.LoadConfig(configPath)
	if profile != "" {
		cfg.State.Profile = profile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}

	// 2. 初始化日志系统
	log, err := logger.InitLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	// 3. 打开本地状态存储
	store, closeFn, err := repository.OpenStateStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("打开状态存储失败: %w", err)
	}

	m := metrics.New()
	svc := service.NewChatService(cfg, store, service.Deps{
		Logger:  log,
		Metrics: m,
		OnLogout: func(reason error) {
			if reason != nil {
				log.Warn("会话已失效，请重新登录", zap.Error(reason))
			}
		},
	})
	return &app{cfg: cfg, log: log, metrics: m, svc: svc, closeFn: closeFn}, nil
}

func (a *app) Close() {
	a.svc.Close()
	if err := a.closeFn(); err != nil {
		a.log.Error("关闭状态存储失败", zap.Error(err))
	}
	_ = a.log.Sync()
}
