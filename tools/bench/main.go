package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"im-client/config"
	"im-client/internal/model"
	"im-client/internal/repository"
	"im-client/internal/session"
	"im-client/pkg/metrics"
	"im-client/pkg/stomp"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// -------------------- 系统监控 --------------------

type SystemStats struct {
	Timestamp  time.Time
	HeapAlloc  uint64
	Sys        uint64
	Goroutines int
}

type Monitor struct {
	mu       sync.Mutex
	stats    []SystemStats
	interval time.Duration
	stopChan chan struct{}
}

func NewMonitor(interval time.Duration) *Monitor {
	return &Monitor{
		stats:    make([]SystemStats, 0, 512),
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

func (m *Monitor) collectStats() SystemStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s := SystemStats{
		Timestamp:  time.Now(),
		HeapAlloc:  ms.HeapAlloc,
		Sys:        ms.Sys,
		Goroutines: runtime.NumGoroutine(),
	}
	m.mu.Lock()
	m.stats = append(m.stats, s)
	m.mu.Unlock()
	return s
}

func (m *Monitor) Start() {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.printStats(m.collectStats())
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *Monitor) Stop() { close(m.stopChan) }

func (m *Monitor) printStats(s SystemStats) {
	fmt.Printf("[%s] 堆: %s | 系统: %s | Goroutines: %d\n",
		s.Timestamp.Format("15:04:05"), humanize.IBytes(s.HeapAlloc), humanize.IBytes(s.Sys), s.Goroutines)
}

func (m *Monitor) GenerateReport() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.stats) == 0 {
		fmt.Println("没有监控数据")
		return
	}
	var maxHeap uint64
	var maxGo int
	for _, s := range m.stats {
		if s.HeapAlloc > maxHeap {
			maxHeap = s.HeapAlloc
		}
		if s.Goroutines > maxGo {
			maxGo = s.Goroutines
		}
	}
	fmt.Println("\n=== 系统监控报告 ===")
	fmt.Printf("持续: %v\n", m.stats[len(m.stats)-1].Timestamp.Sub(m.stats[0].Timestamp))
	fmt.Printf("峰值堆内存: %s, 峰值Goroutine: %d\n", humanize.IBytes(maxHeap), maxGo)
}

func (m *Monitor) SaveToFile(filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	_, _ = f.WriteString("Timestamp,HeapAlloc,Sys,Goroutines\n")
	for _, s := range m.stats {
		line := fmt.Sprintf("%s,%d,%d,%d\n", s.Timestamp.Format("2006-01-02 15:04:05"), s.HeapAlloc, s.Sys, s.Goroutines)
		_, _ = f.WriteString(line)
	}
	return nil
}

// -------------------- 回显延迟 --------------------

type EchoStats struct {
	mu       sync.Mutex
	Sent     int
	Echoed   int
	Failed   int
	total    time.Duration
	Max, Min time.Duration
}

func (s *EchoStats) Add(ok bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sent++
	if !ok {
		s.Failed++
		return
	}
	s.Echoed++
	s.total += latency
	if latency > s.Max {
		s.Max = latency
	}
	if s.Min == 0 || latency < s.Min {
		s.Min = latency
	}
}

func (s *EchoStats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Echoed == 0 {
		return 0
	}
	return s.total / time.Duration(s.Echoed)
}

// waitEcho 等待带 marker 的消息出现在快照中
func waitEcho(updates <-chan *model.Snapshot, marker string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return false
			}
			for i := len(snap.Messages) - 1; i >= 0; i-- {
				if snap.Messages[i].Content == marker {
					return true
				}
			}
		case <-deadline:
			return false
		}
	}
}

func waitConnected(updates <-chan *model.Snapshot, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return false
			}
			if snap.State == model.Connected {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

type benchOptions struct {
	configPath string
	username   string
	password   string
	room       string
	sessions   int
	messages   int
	interval   time.Duration
	timeout    time.Duration
}

func runEchoBench(ctx context.Context, opts benchOptions) error {
	cfg := config.LoadConfig(opts.configPath)
	log := zap.NewNop()

	var token string
	client := repository.NewClient(cfg.Server, func() string { return token }, log)
	res, err := repository.NewUserRepository(client).Login(ctx, opts.username, opts.password)
	if err != nil {
		return fmt.Errorf("登录失败: %w", err)
	}
	token = res.AccessToken

	dial := session.StompDialer(stomp.Config{
		URL:            cfg.Server.WebSocketURL,
		ConnectTimeout: cfg.Session.ConnectTimeout,
		PingInterval:   cfg.WebSocket.PingInterval,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		Logger:         log,
	})
	m := metrics.New()

	fmt.Println("\n=== 回显延迟测试开始 ===")
	fmt.Printf("房间: %s 会话: %d 每会话消息: %d\n", opts.room, opts.sessions, opts.messages)

	stats := &EchoStats{}
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < opts.sessions; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			sess := session.New(session.Config{
				RoomID:     opts.room,
				Viewer:     res.Username,
				Token:      token,
				RetryDelay: cfg.Session.RetryDelay,
			}, session.Deps{Dial: dial, Logger: log, Metrics: m})
			defer sess.Teardown()

			updates, cancel := sess.Subscribe()
			defer cancel()
			if err := sess.Connect(ctx); err != nil {
				fmt.Printf("会话 %d 连接失败: %v\n", id, err)
				return
			}
			if !waitConnected(updates, opts.timeout) {
				fmt.Printf("会话 %d 连接超时\n", id)
				return
			}
			for j := 0; j < opts.messages; j++ {
				marker := fmt.Sprintf("bench-%d-%d-%d", id, j, time.Now().UnixNano())
				sent := time.Now()
				if err := sess.Send(marker); err != nil {
					stats.Add(false, 0)
					continue
				}
				stats.Add(waitEcho(updates, marker, opts.timeout), time.Since(sent))
				time.Sleep(opts.interval)
			}
		}(i)
	}
	wg.Wait()

	took := time.Since(start)
	fmt.Println("\n=== 回显延迟测试结果 ===")
	fmt.Printf("耗时: %v\n", took)
	fmt.Printf("发送: %d 回显: %d 失败: %d\n", stats.Sent, stats.Echoed, stats.Failed)
	fmt.Printf("延迟 平均: %v 最大: %v 最小: %v\n", stats.Average(), stats.Max, stats.Min)
	if took > 0 {
		fmt.Printf("吞吐: %.2f msg/s\n", float64(stats.Echoed)/took.Seconds())
	}
	if stats.Sent > 0 {
		fmt.Printf("成功率: %.2f%%\n", float64(stats.Echoed)/float64(stats.Sent)*100)
	}
	return nil
}

// -------------------- 入口 --------------------

func main() {
	opts := benchOptions{}
	cmd := &cobra.Command{
		Use:          "bench",
		Short:        "多会话并发发送并统计服务端回显延迟",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("=== IM 客户端回显压测 ===")
			fmt.Printf("开始时间: %s\n", time.Now().Format("2006-01-02 15:04:05"))

			mon := NewMonitor(time.Second)
			mon.Start()
			err := runEchoBench(cmd.Context(), opts)
			mon.Stop()

			mon.GenerateReport()
			if err := mon.SaveToFile("system_monitor.csv"); err != nil {
				fmt.Println("保存监控数据失败:", err)
			} else {
				fmt.Println("监控数据已保存: system_monitor.csv")
			}
			fmt.Println("\n=== 测试完成 ===")
			return err
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "配置文件路径")
	f.StringVarP(&opts.username, "username", "u", "", "用户名")
	f.StringVar(&opts.password, "password", "", "密码")
	f.StringVarP(&opts.room, "room", "r", "general", "房间")
	f.IntVarP(&opts.sessions, "sessions", "n", 5, "并发会话数")
	f.IntVarP(&opts.messages, "messages", "m", 10, "每个会话发送的消息数")
	f.DurationVar(&opts.interval, "interval", 50*time.Millisecond, "同一会话两次发送的间隔")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Second, "等待连接或回显的超时")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
