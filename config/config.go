package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath 默认配置文件位置
const DefaultPath = "config/config.yaml"

// Config 客户端配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Log       LogConfig       `yaml:"log"`
	State     StateConfig     `yaml:"state"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Control   ControlConfig   `yaml:"control"`
	JWT       JWTConfig       `yaml:"jwt"`
}

// ServerConfig 聊天服务端地址
type ServerConfig struct {
	APIBaseURL     string        `yaml:"apiBaseUrl"`     // REST 接口前缀，例如 http://localhost:8080/api/v1
	WebSocketURL   string        `yaml:"webSocketUrl"`   // STOMP 端点
	RequestTimeout time.Duration `yaml:"requestTimeout"` // 单次 REST 请求超时
}

// SessionConfig 房间会话参数
type SessionConfig struct {
	RetryDelay      time.Duration `yaml:"retryDelay"`      // 断线重连间隔，固定不增长
	TypingIdle      time.Duration `yaml:"typingIdle"`      // 停止输入判定时间
	ConnectTimeout  time.Duration `yaml:"connectTimeout"`  // 单次握手超时
	ReadThreshold   float64       `yaml:"readThreshold"`   // 可见比例达到该值视为已读
	HistoryPageSize int           `yaml:"historyPageSize"` // 每次连接后拉取的历史条数
	NoticeLimit     int           `yaml:"noticeLimit"`     // 保留的提示条数
}

// WebSocketConfig WebSocket 心跳配置
type WebSocketConfig struct {
	PingInterval   time.Duration `yaml:"pingInterval"`   // 发送心跳的间隔
	ReadTimeout    time.Duration `yaml:"readTimeout"`    // 读超时时间（未收到任何数据则断开）
	WriteTimeout   time.Duration `yaml:"writeTimeout"`   // 写超时时间
	MaxMessageSize int64         `yaml:"maxMessageSize"` // 单条消息最大字节数
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`      // 日志级别
	Filename   string `yaml:"filename"`   // 日志文件名
	MaxSize    int    `yaml:"maxSize"`    // 单个日志文件最大大小(MB)
	MaxBackups int    `yaml:"maxBackups"` // 最大备份文件数
	MaxAge     int    `yaml:"maxAge"`     // 最大保存天数
	Compress   bool   `yaml:"compress"`   // 是否压缩
	Console    bool   `yaml:"console"`    // 同时输出到终端
}

// StateConfig 本地状态存储
type StateConfig struct {
	Driver     string `yaml:"driver"`     // file | mysql | redis
	FilePath   string `yaml:"filePath"`   // driver=file 时的文件位置
	Passphrase string `yaml:"passphrase"` // 非空时加密保存令牌
	Profile    string `yaml:"profile"`    // 本地档案名
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string `yaml:"host"`     // 数据库主机地址
	Port     int    `yaml:"port"`     // 数据库端口
	Username string `yaml:"username"` // 数据库用户名
	Password string `yaml:"password"` // 数据库密码
	Database string `yaml:"database"` // 数据库名称
	Charset  string `yaml:"charset"`  // 字符集
	MaxIdle  int    `yaml:"maxIdle"`  // 最大空闲连接数
	MaxOpen  int    `yaml:"maxOpen"`  // 最大打开连接数
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host      string `yaml:"host"`      // Redis主机地址
	Port      int    `yaml:"port"`      // Redis端口
	Password  string `yaml:"password"`  // Redis密码
	DB        int    `yaml:"db"`        // Redis数据库编号
	KeyPrefix string `yaml:"keyPrefix"` // 键前缀
}

// ControlConfig 本地控制接口
type ControlConfig struct {
	Addr string `yaml:"addr"` // 监听地址，只建议绑定回环地址
	Mode string `yaml:"mode"` // gin 运行模式
}

// JWTConfig 令牌检查配置
// Secret 为空时只做格式与过期检查，不验证签名
type JWTConfig struct {
	Secret string `yaml:"secret"` // JWT密钥
	Issuer string `yaml:"issuer"` // JWT签发者
}

// LoadConfig 加载配置（混合方式：YAML文件 + .env + 环境变量）
func LoadConfig(path string) *Config {
	if path == "" {
		path = DefaultPath
	}
	// 1. 首先从YAML文件加载配置
	config := loadFromYAML(path)

	// 2. .env 中的变量只补充尚未设置的环境变量
	_ = godotenv.Load()

	// 3. 用环境变量覆盖配置（环境变量优先级更高）
	overrideWithEnvVars(config)

	return config
}

// loadFromYAML 从YAML文件加载配置，缺失的字段保留默认值
func loadFromYAML(filePath string) *Config {
	config := getDefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		// 如果文件不存在，返回默认配置
		return config
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		// 如果解析失败，返回默认配置
		return getDefaultConfig()
	}

	return config
}

// overrideWithEnvVars 用环境变量覆盖配置
func overrideWithEnvVars(config *Config) {
	// 服务端地址
	if v := getEnv("IM_API_BASE_URL", ""); v != "" {
		config.Server.APIBaseURL = v
	}
	if v := getEnv("IM_WS_URL", ""); v != "" {
		config.Server.WebSocketURL = v
	}
	if d := getEnvDuration("IM_REQUEST_TIMEOUT", 0); d > 0 {
		config.Server.RequestTimeout = d
	}

	// 会话配置
	if d := getEnvDuration("SESSION_RETRY_DELAY", 0); d > 0 {
		config.Session.RetryDelay = d
	}
	if d := getEnvDuration("SESSION_TYPING_IDLE", 0); d > 0 {
		config.Session.TypingIdle = d
	}
	if d := getEnvDuration("SESSION_CONNECT_TIMEOUT", 0); d > 0 {
		config.Session.ConnectTimeout = d
	}
	if v := getEnvFloat("SESSION_READ_THRESHOLD", 0); v > 0 {
		config.Session.ReadThreshold = v
	}
	if n := getEnvInt("SESSION_HISTORY_PAGE_SIZE", 0); n > 0 {
		config.Session.HistoryPageSize = n
	}

	// WebSocket配置
	if d := getEnvDuration("WS_PING_INTERVAL", 0); d > 0 {
		config.WebSocket.PingInterval = d
	}
	if d := getEnvDuration("WS_READ_TIMEOUT", 0); d > 0 {
		config.WebSocket.ReadTimeout = d
	}
	if d := getEnvDuration("WS_WRITE_TIMEOUT", 0); d > 0 {
		config.WebSocket.WriteTimeout = d
	}

	// 日志配置
	if level := getEnv("LOG_LEVEL", ""); level != "" {
		config.Log.Level = level
	}
	if filename := getEnv("LOG_FILENAME", ""); filename != "" {
		config.Log.Filename = filename
	}
	config.Log.Console = getEnvBool("LOG_CONSOLE", config.Log.Console)

	// 状态存储
	if driver := getEnv("STATE_DRIVER", ""); driver != "" {
		config.State.Driver = driver
	}
	if p := getEnv("STATE_FILE", ""); p != "" {
		config.State.FilePath = p
	}
	if p := getEnv("STATE_PASSPHRASE", ""); p != "" {
		config.State.Passphrase = p
	}
	if p := getEnv("STATE_PROFILE", ""); p != "" {
		config.State.Profile = p
	}

	// 数据库配置
	if host := getEnv("DB_HOST", ""); host != "" {
		config.Database.Host = host
	}
	if port := getEnvInt("DB_PORT", 0); port > 0 {
		config.Database.Port = port
	}
	if username := getEnv("DB_USERNAME", ""); username != "" {
		config.Database.Username = username
	}
	if password := getEnv("DB_PASSWORD", ""); password != "" {
		config.Database.Password = password
	}
	if database := getEnv("DB_DATABASE", ""); database != "" {
		config.Database.Database = database
	}

	// Redis配置
	if host := getEnv("REDIS_HOST", ""); host != "" {
		config.Redis.Host = host
	}
	if port := getEnvInt("REDIS_PORT", 0); port > 0 {
		config.Redis.Port = port
	}
	if password := getEnv("REDIS_PASSWORD", ""); password != "" {
		config.Redis.Password = password
	}
	if db := getEnvInt("REDIS_DB", -1); db >= 0 {
		config.Redis.DB = db
	}

	// 控制接口
	if addr := getEnv("CONTROL_ADDR", ""); addr != "" {
		config.Control.Addr = addr
	}

	// JWT配置
	if secret := getEnv("JWT_SECRET", ""); secret != "" {
		config.JWT.Secret = secret
	}
	if issuer := getEnv("JWT_ISSUER", ""); issuer != "" {
		config.JWT.Issuer = issuer
	}
}

// Validate 检查必填项
func (c *Config) Validate() error {
	var errs []error
	for name, raw := range map[string]string{
		"server.apiBaseUrl":   c.Server.APIBaseURL,
		"server.webSocketUrl": c.Server.WebSocketURL,
	} {
		if raw == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s is not an absolute url: %q", name, raw))
		}
	}
	for name, d := range map[string]time.Duration{
		"server.requestTimeout":  c.Server.RequestTimeout,
		"session.retryDelay":     c.Session.RetryDelay,
		"session.typingIdle":     c.Session.TypingIdle,
		"session.connectTimeout": c.Session.ConnectTimeout,
		"websocket.writeTimeout": c.WebSocket.WriteTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Session.ReadThreshold <= 0 || c.Session.ReadThreshold > 1 {
		errs = append(errs, fmt.Errorf("session.readThreshold must be in (0, 1]"))
	}
	switch c.State.Driver {
	case "file", "mysql", "redis":
	default:
		errs = append(errs, fmt.Errorf("state.driver %q is not one of file, mysql, redis", c.State.Driver))
	}
	return errors.Join(errs...)
}

// getDefaultConfig 获取默认配置
func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			APIBaseURL:     "http://localhost:8080/api/v1",
			WebSocketURL:   "ws://localhost:8080/chat/websocket",
			RequestTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			RetryDelay:      3 * time.Second,
			TypingIdle:      3 * time.Second,
			ConnectTimeout:  10 * time.Second,
			ReadThreshold:   0.5,
			HistoryPageSize: 50,
			NoticeLimit:     100,
		},
		WebSocket: WebSocketConfig{
			PingInterval:   10 * time.Second,
			ReadTimeout:    0,
			WriteTimeout:   5 * time.Second,
			MaxMessageSize: 1 << 20,
		},
		Log: LogConfig{
			Level:      "info",
			Filename:   "logs/client.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
		State: StateConfig{
			Driver:   "file",
			FilePath: "state.yaml",
			Profile:  "default",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     3306,
			Username: "im_user",
			Database: "im_client",
			Charset:  "utf8mb4",
			MaxIdle:  2,
			MaxOpen:  4,
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			DB:        0,
			KeyPrefix: "im:client:",
		},
		Control: ControlConfig{
			Addr: "127.0.0.1:7070",
			Mode: "release",
		},
	}
}

// 辅助函数：获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// 辅助函数：获取整数环境变量
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// 辅助函数：获取浮点环境变量
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// 辅助函数：获取布尔环境变量
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// 辅助函数：获取时间环境变量
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
