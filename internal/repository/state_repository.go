package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"im-client/config"
	"im-client/internal/model"
	"im-client/pkg/db"
	redisx "im-client/pkg/redis"
	"im-client/pkg/secret"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoState 尚未保存过状态
var ErrNoState = errors.New("no persisted client state")

// StateStore 客户端持久化状态：令牌、用户名、显示名、上次房间
type StateStore interface {
	Load(ctx context.Context) (*model.ClientState, error)
	Save(ctx context.Context, state *model.ClientState) error
	Clear(ctx context.Context) error
}

// HealthChecker 依赖外部服务的存储实现该接口
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// OpenStateStore 按 state.driver 打开状态存储，返回的 closer 释放底层连接
func OpenStateStore(ctx context.Context, cfg *config.Config) (StateStore, func() error, error) {
	box := secret.New(cfg.State.Passphrase)
	profile := cfg.State.Profile
	switch cfg.State.Driver {
	case "", "file":
		return NewFileStateStore(cfg.State.FilePath, profile, box), func() error { return nil }, nil
	case "mysql":
		orm, err := db.InitDB(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		store, err := NewGormStateStore(orm, profile, box)
		if err != nil {
			_ = db.CloseDB(orm)
			return nil, nil, err
		}
		return store, func() error { return db.CloseDB(orm) }, nil
	case "redis":
		client, err := redisx.InitRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		key := redisx.Key(cfg.Redis.KeyPrefix, "state", profile)
		return NewRedisStateStore(client, key, box), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown state driver %q", cfg.State.Driver)
	}
}

// sealTokens 返回令牌已加密的副本
func sealTokens(box *secret.Box, st *model.ClientState) (*model.ClientState, error) {
	out := *st
	var err error
	if out.AccessToken, err = box.Seal(st.AccessToken); err != nil {
		return nil, err
	}
	if out.RefreshToken, err = box.Seal(st.RefreshToken); err != nil {
		return nil, err
	}
	return &out, nil
}

func openTokens(box *secret.Box, st *model.ClientState) error {
	var err error
	if st.AccessToken, err = box.Open(st.AccessToken); err != nil {
		return err
	}
	st.RefreshToken, err = box.Open(st.RefreshToken)
	return err
}

// FileStateStore YAML 文件中的状态，按档案名分区
type FileStateStore struct {
	path    string
	profile string
	box     *secret.Box
}

type stateFile struct {
	Profiles map[string]*model.ClientState `yaml:"profiles"`
}

func NewFileStateStore(path, profile string, box *secret.Box) *FileStateStore {
	return &FileStateStore{path: path, profile: profile, box: box}
}

func (s *FileStateStore) read() (*stateFile, error) {
	f := &stateFile{Profiles: map[string]*model.ClientState{}}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("解析状态文件失败: %w", err)
	}
	if f.Profiles == nil {
		f.Profiles = map[string]*model.ClientState{}
	}
	return f, nil
}

func (s *FileStateStore) write(f *stateFile) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStateStore) Load(ctx context.Context) (*model.ClientState, error) {
	f, err := s.read()
	if err != nil {
		return nil, err
	}
	st, ok := f.Profiles[s.profile]
	if !ok || st == nil {
		return nil, ErrNoState
	}
	st.Profile = s.profile
	if err := openTokens(s.box, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *FileStateStore) Save(ctx context.Context, state *model.ClientState) error {
	f, err := s.read()
	if err != nil {
		return err
	}
	sealed, err := sealTokens(s.box, state)
	if err != nil {
		return err
	}
	sealed.Profile = s.profile
	sealed.UpdatedAt = time.Now()
	f.Profiles[s.profile] = sealed
	return s.write(f)
}

func (s *FileStateStore) Clear(ctx context.Context) error {
	f, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := f.Profiles[s.profile]; !ok {
		return nil
	}
	delete(f.Profiles, s.profile)
	return s.write(f)
}

// GormStateStore MySQL 中的状态表
type GormStateStore struct {
	db      *gorm.DB
	profile string
	box     *secret.Box
}

// NewGormStateStore 创建并迁移 client_state 表
func NewGormStateStore(db *gorm.DB, profile string, box *secret.Box) (*GormStateStore, error) {
	if err := db.AutoMigrate(&model.ClientState{}); err != nil {
		return nil, fmt.Errorf("迁移状态表失败: %w", err)
	}
	return &GormStateStore{db: db, profile: profile, box: box}, nil
}

func (s *GormStateStore) Load(ctx context.Context) (*model.ClientState, error) {
	var st model.ClientState
	err := s.db.WithContext(ctx).Where("profile = ?", s.profile).First(&st).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoState
		}
		return nil, err
	}
	if err := openTokens(s.box, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Save 按档案名 upsert
func (s *GormStateStore) Save(ctx context.Context, state *model.ClientState) error {
	sealed, err := sealTokens(s.box, state)
	if err != nil {
		return err
	}
	sealed.ID = 0
	sealed.Profile = s.profile
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "profile"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "username", "display_name", "room_id", "updated_at"}),
	}).Create(sealed).Error
}

func (s *GormStateStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("profile = ?", s.profile).Delete(&model.ClientState{}).Error
}

func (s *GormStateStore) Ping(ctx context.Context) error {
	return db.HealthCheck(s.db)
}

// RedisStateStore Redis 中的状态，一个档案一个键
type RedisStateStore struct {
	client *redis.Client
	key    string
	box    *secret.Box
}

func NewRedisStateStore(client *redis.Client, key string, box *secret.Box) *RedisStateStore {
	return &RedisStateStore{client: client, key: key, box: box}
}

func (s *RedisStateStore) Load(ctx context.Context) (*model.ClientState, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoState
		}
		return nil, err
	}
	var st model.ClientState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("解析状态失败: %w", err)
	}
	if err := openTokens(s.box, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *RedisStateStore) Save(ctx context.Context, state *model.ClientState) error {
	sealed, err := sealTokens(s.box, state)
	if err != nil {
		return err
	}
	sealed.UpdatedAt = time.Now()
	data, err := json.Marshal(sealed)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, data, 0).Err()
}

func (s *RedisStateStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

func (s *RedisStateStore) Ping(ctx context.Context) error {
	return redisx.HealthCheck(ctx, s.client)
}
