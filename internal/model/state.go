package model

import "time"

// ClientState 客户端持久化状态
// 会话开始时读取，登出时清空
// Profile 区分同一存储中的多个本地档案，默认 "default"

type ClientState struct {
	ID           uint      `gorm:"primaryKey" yaml:"-"`
	Profile      string    `gorm:"type:varchar(64);not null;uniqueIndex;comment:本地档案名" yaml:"profile"`
	AccessToken  string    `gorm:"type:text;comment:访问令牌" yaml:"accessToken"`
	RefreshToken string    `gorm:"type:text;comment:刷新令牌" yaml:"refreshToken"`
	Username     string    `gorm:"type:varchar(64);comment:用户名" yaml:"username"`
	DisplayName  string    `gorm:"type:varchar(64);comment:显示名" yaml:"displayName"`
	RoomID       string    `gorm:"type:varchar(128);comment:上次使用的房间" yaml:"roomId"`
	UpdatedAt    time.Time `gorm:"comment:更新时间" yaml:"updatedAt"`
}

func (ClientState) TableName() string { return "client_state" }

// Authenticated 是否持有令牌
func (s *ClientState) Authenticated() bool {
	return s != nil && s.AccessToken != ""
}

// Identity 当前用户标识，缺省时回退到显示名
func (s *ClientState) Identity() string {
	if s == nil {
		return ""
	}
	if s.Username != "" {
		return s.Username
	}
	return s.DisplayName
}
