package repository

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"im-client/internal/model"
)

// LoginResult 登录响应
type LoginResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Username     string `json:"username"`
	DisplayName  string `json:"displayName"`
}

// Profile 当前用户信息
type Profile struct {
	ID          model.ID `json:"id,omitempty"`
	Username    string   `json:"username"`
	DisplayName string   `json:"displayName,omitempty"`
	Email       string   `json:"email,omitempty"`
}

type UserRepository struct {
	client *Client
}

func NewUserRepository(client *Client) *UserRepository {
	return &UserRepository{client: client}
}

// Login 用户名密码登录
func (r *UserRepository) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}
	var result LoginResult
	in := map[string]string{"username": username, "password": password}
	if err := r.client.doJSON(ctx, http.MethodPost, "/auth/login", nil, in, &result); err != nil {
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, errors.New("login response without access token")
	}
	if result.DisplayName == "" {
		result.DisplayName = result.Username
	}
	return &result, nil
}

// Me 获取当前用户
func (r *UserRepository) Me(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := r.client.doJSON(ctx, http.MethodGet, "/auth/me", nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
