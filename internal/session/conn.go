package session

import (
	"context"

	"im-client/pkg/stomp"
)

// Conn 会话使用的传输连接
type Conn interface {
	Subscribe(destination string) (string, error)
	Send(destination string, body []byte) error
	// Messages 入站消息，连接结束后关闭
	Messages() <-chan *stomp.Frame
	// Err 连接结束的原因
	Err() error
	Close() error
}

// DialFunc 使用令牌建立一条连接
type DialFunc func(ctx context.Context, token string) (Conn, error)

// StompDialer 基于 pkg/stomp 的拨号器
func StompDialer(cfg stomp.Config) DialFunc {
	return func(ctx context.Context, token string) (Conn, error) {
		c := cfg
		c.Token = token
		client, err := stomp.Dial(ctx, c)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}
