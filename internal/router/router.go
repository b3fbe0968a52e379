package router

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

var ErrUnknownTopic = errors.New("unknown topic")

// HandlerFunc 处理某个主题上的一条消息
type HandlerFunc func(body []byte) error

// Router 按主题分发入站消息
// 单个处理器的解析失败或 panic 只影响当前消息，不影响其他主题
type Router struct {
	handlers map[string]HandlerFunc
	logger   *zap.Logger
	onError  func(topic string, err error)
	observe  func(topic string, err error)
}

func New(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
		onError:  func(string, error) {},
		observe:  func(string, error) {},
	}
}

// Handle 注册主题处理器，重复注册覆盖旧的
func (r *Router) Handle(topic string, h HandlerFunc) {
	r.handlers[topic] = h
}

// OnError 处理器失败时的回调
func (r *Router) OnError(f func(topic string, err error)) {
	if f != nil {
		r.onError = f
	}
}

// Observe 每条消息处理完成后的回调，用于统计
func (r *Router) Observe(f func(topic string, err error)) {
	if f != nil {
		r.observe = f
	}
}

// Topics 已注册的主题，按字典序
func (r *Router) Topics() []string {
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Dispatch 将消息交给对应的处理器
func (r *Router) Dispatch(destination string, body []byte) (err error) {
	h, ok := r.handlers[destination]
	if !ok {
		r.logger.Warn("忽略未订阅的主题", zap.String("destination", destination))
		return fmt.Errorf("%w: %s", ErrUnknownTopic, destination)
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
		r.observe(destination, err)
		if err != nil {
			r.logger.Error("处理入站消息失败",
				zap.String("destination", destination),
				zap.Int("size", len(body)),
				zap.Error(err),
			)
			r.onError(destination, err)
		}
	}()

	return h(body)
}
