package stomp

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-stomp/stomp/v3/frame"
)

// STOMP 1.2 命令
const (
	CmdConnect    = frame.CONNECT
	CmdStomp      = frame.STOMP
	CmdConnected  = frame.CONNECTED
	CmdSend       = frame.SEND
	CmdSubscribe  = frame.SUBSCRIBE
	CmdDisconnect = frame.DISCONNECT
	CmdMessage    = frame.MESSAGE
	CmdReceipt    = frame.RECEIPT
	CmdError      = frame.ERROR
)

// 常用头
const (
	HdrAcceptVersion = "accept-version"
	HdrVersion       = "version"
	HdrHost          = "host"
	HdrHeartBeat     = "heart-beat"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrAck           = "ack"
	HdrSubscription  = "subscription"
	HdrMessageID     = "message-id"
	HdrContentType   = "content-type"
	HdrContentLength = "content-length"
	HdrMessage       = "message"
	HdrReceipt       = "receipt"
	HdrAuthorization = "Authorization"
)

var ErrMalformedFrame = errors.New("malformed stomp frame")

// Frame 一个 STOMP 帧，重复的头由 Header.Get 取第一个
type Frame = frame.Frame

// NewFrame 按 key, value 成对传入头
func NewFrame(command string, kv ...string) *Frame {
	return frame.New(command, kv...)
}

// ReadFrames 读出一个 WebSocket 消息中的全部帧
// 单独的换行是心跳，不产生帧
func ReadFrames(r io.Reader) ([]*Frame, error) {
	fr := frame.NewReader(r)
	var frames []*Frame
	for {
		f, err := fr.Read()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
}

// WriteFrame 写出一个帧，f 为 nil 时写心跳
func WriteFrame(w io.Writer, f *Frame) error {
	return frame.NewWriter(w).Write(f)
}
