package dht

import (
	"errors"
	"fmt"
)

// 预定义错误
var (
	// ErrProtocol 报文格式错误（解码失败、字段缺失）
	ErrProtocol = errors.New("dht: malformed message")

	// ErrTimeout 请求超时（重传耗尽）
	ErrTimeout = errors.New("dht: request timeout")

	// ErrCapacity 容量已满（记录表、事务表）
	ErrCapacity = errors.New("dht: capacity exceeded")

	// ErrNotFound 标识符未找到
	ErrNotFound = errors.New("dht: not found")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("dht: invalid config")

	// ErrConflictingPort 同一标识符已以不同端口发布
	ErrConflictingPort = errors.New("dht: identifier already announced with a different port")

	// ErrNoNearbyPeers 路由表为空
	ErrNoNearbyPeers = errors.New("dht: no nearby peers")

	// ErrClosed DHT 已关闭
	ErrClosed = errors.New("dht: closed")

	// ErrAlreadyStarted DHT 已启动
	ErrAlreadyStarted = errors.New("dht: already started")

	// ErrBadToken 发布令牌无效
	ErrBadToken = errors.New("dht: invalid announce token")

	// ErrRemote 对端返回 ERROR 报文
	ErrRemote = errors.New("dht: remote error")
)

// DHTError DHT 错误类型
type DHTError struct {
	Op      string // 操作名称
	Err     error  // 底层错误
	Message string // 错误消息
}

// Error 实现 error 接口
func (e *DHTError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("dht %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("dht %s: %v", e.Op, e.Err)
}

// Unwrap 实现错误解包
func (e *DHTError) Unwrap() error {
	return e.Err
}

// NewDHTError 创建 DHT 错误
func NewDHTError(op string, err error, message string) *DHTError {
	return &DHTError{
		Op:      op,
		Err:     err,
		Message: message,
	}
}

// IsConfigError 判断是否为配置类错误（应由调用方立即处理）
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrConflictingPort)
}
