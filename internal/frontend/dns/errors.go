package dns

import "errors"

// 预定义错误
var (
	// ErrAlreadyStarted 已启动
	ErrAlreadyStarted = errors.New("dns: already started")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("dns: invalid config")

	// ErrNoUpstream 没有可用的上游服务器
	ErrNoUpstream = errors.New("dns: no upstream server")
)
