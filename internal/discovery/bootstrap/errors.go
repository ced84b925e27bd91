package bootstrap

import (
	"errors"
	"fmt"
)

// 预定义错误
var (
	// ErrNoBootstrapPeers 没有可用的引导地址
	ErrNoBootstrapPeers = errors.New("bootstrap: no bootstrap peers")

	// ErrAlreadyStarted 服务已启动
	ErrAlreadyStarted = errors.New("bootstrap: already started")

	// ErrInvalidPeer 无效的节点地址
	ErrInvalidPeer = errors.New("bootstrap: invalid peer address")
)

// BootstrapError 引导错误
type BootstrapError struct {
	Op   string
	Peer string
	Err  error
}

// Error 实现 error 接口
func (e *BootstrapError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("bootstrap %s %s: %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("bootstrap %s: %v", e.Op, e.Err)
}

// Unwrap 支持 errors.Is / errors.As
func (e *BootstrapError) Unwrap() error {
	return e.Err
}
