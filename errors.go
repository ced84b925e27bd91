package kadnode

import "errors"

// 公共错误定义
var (
	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("node closed")

	// ErrInvalidName 无法从名称得到标识符
	ErrInvalidName = errors.New("invalid name")
)
