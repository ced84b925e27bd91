package console

import "errors"

// 预定义错误
var (
	// ErrAlreadyStarted 已启动
	ErrAlreadyStarted = errors.New("console: already started")

	// ErrUnknownCommand 未知命令
	ErrUnknownCommand = errors.New("console: unknown command")

	// ErrUsage 参数错误
	ErrUsage = errors.New("console: bad arguments")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("console: invalid config")
)
