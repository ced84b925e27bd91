package lpd

import "errors"

// 预定义错误
var (
	// ErrAlreadyStarted 服务已启动
	ErrAlreadyStarted = errors.New("lpd: already started")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("lpd: invalid config")

	// ErrMalformed 报文格式错误
	ErrMalformed = errors.New("lpd: malformed message")

	// ErrNoInterfaces 没有可加入组播组的网卡
	ErrNoInterfaces = errors.New("lpd: no multicast interfaces")
)
