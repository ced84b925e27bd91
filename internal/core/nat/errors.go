package nat

import (
	"errors"
	"fmt"
)

// 预定义错误
var (
	// ErrNoGateway 没有可用的映射网关
	ErrNoGateway = errors.New("nat: no gateway found")

	// ErrAlreadyStarted 服务已启动
	ErrAlreadyStarted = errors.New("nat: service already started")

	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("nat: invalid config")

	// ErrNotMapped 当前没有映射
	ErrNotMapped = errors.New("nat: port not mapped")
)

// MappingError 端口映射错误
type MappingError struct {
	Mapper   string
	Protocol string
	Port     int
	Err      error
}

// Error 实现 error 接口
func (e *MappingError) Error() string {
	return fmt.Sprintf("nat: %s mapping %s port %d: %v", e.Mapper, e.Protocol, e.Port, e.Err)
}

// Unwrap 支持 errors.Is / errors.As
func (e *MappingError) Unwrap() error {
	return e.Err
}
