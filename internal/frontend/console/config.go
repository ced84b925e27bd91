package console

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/dep2p/go-kadnode/config"
)

// Config 控制台配置
type Config struct {
	// Enabled 是否启用
	Enabled bool

	// Listen 监听地址
	Listen string

	// TLD 名称的查询顶级域
	TLD string

	// IdleTimeout 连接空闲超时
	IdleTimeout time.Duration

	// CommandTimeout 单条命令超时
	CommandTimeout time.Duration

	// MaxConns 最大并发连接数
	MaxConns int
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		Listen:         "127.0.0.1:1700",
		TLD:            ".p2p",
		IdleTimeout:    5 * time.Minute,
		CommandTimeout: 30 * time.Second,
		MaxConns:       16,
	}
}

// ConfigFromUnified 从统一配置创建控制台配置
//
// 控制台只监听回环地址。
func ConfigFromUnified(cfg *config.Config) *Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	c.Enabled = cfg.Console.Enable
	c.Listen = net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Console.Port))
	c.TLD = cfg.DNS.QueryTLD
	return c
}

// Validate 验证配置
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("%w: listen %q: %v", ErrInvalidConfig, c.Listen, err)
	}
	if c.IdleTimeout <= 0 || c.CommandTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("%w: max conns must be positive", ErrInvalidConfig)
	}
	return nil
}
