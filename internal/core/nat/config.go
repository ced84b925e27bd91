package nat

import (
	"fmt"
	"time"

	"github.com/dep2p/go-kadnode/config"
)

// Config 端口映射配置
type Config struct {
	// Enabled 是否启用
	Enabled bool

	// EnableUPnP 使用 UPnP IGD
	EnableUPnP bool

	// EnableNATPMP 使用 NAT-PMP
	EnableNATPMP bool

	// Timeout 网关探测与单次映射请求的超时
	Timeout time.Duration

	// Lease 映射租期
	Lease time.Duration

	// RetryInterval 探测或映射失败后的重试间隔
	RetryInterval time.Duration

	// Port 要映射的 UDP 端口（0 表示由 DHT 本地地址决定）
	Port int
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		EnableUPnP:    true,
		EnableNATPMP:  true,
		Timeout:       10 * time.Second,
		Lease:         time.Hour,
		RetryInterval: 5 * time.Minute,
	}
}

// ConfigFromUnified 从统一配置创建端口映射配置
func ConfigFromUnified(cfg *config.Config) *Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	n := cfg.NAT
	c.Enabled = !n.Disable && cfg.Network.Family != config.FamilyIPv6
	c.EnableUPnP = n.EnableUPnP
	c.EnableNATPMP = n.EnableNATPMP
	c.Timeout = n.Timeout.Duration()
	c.Lease = n.Lease.Duration()
	c.Port = cfg.Network.Port
	return c
}

// Validate 验证配置
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Timeout <= 0 || c.RetryInterval <= 0 {
		return fmt.Errorf("%w: timeout and retry interval must be positive", ErrInvalidConfig)
	}
	if c.Lease < time.Minute {
		return fmt.Errorf("%w: lease must be at least one minute", ErrInvalidConfig)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	return nil
}
