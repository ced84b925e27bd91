package config

import (
	"errors"
	"time"
)

// NATConfig 端口映射配置
//
// 在家用路由器上通过 UPnP IGD 或 NAT-PMP 为 DHT 的 UDP 端口建立映射。
type NATConfig struct {
	// Disable 禁用端口映射
	Disable bool `json:"disable"`

	// EnableUPnP 是否启用 UPnP 端口映射
	EnableUPnP bool `json:"enable_upnp"`

	// EnableNATPMP 是否启用 NAT-PMP 端口映射
	EnableNATPMP bool `json:"enable_natpmp"`

	// Timeout 网关发现超时
	Timeout Duration `json:"timeout"`

	// Lease 映射租期（到期前自动续期）
	Lease Duration `json:"lease"`
}

// DefaultNATConfig 返回默认端口映射配置
func DefaultNATConfig() NATConfig {
	return NATConfig{
		EnableUPnP:   true,
		EnableNATPMP: true,
		Timeout:      Duration(10 * time.Second),
		Lease:        Duration(1 * time.Hour),
	}
}

// Validate 验证端口映射配置
func (c NATConfig) Validate() error {
	if c.Disable {
		return nil
	}
	if c.Timeout <= 0 {
		return errors.New("nat: timeout must be positive")
	}
	if c.Lease < Duration(time.Minute) {
		return errors.New("nat: lease must be at least one minute")
	}
	return nil
}
