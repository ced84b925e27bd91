package bootstrap

import (
	"fmt"
	"time"

	"github.com/dep2p/go-kadnode/config"
)

// Config 引导服务配置
type Config struct {
	// Peers 静态节点（host:port）
	Peers []string

	// Family 地址族，域名只解析为该族的地址
	Family config.Family

	// PersistPeers 保存并在启动时重新加载联系人
	PersistPeers bool

	// SaveInterval 联系人保存间隔
	SaveInterval time.Duration

	// RetryInterval 路由表为空时的重试间隔
	RetryInterval time.Duration

	// MaxSavedPeers 最多保存的联系人数
	MaxSavedPeers int

	// Timeout 单次引导（含域名解析）的超时
	Timeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		PersistPeers:  true,
		SaveInterval:  10 * time.Minute,
		RetryInterval: 30 * time.Second,
		MaxSavedPeers: 150,
		Timeout:       30 * time.Second,
	}
}

// ConfigFromUnified 从统一配置创建引导配置
func ConfigFromUnified(cfg *config.Config) *Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	c.Peers = append([]string(nil), cfg.Peers...)
	c.Family = cfg.Network.Family
	c.PersistPeers = cfg.Bootstrap.PersistPeers
	c.SaveInterval = cfg.Bootstrap.SaveInterval.Duration()
	c.RetryInterval = cfg.Bootstrap.RetryInterval.Duration()
	c.MaxSavedPeers = cfg.Bootstrap.MaxSavedPeers
	return c
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.SaveInterval <= 0 || c.RetryInterval <= 0 || c.Timeout <= 0 {
		return fmt.Errorf("bootstrap: intervals must be positive")
	}
	if c.MaxSavedPeers < 0 {
		return fmt.Errorf("bootstrap: max saved peers must not be negative")
	}
	return nil
}
