package lpd

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/dep2p/go-kadnode/config"
)

// Config 本地节点发现配置
type Config struct {
	// Enabled 是否启用
	Enabled bool

	// Group 组播组地址
	Group netip.AddrPort

	// Interface 发送与加入组播组使用的网卡（空表示所有支持组播的网卡）
	Interface string

	// Interval 发送间隔
	Interval time.Duration

	// Port 报文中通告的 DHT 端口（0 表示由 DHT 本地地址决定）
	Port uint16

	// SeenTTL 同一地址在该时间内只引导一次
	SeenTTL time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:  true,
		Group:    netip.MustParseAddrPort(config.DefaultLPDAddrIPv6),
		Interval: 10 * time.Second,
		SeenTTL:  5 * time.Minute,
	}
}

// ConfigFromUnified 从统一配置创建本地节点发现配置
func ConfigFromUnified(cfg *config.Config) (*Config, error) {
	c := DefaultConfig()
	if cfg == nil {
		return c, nil
	}

	c.Enabled = !cfg.LPD.Disable
	c.Interface = cfg.Network.Interface
	c.Interval = cfg.LPD.Interval.Duration()
	if cfg.Network.Port > 0 {
		c.Port = uint16(cfg.Network.Port)
	}

	addr := cfg.LPD.EffectiveAddress(cfg.Network.Family)
	group, err := netip.ParseAddrPort(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: address %q: %v", ErrInvalidConfig, addr, err)
	}
	c.Group = group
	return c, c.Validate()
}

// Validate 验证配置
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !c.Group.IsValid() || !c.Group.Addr().IsMulticast() || c.Group.Port() == 0 {
		return fmt.Errorf("%w: %s is not a multicast address", ErrInvalidConfig, c.Group)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if c.SeenTTL <= 0 {
		return fmt.Errorf("%w: seen ttl must be positive", ErrInvalidConfig)
	}
	return nil
}
