package dns

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/dep2p/go-kadnode/config"
)

// DefaultResolvConf 默认的 resolv.conf 路径
const DefaultResolvConf = "/etc/resolv.conf"

// Config DNS 前端配置
type Config struct {
	// Enabled 是否启用
	Enabled bool

	// Listen 监听地址（host:port）
	Listen string

	// TLD 通过 DHT 解析的顶级域，带前导点
	TLD string

	// ProxyEnabled 是否转发其他名称
	ProxyEnabled bool

	// ProxyServer 上游服务器（host:port），空表示读取 ResolvConf
	ProxyServer string

	// ResolvConf resolv.conf 路径
	ResolvConf string

	// Timeout 单次解析超时
	Timeout time.Duration

	// TTL 应答记录的 TTL
	TTL time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:    true,
		Listen:     "127.0.0.1:3535",
		TLD:        ".p2p",
		ResolvConf: DefaultResolvConf,
		Timeout:    8 * time.Second,
		TTL:        time.Minute,
	}
}

// ConfigFromUnified 从统一配置创建 DNS 前端配置
func ConfigFromUnified(cfg *config.Config) *Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	d := cfg.DNS
	c.Enabled = d.Enable
	c.Listen = net.JoinHostPort(d.Address, strconv.Itoa(d.Port))
	c.TLD = d.QueryTLD
	c.ProxyEnabled = d.ProxyEnable
	c.ProxyServer = d.ProxyServer
	c.Timeout = d.Timeout.Duration()
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
	if !strings.HasPrefix(c.TLD, ".") || len(c.TLD) < 2 {
		return fmt.Errorf("%w: tld %q must start with a dot", ErrInvalidConfig, c.TLD)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	return nil
}
