package config

import (
	"fmt"
	"strings"
	"time"
)

// DNSConfig DNS 前端配置
//
// 对 <name><QueryTLD> 的 A/AAAA/SRV 查询通过 DHT 解析，
// 其他名称可选择转发到上游 DNS 服务器。
type DNSConfig struct {
	// Enable 启用 DNS 服务
	Enable bool `json:"enable"`

	// Address 监听地址
	Address string `json:"address"`

	// Port 监听端口
	Port int `json:"port"`

	// QueryTLD 通过 DHT 解析的顶级域
	QueryTLD string `json:"query_tld"`

	// ProxyEnable 转发其他名称
	ProxyEnable bool `json:"proxy_enable"`

	// ProxyServer 上游服务器（空表示读取 /etc/resolv.conf）
	ProxyServer string `json:"proxy_server,omitempty"`

	// Timeout 单次解析超时
	Timeout Duration `json:"timeout"`
}

// DefaultDNSConfig 返回默认 DNS 配置
func DefaultDNSConfig() DNSConfig {
	return DNSConfig{
		Enable:   true,
		Address:  "127.0.0.1",
		Port:     3535,
		QueryTLD: ".p2p",
		Timeout:  Duration(8 * time.Second),
	}
}

// Validate 验证 DNS 配置
func (c DNSConfig) Validate() error {
	if !c.Enable {
		return nil
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("dns: port %d out of range", c.Port)
	}
	if !strings.HasPrefix(c.QueryTLD, ".") || len(c.QueryTLD) < 2 {
		return fmt.Errorf("dns: query_tld %q must start with a dot", c.QueryTLD)
	}
	if c.ProxyServer != "" {
		if err := validateHostPort("dns: proxy_server", c.ProxyServer); err != nil {
			return err
		}
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("dns: timeout must be positive")
	}
	return nil
}

// ConsoleConfig 命令控制台配置
type ConsoleConfig struct {
	// Enable 启用控制台
	Enable bool `json:"enable"`

	// Port 监听端口（仅本机回环地址）
	Port int `json:"port"`
}

// DefaultConsoleConfig 返回默认控制台配置
func DefaultConsoleConfig() ConsoleConfig {
	return ConsoleConfig{
		Enable: true,
		Port:   1700,
	}
}

// Validate 验证控制台配置
func (c ConsoleConfig) Validate() error {
	if c.Enable && (c.Port <= 0 || c.Port > 65535) {
		return fmt.Errorf("console: port %d out of range", c.Port)
	}
	return nil
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// Enable 启用指标 HTTP 端点
	Enable bool `json:"enable"`

	// Listen 监听地址
	Listen string `json:"listen"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Listen: "127.0.0.1:9466",
	}
}

// Validate 验证指标配置
func (c MetricsConfig) Validate() error {
	if !c.Enable {
		return nil
	}
	return validateHostPort("metrics: listen", c.Listen)
}
