package config

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"
)

// ============================================================================
//                              引导
// ============================================================================

// BootstrapConfig 引导配置
type BootstrapConfig struct {
	// PersistPeers 是否持久化已知节点列表
	PersistPeers bool `json:"persist_peers"`

	// SaveInterval 节点列表保存间隔
	SaveInterval Duration `json:"save_interval"`

	// RetryInterval 路由表为空时的重试间隔
	RetryInterval Duration `json:"retry_interval"`

	// MaxSavedPeers 最多保存的节点数
	MaxSavedPeers int `json:"max_saved_peers"`
}

// DefaultBootstrapConfig 返回默认引导配置
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		PersistPeers:  true,
		SaveInterval:  Duration(10 * time.Minute),
		RetryInterval: Duration(30 * time.Second),
		MaxSavedPeers: 150,
	}
}

// Validate 验证引导配置
func (c BootstrapConfig) Validate() error {
	if c.SaveInterval <= 0 {
		return fmt.Errorf("bootstrap: save_interval must be positive")
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("bootstrap: retry_interval must be positive")
	}
	if c.MaxSavedPeers < 0 {
		return fmt.Errorf("bootstrap: max_saved_peers must not be negative")
	}
	return nil
}

// ============================================================================
//                              本地节点发现
// ============================================================================

// LPD 默认组播地址
const (
	DefaultLPDAddrIPv4 = "239.192.152.143:6771"
	DefaultLPDAddrIPv6 = "[ff15::efc0:988f]:6771"
)

// LPDConfig 本地节点发现配置
type LPDConfig struct {
	// Disable 禁用本地节点发现
	Disable bool `json:"disable"`

	// Address 组播地址（空表示按地址族取默认值）
	Address string `json:"address,omitempty"`

	// Interval 组播发送间隔
	Interval Duration `json:"interval"`
}

// DefaultLPDConfig 返回默认本地节点发现配置
func DefaultLPDConfig() LPDConfig {
	return LPDConfig{
		Interval: Duration(10 * time.Second),
	}
}

// Validate 验证本地节点发现配置
func (c LPDConfig) Validate() error {
	if c.Address != "" {
		ap, err := netip.ParseAddrPort(c.Address)
		if err != nil {
			return fmt.Errorf("lpd: address: %w", err)
		}
		if !ap.Addr().IsMulticast() {
			return fmt.Errorf("lpd: address %s is not multicast", c.Address)
		}
	}
	if c.Interval <= 0 {
		return fmt.Errorf("lpd: interval must be positive")
	}
	return nil
}

// EffectiveAddress 返回实际使用的组播地址
//
// 未显式配置时，默认地址总是根据地址族重新计算：仅 IPv4 时用 IPv4 组，
// 否则用 IPv6 组。
func (c LPDConfig) EffectiveAddress(f Family) string {
	if c.Address != "" {
		return c.Address
	}
	if f == FamilyIPv4 {
		return DefaultLPDAddrIPv4
	}
	return DefaultLPDAddrIPv6
}

// validateHostPort 校验 host:port 格式
func validateHostPort(field, s string) error {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("%s: %q: %w", field, s, err)
	}
	if host == "" {
		return fmt.Errorf("%s: %q: missing host", field, s)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("%s: %q: invalid port", field, s)
	}
	return nil
}
