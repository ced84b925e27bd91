package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Family 地址族
type Family int

const (
	// FamilyAny 双栈
	FamilyAny Family = iota
	// FamilyIPv4 仅 IPv4
	FamilyIPv4
	// FamilyIPv6 仅 IPv6
	FamilyIPv6
)

// String 返回地址族名称
func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "any"
	}
}

// ParseFamily 解析地址族名称
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "dual":
		return FamilyAny, nil
	case "ipv4", "4":
		return FamilyIPv4, nil
	case "ipv6", "6":
		return FamilyIPv6, nil
	default:
		return FamilyAny, fmt.Errorf("invalid address family %q (any, ipv4 or ipv6)", s)
	}
}

// MarshalText 实现 encoding.TextMarshaler
func (f Family) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler，解析时即完成校验
func (f *Family) UnmarshalText(text []byte) error {
	parsed, err := ParseFamily(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// UDPNetwork 返回 net.ListenPacket 使用的网络名
func (f Family) UDPNetwork() string {
	switch f {
	case FamilyIPv4:
		return "udp4"
	case FamilyIPv6:
		return "udp6"
	default:
		return "udp"
	}
}

// NetworkConfig UDP 套接字配置
type NetworkConfig struct {
	// Port DHT 监听端口
	Port int `json:"port"`

	// Address 绑定地址（空表示所有地址）
	Address string `json:"address,omitempty"`

	// Interface 绑定网卡（仅 Linux，需要权限）
	Interface string `json:"interface,omitempty"`

	// Family 地址族
	Family Family `json:"family"`
}

// DefaultNetworkConfig 返回默认网络配置
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		Port:   6881,
		Family: FamilyAny,
	}
}

// Validate 验证网络配置
func (c NetworkConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("network: port %d out of range", c.Port)
	}
	return nil
}

// ListenAddr 返回监听地址字符串
func (c NetworkConfig) ListenAddr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}
