package nat

import (
	"context"
	"net/netip"
	"time"
)

// PortMapper 端口映射器
//
// natpmp.Mapper 与 upnp.Mapper 实现该接口。
type PortMapper interface {
	// Name 映射器名称
	Name() string

	// Discover 探测网关，成功后映射器可用
	Discover(ctx context.Context) error

	// AddMapping 建立或续期映射，返回网关实际分配的外部端口
	AddMapping(ctx context.Context, protocol string, internalPort, externalPort int, lease time.Duration) (int, error)

	// DeleteMapping 删除映射
	DeleteMapping(ctx context.Context, protocol string, internalPort, externalPort int) error

	// ExternalIP 返回网关的外部地址
	ExternalIP(ctx context.Context) (netip.Addr, error)
}

// Mapping 当前生效的映射
type Mapping struct {
	Mapper       string
	Protocol     string
	InternalPort int
	ExternalPort int
	ExternalIP   netip.Addr
	Lease        time.Duration
	CreatedAt    time.Time
}

// RenewAt 返回续期时间（租期过去三分之二）
func (m Mapping) RenewAt() time.Time {
	return m.CreatedAt.Add(m.Lease * 2 / 3)
}

// External 返回外部地址；外部 IP 未知时返回零值
func (m Mapping) External() netip.AddrPort {
	if !m.ExternalIP.IsValid() {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(m.ExternalIP, uint16(m.ExternalPort))
}
