package natpmp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"

	"github.com/dep2p/go-kadnode/pkg/lib/log"
)

var logger = log.Logger("core/nat/natpmp")

// DefaultTimeout 默认请求超时
const DefaultTimeout = 5 * time.Second

// ErrNotDiscovered 尚未发现网关
var ErrNotDiscovered = errors.New("natpmp: gateway not discovered")

// Client NAT-PMP 客户端
//
// *natpmp.Client 实现该接口。
type Client interface {
	GetExternalAddress() (*natpmp.GetExternalAddressResult, error)
	AddPortMapping(protocol string, internalPort, requestedExternalPort int, lifetime int) (*natpmp.AddPortMappingResult, error)
}

// NATPMPError NAT-PMP 错误
type NATPMPError struct {
	Message string
	Cause   error
}

func (e *NATPMPError) Error() string {
	if e.Cause != nil {
		return "natpmp: " + e.Message + ": " + e.Cause.Error()
	}
	return "natpmp: " + e.Message
}

func (e *NATPMPError) Unwrap() error {
	return e.Cause
}

// Mapper NAT-PMP 端口映射器
type Mapper struct {
	timeout time.Duration

	// 以下字段用于替换网关发现与客户端构造
	discoverGateway func() (net.IP, error)
	newClient       func(gw net.IP, timeout time.Duration) Client

	mu      sync.RWMutex
	client  Client
	gateway net.IP
}

// NewMapper 创建 NAT-PMP 映射器
//
// 创建时不访问网络，Discover 时才探测网关。
func NewMapper(timeout time.Duration) *Mapper {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Mapper{
		timeout:         timeout,
		discoverGateway: gateway.DiscoverGateway,
		newClient: func(gw net.IP, timeout time.Duration) Client {
			return natpmp.NewClientWithTimeout(gw, timeout)
		},
	}
}

// NewMapperWithClient 使用已有客户端创建映射器
func NewMapperWithClient(client Client, gw net.IP) *Mapper {
	m := NewMapper(DefaultTimeout)
	m.client = client
	m.gateway = gw
	return m
}

// Name 返回映射器名称
func (m *Mapper) Name() string {
	return "nat-pmp"
}

// Gateway 返回网关地址
func (m *Mapper) Gateway() net.IP {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gateway
}

// Discover 发现默认网关并确认其支持 NAT-PMP
func (m *Mapper) Discover(ctx context.Context) error {
	m.mu.RLock()
	client, gw := m.client, m.gateway
	m.mu.RUnlock()

	if client == nil {
		var err error
		gw, err = do(ctx, m.discoverGateway)
		if err != nil {
			return &NATPMPError{Message: "discover gateway", Cause: err}
		}
		client = m.newClient(gw, m.timeout)
	}

	// 外部地址请求成功即视为网关支持 NAT-PMP
	if _, err := do(ctx, client.GetExternalAddress); err != nil {
		return &NATPMPError{Message: "test connection", Cause: err}
	}

	m.mu.Lock()
	m.client, m.gateway = client, gw
	m.mu.Unlock()

	logger.Debug("NAT-PMP 网关可用", "gateway", gw)
	return nil
}

// AddMapping 建立或续期映射，返回网关分配的外部端口
func (m *Mapper) AddMapping(ctx context.Context, protocol string, internalPort, externalPort int, lease time.Duration) (int, error) {
	client, err := m.getClient()
	if err != nil {
		return 0, err
	}

	lifetime := int(lease.Seconds())
	if lifetime <= 0 {
		lifetime = 3600
	}
	res, err := do(ctx, func() (*natpmp.AddPortMappingResult, error) {
		return client.AddPortMapping(strings.ToLower(protocol), internalPort, externalPort, lifetime)
	})
	if err != nil {
		return 0, &NATPMPError{Message: fmt.Sprintf("map %s port %d", protocol, internalPort), Cause: err}
	}

	mapped := int(res.MappedExternalPort)
	logger.Debug("NAT-PMP 端口映射成功",
		"proto", protocol,
		"internalPort", internalPort,
		"externalPort", mapped,
		"lifetime", res.PortMappingLifetimeInSeconds)
	return mapped, nil
}

// DeleteMapping 删除映射
//
// 按 RFC 6886，租期与外部端口都为 0 表示删除内部端口上的映射。
func (m *Mapper) DeleteMapping(ctx context.Context, protocol string, internalPort, _ int) error {
	client, err := m.getClient()
	if err != nil {
		return err
	}
	_, err = do(ctx, func() (*natpmp.AddPortMappingResult, error) {
		return client.AddPortMapping(strings.ToLower(protocol), internalPort, 0, 0)
	})
	if err != nil {
		return &NATPMPError{Message: fmt.Sprintf("unmap %s port %d", protocol, internalPort), Cause: err}
	}
	return nil
}

// ExternalIP 返回网关的外部地址
func (m *Mapper) ExternalIP(ctx context.Context) (netip.Addr, error) {
	client, err := m.getClient()
	if err != nil {
		return netip.Addr{}, err
	}
	res, err := do(ctx, client.GetExternalAddress)
	if err != nil {
		return netip.Addr{}, &NATPMPError{Message: "get external address", Cause: err}
	}
	return netip.AddrFrom4(res.ExternalIPAddress), nil
}

func (m *Mapper) getClient() (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, ErrNotDiscovered
	}
	return m.client, nil
}

// do 在独立 goroutine 中执行阻塞调用，ctx 结束时立即返回
func do[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
