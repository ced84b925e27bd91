package upnp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/huin/goupnp/dcps/internetgateway2"

	"github.com/dep2p/go-kadnode/pkg/lib/log"
)

var logger = log.Logger("core/nat/upnp")

// DefaultTimeout 默认发现超时
const DefaultTimeout = 5 * time.Second

// mappingDescription 映射描述
const mappingDescription = "KadNode"

// 预定义错误
var (
	// ErrNoDevice 未找到 IGD 设备
	ErrNoDevice = errors.New("upnp: no IGD device found")

	// ErrNotDiscovered 尚未发现设备
	ErrNotDiscovered = errors.New("upnp: device not discovered")
)

// IGDClient UPnP IGD 客户端接口
//
// goupnp 的 WANIPConnection1 与 WANPPPConnection1 客户端都实现了该接口。
type IGDClient interface {
	AddPortMapping(
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
		NewInternalPort uint16,
		NewInternalClient string,
		NewEnabled bool,
		NewPortMappingDescription string,
		NewLeaseDuration uint32,
	) error

	DeletePortMapping(
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
	) error

	GetExternalIPAddress() (string, error)
}

// Device 发现到的 IGD 服务
type Device struct {
	Client   IGDClient
	Location *url.URL
}

// Mapper UPnP 端口映射器
type Mapper struct {
	timeout time.Duration

	// discoverDevice 用于替换 SSDP 发现
	discoverDevice func() (Device, error)

	mu       sync.RWMutex
	client   IGDClient
	localIP  string
	location string
}

// NewMapper 创建 UPnP 映射器
//
// 创建时不访问网络，Discover 时才进行 SSDP 发现。
func NewMapper(timeout time.Duration) *Mapper {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Mapper{
		timeout:        timeout,
		discoverDevice: discoverIGD,
	}
}

// NewMapperWithClient 使用已有客户端创建映射器
func NewMapperWithClient(client IGDClient, localIP string) *Mapper {
	m := NewMapper(DefaultTimeout)
	m.client = client
	m.localIP = localIP
	return m
}

// Name 返回映射器名称
func (m *Mapper) Name() string {
	return "upnp"
}

// Discover 发现 IGD 设备
func (m *Mapper) Discover(ctx context.Context) error {
	m.mu.RLock()
	known := m.client != nil
	m.mu.RUnlock()
	if known {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	dev, err := do(ctx, m.discoverDevice)
	if err != nil {
		return fmt.Errorf("upnp: discovery: %w", err)
	}

	localIP, err := localAddrFor(dev.Location)
	if err != nil {
		return fmt.Errorf("upnp: local address: %w", err)
	}

	m.mu.Lock()
	m.client = dev.Client
	m.localIP = localIP
	if dev.Location != nil {
		m.location = dev.Location.String()
	}
	m.mu.Unlock()

	logger.Debug("发现 UPnP 设备", "location", m.location, "localIP", localIP)
	return nil
}

// AddMapping 建立或续期映射
//
// IGD 不分配端口，外部端口与请求一致。
func (m *Mapper) AddMapping(ctx context.Context, protocol string, internalPort, externalPort int, lease time.Duration) (int, error) {
	client, localIP, err := m.getClient()
	if err != nil {
		return 0, err
	}

	leaseSecs := uint32(lease.Seconds())
	if leaseSecs == 0 {
		leaseSecs = 3600
	}
	proto := strings.ToUpper(protocol)

	_, err = do(ctx, func() (struct{}, error) {
		return struct{}{}, client.AddPortMapping(
			"",                   // remoteHost - 空表示任意
			uint16(externalPort), // externalPort
			proto,                // protocol
			uint16(internalPort), // internalPort
			localIP,              // internalClient
			true,                 // enabled
			mappingDescription,   // description
			leaseSecs,            // leaseDuration
		)
	})
	if err != nil {
		return 0, fmt.Errorf("upnp: map %s port %d: %w", proto, internalPort, err)
	}

	logger.Debug("UPnP 端口映射成功",
		"protocol", proto,
		"internalPort", internalPort,
		"externalPort", externalPort,
		"localIP", localIP)
	return externalPort, nil
}

// DeleteMapping 删除映射
func (m *Mapper) DeleteMapping(ctx context.Context, protocol string, _, externalPort int) error {
	client, _, err := m.getClient()
	if err != nil {
		return err
	}
	proto := strings.ToUpper(protocol)
	_, err = do(ctx, func() (struct{}, error) {
		return struct{}{}, client.DeletePortMapping("", uint16(externalPort), proto)
	})
	if err != nil {
		return fmt.Errorf("upnp: unmap %s port %d: %w", proto, externalPort, err)
	}
	return nil
}

// ExternalIP 返回网关的外部地址
func (m *Mapper) ExternalIP(ctx context.Context) (netip.Addr, error) {
	client, _, err := m.getClient()
	if err != nil {
		return netip.Addr{}, err
	}
	s, err := do(ctx, client.GetExternalIPAddress)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("upnp: external address: %w", err)
	}
	ip, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("upnp: external address %q: %w", s, err)
	}
	return ip.Unmap(), nil
}

func (m *Mapper) getClient() (IGDClient, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, "", ErrNotDiscovered
	}
	return m.client, m.localIP, nil
}

// ============================================================================
//                              设备发现
// ============================================================================

// discoverIGD 按 IGDv2 IP、IGDv2 PPP、IGDv1 IP、IGDv1 PPP 的顺序发现设备
func discoverIGD() (Device, error) {
	if clients, _, err := internetgateway2.NewWANIPConnection1Clients(); err == nil && len(clients) > 0 {
		return Device{Client: clients[0], Location: clients[0].Location}, nil
	}
	if clients, _, err := internetgateway2.NewWANPPPConnection1Clients(); err == nil && len(clients) > 0 {
		return Device{Client: clients[0], Location: clients[0].Location}, nil
	}
	if clients, _, err := internetgateway1.NewWANIPConnection1Clients(); err == nil && len(clients) > 0 {
		return Device{Client: clients[0], Location: clients[0].Location}, nil
	}
	if clients, _, err := internetgateway1.NewWANPPPConnection1Clients(); err == nil && len(clients) > 0 {
		return Device{Client: clients[0], Location: clients[0].Location}, nil
	}
	return Device{}, ErrNoDevice
}

// localAddrFor 返回本机访问设备时使用的 IPv4 地址
func localAddrFor(loc *url.URL) (string, error) {
	if loc == nil {
		return "", errors.New("missing device location")
	}
	host := loc.Host
	if loc.Port() == "" {
		host = net.JoinHostPort(loc.Hostname(), "80")
	}
	// UDP "连接" 不发送数据，只确定路由选用的本地地址
	conn, err := net.Dial("udp4", host)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
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
