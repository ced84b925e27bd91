package dht

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kadnode/pkg/types"
)

// ============================================================================
// 内存网络
// ============================================================================

type simPacket struct {
	data []byte
	src  netip.AddrPort
}

// simNetwork 进程内 UDP 网络
//
// 发往未监听或已关闭地址的报文被静默丢弃。
type simNetwork struct {
	mu       sync.Mutex
	conns    map[netip.AddrPort]*simConn
	next     int
	received map[netip.AddrPort][]MessageKind
}

func newSimNetwork() *simNetwork {
	return &simNetwork{
		conns:    make(map[netip.AddrPort]*simConn),
		received: make(map[netip.AddrPort][]MessageKind),
	}
}

// listen 分配一个新地址 10.0.x.y:port
func (n *simNetwork) listen() *simConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	addr := netip.MustParseAddrPort(fmt.Sprintf("10.0.%d.%d:%d", n.next/250, n.next%250+1, 7000+n.next))
	c := &simConn{
		net:    n,
		addr:   addr,
		inbox:  make(chan simPacket, 1024),
		closed: make(chan struct{}),
	}
	n.conns[addr] = c
	return c
}

// unusedAddr 返回一个没有节点监听的地址
func (n *simNetwork) unusedAddr() netip.AddrPort {
	return netip.MustParseAddrPort("10.9.9.9:9999")
}

func (n *simNetwork) deliver(from, to netip.AddrPort, data []byte) {
	n.mu.Lock()
	dst, ok := n.conns[to]
	if ok {
		if msg, err := UnmarshalMessage(data); err == nil {
			n.received[to] = append(n.received[to], msg.Kind)
		}
	}
	n.mu.Unlock()
	if !ok {
		return
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case dst.inbox <- simPacket{data: buf, src: from}:
	case <-dst.closed:
	default:
	}
}

// receivedKinds 返回发往 addr 的报文类型
func (n *simNetwork) receivedKinds(addr netip.AddrPort) []MessageKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]MessageKind(nil), n.received[addr]...)
}

// simConn 实现 net.PacketConn
type simConn struct {
	net       *simNetwork
	addr      netip.AddrPort
	inbox     chan simPacket
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *simConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case p := <-c.inbox:
		n := copy(b, p.data)
		return n, net.UDPAddrFromAddrPort(p.src), nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *simConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	to, ok := addrPortOf(addr)
	if !ok {
		return 0, fmt.Errorf("bad address %v", addr)
	}
	c.net.deliver(c.addr, to, b)
	return len(b), nil
}

func (c *simConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.net.mu.Lock()
		delete(c.net.conns, c.addr)
		c.net.mu.Unlock()
	})
	return nil
}

func (c *simConn) LocalAddr() net.Addr                { return net.UDPAddrFromAddrPort(c.addr) }
func (c *simConn) SetDeadline(time.Time) error      { return nil }
func (c *simConn) SetReadDeadline(time.Time) error  { return nil }
func (c *simConn) SetWriteDeadline(time.Time) error { return nil }

// ============================================================================
// 测试节点
// ============================================================================

// testConfig 适合内存网络的快速配置
func testConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig().Apply(WithRequestTimeout(100*time.Millisecond, 1))
	cfg.ShutdownGrace = 100 * time.Millisecond
	return cfg.Apply(opts...)
}

// startNode 在内存网络上启动一个节点，测试结束时停止
func startNode(t *testing.T, sn *simNetwork, clk clock.Clock, opts ...ConfigOption) *DHT {
	t.Helper()
	var dopts []Option
	if clk != nil {
		dopts = append(dopts, WithClock(clk))
	}
	return startNodeWith(t, sn, dopts, opts...)
}

// startNodeWith 带 DHT 选项启动节点
func startNodeWith(t *testing.T, sn *simNetwork, dopts []Option, opts ...ConfigOption) *DHT {
	t.Helper()
	d, err := New(testConfig(opts...), sn.listen(), dopts...)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return d
}

// addContact 直接向节点路由表注入联系人
func addContact(t *testing.T, d *DHT, peer *DHT) {
	t.Helper()
	err := d.call(context.Background(), "test", func() {
		d.table.InsertOrRefresh(Contact{ID: peer.Self(), Addr: peer.LocalAddr()})
	})
	require.NoError(t, err)
}

// idWithPrefix 返回首字节为 prefix 的 ID
func idWithPrefix(prefix byte) types.NodeID {
	var id types.NodeID
	id[0] = prefix
	id[types.IDLength-1] = 0x01
	return id
}

// ============================================================================
// 指标记录
// ============================================================================

type recordingMetrics struct {
	mu       sync.Mutex
	sent     map[MessageKind]int
	received map[MessageKind]int
	dropped  map[string]int
	timeouts int
	lookups  int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		sent:     make(map[MessageKind]int),
		received: make(map[MessageKind]int),
		dropped:  make(map[string]int),
	}
}

func (m *recordingMetrics) MessageReceived(k MessageKind) {
	m.mu.Lock()
	m.received[k]++
	m.mu.Unlock()
}

func (m *recordingMetrics) MessageSent(k MessageKind) {
	m.mu.Lock()
	m.sent[k]++
	m.mu.Unlock()
}

func (m *recordingMetrics) MessageDropped(reason string) {
	m.mu.Lock()
	m.dropped[reason]++
	m.mu.Unlock()
}

func (m *recordingMetrics) RequestTimedOut(MessageKind) {
	m.mu.Lock()
	m.timeouts++
	m.mu.Unlock()
}

func (m *recordingMetrics) LookupDone(string, int, time.Duration, error) {
	m.mu.Lock()
	m.lookups++
	m.mu.Unlock()
}

func (m *recordingMetrics) droppedCount(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[reason]
}

func (m *recordingMetrics) timeoutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeouts
}
