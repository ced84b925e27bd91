package console

import (
	"bufio"
	"context"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kadnode/internal/discovery/dht"
	"github.com/dep2p/go-kadnode/pkg/types"
)

// ============================================================================
// 测试辅助
// ============================================================================

type announceCall struct {
	id       types.NodeID
	port     uint16
	lifetime time.Duration
}

type fakeNode struct {
	self        types.NodeID
	addr        netip.AddrPort
	records     map[types.NodeID][]netip.AddrPort
	contacts    []dht.Contact
	announced   []announceCall
	announceErr error
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		self:    types.NodeIDFromSeed("self"),
		addr:    netip.MustParseAddrPort("0.0.0.0:6881"),
		records: make(map[types.NodeID][]netip.AddrPort),
	}
}

func (f *fakeNode) LocalAddr() netip.AddrPort { return f.addr }

func (f *fakeNode) Status(context.Context) (dht.Status, error) {
	return dht.Status{
		NodeID:       f.self,
		LocalAddr:    f.addr,
		Uptime:       90 * time.Second,
		Contacts:     len(f.contacts),
		Buckets:      1,
		LocalRecords: len(f.announced),
	}, nil
}

func (f *fakeNode) Resolve(_ context.Context, id types.NodeID) ([]netip.AddrPort, error) {
	addrs, ok := f.records[id]
	if !ok {
		return nil, dht.NewDHTError("resolve", dht.ErrNotFound, "")
	}
	return addrs, nil
}

func (f *fakeNode) Announce(_ context.Context, id types.NodeID, port uint16, lifetime time.Duration) error {
	f.announced = append(f.announced, announceCall{id: id, port: port, lifetime: lifetime})
	return f.announceErr
}

func (f *fakeNode) Ping(_ context.Context, addr netip.AddrPort) (types.NodeID, time.Duration, error) {
	for _, c := range f.contacts {
		if c.Addr == addr {
			return c.ID, 3 * time.Millisecond, nil
		}
	}
	return types.NodeID{}, 0, context.DeadlineExceeded
}

func (f *fakeNode) Contacts(context.Context) ([]dht.Contact, error) {
	return append([]dht.Contact(nil), f.contacts...), nil
}

func mustID(t *testing.T, name string) types.NodeID {
	t.Helper()
	id, err := types.NodeIDFromName(name, ".p2p")
	require.NoError(t, err)
	return id
}

// ============================================================================
// 命令解释
// ============================================================================

func TestCommands_Lookup(t *testing.T) {
	node := newFakeNode()
	node.records[mustID(t, "myname")] = []netip.AddrPort{
		netip.MustParseAddrPort("10.0.0.1:80"),
		netip.MustParseAddrPort("[2001:db8::1]:80"),
	}
	cmds := NewCommands(node, ".p2p")

	out, err := cmds.Execute(context.Background(), "lookup myname.p2p")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:80\n[2001:db8::1]:80", out)

	out, err = cmds.Execute(context.Background(), "lookup other.p2p")
	require.NoError(t, err)
	assert.Equal(t, "Not found.", out)

	_, err = cmds.Execute(context.Background(), "lookup")
	assert.ErrorIs(t, err, ErrUsage)

	t.Log("✅ lookup 输出每行一个地址，未找到时提示")
}

func TestCommands_Announce(t *testing.T) {
	node := newFakeNode()
	cmds := NewCommands(node, ".p2p")

	out, err := cmds.Execute(context.Background(), "announce myname.p2p")
	require.NoError(t, err)
	assert.Contains(t, out, "until shutdown")

	out, err = cmds.Execute(context.Background(), "announce web:8080 30")
	require.NoError(t, err)
	assert.Contains(t, out, "for 30 minutes")

	require.Len(t, node.announced, 2)
	assert.Equal(t, mustID(t, "myname"), node.announced[0].id)
	assert.Equal(t, uint16(6881), node.announced[0].port, "省略端口时使用 DHT 端口")
	assert.Zero(t, node.announced[0].lifetime)
	assert.Equal(t, uint16(8080), node.announced[1].port)
	assert.Equal(t, 30*time.Minute, node.announced[1].lifetime)

	_, err = cmds.Execute(context.Background(), "announce web:8080 -1")
	assert.ErrorIs(t, err, ErrUsage)

	t.Log("✅ announce 端口与有效期解析正确")
}

func TestCommands_AnnounceWithoutPeers(t *testing.T) {
	node := newFakeNode()
	node.announceErr = dht.NewDHTError("announce", dht.ErrNoNearbyPeers, "")
	cmds := NewCommands(node, ".p2p")

	out, err := cmds.Execute(context.Background(), "announce myname")
	require.NoError(t, err)
	assert.Contains(t, out, "locally")

	t.Log("✅ 无联系人时记录保留在本地")
}

func TestCommands_StatusPeersPing(t *testing.T) {
	node := newFakeNode()
	peer := types.NodeIDFromSeed("peer")
	now := time.Now()
	node.contacts = []dht.Contact{
		{ID: types.NodeIDFromSeed("old"), Addr: netip.MustParseAddrPort("10.0.0.9:6881"), LastSeen: now.Add(-time.Hour)},
		{ID: peer, Addr: netip.MustParseAddrPort("10.0.0.2:6881"), LastSeen: now},
	}
	cmds := NewCommands(node, ".p2p", StatusLine{Label: "Extra", Value: func() string { return "yes" }},
		StatusLine{Label: "Hidden", Value: func() string { return "" }})

	out, err := cmds.Execute(context.Background(), "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Node id: "+node.self.String())
	assert.Contains(t, out, "Contacts: 2 (1 buckets)")
	assert.Contains(t, out, "Uptime: 1m30s")
	assert.Contains(t, out, "Extra: yes")
	assert.NotContains(t, out, "Hidden")

	out, err = cmds.Execute(context.Background(), "peers")
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], peer.String()), "最近联系的排在前面")
	assert.Equal(t, "2 contacts", lines[2])

	out, err = cmds.Execute(context.Background(), "ping 10.0.0.2:6881")
	require.NoError(t, err)
	assert.Contains(t, out, peer.String())

	_, err = cmds.Execute(context.Background(), "ping nowhere")
	assert.ErrorIs(t, err, ErrUsage)

	_, err = cmds.Execute(context.Background(), "frobnicate")
	assert.ErrorIs(t, err, ErrUnknownCommand)

	t.Log("✅ status / peers / ping 输出正确")
}

// ============================================================================
// TCP 服务
// ============================================================================

func startServer(t *testing.T, node Node, mod func(*Config)) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	if mod != nil {
		mod(cfg)
	}
	s, err := New(cfg, NewCommands(node, cfg.TLD))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

// readReply 读取一个以空行结束的应答
func readReply(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var lines []string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return strings.Join(lines, "\n")
		}
		lines = append(lines, line)
	}
}

func TestServer_Session(t *testing.T) {
	node := newFakeNode()
	node.records[mustID(t, "myname")] = []netip.AddrPort{netip.MustParseAddrPort("10.0.0.1:80")}
	s := startServer(t, node, nil)

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)

	_, err = conn.Write([]byte("lookup myname.p2p\n"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:80", readReply(t, r))

	_, err = conn.Write([]byte("\nbogus\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(readReply(t, r), "error: "))

	_, err = conn.Write([]byte("quit\n"))
	require.NoError(t, err)
	_, err = r.ReadString('\n')
	assert.Error(t, err, "quit 后连接关闭")

	t.Log("✅ 一个连接可执行多条命令")
}

func TestServer_MaxConns(t *testing.T) {
	s := startServer(t, newFakeNode(), func(c *Config) { c.MaxConns = 1 })

	first, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	_ = first.SetDeadline(time.Now().Add(5 * time.Second))
	// 确认第一个会话已被接受
	_, err = first.Write([]byte("help\n"))
	require.NoError(t, err)
	readReply(t, bufio.NewReader(first))

	second, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer second.Close()
	_ = second.SetDeadline(time.Now().Add(5 * time.Second))
	assert.Equal(t, "error: too many connections", readReply(t, bufio.NewReader(second)))

	t.Log("✅ 超出并发上限的连接被拒绝")
}

func TestServer_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	s, err := New(cfg, NewCommands(newFakeNode(), ".p2p"))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.Nil(t, s.Addr())
	require.NoError(t, s.Stop(context.Background()))
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Listen = "nohost"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.MaxConns = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
