package kadnode

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-kadnode/config"
	"github.com/dep2p/go-kadnode/internal/discovery/dht"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// startTestNode 以测试预设创建并启动节点
func startTestNode(t *testing.T, opts ...Option) *Node {
	t.Helper()
	opts = append([]Option{WithConfig(config.NewTestConfig())}, opts...)
	n, err := New(opts...)
	require.NoError(t, err)
	require.NoError(t, n.Start(testContext(t)))
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// ============================================================================
// 生命周期
// ============================================================================

// TestNode_Lifecycle 测试启动与停止
func TestNode_Lifecycle(t *testing.T) {
	n, err := New(WithConfig(config.NewTestConfig()))
	require.NoError(t, err)
	assert.Equal(t, StateIdle, n.State())
	assert.True(t, n.LocalAddr().Port() != 0, "New 后已绑定端口")

	_, err = n.Resolve(testContext(t), "name.p2p")
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, n.Start(testContext(t)))
	assert.Equal(t, StateRunning, n.State())
	assert.ErrorIs(t, n.Start(testContext(t)), ErrAlreadyStarted)

	require.NoError(t, n.Close())
	assert.Equal(t, StateStopped, n.State())
	assert.ErrorIs(t, n.Start(testContext(t)), ErrNodeClosed)
	require.NoError(t, n.Close(), "重复关闭无副作用")

	t.Log("✅ 生命周期状态正确")
}

// TestNode_StopReleasesSocket 测试正常停止不报错并释放端口
func TestNode_StopReleasesSocket(t *testing.T) {
	n, err := New(WithConfig(config.NewTestConfig()))
	require.NoError(t, err)
	require.NoError(t, n.Start(testContext(t)))
	addr := n.LocalAddr()

	require.NoError(t, n.Stop(testContext(t)), "DHT 已关闭套接字时停止仍应成功")

	pc, err := net.ListenPacket("udp4", addr.String())
	require.NoError(t, err, "端口已释放")
	_ = pc.Close()

	t.Log("✅ 停止成功且套接字已释放")
}

// TestNode_CloseWithoutStart 测试未启动时关闭释放套接字
func TestNode_CloseWithoutStart(t *testing.T) {
	n, err := New(WithConfig(config.NewTestConfig()))
	require.NoError(t, err)
	require.NoError(t, n.Close())
	assert.Equal(t, StateStopped, n.State())
}

// TestNode_InvalidConfig 测试无效配置
func TestNode_InvalidConfig(t *testing.T) {
	_, err := New(WithConfig(config.NewTestConfig()), WithPort(70000))
	assert.Error(t, err)

	_, err = New(WithConfig(config.NewTestConfig()), WithAnnounce("name:notaport"))
	assert.Error(t, err)

	_, err = New(WithPreset("nonexistent"))
	assert.Error(t, err)
}

// ============================================================================
// 名称操作
// ============================================================================

// TestNode_AnnounceResolve 测试两个节点间的发布与解析
func TestNode_AnnounceResolve(t *testing.T) {
	ctx := testContext(t)

	a := startTestNode(t)
	b := startTestNode(t, WithPeers(a.LocalAddr().String()))
	require.NoError(t, b.Bootstrap(ctx))

	require.NoError(t, b.Announce(ctx, "hello.p2p", 8080, 10*time.Minute))

	addrs, err := a.Resolve(ctx, "hello.p2p")
	require.NoError(t, err)
	assert.Contains(t, addrs, netip.MustParseAddrPort("127.0.0.1:8080"))

	local, err := b.Resolve(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, []netip.AddrPort{netip.MustParseAddrPort("127.0.0.1:8080")}, local)

	_, err = a.Resolve(ctx, "missing.p2p")
	assert.ErrorIs(t, err, dht.ErrNotFound)

	removed, err := b.Unannounce(ctx, "hello.p2p")
	require.NoError(t, err)
	assert.True(t, removed)

	t.Log("✅ 名称发布后可被其他节点解析")
}

// TestNode_AnnounceAtStart 测试启动时发布配置中的名称
func TestNode_AnnounceAtStart(t *testing.T) {
	n := startTestNode(t, WithAnnounce("boot.p2p:9000"))

	// 孤立节点：记录保留在本地
	assert.Eventually(t, func() bool {
		addrs, err := n.Resolve(context.Background(), "boot.p2p")
		return err == nil && len(addrs) == 1 && addrs[0].Port() == 9000
	}, 5*time.Second, 20*time.Millisecond)

	st, err := n.Status(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 1, st.LocalRecords)
	assert.Equal(t, n.ID(), st.NodeID)

	t.Log("✅ 启动时的发布在没有联系人时保留在本地")
}

// TestNode_AnnounceDefaultPort 测试省略端口时使用 DHT 端口
func TestNode_AnnounceDefaultPort(t *testing.T) {
	n := startTestNode(t)
	ctx := testContext(t)

	err := n.Announce(ctx, "self.p2p", 0, 0)
	assert.ErrorIs(t, err, dht.ErrNoNearbyPeers)

	addrs, err := n.Resolve(ctx, "self.p2p")
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, n.LocalAddr().Port(), addrs[0].Port())
}

// ============================================================================
// 组件装配
// ============================================================================

// TestAppOptions_FullGraph 测试启用全部组件时依赖图完整
func TestAppOptions_FullGraph(t *testing.T) {
	cfg := config.NewConfig()
	cfg.LPD.Disable = false
	cfg.NAT.Disable = false
	cfg.DNS.Enable = true
	cfg.Console.Enable = true
	cfg.Metrics.Enable = true

	opts, err := appOptions(cfg, &Node{}, nil)
	require.NoError(t, err)
	require.NoError(t, fx.ValidateApp(opts...))

	t.Log("✅ 全部模块依赖可满足")
}

// TestAppOptions_StartStop 测试测试预设下的应用启停
func TestAppOptions_StartStop(t *testing.T) {
	n := &Node{}
	opts, err := appOptions(config.NewTestConfig(), n, nil)
	require.NoError(t, err)

	app := fxtest.New(t, opts...)
	app.RequireStart()
	require.NotNil(t, n.dht)
	require.NotNil(t, n.bootstrap)
	assert.NotNil(t, n.metrics, "指标收集器始终加载")
	assert.Nil(t, n.nat, "测试预设关闭端口映射")
	app.RequireStop()
}

// TestOptions_Overrides 测试覆盖项在预设之后应用
func TestOptions_Overrides(t *testing.T) {
	o := newOptions()
	for _, opt := range []Option{
		WithPreset("server"),
		WithPort(7000),
		WithFamily(config.FamilyIPv4),
		WithPeers("a.example:6881", "b.example:6881"),
		WithAnnounce("web:80"),
	} {
		require.NoError(t, opt(o))
	}

	cfg, err := o.toConfig()
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Network.Port)
	assert.Equal(t, config.FamilyIPv4, cfg.Network.Family)
	assert.True(t, cfg.NAT.Disable, "server 预设关闭端口映射")
	assert.Len(t, cfg.Peers, 2)
	require.Len(t, cfg.Announce, 1)
	assert.Equal(t, uint16(80), cfg.Announce[0].Port)
}

func TestVersionInfo(t *testing.T) {
	GitCommit = "0123456789abcdef"
	defer func() { GitCommit = "" }()
	assert.Equal(t, "KadNode "+Version+" (01234567)", VersionInfo())
}
