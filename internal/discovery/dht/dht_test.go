package dht

import (
	"context"
	"math/rand"
	"net/netip"
	"sort"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kadnode/pkg/types"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ============================================================================
// 生命周期
// ============================================================================

// TestDHT_StartStop 测试启动与停止
func TestDHT_StartStop(t *testing.T) {
	sn := newSimNetwork()
	d, err := New(testConfig(), sn.listen())
	require.NoError(t, err)

	_, err = d.Status(context.Background())
	assert.ErrorIs(t, err, ErrClosed, "未启动时调用失败")

	require.NoError(t, d.Start(context.Background()))
	assert.ErrorIs(t, d.Start(context.Background()), ErrAlreadyStarted)

	st, err := d.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, d.Self(), st.NodeID)
	assert.Zero(t, st.Contacts)

	require.NoError(t, d.Stop(context.Background()))
	_, err = d.Resolve(context.Background(), types.RandomNodeID())
	assert.ErrorIs(t, err, ErrClosed)

	t.Log("✅ DHT 启动停止正常")
}

// TestDHT_NewInvalid 测试非法构造参数
func TestDHT_NewInvalid(t *testing.T) {
	_, err := New(testConfig(WithAlpha(0)), newSimNetwork().listen())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(testConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestConfig_MaxRetriesBounded 测试重传次数上限，避免兜底截止时间溢出
func TestConfig_MaxRetriesBounded(t *testing.T) {
	cfg := testConfig(WithRequestTimeout(time.Second, MaxRetriesLimit))
	require.NoError(t, cfg.Validate())

	start := time.Unix(0, 0)
	d := &DHT{cfg: cfg}
	assert.True(t, d.finalDeadline(start).After(start), "上限内截止时间不回绕")

	cfg = testConfig(WithRequestTimeout(time.Second, MaxRetriesLimit+1))
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = testConfig(WithRequestTimeout(time.Second, 62))
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	t.Log("✅ 重传次数超限被拒绝")
}

// ============================================================================
// 引导与收敛
// ============================================================================

// TestDHT_BootstrapAndPing 测试引导后双方互相加入路由表
func TestDHT_BootstrapAndPing(t *testing.T) {
	sn := newSimNetwork()
	a := startNode(t, sn, nil)
	b := startNode(t, sn, nil)
	ctx := testContext(t)

	id, _, err := b.Ping(ctx, a.LocalAddr())
	require.NoError(t, err)
	assert.Equal(t, a.Self(), id)

	require.NoError(t, b.Bootstrap(ctx, []netip.AddrPort{a.LocalAddr()}))

	contacts, err := a.Contacts(ctx)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, b.Self(), contacts[0].ID)

	contacts, err = b.Contacts(ctx)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, a.Self(), contacts[0].ID)
}

// TestDHT_BootstrapUnreachable 测试引导地址全部无响应
func TestDHT_BootstrapUnreachable(t *testing.T) {
	sn := newSimNetwork()
	a := startNode(t, sn, nil)
	ctx := testContext(t)

	err := a.Bootstrap(ctx, []netip.AddrPort{sn.unusedAddr()})
	assert.ErrorIs(t, err, ErrTimeout)

	assert.ErrorIs(t, a.Bootstrap(ctx, nil), ErrInvalidConfig)
	assert.ErrorIs(t, a.Bootstrap(ctx, []netip.AddrPort{{}}), ErrInvalidConfig)
}

// TestDHT_LookupConverges 测试模拟网络中 find-node 收敛到真实的 K 个最近节点
func TestDHT_LookupConverges(t *testing.T) {
	const n, k = 32, 8
	sn := newSimNetwork()
	ctx := testContext(t)

	nodes := make([]*DHT, n)
	for i := range nodes {
		nodes[i] = startNode(t, sn, nil, WithBucketSize(k))
		if i > 0 {
			require.NoError(t, nodes[i].Bootstrap(ctx, []netip.AddrPort{nodes[0].LocalAddr()}))
		}
	}

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 4; round++ {
		querier := nodes[rng.Intn(n)]
		target := types.RandomNodeID()

		got, err := querier.FindNode(ctx, target)
		require.NoError(t, err)
		require.Len(t, got, k)

		var truth []types.NodeID
		for _, d := range nodes {
			if d.Self() != querier.Self() {
				truth = append(truth, d.Self())
			}
		}
		sort.Slice(truth, func(i, j int) bool {
			return CompareDistance(target, truth[i], truth[j]) < 0
		})

		for i, p := range got {
			assert.Equal(t, truth[i], p.ID, "第 %d 个结果不是真实的第 %d 近节点", i, i)
		}
	}

	t.Log("✅ find-node 收敛到真实最近节点")
}

// ============================================================================
// 发布与解析
// ============================================================================

// TestDHT_AnnounceResolveExpire 测试发布的记录可被解析，过期后不可见
func TestDHT_AnnounceResolveExpire(t *testing.T) {
	clk := clock.NewMock()
	sn := newSimNetwork()
	ctx := testContext(t)

	nodes := make([]*DHT, 6)
	for i := range nodes {
		nodes[i] = startNode(t, sn, clk)
		if i > 0 {
			require.NoError(t, nodes[i].Bootstrap(ctx, []netip.AddrPort{nodes[0].LocalAddr()}))
		}
	}
	announcer, resolver := nodes[1], nodes[5]

	id, err := types.NodeIDFromName("myapp.p2p", ".p2p")
	require.NoError(t, err)
	require.NoError(t, announcer.Announce(ctx, id, 8080, 10*time.Minute))

	want := netip.AddrPortFrom(announcer.LocalAddr().Addr(), 8080)
	for _, d := range nodes {
		if d == announcer {
			continue
		}
		addrs, err := d.Resolve(ctx, id)
		require.NoError(t, err)
		assert.Contains(t, addrs, want)
	}

	local, err := announcer.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []netip.AddrPort{netip.MustParseAddrPort("127.0.0.1:8080")}, local, "本地发布解析为回环地址")

	clk.Add(11 * time.Minute)

	_, err = resolver.Resolve(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	t.Log("✅ 发布、解析与过期正常")
}

// TestDHT_AnnounceIdempotent 测试重复发布与端口冲突
func TestDHT_AnnounceIdempotent(t *testing.T) {
	sn := newSimNetwork()
	a := startNode(t, sn, nil)
	ctx := testContext(t)
	id := types.RandomNodeID()

	err := a.Announce(ctx, id, 8080, 0)
	assert.ErrorIs(t, err, ErrNoNearbyPeers, "孤立节点首次发布无法送达网络")

	assert.NoError(t, a.Announce(ctx, id, 8080, 0), "同端口重复发布只续期")
	assert.ErrorIs(t, a.Announce(ctx, id, 9090, 0), ErrConflictingPort)

	recs, err := a.LocalRecords(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint16(8080), recs[0].Port)

	removed, err := a.Unannounce(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)
}

// TestDHT_FindValueStopsEarly 测试 find-value 在首个返回记录的节点处立即结束
func TestDHT_FindValueStopsEarly(t *testing.T) {
	sn := newSimNetwork()
	ctx := testContext(t)

	a := startNode(t, sn, nil, WithAlpha(1))
	c := startNode(t, sn, nil)
	d := startNode(t, sn, nil)
	addContact(t, a, c)
	addContact(t, a, d)

	target := c.Self()
	holder := netip.MustParseAddrPort("192.0.2.50:4000")
	var cacheErr error
	require.NoError(t, c.call(ctx, "test", func() {
		cacheErr = c.store.Cache(target, holder, time.Hour)
	}))
	require.NoError(t, cacheErr)

	addrs, err := a.Resolve(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, []netip.AddrPort{holder}, addrs)

	assert.Contains(t, sn.receivedKinds(c.LocalAddr()), KindFindValue)
	assert.NotContains(t, sn.receivedKinds(d.LocalAddr()), KindFindValue, "找到记录后不再查询其他节点")

	// 结果已缓存
	addrs, err = a.Resolve(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, []netip.AddrPort{holder}, addrs)
}

// TestDHT_FindValueServesLocalRecord 测试节点用自己发布的记录应答 find-value
func TestDHT_FindValueServesLocalRecord(t *testing.T) {
	sn := newSimNetwork()
	ctx := testContext(t)

	a := startNode(t, sn, nil)
	b := startNode(t, sn, nil)
	addContact(t, a, b)

	// 只写入 b 的本地记录，不向网络发布
	target := types.NodeIDFromSeed("served.p2p")
	var announceErr error
	require.NoError(t, b.call(ctx, "test", func() {
		_, announceErr = b.store.AnnounceLocal(target, 8080, 0)
	}))
	require.NoError(t, announceErr)

	addrs, err := a.Resolve(ctx, target)
	require.NoError(t, err)
	want := netip.AddrPortFrom(b.LocalAddr().Addr(), 8080)
	assert.Equal(t, []netip.AddrPort{want}, addrs, "记录地址为响应源 IP 加发布端口")
	assert.NotContains(t, sn.receivedKinds(a.LocalAddr()), KindAnnounce)

	t.Log("✅ 本地记录可被远端解析")
}

// ============================================================================
// 超时与驱逐
// ============================================================================

// TestDHT_TimeoutEvictsContact 测试超时达到阈值后联系人被驱逐
func TestDHT_TimeoutEvictsContact(t *testing.T) {
	sn := newSimNetwork()
	ctx := testContext(t)
	m := newRecordingMetrics()

	a := startNodeWith(t, sn, []Option{WithMetrics(m)},
		WithFailureThreshold(2), WithRequestTimeout(50*time.Millisecond, 1))

	ghost := types.RandomNodeID()
	require.NoError(t, a.call(ctx, "test", func() {
		a.table.InsertOrRefresh(Contact{ID: ghost, Addr: sn.unusedAddr()})
	}))

	_, err := a.FindNode(ctx, ghost)
	assert.ErrorIs(t, err, ErrNoNearbyPeers)
	closest, err := a.Closest(ctx, ghost, 10)
	require.NoError(t, err)
	require.Len(t, closest, 1, "一次超时未达阈值")
	assert.Equal(t, 1, closest[0].Failures)

	_, err = a.FindNode(ctx, ghost)
	assert.ErrorIs(t, err, ErrNoNearbyPeers)
	closest, err = a.Closest(ctx, ghost, 10)
	require.NoError(t, err)
	assert.Empty(t, closest, "达到阈值后不再返回")

	assert.Equal(t, 2, m.timeoutCount())

	t.Log("✅ 超时驱逐正常")
}

// ============================================================================
// 报文处理
// ============================================================================

// TestDHT_AnnounceBadToken 测试无效令牌的 ANNOUNCE 被拒绝
func TestDHT_AnnounceBadToken(t *testing.T) {
	sn := newSimNetwork()
	ctx := testContext(t)
	a := startNode(t, sn, nil)
	b := startNode(t, sn, nil)
	id := types.RandomNodeID()

	errCh := make(chan error, 1)
	require.NoError(t, a.call(ctx, "test", func() {
		a.sendRequest(b.LocalAddr(), b.Self(), &Message{
			Kind:   KindAnnounce,
			Target: id,
			Port:   80,
			Token:  []byte("badtoken"),
		}, func(*Message, time.Duration) { errCh <- nil }, func(err error) { errCh <- err })
	}))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrBadToken)
	case <-ctx.Done():
		t.Fatal("未收到响应")
	}

	var cached []Record
	require.NoError(t, b.call(ctx, "test", func() { cached = b.store.Lookup(id) }))
	assert.Empty(t, cached)
}

// TestDHT_DropsMalformed 测试格式错误的报文被丢弃
func TestDHT_DropsMalformed(t *testing.T) {
	sn := newSimNetwork()
	ctx := testContext(t)
	m := newRecordingMetrics()
	a := startNodeWith(t, sn, []Option{WithMetrics(m)})

	raw := sn.listen()
	defer raw.Close()
	_, err := raw.WriteTo([]byte("GET / HTTP/1.1\r\n"), a.conn.LocalAddr())
	require.NoError(t, err)

	// 同步一次事件循环，确保报文已处理
	require.Eventually(t, func() bool {
		_ = a.call(ctx, "test", func() {})
		return m.droppedCount(dropMalformed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	contacts, err := a.Contacts(ctx)
	require.NoError(t, err)
	assert.Empty(t, contacts)
}
