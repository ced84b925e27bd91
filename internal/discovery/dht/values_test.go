package dht

import (
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kadnode/pkg/types"
)

func newTestStore(mod func(*Config)) (*RecordStore, *clock.Mock) {
	cfg := DefaultConfig()
	if mod != nil {
		mod(cfg)
	}
	clk := clock.NewMock()
	return NewRecordStore(cfg, clk), clk
}

// ============================================================================
// 本地记录
// ============================================================================

// TestRecordStore_AnnounceLocalIdempotent 测试重复发布只续期，不产生重复记录或调度
func TestRecordStore_AnnounceLocalIdempotent(t *testing.T) {
	s, clk := newTestStore(nil)
	id := types.RandomNodeID()

	res, err := s.AnnounceLocal(id, 8080, 0)
	require.NoError(t, err)
	assert.Equal(t, AnnounceCreated, res)

	s.MarkAnnounced(id, clk.Now())
	first, _ := s.LookupLocal(id)

	clk.Add(time.Minute)
	res, err = s.AnnounceLocal(id, 8080, 0)
	require.NoError(t, err)
	assert.Equal(t, AnnounceRefreshed, res)

	assert.Len(t, s.Local(), 1)
	again, _ := s.LookupLocal(id)
	assert.Equal(t, first.NextAnnounce, again.NextAnnounce, "续期不改变下一次发布时间")
	assert.Empty(t, s.DueForAnnounce(clk.Now()))

	t.Log("✅ AnnounceLocal 幂等")
}

// TestRecordStore_AnnounceLocalConflict 测试同一 ID 不同端口被拒绝
func TestRecordStore_AnnounceLocalConflict(t *testing.T) {
	s, _ := newTestStore(nil)
	id := types.RandomNodeID()

	_, err := s.AnnounceLocal(id, 8080, 0)
	require.NoError(t, err)

	_, err = s.AnnounceLocal(id, 9090, 0)
	assert.ErrorIs(t, err, ErrConflictingPort)
	assert.True(t, IsConfigError(err))

	_, err = s.AnnounceLocal(types.RandomNodeID(), 0, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestRecordStore_LocalLifetime 测试带时长的本地记录过期
func TestRecordStore_LocalLifetime(t *testing.T) {
	s, clk := newTestStore(nil)
	temp, forever := types.RandomNodeID(), types.RandomNodeID()

	_, err := s.AnnounceLocal(temp, 80, 10*time.Minute)
	require.NoError(t, err)
	_, err = s.AnnounceLocal(forever, 81, 0)
	require.NoError(t, err)

	assert.Len(t, s.DueForAnnounce(clk.Now()), 2, "新记录立即需要发布")

	clk.Add(11 * time.Minute)
	_, ok := s.LookupLocal(temp)
	assert.False(t, ok, "到期后不可见")

	_, local := s.Expire(clk.Now())
	assert.Equal(t, 1, local)
	_, ok = s.LookupLocal(forever)
	assert.True(t, ok)
	assert.True(t, s.RemoveLocal(forever))
	assert.False(t, s.RemoveLocal(forever))
}

// ============================================================================
// 缓存记录
// ============================================================================

// TestRecordStore_CacheDedupAndTTLCap 测试按地址去重与 TTL 上限
func TestRecordStore_CacheDedupAndTTLCap(t *testing.T) {
	s, clk := newTestStore(func(c *Config) { c.MaxRecordTTL = time.Hour })
	id := types.RandomNodeID()
	addr := netip.MustParseAddrPort("192.0.2.1:80")

	require.NoError(t, s.Cache(id, addr, 10*time.Minute))
	require.NoError(t, s.Cache(id, addr, 5*time.Hour))

	recs := s.Lookup(id)
	require.Len(t, recs, 1, "同一地址只保存一份")
	assert.Equal(t, clk.Now().Add(time.Hour), recs[0].Expires, "TTL 被截断到上限")
	assert.Equal(t, OriginCached, recs[0].Origin)
}

// TestRecordStore_CacheEvictsSoonestExpiring 测试超过每键上限时淘汰最早过期的
func TestRecordStore_CacheEvictsSoonestExpiring(t *testing.T) {
	s, _ := newTestStore(func(c *Config) { c.MaxValuesPerKey = 2 })
	id := types.RandomNodeID()
	a := netip.MustParseAddrPort("192.0.2.1:80")
	b := netip.MustParseAddrPort("192.0.2.2:80")
	c := netip.MustParseAddrPort("192.0.2.3:80")

	require.NoError(t, s.Cache(id, a, 30*time.Minute))
	require.NoError(t, s.Cache(id, b, 5*time.Minute))
	require.NoError(t, s.Cache(id, c, 20*time.Minute))

	var addrs []netip.AddrPort
	for _, r := range s.Lookup(id) {
		addrs = append(addrs, r.Addr)
	}
	assert.ElementsMatch(t, []netip.AddrPort{a, c}, addrs)
}

// TestRecordStore_CacheCapacity 测试键数量上限
func TestRecordStore_CacheCapacity(t *testing.T) {
	s, _ := newTestStore(func(c *Config) { c.MaxKeys = 1 })
	addr := netip.MustParseAddrPort("192.0.2.1:80")
	first := types.RandomNodeID()

	require.NoError(t, s.Cache(first, addr, time.Minute))
	assert.ErrorIs(t, s.Cache(types.RandomNodeID(), addr, time.Minute), ErrCapacity)
	assert.NoError(t, s.Cache(first, netip.MustParseAddrPort("192.0.2.9:80"), time.Minute), "已有键仍可追加")
}

// TestRecordStore_Expire 测试缓存记录过期
func TestRecordStore_Expire(t *testing.T) {
	s, clk := newTestStore(nil)
	id := types.RandomNodeID()
	require.NoError(t, s.Cache(id, netip.MustParseAddrPort("192.0.2.1:80"), time.Minute))
	require.NoError(t, s.Cache(id, netip.MustParseAddrPort("192.0.2.2:80"), time.Hour))

	clk.Add(2 * time.Minute)
	assert.Len(t, s.Lookup(id), 1, "过期记录在清理前也不可见")

	cached, _ := s.Expire(clk.Now())
	assert.Equal(t, 1, cached)
	assert.Equal(t, 1, s.KeyCount())

	clk.Add(time.Hour)
	s.Expire(clk.Now())
	assert.Zero(t, s.KeyCount())
}
