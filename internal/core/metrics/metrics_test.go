package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kadnode/internal/discovery/dht"
)

type fakeStatus struct {
	st  dht.Status
	err error
}

func (f fakeStatus) Status(context.Context) (dht.Status, error) {
	return f.st, f.err
}

// TestCollector_Counters 测试报文与超时计数
func TestCollector_Counters(t *testing.T) {
	c := NewCollector(clock.NewMock())

	c.MessageReceived(dht.KindPing)
	c.MessageReceived(dht.KindPing)
	c.MessageReceived(dht.KindFindNode)
	c.MessageSent(dht.KindPong)
	c.MessageDropped("malformed")
	c.RequestTimedOut(dht.KindFindValue)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.received.WithLabelValues("PING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.received.WithLabelValues("FIND_NODE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sent.WithLabelValues("PONG")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dropped.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.timeouts.WithLabelValues("FIND_VALUE")))

	snap := c.Snapshot()
	assert.Equal(t, int64(3), snap.Received)
	assert.Equal(t, int64(1), snap.Sent)

	t.Log("✅ 计数器正确")
}

// TestCollector_Lookups 测试查询结果分类
func TestCollector_Lookups(t *testing.T) {
	c := NewCollector(nil)

	c.LookupDone("find_value", 2, 300*time.Millisecond, nil)
	c.LookupDone("find_value", 4, time.Second, dht.NewDHTError("resolve", dht.ErrNotFound, ""))
	c.LookupDone("find_node", 1, 10*time.Millisecond, dht.ErrNoNearbyPeers)
	c.LookupDone("find_node", 1, 10*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.lookups.WithLabelValues("find_value", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lookups.WithLabelValues("find_value", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lookups.WithLabelValues("find_node", "no_peers")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lookups.WithLabelValues("find_node", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.lookupDuration))

	t.Log("✅ 查询结果按类别计数")
}

// TestRateMeter_Window 测试 60 秒滑动窗口
func TestRateMeter_Window(t *testing.T) {
	clk := clock.NewMock()
	r := NewRateMeter(clk)

	r.Add(60)
	assert.InDelta(t, 1.0, r.Rate(), 1e-9)

	clk.Add(30 * time.Second)
	r.Add(60)
	assert.InDelta(t, 2.0, r.Rate(), 1e-9)

	// 第一个桶滑出窗口
	clk.Add(31 * time.Second)
	assert.InDelta(t, 1.0, r.Rate(), 1e-9)

	clk.Add(2 * time.Minute)
	assert.Zero(t, r.Rate())
	assert.Equal(t, int64(120), r.Total())

	t.Log("✅ 速率窗口滑动正确")
}

// TestCollector_WatchDHT 测试路由表状态指标
func TestCollector_WatchDHT(t *testing.T) {
	c := NewCollector(nil)
	require.NoError(t, c.WatchDHT(fakeStatus{st: dht.Status{Contacts: 12, Buckets: 3, CachedKeys: 4}}, time.Second))

	expected := `
# HELP kadnode_dht_contacts Contacts in the routing table.
# TYPE kadnode_dht_contacts gauge
kadnode_dht_contacts 12
# HELP kadnode_dht_buckets Non-empty routing table buckets.
# TYPE kadnode_dht_buckets gauge
kadnode_dht_buckets 3
`
	err := testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected),
		"kadnode_dht_contacts", "kadnode_dht_buckets")
	require.NoError(t, err)

	t.Log("✅ 状态指标从 DHT 读取")
}

// TestServer_Serve 测试 HTTP 端点
func TestServer_Serve(t *testing.T) {
	c := NewCollector(nil)
	c.MessageReceived(dht.KindPing)

	srv := NewServer("127.0.0.1:0", c)
	require.NoError(t, srv.Start(context.Background()))
	defer func() { _ = srv.Stop(context.Background()) }()

	resp, err := http.Get("http://" + srv.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `kadnode_dht_messages_received_total{kind="PING"} 1`)

	// 请求 pprof 索引
	pp, err := http.Get("http://" + srv.Addr().String() + "/debug/pprof/")
	require.NoError(t, err)
	defer pp.Body.Close()
	assert.Equal(t, http.StatusOK, pp.StatusCode)

	t.Log("✅ /metrics 输出 Prometheus 文本")
}
