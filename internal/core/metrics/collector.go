package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dep2p/go-kadnode/internal/discovery/dht"
)

const namespace = "kadnode"

// Collector DHT 指标收集器
//
// 所有记录方法都是非阻塞的，可以在 DHT 事件循环中调用。
type Collector struct {
	registry *prometheus.Registry

	received       *prometheus.CounterVec
	sent           *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	timeouts       *prometheus.CounterVec
	lookups        *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec
	lookupRounds   *prometheus.HistogramVec

	inRate  *RateMeter
	outRate *RateMeter
}

var _ dht.Metrics = (*Collector)(nil)

// NewCollector 创建收集器，指标注册在独立的 Registry 中
func NewCollector(clk clock.Clock) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dht",
			Name:      "messages_received_total",
			Help:      "Valid DHT messages received, by kind.",
		}, []string{"kind"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dht",
			Name:      "messages_sent_total",
			Help:      "DHT messages sent, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dht",
			Name:      "messages_dropped_total",
			Help:      "Inbound datagrams dropped, by reason.",
		}, []string{"reason"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dht",
			Name:      "request_timeouts_total",
			Help:      "Requests that exhausted their retransmissions, by kind.",
		}, []string{"kind"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dht",
			Name:      "lookups_total",
			Help:      "Finished iterative lookups, by kind and result.",
		}, []string{"kind", "result"}),
		lookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dht",
			Name:      "lookup_duration_seconds",
			Help:      "Duration of iterative lookups.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"kind"}),
		lookupRounds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dht",
			Name:      "lookup_rounds",
			Help:      "Rounds needed by iterative lookups.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}, []string{"kind"}),
		inRate:  NewRateMeter(clk),
		outRate: NewRateMeter(clk),
	}

	c.registry.MustRegister(
		c.received, c.sent, c.dropped, c.timeouts,
		c.lookups, c.lookupDuration, c.lookupRounds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry 返回指标注册表
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ============================================================================
//                              dht.Metrics
// ============================================================================

// MessageReceived 实现 dht.Metrics
func (c *Collector) MessageReceived(kind dht.MessageKind) {
	c.received.WithLabelValues(kind.String()).Inc()
	c.inRate.Add(1)
}

// MessageSent 实现 dht.Metrics
func (c *Collector) MessageSent(kind dht.MessageKind) {
	c.sent.WithLabelValues(kind.String()).Inc()
	c.outRate.Add(1)
}

// MessageDropped 实现 dht.Metrics
func (c *Collector) MessageDropped(reason string) {
	c.dropped.WithLabelValues(reason).Inc()
}

// RequestTimedOut 实现 dht.Metrics
func (c *Collector) RequestTimedOut(kind dht.MessageKind) {
	c.timeouts.WithLabelValues(kind.String()).Inc()
}

// LookupDone 实现 dht.Metrics
func (c *Collector) LookupDone(kind string, rounds int, took time.Duration, err error) {
	c.lookups.WithLabelValues(kind, lookupResult(err)).Inc()
	c.lookupDuration.WithLabelValues(kind).Observe(took.Seconds())
	c.lookupRounds.WithLabelValues(kind).Observe(float64(rounds))
}

func lookupResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, dht.ErrNotFound):
		return "not_found"
	case errors.Is(err, dht.ErrNoNearbyPeers):
		return "no_peers"
	case errors.Is(err, dht.ErrClosed), errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// ============================================================================
//                              快照
// ============================================================================

// Snapshot 报文计数快照
type Snapshot struct {
	Received int64
	Sent     int64
	RateIn   float64
	RateOut  float64
}

// Snapshot 返回报文计数与最近 60 秒的速率
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Received: c.inRate.Total(),
		Sent:     c.outRate.Total(),
		RateIn:   c.inRate.Rate(),
		RateOut:  c.outRate.Rate(),
	}
}

// ============================================================================
//                              路由表状态
// ============================================================================

// StatusSource 提供 DHT 状态
type StatusSource interface {
	Status(ctx context.Context) (dht.Status, error)
}

// WatchDHT 注册路由表与记录数量指标，抓取时从 src 读取
func (c *Collector) WatchDHT(src StatusSource, timeout time.Duration) error {
	return c.registry.Register(newStatusCollector(src, timeout))
}

type statusCollector struct {
	src     StatusSource
	timeout time.Duration

	contacts     *prometheus.Desc
	buckets      *prometheus.Desc
	cachedKeys   *prometheus.Desc
	localRecords *prometheus.Desc
	pending      *prometheus.Desc
}

func newStatusCollector(src StatusSource, timeout time.Duration) *statusCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "dht", name), help, nil, nil)
	}
	return &statusCollector{
		src:          src,
		timeout:      timeout,
		contacts:     desc("contacts", "Contacts in the routing table."),
		buckets:      desc("buckets", "Non-empty routing table buckets."),
		cachedKeys:   desc("cached_keys", "Identifiers with cached records."),
		localRecords: desc("local_records", "Locally announced records."),
		pending:      desc("pending_requests", "Outstanding request transactions."),
	}
}

func (s *statusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.contacts
	ch <- s.buckets
	ch <- s.cachedKeys
	ch <- s.localRecords
	ch <- s.pending
}

func (s *statusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	st, err := s.src.Status(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(s.contacts, err)
		return
	}
	ch <- prometheus.MustNewConstMetric(s.contacts, prometheus.GaugeValue, float64(st.Contacts))
	ch <- prometheus.MustNewConstMetric(s.buckets, prometheus.GaugeValue, float64(st.Buckets))
	ch <- prometheus.MustNewConstMetric(s.cachedKeys, prometheus.GaugeValue, float64(st.CachedKeys))
	ch <- prometheus.MustNewConstMetric(s.localRecords, prometheus.GaugeValue, float64(st.LocalRecords))
	ch <- prometheus.MustNewConstMetric(s.pending, prometheus.GaugeValue, float64(st.PendingRequests))
}
