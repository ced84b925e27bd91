package dht

import (
	"net/netip"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// inboundLimiter 按源 IP 限制入站请求速率
//
// 每个 IP 一个令牌桶，桶表按 LRU 淘汰，防止内存被伪造源地址耗尽。
type inboundLimiter struct {
	limit   rate.Limit
	burst   int
	buckets *lru.Cache[netip.Addr, *rate.Limiter]
}

func newInboundLimiter(perSecond float64, burst, entries int) *inboundLimiter {
	cache, err := lru.New[netip.Addr, *rate.Limiter](entries)
	if err != nil {
		// 仅在 entries <= 0 时失败，配置校验已排除
		panic(err)
	}
	return &inboundLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: cache,
	}
}

// Allow 判断来自 ip 的请求是否放行
func (l *inboundLimiter) Allow(ip netip.Addr, now time.Time) bool {
	ip = ip.Unmap()
	lim, ok := l.buckets.Get(ip)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.buckets.Add(ip, lim)
	}
	return lim.AllowN(now, 1)
}
