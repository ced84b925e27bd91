package metrics

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ============================================================================
// RateMeter - 速率计算器
// ============================================================================

// rateWindow 统计窗口（秒）
const rateWindow = 60

// RateMeter 速率计算器（基于滑动窗口）
//
// 使用 60 个 1 秒桶来计算最近 60 秒的平均速率。
type RateMeter struct {
	clock clock.Clock

	mu       sync.Mutex
	buckets  [rateWindow]int64 // 每秒一个桶
	lastIdx  int               // 最后写入的桶索引
	lastTime time.Time         // 当前桶的起始时间
	total    int64
}

// NewRateMeter 创建速率计算器
func NewRateMeter(clk clock.Clock) *RateMeter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateMeter{
		clock:    clk,
		lastTime: clk.Now(),
	}
}

// advance 把窗口推进到当前时间，清空经过的桶
func (r *RateMeter) advance(now time.Time) {
	elapsed := now.Sub(r.lastTime)
	if elapsed < time.Second {
		return
	}
	seconds := int(elapsed / time.Second)
	if seconds >= rateWindow {
		r.buckets = [rateWindow]int64{}
		r.lastIdx = 0
	} else {
		for i := 0; i < seconds; i++ {
			r.lastIdx = (r.lastIdx + 1) % rateWindow
			r.buckets[r.lastIdx] = 0
		}
	}
	r.lastTime = r.lastTime.Add(time.Duration(seconds) * time.Second)
}

// Add 计入 n 个单位
func (r *RateMeter) Add(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance(r.clock.Now())
	r.buckets[r.lastIdx] += n
	r.total += n
}

// Rate 返回最近 60 秒的平均速率（单位/秒）
func (r *RateMeter) Rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance(r.clock.Now())

	var sum int64
	for _, v := range r.buckets {
		sum += v
	}
	return float64(sum) / rateWindow
}

// Total 返回累计总量
func (r *RateMeter) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
