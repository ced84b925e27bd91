package dht

import (
	"net/netip"
	"sort"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kadnode/pkg/types"
)

// ============================================================================
//                              联系人
// ============================================================================

// Contact 路由表中的远端节点
type Contact struct {
	// ID 节点 ID
	ID types.NodeID

	// Addr 节点 UDP 地址
	Addr netip.AddrPort

	// LastSeen 最后一次收到其报文的时间
	LastSeen time.Time

	// RTT 往返时间（指数加权平均）
	RTT time.Duration

	// Failures 连续失败次数
	Failures int
}

// updateRTT 以 1/8 权重合并新的 RTT 样本
func (c *Contact) updateRTT(sample time.Duration) {
	if sample <= 0 {
		return
	}
	if c.RTT == 0 {
		c.RTT = sample
		return
	}
	c.RTT = (c.RTT*7 + sample) / 8
}

// InsertOutcome InsertOrRefresh 的结果
type InsertOutcome int

const (
	// InsertRejected 拒绝（本节点自身或地址无效）
	InsertRejected InsertOutcome = iota
	// InsertRefreshed 已存在的联系人被刷新
	InsertRefreshed
	// InsertInserted 新联系人进入 K 桶
	InsertInserted
	// InsertPending 桶已满，进入替换缓存
	InsertPending
)

// String 返回结果名称
func (o InsertOutcome) String() string {
	switch o {
	case InsertRejected:
		return "rejected"
	case InsertRefreshed:
		return "refreshed"
	case InsertInserted:
		return "inserted"
	case InsertPending:
		return "pending"
	default:
		return "unknown"
	}
}

// ============================================================================
//                              K 桶
// ============================================================================

// KBucket K 桶
type KBucket struct {
	// 联系人列表（最近活跃的在前）
	contacts []*Contact

	// 替换缓存（桶满时存储候选节点，最近的在前）
	replacements []*Contact

	// 最后变化时间
	lastChanged time.Time

	// 是否正在探测最久未见的联系人
	probing bool
}

func (b *KBucket) indexOf(id types.NodeID) int {
	for i, c := range b.contacts {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (b *KBucket) replacementIndexOf(id types.NodeID) int {
	for i, c := range b.replacements {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (b *KBucket) moveToFront(i int) {
	c := b.contacts[i]
	copy(b.contacts[1:i+1], b.contacts[:i])
	b.contacts[0] = c
}

func (b *KBucket) pushReplacement(c *Contact, limit int) {
	if i := b.replacementIndexOf(c.ID); i >= 0 {
		b.replacements = append(b.replacements[:i], b.replacements[i+1:]...)
	}
	b.replacements = append([]*Contact{c}, b.replacements...)
	if len(b.replacements) > limit {
		b.replacements = b.replacements[:limit]
	}
}

// insertByLastSeen 按最后活跃时间插入，保持最近活跃的在前
func (b *KBucket) insertByLastSeen(c *Contact) {
	i := sort.Search(len(b.contacts), func(j int) bool {
		return !b.contacts[j].LastSeen.After(c.LastSeen)
	})
	b.contacts = append(b.contacts, nil)
	copy(b.contacts[i+1:], b.contacts[i:])
	b.contacts[i] = c
}

// removeAt 移除联系人，并从替换缓存头部提升一个候选
func (b *KBucket) removeAt(i int, now time.Time) {
	b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
	if len(b.replacements) > 0 {
		promoted := b.replacements[0]
		b.replacements = b.replacements[1:]
		promoted.Failures = 0
		b.insertByLastSeen(promoted)
	}
	b.lastChanged = now
}

// ============================================================================
//                              路由表
// ============================================================================

// RoutingTable 路由表
//
// 非并发安全：只在 DHT 事件循环中访问。
type RoutingTable struct {
	self             types.NodeID
	k                int
	replacementSize  int
	failureThreshold int
	clock            clock.Clock

	buckets [types.IDBits]*KBucket

	// prober 桶满时被调用，用于异步探测最久未见的联系人
	prober func(bucket int, lrs Contact)
}

// NewRoutingTable 创建新的路由表
func NewRoutingTable(self types.NodeID, cfg *Config, clk clock.Clock) *RoutingTable {
	if clk == nil {
		clk = clock.New()
	}
	rt := &RoutingTable{
		self:             self,
		k:                cfg.BucketSize,
		replacementSize:  cfg.ReplacementSize,
		failureThreshold: cfg.FailureThreshold,
		clock:            clk,
	}
	now := clk.Now()
	for i := range rt.buckets {
		rt.buckets[i] = &KBucket{lastChanged: now}
	}
	return rt
}

// SetProber 设置满桶探测回调
func (rt *RoutingTable) SetProber(fn func(bucket int, lrs Contact)) {
	rt.prober = fn
}

// Self 返回本地节点 ID
func (rt *RoutingTable) Self() types.NodeID {
	return rt.self
}

// BucketIndex 返回 id 所属桶索引
func (rt *RoutingTable) BucketIndex(id types.NodeID) int {
	return BucketIndex(rt.self, id)
}

// InsertOrRefresh 记录一次与 c 的成功通信
//
// c.RTT 为本次 RTT 样本（0 表示无样本）。
func (rt *RoutingTable) InsertOrRefresh(c Contact) InsertOutcome {
	if c.ID == rt.self || !c.Addr.IsValid() || c.Addr.Port() == 0 {
		return InsertRejected
	}

	now := rt.clock.Now()
	idx := rt.BucketIndex(c.ID)
	b := rt.buckets[idx]

	if i := b.indexOf(c.ID); i >= 0 {
		existing := b.contacts[i]
		existing.Addr = c.Addr
		existing.LastSeen = now
		existing.Failures = 0
		existing.updateRTT(c.RTT)
		b.moveToFront(i)
		b.lastChanged = now
		return InsertRefreshed
	}

	fresh := &Contact{ID: c.ID, Addr: c.Addr, LastSeen: now}
	fresh.updateRTT(c.RTT)

	if i := b.replacementIndexOf(c.ID); i >= 0 {
		existing := b.replacements[i]
		existing.Addr = c.Addr
		existing.LastSeen = now
		existing.Failures = 0
		existing.updateRTT(c.RTT)
		if len(b.contacts) < rt.k {
			b.replacements = append(b.replacements[:i], b.replacements[i+1:]...)
			b.contacts = append([]*Contact{existing}, b.contacts...)
			b.lastChanged = now
			return InsertInserted
		}
		return InsertRefreshed
	}

	if len(b.contacts) < rt.k {
		b.contacts = append([]*Contact{fresh}, b.contacts...)
		b.lastChanged = now
		return InsertInserted
	}

	b.pushReplacement(fresh, rt.replacementSize)
	if !b.probing && rt.prober != nil {
		b.probing = true
		rt.prober(idx, *b.contacts[len(b.contacts)-1])
	}
	return InsertPending
}

// ProbeResult 处理满桶探测的结果
//
// alive 为 false 时驱逐被探测的联系人并提升替换缓存中最新的候选。
func (rt *RoutingTable) ProbeResult(id types.NodeID, alive bool) {
	b := rt.buckets[rt.BucketIndex(id)]
	b.probing = false
	if alive {
		return
	}
	if i := b.indexOf(id); i >= 0 {
		b.removeAt(i, rt.clock.Now())
		logger.Debug("探测失败，驱逐联系人", "peer", id.ShortString())
	}
}

// MarkUnreachable 记录一次请求失败
//
// 连续失败达到阈值后驱逐。返回是否被驱逐。
func (rt *RoutingTable) MarkUnreachable(id types.NodeID) bool {
	b := rt.buckets[rt.BucketIndex(id)]
	if i := b.indexOf(id); i >= 0 {
		c := b.contacts[i]
		c.Failures++
		if c.Failures >= rt.failureThreshold {
			b.removeAt(i, rt.clock.Now())
			return true
		}
		return false
	}
	if i := b.replacementIndexOf(id); i >= 0 {
		c := b.replacements[i]
		c.Failures++
		if c.Failures >= rt.failureThreshold {
			b.replacements = append(b.replacements[:i], b.replacements[i+1:]...)
			return true
		}
	}
	return false
}

// Remove 移除联系人（不计入失败次数）
func (rt *RoutingTable) Remove(id types.NodeID) bool {
	b := rt.buckets[rt.BucketIndex(id)]
	if i := b.indexOf(id); i >= 0 {
		b.removeAt(i, rt.clock.Now())
		return true
	}
	if i := b.replacementIndexOf(id); i >= 0 {
		b.replacements = append(b.replacements[:i], b.replacements[i+1:]...)
		return true
	}
	return false
}

// Get 获取联系人
func (rt *RoutingTable) Get(id types.NodeID) (Contact, bool) {
	if id == rt.self {
		return Contact{}, false
	}
	b := rt.buckets[rt.BucketIndex(id)]
	if i := b.indexOf(id); i >= 0 {
		return *b.contacts[i], true
	}
	return Contact{}, false
}

// Closest 返回距离 target 最近的 count 个联系人（按距离升序）
func (rt *RoutingTable) Closest(target types.NodeID, count int) []Contact {
	all := rt.Contacts()
	sort.Slice(all, func(i, j int) bool {
		return CompareDistance(target, all[i].ID, all[j].ID) < 0
	})
	if len(all) > count {
		all = all[:count]
	}
	return all
}

// Contacts 返回所有 K 桶中的联系人副本
func (rt *RoutingTable) Contacts() []Contact {
	var out []Contact
	for _, b := range rt.buckets {
		for _, c := range b.contacts {
			out = append(out, *c)
		}
	}
	return out
}

// Size 返回路由表中的联系人总数（不含替换缓存）
func (rt *RoutingTable) Size() int {
	total := 0
	for _, b := range rt.buckets {
		total += len(b.contacts)
	}
	return total
}

// BucketLen 返回第 i 个桶的联系人数与替换缓存长度
func (rt *RoutingTable) BucketLen(i int) (contacts, replacements int) {
	b := rt.buckets[i]
	return len(b.contacts), len(b.replacements)
}

// LeastRecentlySeen 返回第 i 个桶中最久未见的联系人
func (rt *RoutingTable) LeastRecentlySeen(i int) (Contact, bool) {
	b := rt.buckets[i]
	if len(b.contacts) == 0 {
		return Contact{}, false
	}
	return *b.contacts[len(b.contacts)-1], true
}

// StaleBuckets 返回超过 age 未变化的桶索引
//
// 只考虑不超过最深非空桶的范围，更深的桶在当前网络规模下不会有联系人。
func (rt *RoutingTable) StaleBuckets(age time.Duration) []int {
	deepest := -1
	for i, b := range rt.buckets {
		if len(b.contacts) > 0 {
			deepest = i
		}
	}

	now := rt.clock.Now()
	var stale []int
	for i := 0; i <= deepest; i++ {
		if now.Sub(rt.buckets[i].lastChanged) >= age {
			stale = append(stale, i)
		}
	}
	return stale
}

// Touch 标记桶已刷新
func (rt *RoutingTable) Touch(i int) {
	if i >= 0 && i < len(rt.buckets) {
		rt.buckets[i].lastChanged = rt.clock.Now()
	}
}
