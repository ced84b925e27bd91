package dht

import (
	"net/netip"
	"sort"
	"time"

	"github.com/dep2p/go-kadnode/pkg/types"
)

// ============================================================================
//                              迭代查询
// ============================================================================

// lookupKind 查询类型
type lookupKind int

const (
	lookupNode lookupKind = iota
	lookupValue
)

// String 返回查询类型名称
func (k lookupKind) String() string {
	if k == lookupValue {
		return "find_value"
	}
	return "find_node"
}

// candidateState 候选节点状态
type candidateState int

const (
	candidateUnqueried candidateState = iota
	candidateInFlight
	candidateResponded
	candidateFailed
)

// lookupCandidate 查询候选节点
type lookupCandidate struct {
	PeerInfo
	state candidateState
}

// LookupResult 查询结果
type LookupResult struct {
	// Target 查询目标
	Target types.NodeID

	// Closest 已响应的最近节点（按距离升序，最多 K 个）
	Closest []PeerInfo

	// Records 找到的记录（仅 find-value）
	Records []RecordInfo

	// Holders 返回记录的节点（仅 find-value）
	Holders []PeerInfo

	// Tokens 各响应节点签发的发布令牌
	Tokens map[types.NodeID][]byte

	// Rounds 实际执行的轮数
	Rounds int

	// Err 查询错误
	Err error
}

// lookup 迭代查询状态机
//
// find-node 和 find-value 共用。只在事件循环中访问。
type lookup struct {
	d      *DHT
	kind   lookupKind
	target types.NodeID
	k      int
	alpha  int

	shortlist []*lookupCandidate
	seen      map[types.NodeID]struct{}

	inflight   int
	round      int
	best       types.NodeID
	haveBest   bool
	finalSweep bool
	done       bool
	started    time.Time

	result LookupResult
	onDone func(LookupResult)
}

// startLookup 启动一次迭代查询
//
// onDone 在事件循环中恰好调用一次（可能在本函数返回前）。
func (d *DHT) startLookup(target types.NodeID, kind lookupKind, onDone func(LookupResult)) *lookup {
	l := &lookup{
		d:       d,
		kind:    kind,
		target:  target,
		k:       d.cfg.BucketSize,
		alpha:   d.cfg.Alpha,
		seen:    make(map[types.NodeID]struct{}),
		started: d.clock.Now(),
		result: LookupResult{
			Target: target,
			Tokens: make(map[types.NodeID][]byte),
		},
		onDone: onDone,
	}
	d.lookups[l] = struct{}{}

	if d.stopping {
		l.finish(ErrClosed)
		return l
	}

	for _, c := range d.table.Closest(target, l.alpha*2) {
		l.add(PeerInfo{ID: c.ID, Addr: c.Addr})
	}
	if len(l.shortlist) == 0 {
		l.finish(ErrNoNearbyPeers)
		return l
	}

	l.best = Distance(l.shortlist[0].ID, target)
	l.haveBest = true
	l.nextRound()
	return l
}

// add 加入候选节点（去重，跳过本节点），保持按距离排序
func (l *lookup) add(p PeerInfo) {
	if p.ID == l.d.self {
		return
	}
	if _, ok := l.seen[p.ID]; ok {
		return
	}
	l.seen[p.ID] = struct{}{}
	l.shortlist = append(l.shortlist, &lookupCandidate{PeerInfo: p})
}

func (l *lookup) sortAndTruncate() {
	sort.SliceStable(l.shortlist, func(i, j int) bool {
		return CompareDistance(l.target, l.shortlist[i].ID, l.shortlist[j].ID) < 0
	})
	if len(l.shortlist) > l.k {
		l.shortlist = l.shortlist[:l.k]
	}
}

// nextRound 发起新一轮查询
func (l *lookup) nextRound() {
	if l.done {
		return
	}
	if !l.finalSweep && l.round >= l.d.cfg.MaxRounds {
		l.finish(nil)
		return
	}

	l.sortAndTruncate()

	limit := l.alpha
	if l.finalSweep {
		limit = len(l.shortlist)
	}

	var picked []*lookupCandidate
	for _, c := range l.shortlist {
		if len(picked) >= limit {
			break
		}
		if c.state == candidateUnqueried {
			picked = append(picked, c)
		}
	}
	if len(picked) == 0 {
		l.finish(nil)
		return
	}

	l.round++
	l.inflight += len(picked)
	for _, c := range picked {
		c.state = candidateInFlight
	}
	for _, c := range picked {
		l.query(c)
	}
}

func (l *lookup) query(c *lookupCandidate) {
	kind := KindFindNode
	if l.kind == lookupValue {
		kind = KindFindValue
	}
	l.d.sendRequest(c.Addr, c.ID, &Message{Kind: kind, Target: l.target},
		func(msg *Message, _ time.Duration) { l.onResponse(c, msg) },
		func(err error) { l.onFailure(c, err) },
	)
}

func (l *lookup) onResponse(c *lookupCandidate, msg *Message) {
	if l.done {
		return
	}
	l.inflight--
	c.state = candidateResponded
	if len(msg.Token) > 0 {
		l.result.Tokens[c.ID] = msg.Token
	}

	if l.kind == lookupValue && len(msg.Records) > 0 {
		l.result.Records = make([]RecordInfo, 0, len(msg.Records))
		for _, r := range msg.Records {
			// 未指定 IP 表示响应方自己发布的记录
			if r.Addr.Addr().IsUnspecified() {
				r.Addr = netip.AddrPortFrom(c.Addr.Addr(), r.Addr.Port())
			}
			l.result.Records = append(l.result.Records, r)
		}
		l.result.Holders = []PeerInfo{c.PeerInfo}
		l.finish(nil)
		return
	}

	for _, p := range msg.Contacts {
		l.add(p)
	}
	if l.inflight == 0 {
		l.roundDone()
	}
}

func (l *lookup) onFailure(c *lookupCandidate, err error) {
	if l.done {
		return
	}
	l.inflight--
	c.state = candidateFailed
	for i, x := range l.shortlist {
		if x == c {
			l.shortlist = append(l.shortlist[:i], l.shortlist[i+1:]...)
			break
		}
	}
	logger.Debug("查询请求失败", "peer", c.ID.ShortString(), "target", l.target.ShortString(), "error", err)
	if l.inflight == 0 {
		l.roundDone()
	}
}

// roundDone 一轮结束：判断是否取得进展
func (l *lookup) roundDone() {
	if l.finalSweep {
		l.finish(nil)
		return
	}

	l.sortAndTruncate()
	if len(l.shortlist) == 0 {
		l.finish(nil)
		return
	}

	closest := Distance(l.shortlist[0].ID, l.target)
	progress := !l.haveBest || CompareDistance(types.EmptyNodeID, closest, l.best) < 0
	if progress {
		l.best = closest
		l.haveBest = true
		l.nextRound()
		return
	}

	// 没有更近的节点：对前 K 个中尚未查询的节点做最后一次扫描
	l.finalSweep = true
	l.nextRound()
}

// cancel 取消查询，之后到达的响应被忽略
func (l *lookup) cancel(err error) {
	if !l.done {
		l.finish(err)
	}
}

// finish 结束查询并回调
func (l *lookup) finish(err error) {
	if l.done {
		return
	}
	l.done = true
	delete(l.d.lookups, l)

	l.sortAndTruncate()
	for _, c := range l.shortlist {
		if c.state == candidateResponded {
			l.result.Closest = append(l.result.Closest, c.PeerInfo)
		}
	}
	l.result.Rounds = l.round

	if err == nil && l.kind == lookupValue && len(l.result.Records) == 0 {
		err = ErrNotFound
	}
	if err == nil && l.kind == lookupNode && len(l.result.Closest) == 0 {
		err = ErrNoNearbyPeers
	}
	l.result.Err = err

	if l.kind == lookupNode {
		l.d.table.Touch(l.d.table.BucketIndex(l.target))
	}
	l.d.metrics.LookupDone(l.kind.String(), l.round, l.d.clock.Since(l.started), err)

	logger.Debug("查询结束",
		"kind", l.kind,
		"target", l.target.ShortString(),
		"rounds", l.round,
		"closest", len(l.result.Closest),
		"records", len(l.result.Records),
		"error", err)

	if l.onDone != nil {
		l.onDone(l.result)
	}
}

// closestPeers 返回路由表中距离 target 最近的 K 个联系人，排除 exclude
func (d *DHT) closestPeers(target, exclude types.NodeID) []PeerInfo {
	contacts := d.table.Closest(target, d.cfg.BucketSize+1)
	out := make([]PeerInfo, 0, len(contacts))
	for _, c := range contacts {
		if c.ID == exclude {
			continue
		}
		if len(out) >= d.cfg.BucketSize {
			break
		}
		out = append(out, PeerInfo{ID: c.ID, Addr: c.Addr})
	}
	return out
}
