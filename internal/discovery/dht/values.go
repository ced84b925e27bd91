package dht

import (
	"bytes"
	"net/netip"
	"sort"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kadnode/pkg/types"
)

// ============================================================================
//                              记录类型
// ============================================================================

// RecordOrigin 记录来源
type RecordOrigin int

const (
	// OriginLocal 本节点发布
	OriginLocal RecordOrigin = iota
	// OriginCached 由远端 ANNOUNCE 或查询结果缓存
	OriginCached
)

// Record 标识符到地址的映射
type Record struct {
	ID      types.NodeID
	Addr    netip.AddrPort
	Expires time.Time
	Origin  RecordOrigin
}

// LocalRecord 本节点发布的记录
type LocalRecord struct {
	ID   types.NodeID
	Port uint16

	// Expires 为零表示持续到进程退出
	Expires time.Time

	// NextAnnounce 下一次向网络发布的时间
	NextAnnounce time.Time
}

// AnnounceResult AnnounceLocal 的结果
type AnnounceResult int

const (
	// AnnounceCreated 新建记录
	AnnounceCreated AnnounceResult = iota
	// AnnounceRefreshed 已有记录被续期
	AnnounceRefreshed
)

// ============================================================================
//                              记录存储
// ============================================================================

// RecordStore 记录存储
//
// 非并发安全：只在 DHT 事件循环中访问。
type RecordStore struct {
	clock      clock.Clock
	maxTTL     time.Duration
	maxValues  int
	maxKeys    int
	reannounce time.Duration

	local  map[types.NodeID]*LocalRecord
	cached map[types.NodeID][]Record
}

// NewRecordStore 创建记录存储
func NewRecordStore(cfg *Config, clk clock.Clock) *RecordStore {
	if clk == nil {
		clk = clock.New()
	}
	return &RecordStore{
		clock:      clk,
		maxTTL:     cfg.MaxRecordTTL,
		maxValues:  cfg.MaxValuesPerKey,
		maxKeys:    cfg.MaxKeys,
		reannounce: cfg.ReannounceInterval,
		local:      make(map[types.NodeID]*LocalRecord),
		cached:     make(map[types.NodeID][]Record),
	}
}

// AnnounceLocal 发布或续期本地记录
//
// lifetime <= 0 表示持续到进程退出。同一 ID 以不同端口发布返回 ErrConflictingPort。
func (s *RecordStore) AnnounceLocal(id types.NodeID, port uint16, lifetime time.Duration) (AnnounceResult, error) {
	if port == 0 {
		return AnnounceCreated, NewDHTError("announce", ErrInvalidConfig, "port must be non-zero")
	}

	now := s.clock.Now()
	var expires time.Time
	if lifetime > 0 {
		expires = now.Add(lifetime)
	}

	if rec, ok := s.local[id]; ok {
		if rec.Port != port {
			return AnnounceRefreshed, NewDHTError("announce", ErrConflictingPort, id.String())
		}
		rec.Expires = expires
		return AnnounceRefreshed, nil
	}

	s.local[id] = &LocalRecord{
		ID:           id,
		Port:         port,
		Expires:      expires,
		NextAnnounce: now,
	}
	return AnnounceCreated, nil
}

// LookupLocal 查找本地记录
func (s *RecordStore) LookupLocal(id types.NodeID) (LocalRecord, bool) {
	rec, ok := s.local[id]
	if !ok {
		return LocalRecord{}, false
	}
	if !rec.Expires.IsZero() && !rec.Expires.After(s.clock.Now()) {
		return LocalRecord{}, false
	}
	return *rec, true
}

// RemoveLocal 移除本地记录
func (s *RecordStore) RemoveLocal(id types.NodeID) bool {
	if _, ok := s.local[id]; !ok {
		return false
	}
	delete(s.local, id)
	return true
}

// Local 返回所有本地记录（按 ID 排序）
func (s *RecordStore) Local() []LocalRecord {
	out := make([]LocalRecord, 0, len(s.local))
	for _, rec := range s.local {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

// Cache 缓存远端记录
//
// ttl 超过上限时截断；同一地址只保存一份；每个 ID 最多 maxValues 个地址，
// 超出时淘汰最早过期的；ID 数量达到 maxKeys 时拒绝新 ID。
func (s *RecordStore) Cache(id types.NodeID, addr netip.AddrPort, ttl time.Duration) error {
	if ttl <= 0 || !addr.IsValid() || addr.Port() == 0 {
		return nil
	}
	if ttl > s.maxTTL {
		ttl = s.maxTTL
	}
	expires := s.clock.Now().Add(ttl)

	list, exists := s.cached[id]
	if !exists && len(s.cached) >= s.maxKeys {
		return NewDHTError("cache", ErrCapacity, "record table full")
	}

	for i := range list {
		if list[i].Addr == addr {
			list[i].Expires = expires
			return nil
		}
	}

	if len(list) >= s.maxValues {
		soonest := 0
		for i := range list {
			if list[i].Expires.Before(list[soonest].Expires) {
				soonest = i
			}
		}
		list = append(list[:soonest], list[soonest+1:]...)
	}

	s.cached[id] = append(list, Record{
		ID:      id,
		Addr:    addr,
		Expires: expires,
		Origin:  OriginCached,
	})
	return nil
}

// Lookup 返回 id 未过期的缓存记录
func (s *RecordStore) Lookup(id types.NodeID) []Record {
	now := s.clock.Now()
	var out []Record
	for _, r := range s.cached[id] {
		if r.Expires.After(now) {
			out = append(out, r)
		}
	}
	return out
}

// Expire 清理过期的缓存记录和到期的本地记录
func (s *RecordStore) Expire(now time.Time) (cached, local int) {
	for id, list := range s.cached {
		kept := list[:0]
		for _, r := range list {
			if r.Expires.After(now) {
				kept = append(kept, r)
			} else {
				cached++
			}
		}
		if len(kept) == 0 {
			delete(s.cached, id)
		} else {
			s.cached[id] = kept
		}
	}

	for id, rec := range s.local {
		if !rec.Expires.IsZero() && !rec.Expires.After(now) {
			delete(s.local, id)
			local++
		}
	}
	return cached, local
}

// DueForAnnounce 返回需要向网络重新发布的本地记录
func (s *RecordStore) DueForAnnounce(now time.Time) []LocalRecord {
	var out []LocalRecord
	for _, rec := range s.local {
		if !rec.NextAnnounce.After(now) {
			out = append(out, *rec)
		}
	}
	return out
}

// MarkAnnounced 记录一次发布，安排下一次发布时间
func (s *RecordStore) MarkAnnounced(id types.NodeID, now time.Time) {
	if rec, ok := s.local[id]; ok {
		rec.NextAnnounce = now.Add(s.reannounce)
	}
}

// RetryAnnounce 发布失败后让下一次检查立即重试
func (s *RecordStore) RetryAnnounce(id types.NodeID) {
	if rec, ok := s.local[id]; ok {
		rec.NextAnnounce = s.clock.Now()
	}
}

// KeyCount 返回缓存的 ID 数量
func (s *RecordStore) KeyCount() int {
	return len(s.cached)
}
