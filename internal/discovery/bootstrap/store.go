package bootstrap

import (
	"net/netip"
	"sort"
	"time"

	"github.com/dep2p/go-kadnode/internal/core/storage/engine"
	"github.com/dep2p/go-kadnode/internal/core/storage/kv"
	"github.com/dep2p/go-kadnode/internal/discovery/dht"
	"github.com/dep2p/go-kadnode/pkg/types"
)

// SavedPeer 持久化的联系人
type SavedPeer struct {
	ID       types.NodeID   `json:"id"`
	Addr     netip.AddrPort `json:"addr"`
	LastSeen time.Time      `json:"last_seen"`
}

// PeerStore 联系人持久化
type PeerStore struct {
	kv  *kv.Store
	max int
}

// NewPeerStore 创建联系人存储
//
// limit <= 0 表示不限制数量。
func NewPeerStore(eng engine.Engine, limit int) *PeerStore {
	return &PeerStore{
		kv:  kv.New(eng, []byte("b/")).SubStore([]byte("peer/")),
		max: limit,
	}
}

// Load 读取保存的联系人，最近见过的在前
//
// 损坏的条目被跳过。
func (s *PeerStore) Load() ([]SavedPeer, error) {
	keys, err := s.kv.Keys(nil)
	if err != nil {
		return nil, err
	}
	out := make([]SavedPeer, 0, len(keys))
	for _, key := range keys {
		var p SavedPeer
		if err := s.kv.GetJSON(key, &p); err != nil {
			logger.Debug("跳过损坏的联系人记录", "key", string(key), "error", err)
			continue
		}
		if !p.Addr.IsValid() || p.Addr.Port() == 0 {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out, nil
}

// Replace 用当前联系人替换已保存的列表，返回写入数量
func (s *PeerStore) Replace(contacts []dht.Contact) (int, error) {
	sorted := append([]dht.Contact(nil), contacts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastSeen.After(sorted[j].LastSeen)
	})
	if s.max > 0 && len(sorted) > s.max {
		sorted = sorted[:s.max]
	}

	existing, err := s.kv.Keys(nil)
	if err != nil {
		return 0, err
	}

	// 删除与写入在同一批次中提交，中途失败不会丢失旧列表
	batch := s.kv.NewBatch()
	keep := make(map[string]struct{}, len(sorted))
	for _, c := range sorted {
		key := c.ID.String()
		keep[key] = struct{}{}
		if err := batch.PutJSON([]byte(key), SavedPeer{
			ID:       c.ID,
			Addr:     c.Addr,
			LastSeen: c.LastSeen,
		}); err != nil {
			return 0, err
		}
	}
	for _, key := range existing {
		if _, ok := keep[string(key)]; !ok {
			batch.Delete(key)
		}
	}
	if err := batch.Write(); err != nil {
		return 0, err
	}
	return len(sorted), nil
}
