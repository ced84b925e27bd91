package config

import (
	"fmt"

	"github.com/dep2p/go-kadnode/pkg/types"
)

// IdentityConfig 节点身份配置
//
// 节点 ID 的来源（优先级从高到低）：
//   - NodeID: 显式指定的 40 位十六进制 ID
//   - Seed: 对种子字符串取 SHA-1，重启后 ID 不变
//   - 都为空时随机生成
type IdentityConfig struct {
	// NodeID 显式节点 ID
	NodeID string `json:"node_id,omitempty"`

	// Seed 派生节点 ID 的种子
	Seed string `json:"seed,omitempty"`
}

// DefaultIdentityConfig 返回默认身份配置（随机 ID）
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{}
}

// Validate 验证身份配置
func (c IdentityConfig) Validate() error {
	if c.NodeID != "" {
		if _, err := types.ParseNodeID(c.NodeID); err != nil {
			return fmt.Errorf("identity: node_id: %w", err)
		}
	}
	return nil
}

// ResolveNodeID 返回配置对应的节点 ID
func (c IdentityConfig) ResolveNodeID() (types.NodeID, error) {
	switch {
	case c.NodeID != "":
		return types.ParseNodeID(c.NodeID)
	case c.Seed != "":
		return types.NodeIDFromSeed(c.Seed), nil
	default:
		return types.RandomNodeID(), nil
	}
}
