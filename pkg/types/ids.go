package types

import (
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // 标识符派生，非安全用途
	"encoding/hex"
	"errors"
	"strings"
)

// ============================================================================
//                              NodeID - 节点标识
// ============================================================================

// IDLength NodeID 字节长度（160 位）
const IDLength = 20

// IDBits NodeID 位数
const IDBits = IDLength * 8

// NodeID 节点/记录唯一标识符
//
// 节点 ID 与记录 ID 共享同一个 160 位标识空间，
// 外部表示为 40 个十六进制字符。
type NodeID [IDLength]byte

// EmptyNodeID 空节点ID
var EmptyNodeID NodeID

// ErrInvalidNodeID 无效的节点ID错误
var ErrInvalidNodeID = errors.New("invalid node ID: must be 40 hex characters")

// String 返回 NodeID 的十六进制表示
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString 返回 NodeID 的短字符串表示（前 8 个十六进制字符，用于日志）
func (id NodeID) ShortString() string {
	return hex.EncodeToString(id[:4])
}

// Bytes 返回 NodeID 的字节切片
func (id NodeID) Bytes() []byte {
	return id[:]
}

// IsEmpty 检查 NodeID 是否为空
func (id NodeID) IsEmpty() bool {
	return id == EmptyNodeID
}

// MarshalText 实现 encoding.TextMarshaler
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NodeIDFromBytes 从字节切片创建 NodeID
func NodeIDFromBytes(b []byte) (NodeID, error) {
	if len(b) != IDLength {
		return EmptyNodeID, ErrInvalidNodeID
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// ParseNodeID 从十六进制字符串解析 NodeID
func ParseNodeID(s string) (NodeID, error) {
	if len(s) != IDLength*2 {
		return EmptyNodeID, ErrInvalidNodeID
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return EmptyNodeID, ErrInvalidNodeID
	}
	return NodeIDFromBytes(b)
}

// RandomNodeID 生成随机 NodeID
func RandomNodeID() NodeID {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return id
}

// NodeIDFromSeed 从种子字符串确定性地派生 NodeID
func NodeIDFromSeed(seed string) NodeID {
	return NodeID(sha1.Sum([]byte(seed))) //nolint:gosec
}

// NodeIDFromName 将查询名称映射为 NodeID
//
// 规则：
//   - 去掉 tld 后缀（如 ".p2p"）与末尾的点
//   - 40 个十六进制字符直接作为标识符
//   - 其他名称取小写后的 SHA-1
func NodeIDFromName(name, tld string) (NodeID, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	if tld != "" {
		name = strings.TrimSuffix(strings.ToLower(name), strings.ToLower(tld))
	}
	if name == "" {
		return EmptyNodeID, ErrInvalidNodeID
	}
	if id, err := ParseNodeID(name); err == nil {
		return id, nil
	}
	return NodeID(sha1.Sum([]byte(strings.ToLower(name)))), nil //nolint:gosec
}
