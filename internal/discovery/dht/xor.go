package dht

import (
	"crypto/rand"
	"math/bits"

	"github.com/dep2p/go-kadnode/pkg/types"
)

// Distance 计算两个 NodeID 的 XOR 距离
//
// 结果按大端序解释为无符号整数。相同 ID 的距离为零。
func Distance(a, b types.NodeID) types.NodeID {
	var d types.NodeID
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// CompareDistance 比较 a 和 b 到 target 的距离
// 返回：
//
//	-1 如果 dist(a, target) < dist(b, target)
//	 0 如果 dist(a, target) == dist(b, target)
//	 1 如果 dist(a, target) > dist(b, target)
func CompareDistance(target, a, b types.NodeID) int {
	for i := range target {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da < db {
			return -1
		}
		if da > db {
			return 1
		}
	}
	return 0
}

// CommonPrefixLen 计算两个 NodeID 的共同前缀长度（按位计数）
func CommonPrefixLen(a, b types.NodeID) int {
	for i := range a {
		if x := a[i] ^ b[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return types.IDBits
}

// BucketIndex 计算 remote 在 local 的路由表中所属的 K 桶
// 返回 K 桶索引（0-159），相同 ID 饱和到最后一个桶
func BucketIndex(local, remote types.NodeID) int {
	cpl := CommonPrefixLen(local, remote)
	if cpl >= types.IDBits {
		return types.IDBits - 1
	}
	return cpl
}

// RandomIDInBucket 生成落在 self 第 i 个桶范围内的随机 ID
//
// 前 i 位与 self 相同，第 i 位取反，其余位随机。
// i 为最后一个桶时第 i 位同样取反，保证结果不等于 self。
func RandomIDInBucket(self types.NodeID, i int) types.NodeID {
	if i < 0 {
		i = 0
	}
	if i >= types.IDBits {
		i = types.IDBits - 1
	}

	var id types.NodeID
	if _, err := rand.Read(id[:]); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}

	byteIdx, bitIdx := i/8, uint(i%8)
	copy(id[:byteIdx], self[:byteIdx])

	// 当前字节：高 bitIdx 位复制 self，第 bitIdx 位取反，低位保持随机
	prefixMask := byte(0xFF) << (8 - bitIdx)
	flip := byte(0x80) >> bitIdx
	id[byteIdx] = (self[byteIdx] & prefixMask) | (^self[byteIdx] & flip) | (id[byteIdx] &^ (prefixMask | flip))

	return id
}
