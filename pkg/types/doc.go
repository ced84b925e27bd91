// Package types 定义 KadNode 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - ids.go - NodeID（160 位标识符）及其解析、生成函数
//
// NodeID 的 XOR 距离度量定义在 internal/discovery/dht/xor.go，
// 与路由表放在一起。
package types
