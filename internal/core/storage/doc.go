// Package storage 提供 KadNode 的持久化存储
//
// 底层使用 BadgerDB，上层通过 kv.Store 按前缀隔离命名空间。
// 目前只有引导模块使用它保存已知节点，以便重启后快速重新入网。
//
// # 键空间
//
//	b/peer/<节点ID十六进制>  - 已知节点（JSON）
//
// # 使用示例
//
//	eng, err := storage.New(storage.DefaultConfig().WithPath("./data/kadnode.db"))
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	peers := storage.NewKVStore(eng, []byte("b/"))
package storage
