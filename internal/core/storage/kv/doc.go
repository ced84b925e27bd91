// Package kv 提供带前缀隔离的 KV 存储
//
//	peers := kv.New(eng, []byte("b/"))
//	peers.PutJSON([]byte("peer/abcd"), rec) // 实际键: b/peer/abcd
package kv
