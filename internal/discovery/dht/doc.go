// Package dht 实现基于 UDP 的 Kademlia DHT
//
// # 模块概述
//
// dht 是 KadNode 的核心：把 160 位标识符解析为网络地址，不依赖任何中心服务器。
//
// # 核心组件
//
// 1. 标识符与距离（xor.go）
//   - XOR 距离、共同前缀长度、桶索引
//   - 桶刷新使用的随机 ID 生成
//
// 2. 路由表（routing.go）
//   - 160 个 K 桶（K=20），最近活跃的在前
//   - 替换缓存，桶满时探测最久未见的联系人
//   - 连续失败达到阈值后驱逐
//
// 3. RPC（protocol.go / rpc.go / handler.go）
//   - protobuf 线格式（protowire，无代码生成），首字节 'K' + 版本号
//   - PING / FIND_NODE / FIND_VALUE / ANNOUNCE 及其响应、ERROR
//   - nonce 匹配、超时指数退避重传
//   - 发布令牌（token.go）与按 IP 限速（ratelimit.go）
//
// 4. 迭代查询（query.go）
//   - find-node 和 find-value 共用状态机，并发度 α
//   - 无进展时对前 K 个未查询节点做最后一次扫描
//
// 5. 记录存储（values.go）
//   - 本地发布记录与远端缓存记录
//   - TTL 上限、每键地址上限、键数量上限
//
// 6. 维护任务（maintenance.go / timers.go）
//   - 桶刷新、存活检测、重新发布、过期清理、令牌密钥轮换
//
// # 并发模型
//
// 所有状态由一个事件循环 goroutine 持有，读 goroutine 只负责转交报文。
// 公共方法通过调用通道进入事件循环，可以从任意 goroutine 调用：
//
//	d, _ := dht.New(dht.DefaultConfig(), conn)
//	_ = d.Start(ctx)
//	_ = d.Bootstrap(ctx, addrs)
//	_ = d.Announce(ctx, id, 8080, 0)
//	addrs, err := d.Resolve(ctx, id)
//
// 时间来自 benbjohnson/clock，测试中可用 clock.Mock 驱动过期。
package dht
