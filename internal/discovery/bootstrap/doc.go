// Package bootstrap 负责让 DHT 加入网络
//
// # 引导来源
//
//  1. 静态节点（配置文件 peers 或命令行 --peer host:port），
//     通过 errgroup 并发解析域名
//  2. 上次运行时保存的联系人（BadgerDB，键前缀 b/peer/）
//
// # 运行流程
//
// 启动时向所有候选地址发送 PING，第一个响应触发一次自查询。
// 之后每隔 RetryInterval 检查路由表，为空时重新引导；
// 每隔 SaveInterval 把当前联系人写回存储，停止时再保存一次。
package bootstrap
