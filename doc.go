// Package kadnode 提供基于 Kademlia DHT 的 P2P 名称解析节点
//
// 节点在 UDP 上运行 Kademlia 协议，把名称的 SHA-1 作为标识符发布到网络，
// 其他节点通过迭代查找得到发布者的地址与端口。
//
// # 快速开始
//
//	import "github.com/dep2p/go-kadnode"
//
//	node, err := kadnode.New(
//	    kadnode.WithPeers("bttracker.debian.org:6881"),
//	    kadnode.WithAnnounce("myname.p2p:80"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	addrs, err := node.Resolve(ctx, "othername.p2p")
//
// # 组件
//
//	┌──────────────────────────────────────────────────────┐
//	│  前端层     DNS 服务器（含上游转发） │ TCP 控制台         │
//	├──────────────────────────────────────────────────────┤
//	│  发现层     DHT │ 引导（静态/已保存节点） │ LPD 组播发现     │
//	├──────────────────────────────────────────────────────┤
//	│  核心层     存储（BadgerDB） │ 端口映射 │ 指标           │
//	└──────────────────────────────────────────────────────┘
//
// 组件由 Fx 装配，按配置决定是否加载 LPD、端口映射、DNS 与控制台。
//
// # 文件组织
//
//   - node.go: Node 门面与名称操作
//   - node_lifecycle.go: 启动与停止
//   - options.go: 配置选项
//   - fx.go: 组件装配
//   - version.go: 版本信息
package kadnode
