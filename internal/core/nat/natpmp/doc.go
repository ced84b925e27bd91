// Package natpmp 实现 NAT-PMP 端口映射（RFC 6886）
//
// 网关地址通过 jackpal/gateway 发现，协议交互使用 jackpal/go-nat-pmp。
// go-nat-pmp 的调用不接受 context，本包在独立 goroutine 中执行调用，
// context 结束时立即返回。
//
//	m := natpmp.NewMapper(5 * time.Second)
//	if err := m.Discover(ctx); err != nil { ... }
//	port, err := m.AddMapping(ctx, "udp", 6881, 6881, time.Hour)
package natpmp
