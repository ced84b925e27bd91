// Package upnp 实现 UPnP IGD 端口映射
//
// 依次尝试 IGDv2 与 IGDv1 的 WANIPConnection 和 WANPPPConnection 服务，
// 使用第一个找到的服务。内部客户端地址取本机访问网关时使用的地址。
//
//	m := upnp.NewMapper(5 * time.Second)
//	if err := m.Discover(ctx); err != nil { ... }
//	port, err := m.AddMapping(ctx, "udp", 6881, 6881, time.Hour)
package upnp
