// Package dns 提供 DNS 前端
//
// 服务器在 UDP 上监听（默认 127.0.0.1:3535），对以查询顶级域结尾的名称
// （默认 ".p2p"）通过 DHT 解析：
//
//	A     返回 IPv4 地址
//	AAAA  返回 IPv6 地址
//	SRV   每个地址一条 SRV 记录，目标为查询名称，端口为记录端口，
//	      地址放在附加段
//
// 未找到时返回 NXDOMAIN。其他名称在启用转发时原样转发到上游服务器
// （默认取 /etc/resolv.conf 中第一个不是本服务自身的服务器），否则返回 REFUSED。
package dns
