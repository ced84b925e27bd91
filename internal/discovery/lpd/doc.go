// Package lpd 实现本地节点发现（Local Peer Discovery）
//
// 服务加入一个组播组，周期性发送携带 DHT 端口的 "DHT-SEARCH" 报文，
// 收到其他节点的报文后，以 "报文源 IP + 报文中的端口" 作为地址引导 DHT。
//
// 报文格式（文本，CRLF 分行）：
//
//	DHT-SEARCH * HTTP/1.0
//	Host: 239.192.152.143:6771
//	Port: 6881
//	Cookie: 3b1f0c9a
//
// Cookie 为进程启动时随机生成，用于忽略组播回环收到的自身报文。
//
// 默认组播地址按地址族选择：仅 IPv4 时为 239.192.152.143:6771，
// 否则为 [ff15::efc0:988f]:6771。
package lpd
