// Package nat 为 DHT 的 UDP 端口建立路由器端口映射
//
// 支持两种映射协议：
//   - NAT-PMP（natpmp 子包，jackpal/go-nat-pmp）
//   - UPnP IGD（upnp 子包，huin/goupnp）
//
// Service 在后台并行探测各映射器，选用第一个可用的（按配置顺序），
// 为 DHT 端口建立 UDP 映射，并在租期过去三分之二时续期。
// 续期失败后重新探测网关。停止时删除映射。
//
// 端口映射只对 IPv4 有意义；仅 IPv6 模式下服务不做任何事。
// 映射失败只影响可达性，不影响 DHT 运行。
package nat
