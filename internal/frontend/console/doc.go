// Package console 提供本机命令控制台
//
// 控制台在 TCP 回环地址上监听（默认 127.0.0.1:1700），每行一条命令，
// 应答以一个空行结束。一个连接可以发送多条命令，空闲超时后断开。
//
// 命令：
//
//	status                             节点状态
//	lookup <name>                      解析名称
//	announce <name>[:<port>] [<min>]   发布名称，省略分钟数时持续到进程退出
//	ping <addr>:<port>                 探测节点
//	peers                              路由表联系人
//	help                               命令列表
//	quit                               断开连接
//
// 名称可以带查询顶级域（如 "myname.p2p"），也可以是 40 位十六进制标识符。
package console
