package kadnode

import "syscall"

// bindToDevice 将套接字绑定到指定网卡（需要 CAP_NET_RAW）
func bindToDevice(ifname string) func(network, address string, c syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		var serr error
		if err := c.Control(func(fd uintptr) {
			serr = syscall.BindToDevice(int(fd), ifname)
		}); err != nil {
			return err
		}
		return serr
	}
}
