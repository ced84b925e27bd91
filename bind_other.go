//go:build !linux

package kadnode

import (
	"fmt"
	"syscall"
)

// bindToDevice 非 Linux 平台不支持网卡绑定
func bindToDevice(ifname string) func(network, address string, c syscall.RawConn) error {
	return func(string, string, syscall.RawConn) error {
		return fmt.Errorf("binding to interface %q is only supported on linux", ifname)
	}
}
