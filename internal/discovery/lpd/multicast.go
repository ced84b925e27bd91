package lpd

import (
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// listenMulticast 打开组播套接字并加入组播组
//
// 套接字绑定在通配地址的组播端口上（允许同机多个进程共用），
// 在每个选中的网卡上加入组播组，并开启组播回环以便同机节点互相发现。
func listenMulticast(group netip.AddrPort, ifname string) (net.PacketConn, error) {
	ifaces, err := multicastInterfaces(ifname)
	if err != nil {
		return nil, err
	}

	network := "udp6"
	if group.Addr().Is4() {
		network = "udp4"
	}
	gaddr := net.UDPAddrFromAddrPort(group)

	var first *net.Interface
	if len(ifaces) > 0 {
		first = &ifaces[0]
	}
	conn, err := net.ListenMulticastUDP(network, first, gaddr)
	if err != nil {
		return nil, fmt.Errorf("lpd: listen %s: %w", group, err)
	}

	if group.Addr().Is4() {
		err = setupIPv4(ipv4.NewPacketConn(conn), ifaces, gaddr, ifname != "")
	} else {
		err = setupIPv6(ipv6.NewPacketConn(conn), ifaces, gaddr, ifname != "")
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func setupIPv4(p *ipv4.PacketConn, ifaces []net.Interface, group *net.UDPAddr, bound bool) error {
	for i := 1; i < len(ifaces); i++ {
		if err := p.JoinGroup(&ifaces[i], group); err != nil {
			logger.Debug("加入组播组失败", "iface", ifaces[i].Name, "error", err)
		}
	}
	if bound && len(ifaces) > 0 {
		if err := p.SetMulticastInterface(&ifaces[0]); err != nil {
			return fmt.Errorf("lpd: set multicast interface: %w", err)
		}
	}
	if err := p.SetMulticastTTL(1); err != nil {
		return fmt.Errorf("lpd: set multicast ttl: %w", err)
	}
	return p.SetMulticastLoopback(true)
}

func setupIPv6(p *ipv6.PacketConn, ifaces []net.Interface, group *net.UDPAddr, bound bool) error {
	for i := 1; i < len(ifaces); i++ {
		if err := p.JoinGroup(&ifaces[i], group); err != nil {
			logger.Debug("加入组播组失败", "iface", ifaces[i].Name, "error", err)
		}
	}
	if bound && len(ifaces) > 0 {
		if err := p.SetMulticastInterface(&ifaces[0]); err != nil {
			return fmt.Errorf("lpd: set multicast interface: %w", err)
		}
	}
	if err := p.SetMulticastHopLimit(1); err != nil {
		return fmt.Errorf("lpd: set multicast hop limit: %w", err)
	}
	return p.SetMulticastLoopback(true)
}

// multicastInterfaces 返回可用于组播的网卡
//
// 指定网卡名时只返回该网卡；否则返回所有已启用且支持组播的网卡，
// 为空时由内核选择默认网卡。
func multicastInterfaces(ifname string) ([]net.Interface, error) {
	if ifname != "" {
		ifi, err := net.InterfaceByName(ifname)
		if err != nil {
			return nil, fmt.Errorf("lpd: interface %q: %w", ifname, err)
		}
		if ifi.Flags&net.FlagMulticast == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoInterfaces, ifname)
		}
		return []net.Interface{*ifi}, nil
	}

	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []net.Interface
	for _, ifi := range all {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		out = append(out, ifi)
	}
	return out, nil
}
