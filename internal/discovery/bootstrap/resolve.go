package bootstrap

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-kadnode/config"
)

// maxConcurrentLookups 并发域名解析上限
const maxConcurrentLookups = 8

// Resolver 域名解析接口（*net.Resolver 满足）
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// ResolvePeers 并发解析 host:port 列表
//
// 单个地址失败不影响其他地址，所有失败合并到返回的 error 中。
// 结果按输入顺序排列并去重，只保留 family 允许的地址族。
func ResolvePeers(ctx context.Context, r Resolver, peers []string, family config.Family) ([]netip.AddrPort, error) {
	if r == nil {
		r = net.DefaultResolver
	}

	results := make([][]netip.AddrPort, len(peers))
	var (
		mu   sync.Mutex
		errs error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for i, peer := range peers {
		i, peer := i, peer
		g.Go(func() error {
			addrs, err := resolveOne(gctx, r, peer, family)
			if err != nil {
				logger.Debug("解析引导节点失败", "peer", peer, "error", err)
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				return nil
			}
			results[i] = addrs
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[netip.AddrPort]struct{})
	var out []netip.AddrPort
	for _, list := range results {
		for _, ap := range list {
			if _, dup := seen[ap]; dup {
				continue
			}
			seen[ap] = struct{}{}
			out = append(out, ap)
		}
	}
	return out, errs
}

func resolveOne(ctx context.Context, r Resolver, peer string, family config.Family) ([]netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(peer)
	if err != nil {
		return nil, &BootstrapError{Op: "resolve", Peer: peer, Err: ErrInvalidPeer}
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return nil, &BootstrapError{Op: "resolve", Peer: peer, Err: ErrInvalidPeer}
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		ip = ip.Unmap()
		if !familyAllows(family, ip) {
			return nil, nil
		}
		return []netip.AddrPort{netip.AddrPortFrom(ip, uint16(port))}, nil
	}

	ips, err := r.LookupNetIP(ctx, lookupNetwork(family), host)
	if err != nil {
		return nil, &BootstrapError{Op: "resolve", Peer: peer, Err: err}
	}
	out := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		ip = ip.Unmap()
		if familyAllows(family, ip) {
			out = append(out, netip.AddrPortFrom(ip, uint16(port)))
		}
	}
	return out, nil
}

func lookupNetwork(f config.Family) string {
	switch f {
	case config.FamilyIPv4:
		return "ip4"
	case config.FamilyIPv6:
		return "ip6"
	default:
		return "ip"
	}
}

func familyAllows(f config.Family, ip netip.Addr) bool {
	switch f {
	case config.FamilyIPv4:
		return ip.Is4()
	case config.FamilyIPv6:
		return ip.Is6()
	default:
		return true
	}
}
