package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync/atomic"

	"github.com/miekg/dns"

	"github.com/dep2p/go-kadnode/internal/discovery/dht"
	"github.com/dep2p/go-kadnode/pkg/lib/log"
	"github.com/dep2p/go-kadnode/pkg/types"
)

var logger = log.Logger("frontend/dns")

// Resolver 名称解析能力
//
// *dht.DHT 实现该接口。
type Resolver interface {
	Resolve(ctx context.Context, id types.NodeID) ([]netip.AddrPort, error)
}

// Server DNS 前端服务器
type Server struct {
	cfg      *Config
	resolver Resolver
	client   *dns.Client

	pc       net.PacketConn
	srv      *dns.Server
	upstream atomic.Pointer[string]
	started  atomic.Bool
	done     chan struct{}

	queries atomic.Uint64
}

// New 创建 DNS 前端服务器
func New(cfg *Config, r Resolver) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errors.New("dns: nil resolver")
	}
	return &Server{
		cfg:      cfg,
		resolver: r,
		client:   &dns.Client{Net: "udp", Timeout: cfg.Timeout},
	}, nil
}

// Start 开始在 UDP 上提供服务
func (s *Server) Start(_ context.Context) error {
	if !s.cfg.Enabled {
		logger.Debug("DNS 前端已禁用")
		return nil
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	pc, err := net.ListenPacket("udp", s.cfg.Listen)
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("dns: listen %s: %w", s.cfg.Listen, err)
	}
	s.pc = pc

	if s.cfg.ProxyEnabled {
		upstream, err := s.findUpstream()
		if err != nil {
			logger.Warn("DNS 转发不可用", "error", err)
		} else {
			s.upstream.Store(&upstream)
		}
	}

	ready := make(chan struct{})
	s.done = make(chan struct{})
	s.srv = &dns.Server{
		PacketConn:        pc,
		Handler:           s,
		NotifyStartedFunc: func() { close(ready) },
	}
	go func() {
		defer close(s.done)
		if err := s.srv.ActivateAndServe(); err != nil {
			logger.Warn("DNS 服务退出", "error", err)
		}
	}()

	select {
	case <-ready:
	case <-s.done:
		return fmt.Errorf("dns: server failed to start on %s", s.cfg.Listen)
	}

	logger.Info("DNS 前端已启动", "addr", pc.LocalAddr().String(), "tld", s.cfg.TLD, "upstream", s.Upstream())
	return nil
}

// Stop 停止服务
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	err := s.srv.ShutdownContext(ctx)
	<-s.done
	logger.Debug("DNS 前端已停止", "queries", s.queries.Load())
	return err
}

// Addr 返回实际监听地址
func (s *Server) Addr() net.Addr {
	if s.pc == nil {
		return nil
	}
	return s.pc.LocalAddr()
}

// Upstream 返回当前上游服务器，未启用转发时为空
func (s *Server) Upstream() string {
	if p := s.upstream.Load(); p != nil {
		return *p
	}
	return ""
}

// findUpstream 确定上游服务器
//
// 优先使用配置的服务器；否则取 resolv.conf 中第一个不指向本服务的服务器。
func (s *Server) findUpstream() (string, error) {
	if s.cfg.ProxyServer != "" {
		return s.cfg.ProxyServer, nil
	}

	cc, err := dns.ClientConfigFromFile(s.cfg.ResolvConf)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoUpstream, err)
	}
	for _, server := range cc.Servers {
		addr := net.JoinHostPort(server, cc.Port)
		if s.isSelf(addr) {
			continue
		}
		return addr, nil
	}
	return "", fmt.Errorf("%w: no usable nameserver in %s", ErrNoUpstream, s.cfg.ResolvConf)
}

// isSelf 判断地址是否指向本服务
func (s *Server) isSelf(addr string) bool {
	ap, err := netip.ParseAddrPort(addr)
	if err != nil || s.pc == nil {
		return false
	}
	local, ok := s.pc.LocalAddr().(*net.UDPAddr)
	if !ok || int(ap.Port()) != local.Port {
		return false
	}
	lip, _ := netip.AddrFromSlice(local.IP)
	lip = lip.Unmap()
	return lip.IsUnspecified() || lip == ap.Addr().Unmap()
}

// ============================================================================
//                              请求处理
// ============================================================================

// ServeDNS 实现 dns.Handler
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	s.queries.Add(1)

	if r.Opcode != dns.OpcodeQuery {
		s.reply(w, r, new(dns.Msg).SetRcode(r, dns.RcodeNotImplemented))
		return
	}
	if len(r.Question) != 1 {
		s.reply(w, r, new(dns.Msg).SetRcode(r, dns.RcodeFormatError))
		return
	}

	q := r.Question[0]
	if s.isP2PName(q.Name) {
		s.reply(w, r, s.answer(r, q))
		return
	}

	upstream := s.Upstream()
	if upstream == "" {
		s.reply(w, r, new(dns.Msg).SetRcode(r, dns.RcodeRefused))
		return
	}
	s.reply(w, r, s.proxy(r, upstream))
}

// isP2PName 判断名称是否以查询顶级域结尾
func (s *Server) isP2PName(name string) bool {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	return strings.HasSuffix(name, strings.ToLower(s.cfg.TLD))
}

// answer 通过 DHT 解析名称并构造应答
func (s *Server) answer(r *dns.Msg, q dns.Question) *dns.Msg {
	m := new(dns.Msg).SetReply(r)
	m.Authoritative = true

	id, err := types.NodeIDFromName(q.Name, s.cfg.TLD)
	if err != nil {
		m.Rcode = dns.RcodeNameError
		return m
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	addrs, err := s.resolver.Resolve(ctx, id)
	switch {
	case errors.Is(err, dht.ErrNotFound):
		logger.Debug("名称未找到", "name", q.Name, "id", id.ShortString())
		m.Rcode = dns.RcodeNameError
		return m
	case err != nil:
		logger.Debug("名称解析失败", "name", q.Name, "error", err)
		m.Rcode = dns.RcodeServerFailure
		return m
	}

	ttl := uint32(s.cfg.TTL.Seconds())
	switch q.Qtype {
	case dns.TypeA, dns.TypeAAAA:
		m.Answer = addressRecords(q.Name, q.Qtype, addrs, ttl)
	case dns.TypeSRV:
		for _, a := range addrs {
			m.Answer = append(m.Answer, &dns.SRV{
				Hdr:    dns.RR_Header{Name: q.Name, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: ttl},
				Port:   a.Port(),
				Target: dns.Fqdn(q.Name),
			})
		}
		m.Extra = append(addressRecords(q.Name, dns.TypeA, addrs, ttl),
			addressRecords(q.Name, dns.TypeAAAA, addrs, ttl)...)
	}

	logger.Debug("名称已解析", "name", q.Name, "type", dns.TypeToString[q.Qtype], "answers", len(m.Answer))
	return m
}

// addressRecords 构造 A 或 AAAA 记录，同一地址只出现一次
func addressRecords(name string, qtype uint16, addrs []netip.AddrPort, ttl uint32) []dns.RR {
	var out []dns.RR
	seen := make(map[netip.Addr]struct{}, len(addrs))
	for _, a := range addrs {
		ip := a.Addr().Unmap()
		if _, dup := seen[ip]; dup {
			continue
		}
		hdr := dns.RR_Header{Name: name, Rrtype: qtype, Class: dns.ClassINET, Ttl: ttl}
		switch {
		case qtype == dns.TypeA && ip.Is4():
			out = append(out, &dns.A{Hdr: hdr, A: net.IP(ip.AsSlice())})
		case qtype == dns.TypeAAAA && ip.Is6():
			out = append(out, &dns.AAAA{Hdr: hdr, AAAA: net.IP(ip.AsSlice())})
		default:
			continue
		}
		seen[ip] = struct{}{}
	}
	return out
}

// proxy 把请求转发到上游服务器
func (s *Server) proxy(r *dns.Msg, upstream string) *dns.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	resp, _, err := s.client.ExchangeContext(ctx, r, upstream)
	if err != nil {
		logger.Debug("转发失败", "name", r.Question[0].Name, "upstream", upstream, "error", err)
		return new(dns.Msg).SetRcode(r, dns.RcodeServerFailure)
	}
	return resp
}

// reply 写出应答，超出客户端可接收的大小时截断
func (s *Server) reply(w dns.ResponseWriter, r, m *dns.Msg) {
	size := dns.MinMsgSize
	if opt := r.IsEdns0(); opt != nil {
		size = int(opt.UDPSize())
	}
	m.Truncate(size)
	if err := w.WriteMsg(m); err != nil {
		logger.Debug("写出应答失败", "error", err)
	}
}
