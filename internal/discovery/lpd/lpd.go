package lpd

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dep2p/go-kadnode/pkg/lib/log"
)

var logger = log.Logger("discovery/lpd")

const (
	// bootstrapTimeout 单次引导的超时
	bootstrapTimeout = 30 * time.Second

	// seenCapacity 去重表容量
	seenCapacity = 256
)

// DHT 本地节点发现使用的 DHT 能力
type DHT interface {
	Bootstrap(ctx context.Context, addrs []netip.AddrPort) error
	LocalAddr() netip.AddrPort
}

// Option 服务选项
type Option func(*Service)

// WithClock 设置时间源
func WithClock(clk clock.Clock) Option {
	return func(s *Service) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithConn 使用已打开的套接字代替组播套接字
//
// 服务停止时会关闭该套接字。
func WithConn(conn net.PacketConn) Option {
	return func(s *Service) {
		s.conn = conn
	}
}

// Service 本地节点发现服务
type Service struct {
	cfg    *Config
	dht    DHT
	clock  clock.Clock
	conn   net.PacketConn
	cookie string
	seen   *expirable.LRU[netip.AddrPort, struct{}]

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool

	sent     atomic.Uint64
	received atomic.Uint64
}

// New 创建本地节点发现服务
func New(cfg *Config, d DHT, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errors.New("lpd: nil dht")
	}

	s := &Service{
		cfg:    cfg,
		dht:    d,
		clock:  clock.New(),
		cookie: strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		seen:   expirable.NewLRU[netip.AddrPort, struct{}](seenCapacity, nil, cfg.SeenTTL),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Cookie 返回本进程报文中的 Cookie
func (s *Service) Cookie() string {
	return s.cookie
}

// Start 打开组播套接字并启动收发循环
//
// 配置禁用时直接返回。无法打开组播套接字只影响本功能，记录警告后返回 nil。
func (s *Service) Start(_ context.Context) error {
	if !s.cfg.Enabled {
		logger.Debug("本地节点发现已禁用")
		return nil
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if s.conn == nil {
		conn, err := listenMulticast(s.cfg.Group, s.cfg.Interface)
		if err != nil {
			logger.Warn("本地节点发现不可用", "group", s.cfg.Group, "error", err)
			return nil
		}
		s.conn = conn
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(2)
	go s.readLoop()
	go s.sendLoop()

	logger.Info("本地节点发现已启动", "group", s.cfg.Group, "port", s.port())
	return nil
}

// Stop 停止服务
func (s *Service) Stop(_ context.Context) error {
	if !s.started.Load() || s.cancel == nil {
		return nil
	}
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	err := s.conn.Close()
	s.wg.Wait()
	logger.Debug("本地节点发现已停止", "sent", s.sent.Load(), "received", s.received.Load())
	return err
}

// port 返回报文中通告的端口
func (s *Service) port() uint16 {
	if s.cfg.Port != 0 {
		return s.cfg.Port
	}
	return s.dht.LocalAddr().Port()
}

func (s *Service) sendLoop() {
	defer s.wg.Done()

	s.announce()

	ticker := s.clock.Ticker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.announce()
		}
	}
}

// announce 发送一条 DHT-SEARCH 报文
func (s *Service) announce() {
	msg := Announcement{Port: s.port(), Cookie: s.cookie}.Marshal(s.cfg.Group)
	if _, err := s.conn.WriteTo(msg, net.UDPAddrFromAddrPort(s.cfg.Group)); err != nil {
		if s.ctx.Err() == nil {
			logger.Debug("发送组播报文失败", "error", err)
		}
		return
	}
	s.sent.Add(1)
}

func (s *Service) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxMessageSize+1)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Debug("读取组播报文失败", "error", err)
			continue
		}
		src, ok := udpAddrPort(from)
		if !ok {
			continue
		}
		s.handle(buf[:n], src)
	}
}

// handle 处理一条收到的报文
//
// 返回被引导的地址；报文被忽略时返回零值。
func (s *Service) handle(data []byte, src netip.AddrPort) netip.AddrPort {
	a, err := ParseAnnouncement(data)
	if err != nil {
		logger.Debug("忽略无效的组播报文", "from", src, "error", err)
		return netip.AddrPort{}
	}
	if a.Cookie != "" && a.Cookie == s.cookie {
		return netip.AddrPort{}
	}
	s.received.Add(1)

	peer := netip.AddrPortFrom(src.Addr().Unmap(), a.Port)
	if s.seen.Contains(peer) {
		return netip.AddrPort{}
	}
	s.seen.Add(peer, struct{}{})

	logger.Debug("发现本地节点", "addr", peer)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, bootstrapTimeout)
		defer cancel()
		if err := s.dht.Bootstrap(ctx, []netip.AddrPort{peer}); err != nil && ctx.Err() == nil {
			logger.Debug("引导本地节点失败", "addr", peer, "error", err)
		}
	}()
	return peer
}

func udpAddrPort(addr net.Addr) (netip.AddrPort, bool) {
	if u, ok := addr.(*net.UDPAddr); ok {
		return u.AddrPort(), true
	}
	ap, err := netip.ParseAddrPort(addr.String())
	return ap, err == nil
}
