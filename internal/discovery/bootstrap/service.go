package bootstrap

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kadnode/internal/discovery/dht"
	"github.com/dep2p/go-kadnode/pkg/lib/log"
)

var logger = log.Logger("discovery/bootstrap")

// DHT 引导服务使用的 DHT 能力
type DHT interface {
	Bootstrap(ctx context.Context, addrs []netip.AddrPort) error
	Contacts(ctx context.Context) ([]dht.Contact, error)
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

// WithResolver 设置域名解析器
func WithResolver(r Resolver) Option {
	return func(s *Service) {
		if r != nil {
			s.resolver = r
		}
	}
}

// Service 引导服务
type Service struct {
	cfg      *Config
	dht      DHT
	store    *PeerStore
	resolver Resolver
	clock    clock.Clock

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
}

// New 创建引导服务
//
// store 为 nil 时不持久化联系人。
func New(cfg *Config, d DHT, store *PeerStore, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errors.New("bootstrap: nil dht")
	}
	if !cfg.PersistPeers {
		store = nil
	}

	s := &Service{
		cfg:   cfg,
		dht:   d,
		store: store,
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start 启动后台引导循环
func (s *Service) Start(_ context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.run()
	return nil
}

// Stop 停止循环并保存联系人
func (s *Service) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}
	s.cancel()
	s.wg.Wait()

	if s.store == nil {
		return nil
	}
	n, err := s.Save(ctx)
	if err != nil {
		logger.Warn("保存联系人失败", "error", err)
		return err
	}
	logger.Debug("已保存联系人", "count", n)
	return nil
}

func (s *Service) run() {
	defer s.wg.Done()

	if err := s.BootstrapOnce(s.ctx); err != nil && s.ctx.Err() == nil {
		logger.Debug("首次引导未成功", "error", err)
	}

	retry := s.clock.Ticker(s.cfg.RetryInterval)
	defer retry.Stop()

	var saveC <-chan time.Time
	if s.store != nil {
		save := s.clock.Ticker(s.cfg.SaveInterval)
		defer save.Stop()
		saveC = save.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-retry.C:
			s.retryIfEmpty()
		case <-saveC:
			if n, err := s.Save(s.ctx); err != nil {
				logger.Debug("定期保存联系人失败", "error", err)
			} else {
				logger.Debug("定期保存联系人", "count", n)
			}
		}
	}
}

// retryIfEmpty 路由表为空时重新引导
func (s *Service) retryIfEmpty() {
	contacts, err := s.dht.Contacts(s.ctx)
	if err != nil || len(contacts) > 0 {
		return
	}
	logger.Debug("路由表为空，重新引导")
	if err := s.BootstrapOnce(s.ctx); err != nil && s.ctx.Err() == nil {
		logger.Debug("重新引导未成功", "error", err)
	}
}

// Candidates 返回引导候选地址：静态节点在前，保存的联系人在后
func (s *Service) Candidates(ctx context.Context) ([]netip.AddrPort, error) {
	addrs, err := ResolvePeers(ctx, s.resolver, s.cfg.Peers, s.cfg.Family)
	if err != nil {
		logger.Warn("部分引导节点无法解析", "error", err)
	}

	if s.store != nil {
		saved, err := s.store.Load()
		if err != nil {
			logger.Warn("读取保存的联系人失败", "error", err)
		}
		seen := make(map[netip.AddrPort]struct{}, len(addrs))
		for _, a := range addrs {
			seen[a] = struct{}{}
		}
		for _, p := range saved {
			if !familyAllows(s.cfg.Family, p.Addr.Addr()) {
				continue
			}
			if _, dup := seen[p.Addr]; dup {
				continue
			}
			seen[p.Addr] = struct{}{}
			addrs = append(addrs, p.Addr)
		}
	}
	return addrs, nil
}

// BootstrapOnce 执行一次引导
func (s *Service) BootstrapOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	addrs, err := s.Candidates(ctx)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return ErrNoBootstrapPeers
	}

	logger.Debug("开始引导", "candidates", len(addrs))
	if err := s.dht.Bootstrap(ctx, addrs); err != nil {
		return &BootstrapError{Op: "bootstrap", Err: err}
	}
	logger.Info("已加入 DHT 网络", "candidates", len(addrs))
	return nil
}

// Save 保存当前联系人
func (s *Service) Save(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	contacts, err := s.dht.Contacts(ctx)
	if err != nil {
		return 0, err
	}
	if len(contacts) == 0 {
		// 不用空表覆盖上次的列表
		return 0, nil
	}
	return s.store.Replace(contacts)
}
