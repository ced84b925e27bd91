package nat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-kadnode/pkg/lib/log"
)

var logger = log.Logger("core/nat")

// mapRetries 单次映射请求失败后的重试次数
const mapRetries = 2

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

// WithRetryDelay 设置映射请求的重试间隔
func WithRetryDelay(d time.Duration) Option {
	return func(s *Service) {
		s.retryDelay = d
	}
}

// Service 端口映射服务
type Service struct {
	cfg        *Config
	port       int
	mappers    []PortMapper
	clock      clock.Clock
	retryDelay time.Duration

	mu      sync.RWMutex
	active  PortMapper
	mapping *Mapping

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
}

// New 创建端口映射服务
//
// mappers 按优先级排列，探测成功的映射器中排在前面的被选用。
func New(cfg *Config, port int, mappers []PortMapper, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Enabled && (port <= 0 || port > 65535) {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, port)
	}

	s := &Service{
		cfg:        cfg,
		port:       port,
		mappers:    mappers,
		clock:      clock.New(),
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start 启动后台映射循环
func (s *Service) Start(_ context.Context) error {
	if !s.cfg.Enabled || len(s.mappers) == 0 {
		logger.Debug("端口映射已禁用")
		return nil
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.run()
	return nil
}

// Stop 停止循环并删除映射
func (s *Service) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	m, active := s.mapping, s.active
	s.mapping = nil
	s.mu.Unlock()
	if m == nil || active == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := active.DeleteMapping(ctx, m.Protocol, m.InternalPort, m.ExternalPort); err != nil {
		logger.Debug("删除端口映射失败", "mapper", m.Mapper, "error", err)
		return &MappingError{Mapper: m.Mapper, Protocol: m.Protocol, Port: m.ExternalPort, Err: err}
	}
	logger.Info("端口映射已删除", "mapper", m.Mapper, "port", m.ExternalPort)
	return nil
}

// Mapping 返回当前映射
func (s *Service) Mapping() (Mapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mapping == nil {
		return Mapping{}, false
	}
	return *s.mapping, true
}

func (s *Service) run() {
	defer s.wg.Done()

	timer := s.clock.Timer(s.step())
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
			timer.Reset(s.step())
		}
	}
}

// step 执行一次探测或映射，返回距下一次执行的时间
func (s *Service) step() time.Duration {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()

	if active == nil {
		m, err := s.discover(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				logger.Debug("未发现端口映射网关", "error", err)
			}
			return s.cfg.RetryInterval
		}
		logger.Debug("发现端口映射网关", "mapper", m.Name())
		active = m
		s.mu.Lock()
		s.active = m
		s.mu.Unlock()
	}

	m, err := s.mapPort(s.ctx, active)
	if err != nil {
		if s.ctx.Err() == nil {
			logger.Warn("端口映射失败", "error", err)
		}
		s.mu.Lock()
		s.active = nil
		s.mapping = nil
		s.mu.Unlock()
		return s.cfg.RetryInterval
	}

	s.mu.Lock()
	renewed := s.mapping != nil
	s.mapping = &m
	s.mu.Unlock()

	if renewed {
		logger.Debug("端口映射已续期", "mapper", m.Mapper, "external", m.ExternalPort)
	} else {
		logger.Info("端口映射已建立", "mapper", m.Mapper, "internal", m.InternalPort,
			"external", m.ExternalPort, "ip", m.ExternalIP)
	}
	return m.RenewAt().Sub(s.clock.Now())
}

// discover 并行探测所有映射器
func (s *Service) discover(ctx context.Context) (PortMapper, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	errs := make([]error, len(s.mappers))
	var g errgroup.Group
	for i, m := range s.mappers {
		i, m := i, m
		g.Go(func() error {
			errs[i] = m.Discover(ctx)
			return nil
		})
	}
	_ = g.Wait()

	var err error
	for i, m := range s.mappers {
		if errs[i] == nil {
			return m, nil
		}
		err = multierr.Append(err, fmt.Errorf("%s: %w", m.Name(), errs[i]))
	}
	return nil, fmt.Errorf("%w: %w", ErrNoGateway, err)
}

// mapPort 建立或续期 UDP 映射，失败时有限次重试
func (s *Service) mapPort(ctx context.Context, m PortMapper) (Mapping, error) {
	s.mu.RLock()
	external := s.port
	if s.mapping != nil {
		external = s.mapping.ExternalPort
	}
	s.mu.RUnlock()

	var port int
	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
		p, err := m.AddMapping(reqCtx, "udp", s.port, external, s.cfg.Lease)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			return err
		}
		port = p
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryDelay), mapRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return Mapping{}, &MappingError{Mapper: m.Name(), Protocol: "udp", Port: s.port, Err: err}
	}

	mapping := Mapping{
		Mapper:       m.Name(),
		Protocol:     "udp",
		InternalPort: s.port,
		ExternalPort: port,
		Lease:        s.cfg.Lease,
		CreatedAt:    s.clock.Now(),
	}
	ipCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if ip, err := m.ExternalIP(ipCtx); err == nil {
		mapping.ExternalIP = ip
	} else {
		logger.Debug("获取外部地址失败", "mapper", m.Name(), "error", err)
	}
	return mapping, nil
}
