package dht

import (
	"context"
	"net"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-kadnode/config"
)

// Module DHT Fx 模块
var Module = fx.Module("discovery_dht",
	fx.Provide(
		NewFromParams,
	),
	fx.Invoke(registerDHTLifecycle),
)

// Params DHT 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config
	Conn       net.PacketConn `name:"dht_conn"`
	Metrics    Metrics        `optional:"true"`
	Clock      clock.Clock    `optional:"true"`
}

// ConfigFromUnified 从统一配置创建 DHT 配置
func ConfigFromUnified(cfg *config.Config) (*Config, error) {
	c := DefaultConfig()
	if cfg == nil {
		return c, nil
	}

	id, err := cfg.Identity.ResolveNodeID()
	if err != nil {
		return nil, NewDHTError("config", ErrInvalidConfig, err.Error())
	}

	d := cfg.DHT
	c.NodeID = id
	c.BucketSize = d.BucketSize
	c.ReplacementSize = d.BucketSize
	c.Alpha = d.Alpha
	c.ReplicationFactor = d.ReplicationFactor
	c.RequestTimeout = d.RequestTimeout.Duration()
	c.MaxRetries = d.MaxRetries
	c.MaxRounds = d.MaxRounds
	c.FailureThreshold = d.FailureThreshold
	c.BucketStaleAfter = d.BucketStaleAfter.Duration()
	c.LivenessInterval = d.LivenessInterval.Duration()
	c.ReannounceInterval = d.ReannounceInterval.Duration()
	c.RecordTTL = d.RecordTTL.Duration()
	c.MaxRecordTTL = d.MaxRecordTTL.Duration()
	c.MaxValuesPerKey = d.MaxValuesPerKey
	c.MaxKeys = d.MaxKeys
	c.RateLimit = d.RateLimit
	c.RateBurst = int(d.RateLimit * 2)
	c.ShutdownGrace = d.ShutdownGrace.Duration()
	if c.RateBurst < 1 {
		c.RateBurst = 1
	}

	return c, c.Validate()
}

// NewFromParams 从 Fx 参数创建 DHT
func NewFromParams(p Params) (*DHT, error) {
	cfg, err := ConfigFromUnified(p.UnifiedCfg)
	if err != nil {
		return nil, err
	}

	var opts []Option
	if p.Metrics != nil {
		opts = append(opts, WithMetrics(p.Metrics))
	}
	if p.Clock != nil {
		opts = append(opts, WithClock(p.Clock))
	}
	return New(cfg, p.Conn, opts...)
}

// registerDHTLifecycle 注册 DHT 生命周期钩子
func registerDHTLifecycle(lc fx.Lifecycle, d *DHT) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := d.Start(ctx); err != nil {
				logger.Error("DHT 启动失败", "error", err)
				return err
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return d.Stop(ctx)
		},
	})
}
