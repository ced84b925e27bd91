package metrics

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-kadnode/config"
	"github.com/dep2p/go-kadnode/internal/discovery/dht"
)

// Config 指标配置
type Config struct {
	// Enabled 是否启用 HTTP 端点（收集器总是存在）
	Enabled bool

	// Listen HTTP 监听地址
	Listen string
}

// ConfigFromUnified 从统一配置创建指标配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		d := config.DefaultMetricsConfig()
		return Config{Enabled: d.Enable, Listen: d.Listen}
	}
	return Config{
		Enabled: cfg.Metrics.Enable,
		Listen:  cfg.Metrics.Listen,
	}
}

// Params Metrics 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Clock      clock.Clock    `optional:"true"`
}

// Module 是 metrics 的 Fx 模块
//
// 提供 *Collector 与 dht.Metrics；启用时注册 HTTP 服务。
var Module = fx.Module("metrics",
	fx.Provide(
		NewCollectorFromParams,
		fx.Annotate(
			func(c *Collector) *Collector { return c },
			fx.As(new(dht.Metrics)),
		),
	),
	fx.Invoke(registerServer),
)

// NewCollectorFromParams 从参数创建收集器
func NewCollectorFromParams(p Params) *Collector {
	return NewCollector(p.Clock)
}

type serverParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	UnifiedCfg *config.Config `optional:"true"`
	Collector  *Collector
	DHT        *dht.DHT
}

func registerServer(p serverParams) error {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	if err := p.Collector.WatchDHT(p.DHT, 2*time.Second); err != nil {
		return err
	}
	if !cfg.Enabled {
		return nil
	}
	srv := NewServer(cfg.Listen, p.Collector)
	p.Lifecycle.Append(fx.Hook{
		OnStart: srv.Start,
		OnStop:  srv.Stop,
	})
	return nil
}
