package console

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/dep2p/go-kadnode/config"
	"github.com/dep2p/go-kadnode/internal/core/metrics"
	"github.com/dep2p/go-kadnode/internal/core/nat"
	"github.com/dep2p/go-kadnode/internal/discovery/dht"
)

// Module 控制台 Fx 模块
var Module = fx.Module("frontend_console",
	fx.Provide(NewFromParams),
	fx.Invoke(registerLifecycle),
)

// Params 控制台依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config
	DHT        *dht.DHT
	NAT        *nat.Service       `optional:"true"`
	Metrics    *metrics.Collector `optional:"true"`
}

// NewFromParams 从 Fx 参数创建控制台
func NewFromParams(p Params) (*Server, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	return New(cfg, NewCommands(p.DHT, cfg.TLD, statusLines(p.NAT, p.Metrics)...))
}

// statusLines 端口映射与流量信息
func statusLines(svc *nat.Service, c *metrics.Collector) []StatusLine {
	var lines []StatusLine
	if svc != nil {
		lines = append(lines, StatusLine{
			Label: "Port mapping",
			Value: func() string {
				m, ok := svc.Mapping()
				if !ok {
					return "none"
				}
				return fmt.Sprintf("%s %s (%s)", m.Mapper, m.External(), m.Protocol)
			},
		})
	}
	if c != nil {
		lines = append(lines, StatusLine{
			Label: "Traffic",
			Value: func() string {
				s := c.Snapshot()
				return fmt.Sprintf("%d in (%.1f/s), %d out (%.1f/s)", s.Received, s.RateIn, s.Sent, s.RateOut)
			},
		})
	}
	return lines
}

func registerLifecycle(lc fx.Lifecycle, s *Server) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Stop,
	})
}
