package lpd

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-kadnode/config"
	"github.com/dep2p/go-kadnode/internal/discovery/dht"
)

// Module 本地节点发现 Fx 模块
var Module = fx.Module("discovery_lpd",
	fx.Provide(NewFromParams),
	fx.Invoke(registerLifecycle),
)

// Params 本地节点发现模块依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config
	DHT        *dht.DHT
}

// NewFromParams 从 Fx 参数创建本地节点发现服务
func NewFromParams(p Params) (*Service, error) {
	cfg, err := ConfigFromUnified(p.UnifiedCfg)
	if err != nil {
		return nil, err
	}
	return New(cfg, p.DHT)
}

func registerLifecycle(lc fx.Lifecycle, s *Service) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Stop,
	})
}
