package bootstrap

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-kadnode/config"
	"github.com/dep2p/go-kadnode/internal/core/storage/engine"
	"github.com/dep2p/go-kadnode/internal/discovery/dht"
)

// Module 引导 Fx 模块
var Module = fx.Module("discovery_bootstrap",
	fx.Provide(NewFromParams),
	fx.Invoke(registerLifecycle),
)

// Params 引导模块依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config
	DHT        *dht.DHT
	Engine     engine.Engine `optional:"true"`
}

// NewFromParams 从 Fx 参数创建引导服务
func NewFromParams(p Params) (*Service, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	var store *PeerStore
	if p.Engine != nil {
		store = NewPeerStore(p.Engine, cfg.MaxSavedPeers)
	}
	return New(cfg, p.DHT, store)
}

func registerLifecycle(lc fx.Lifecycle, s *Service) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
}
