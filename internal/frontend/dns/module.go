package dns

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-kadnode/config"
	"github.com/dep2p/go-kadnode/internal/discovery/dht"
)

// Module DNS 前端 Fx 模块
var Module = fx.Module("frontend_dns",
	fx.Provide(NewFromParams),
	fx.Invoke(registerLifecycle),
)

// Params DNS 前端依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config
	DHT        *dht.DHT
}

// NewFromParams 从 Fx 参数创建 DNS 前端
func NewFromParams(p Params) (*Server, error) {
	return New(ConfigFromUnified(p.UnifiedCfg), p.DHT)
}

func registerLifecycle(lc fx.Lifecycle, s *Server) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Stop,
	})
}
