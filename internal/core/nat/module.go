package nat

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-kadnode/config"
	"github.com/dep2p/go-kadnode/internal/core/nat/natpmp"
	"github.com/dep2p/go-kadnode/internal/core/nat/upnp"
	"github.com/dep2p/go-kadnode/internal/discovery/dht"
)

// Module 端口映射 Fx 模块
var Module = fx.Module("nat",
	fx.Provide(NewFromParams),
	fx.Invoke(registerLifecycle),
)

// Params 端口映射模块依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config
	DHT        *dht.DHT
}

// NewFromParams 从 Fx 参数创建端口映射服务
func NewFromParams(p Params) (*Service, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	port := cfg.Port
	if port == 0 {
		port = int(p.DHT.LocalAddr().Port())
	}
	return New(cfg, port, DefaultMappers(cfg))
}

// DefaultMappers 按配置创建映射器，NAT-PMP 优先
func DefaultMappers(cfg *Config) []PortMapper {
	var mappers []PortMapper
	if cfg.EnableNATPMP {
		mappers = append(mappers, natpmp.NewMapper(cfg.Timeout))
	}
	if cfg.EnableUPnP {
		mappers = append(mappers, upnp.NewMapper(cfg.Timeout))
	}
	return mappers
}

func registerLifecycle(lc fx.Lifecycle, s *Service) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Stop,
	})
}
