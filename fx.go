package kadnode

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-kadnode/config"
	"github.com/dep2p/go-kadnode/pkg/lib/log"

	// Core Layer
	"github.com/dep2p/go-kadnode/internal/core/metrics"
	"github.com/dep2p/go-kadnode/internal/core/nat"
	"github.com/dep2p/go-kadnode/internal/core/storage"

	// Discovery Layer
	"github.com/dep2p/go-kadnode/internal/discovery/bootstrap"
	"github.com/dep2p/go-kadnode/internal/discovery/dht"
	"github.com/dep2p/go-kadnode/internal/discovery/lpd"

	// Frontend Layer
	"github.com/dep2p/go-kadnode/internal/frontend/console"
	"github.com/dep2p/go-kadnode/internal/frontend/dns"
)

var fxLogger = log.Logger("kadnode/fx")

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. Core Layer: Storage → Metrics
//  2. Discovery Layer: UDP 套接字 → DHT → Bootstrap → LPD
//  3. NAT: 端口映射（依赖 DHT 端口）
//  4. Frontend Layer: DNS → Console
func buildFxApp(cfg *config.Config, node *Node, extra []fx.Option) (*fx.App, error) {
	modules, err := appOptions(cfg, node, extra)
	if err != nil {
		return nil, err
	}
	fxLogger.Debug("构建 Fx 应用", "modules", len(modules))
	return fx.New(modules...), nil
}

// appOptions 按配置组装模块列表
func appOptions(cfg *config.Config, node *Node, extra []fx.Option) ([]fx.Option, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置验证（前置）
	// ════════════════════════════════════════════════════════════════════════
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 核心模块（必须加载）
	// ════════════════════════════════════════════════════════════════════════
	modules := []fx.Option{
		fx.Supply(cfg),

		storage.Module, // 已知节点持久化
		metrics.Module, // 报文计数（HTTP 服务按配置启用）

		fx.Provide(fx.Annotate(provideConn, fx.ResultTags(`name:"dht_conn"`))),
		dht.Module,
		bootstrap.Module,
	}

	// ════════════════════════════════════════════════════════════════════════
	// 3. 可选模块（按配置加载）
	// ════════════════════════════════════════════════════════════════════════
	if !cfg.LPD.Disable {
		modules = append(modules, lpd.Module)
	}
	if !cfg.NAT.Disable {
		modules = append(modules, nat.Module)
	}
	if cfg.DNS.Enable {
		modules = append(modules, dns.Module)
	}
	if cfg.Console.Enable {
		modules = append(modules, console.Module)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 4. 用户扩展与组件导出
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, extra...)
	modules = append(modules,
		fx.Populate(&node.dht, &node.bootstrap),
		fx.Invoke(func(in optionalComponents) {
			node.nat = in.NAT
			node.metrics = in.Metrics
		}),
		fx.Invoke(fx.Annotate(
			func(conn net.PacketConn) { node.conn = conn },
			fx.ParamTags(`name:"dht_conn"`),
		)),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	return modules, nil
}

// optionalComponents 按配置加载的组件
type optionalComponents struct {
	fx.In

	NAT     *nat.Service       `optional:"true"`
	Metrics *metrics.Collector `optional:"true"`
}

// provideConn 打开 DHT 使用的 UDP 套接字
func provideConn(lc fx.Lifecycle, cfg *config.Config) (net.PacketConn, error) {
	conn, err := listenUDP(cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Network.ListenAddr(), err)
	}
	fxLogger.Debug("UDP 套接字已打开", "addr", conn.LocalAddr().String())

	lc.Append(fx.Hook{
		// 正常关闭时 DHT 已关闭套接字；此处只负责 DHT 未启动时的回滚
		OnStop: func(context.Context) error {
			if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				return err
			}
			return nil
		},
	})
	return conn, nil
}

// listenUDP 按地址族与网卡绑定监听
func listenUDP(cfg config.NetworkConfig) (net.PacketConn, error) {
	lc := net.ListenConfig{}
	if cfg.Interface != "" {
		lc.Control = bindToDevice(cfg.Interface)
	}
	return lc.ListenPacket(context.Background(), cfg.Family.UDPNetwork(), cfg.ListenAddr())
}
