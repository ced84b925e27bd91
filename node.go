package kadnode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-kadnode/config"
	"github.com/dep2p/go-kadnode/internal/core/metrics"
	"github.com/dep2p/go-kadnode/internal/core/nat"
	"github.com/dep2p/go-kadnode/internal/discovery/bootstrap"
	"github.com/dep2p/go-kadnode/internal/discovery/dht"
	"github.com/dep2p/go-kadnode/pkg/lib/log"
	"github.com/dep2p/go-kadnode/pkg/types"
)

var logger = log.Logger("kadnode")

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点状态
type NodeState int

const (
	// StateIdle 空闲状态（已创建，未启动）
	StateIdle NodeState = iota

	// StateStarting 启动中
	StateStarting

	// StateRunning 运行中
	StateRunning

	// StateStopping 停止中
	StateStopping

	// StateStopped 已停止（UDP 套接字已关闭，不能重新启动）
	StateStopped
)

// String 返回状态的字符串表示
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Node KadNode 节点
//
// Node 是守护进程的门面，聚合 DHT、引导、本地发现、端口映射
// 以及 DNS 和控制台前端。
//
// 使用示例：
//
//	node, err := kadnode.New(
//	    kadnode.WithPort(6881),
//	    kadnode.WithPeers("bttracker.debian.org:6881"),
//	    kadnode.WithAnnounce("myname.p2p"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	addrs, err := node.Resolve(ctx, "othername.p2p")
type Node struct {
	cfg *config.Config
	app *fx.App

	// 由 Fx 填充
	dht       *dht.DHT
	bootstrap *bootstrap.Service
	nat       *nat.Service
	metrics   *metrics.Collector
	conn      net.PacketConn

	mu    sync.Mutex
	state NodeState
}

// New 创建节点
//
// 只完成组件装配与 UDP 监听，调用 Start 后才开始工作。
func New(opts ...Option) (*Node, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	cfg, err := o.toConfig()
	if err != nil {
		return nil, err
	}

	n := &Node{cfg: cfg}
	app, err := buildFxApp(cfg, n, o.fxOptions)
	if err != nil {
		return nil, err
	}
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("build node: %w", err)
	}
	n.app = app

	logger.Debug("节点已创建", "nodeID", n.dht.Self().ShortString(), "addr", n.dht.LocalAddr().String())
	return n, nil
}

// Config 返回生效的配置
func (n *Node) Config() *config.Config {
	return n.cfg
}

// ID 返回节点 ID
func (n *Node) ID() types.NodeID {
	return n.dht.Self()
}

// LocalAddr 返回 DHT 监听地址
func (n *Node) LocalAddr() netip.AddrPort {
	return n.dht.LocalAddr()
}

// State 返回节点状态
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// DHT 返回底层 DHT
func (n *Node) DHT() *dht.DHT {
	return n.dht
}

// ════════════════════════════════════════════════════════════════════════════
//                              名称操作
// ════════════════════════════════════════════════════════════════════════════

// nameID 将名称转换为标识符
func (n *Node) nameID(name string) (types.NodeID, error) {
	id, err := types.NodeIDFromName(name, n.cfg.DNS.QueryTLD)
	if err != nil {
		return types.NodeID{}, fmt.Errorf("%w: %q: %v", ErrInvalidName, name, err)
	}
	return id, nil
}

func (n *Node) checkRunning() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.state {
	case StateRunning:
		return nil
	case StateStopping, StateStopped:
		return ErrNodeClosed
	default:
		return ErrNotStarted
	}
}

// Resolve 解析名称
//
// 名称可以带查询顶级域，也可以是 40 位十六进制标识符。
func (n *Node) Resolve(ctx context.Context, name string) ([]netip.AddrPort, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	id, err := n.nameID(name)
	if err != nil {
		return nil, err
	}
	return n.dht.Resolve(ctx, id)
}

// Announce 发布名称
//
// port 为 0 时使用 DHT 端口；lifetime 不大于 0 时持续到节点关闭。
// 没有联系人时返回 dht.ErrNoNearbyPeers，但记录保留并由维护任务重新发布。
func (n *Node) Announce(ctx context.Context, name string, port uint16, lifetime time.Duration) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	id, err := n.nameID(name)
	if err != nil {
		return err
	}
	if port == 0 {
		port = n.dht.LocalAddr().Port()
	}
	return n.dht.Announce(ctx, id, port, lifetime)
}

// Unannounce 撤销名称
func (n *Node) Unannounce(ctx context.Context, name string) (bool, error) {
	if err := n.checkRunning(); err != nil {
		return false, err
	}
	id, err := n.nameID(name)
	if err != nil {
		return false, err
	}
	return n.dht.Unannounce(ctx, id)
}

// Ping 探测节点
func (n *Node) Ping(ctx context.Context, addr netip.AddrPort) (types.NodeID, time.Duration, error) {
	if err := n.checkRunning(); err != nil {
		return types.NodeID{}, 0, err
	}
	return n.dht.Ping(ctx, addr)
}

// Bootstrap 立即从静态与已保存节点引导一次
func (n *Node) Bootstrap(ctx context.Context) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	return n.bootstrap.BootstrapOnce(ctx)
}

// Status 返回 DHT 运行状态
func (n *Node) Status(ctx context.Context) (dht.Status, error) {
	return n.dht.Status(ctx)
}

// PortMapping 返回当前端口映射
func (n *Node) PortMapping() (nat.Mapping, bool) {
	if n.nat == nil {
		return nat.Mapping{}, false
	}
	return n.nat.Mapping()
}

// Traffic 返回报文计数快照
func (n *Node) Traffic() metrics.Snapshot {
	if n.metrics == nil {
		return metrics.Snapshot{}
	}
	return n.metrics.Snapshot()
}

// announceConfigured 发布配置中的名称
//
// 失败只记录日志，不影响启动。
func (n *Node) announceConfigured(ctx context.Context) {
	for _, e := range n.cfg.Announce {
		err := n.Announce(ctx, e.Name, e.Port, e.Lifetime.Duration())
		switch {
		case err == nil:
			logger.Info("名称已发布", "name", e.Name)
		case errors.Is(err, dht.ErrNoNearbyPeers):
			logger.Info("名称已登记，等待联系人后发布", "name", e.Name)
		default:
			logger.Warn("发布名称失败", "name", e.Name, "error", err)
		}
	}
}

// String 返回节点摘要
func (n *Node) String() string {
	return fmt.Sprintf("Node(%s @ %s, %s)", n.ID().ShortString(), n.LocalAddr(), n.State())
}
