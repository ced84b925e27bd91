package kadnode

import (
	"context"
	"fmt"
	"time"
)

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期常量
// ════════════════════════════════════════════════════════════════════════════

const (
	// startTimeout Fx App 启动超时
	startTimeout = 30 * time.Second

	// stopTimeout Fx App 停止超时
	stopTimeout = 15 * time.Second

	// announceTimeout 启动时发布名称的超时
	announceTimeout = 30 * time.Second
)

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期管理
// ════════════════════════════════════════════════════════════════════════════

// Start 启动节点
//
//  1. 启动 Fx App（DHT、引导、本地发现、端口映射、前端）
//  2. 进入运行状态
//  3. 后台发布配置中的名称
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateStopping, StateStopped:
		return ErrNodeClosed
	case StateStarting, StateRunning:
		return ErrAlreadyStarted
	}

	n.state = StateStarting
	logger.Info("正在启动节点", "nodeID", n.dht.Self().String())

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	if err := n.app.Start(startCtx); err != nil {
		logger.Error("节点启动失败", "error", err)
		n.state = StateStopped
		// Fx 已回滚已启动的组件
		return fmt.Errorf("start failed: %w", err)
	}

	n.state = StateRunning
	logger.Info("节点启动成功", "addr", n.dht.LocalAddr().String())

	if len(n.cfg.Announce) > 0 {
		go func() {
			actx, acancel := context.WithTimeout(context.Background(), announceTimeout)
			defer acancel()
			n.announceConfigured(actx)
		}()
	}
	return nil
}

// Stop 停止节点
//
// 按启动的逆序关闭组件。节点停止后不能再次启动。
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateStopping, StateStopped:
		return nil
	case StateIdle:
		// Fx 未启动时不会执行 OnStop，直接释放 New 中打开的套接字
		n.state = StateStopped
		return n.conn.Close()
	}

	n.state = StateStopping
	logger.Info("正在停止节点")

	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	err := n.app.Stop(stopCtx)
	n.state = StateStopped
	if err != nil {
		logger.Warn("节点停止时出错", "error", err)
		return fmt.Errorf("stop failed: %w", err)
	}
	logger.Info("节点已停止")
	return nil
}

// Close 关闭节点
func (n *Node) Close() error {
	return n.Stop(context.Background())
}
