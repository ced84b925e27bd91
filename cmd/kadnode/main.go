// Package main 提供 kadnode 守护进程入口
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dep2p/go-kadnode"
	"github.com/dep2p/go-kadnode/config"
	"github.com/dep2p/go-kadnode/pkg/lib/log"
)

var logger = log.Logger("kadnode/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
//   命令行参数：运行时覆盖（「这次运行」想怎么跑）
//   JSON 配置文件：持久化配置（「这个节点」的固定配置）
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	// ─────────────────────────────────────────────────────────────────────
	// 基础参数
	// ─────────────────────────────────────────────────────────────────────
	configFile = flag.String("config", "", "配置文件路径（JSON）")
	preset     = flag.String("preset", "", "预设配置 (default/server)")
	port       = flag.Int("port", 0, "DHT 监听端口（默认 6881）")
	address    = flag.String("address", "", "DHT 绑定地址")
	ifname     = flag.String("ifname", "", "绑定网卡（仅 Linux）")
	ipv4Only   = flag.Bool("ipv4", false, "仅使用 IPv4")
	ipv6Only   = flag.Bool("ipv6", false, "仅使用 IPv6")
	nodeSeed   = flag.String("node-seed", "", "派生固定节点 ID 的种子")
	dataDir    = flag.String("data-dir", "", "数据目录（默认: ./data）")
	peers      stringList
	announces  stringList

	// ─────────────────────────────────────────────────────────────────────
	// 发现与端口映射
	// ─────────────────────────────────────────────────────────────────────
	lpdDisable = flag.Bool("lpd-disable", false, "禁用本地节点发现")
	lpdAddr    = flag.String("lpd-addr", "", "本地节点发现组播地址")
	natDisable = flag.Bool("nat-disable", false, "禁用 UPnP / NAT-PMP 端口映射")

	// ─────────────────────────────────────────────────────────────────────
	// 前端
	// ─────────────────────────────────────────────────────────────────────
	dnsPort       = flag.Int("dns-port", 0, "DNS 服务端口（0 = 配置值，-1 = 禁用）")
	dnsProxy      = flag.String("dns-proxy-server", "", "转发其他名称的上游 DNS 服务器")
	queryTLD      = flag.String("query-tld", "", "通过 DHT 解析的顶级域（默认 .p2p）")
	consolePort   = flag.Int("console-port", 0, "控制台端口（0 = 配置值，-1 = 禁用）")
	metricsListen = flag.String("metrics", "", "启用 Prometheus 指标并监听该地址")

	// ─────────────────────────────────────────────────────────────────────
	// 日志与进程
	// ─────────────────────────────────────────────────────────────────────
	verbosity   = flag.String("verbosity", "", "日志详细程度 (quiet/verbose/debug)")
	logFormat   = flag.String("log-format", "", "日志格式 (text/json)")
	logFile     = flag.String("log-file", "", "日志文件路径")
	pidFile     = flag.String("pidfile", "", "写入进程 ID 的文件")
	showVersion = flag.Bool("version", false, "显示版本信息")
)

func init() {
	flag.Var(&peers, "peer", "引导节点 host:port（可重复）")
	flag.Var(&announces, "announce", "启动时发布的名称 name[:port]（可重复）")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(kadnode.VersionInfo())
		return nil
	}

	cfg, err := buildConfig()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	closeLog, err := setupLogging(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	if *pidFile != "" {
		if err := writePidFile(*pidFile); err != nil {
			return err
		}
		defer func() { _ = os.Remove(*pidFile) }()
	}

	logger.Info("启动 kadnode", "version", kadnode.Version, "commit", kadnode.GitCommit, "buildDate", kadnode.BuildDate)

	node, err := kadnode.New(kadnode.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("创建节点失败: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		_ = node.Close()
		return fmt.Errorf("启动失败: %w", err)
	}
	printNodeInfo(node)

	<-ctx.Done()
	logger.Info("收到退出信号，正在关闭")

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return node.Stop(stopCtx)
}

// buildConfig 构建最终配置
//
// 优先级（从高到低）：命令行参数 → 环境变量 → 预设 → 配置文件 → 默认值。
func buildConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := config.ApplyPreset(cfg, *preset); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := applyFlags(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// applyFlags 应用命令行参数覆盖
func applyFlags(cfg *config.Config) error {
	if *ipv4Only && *ipv6Only {
		return errors.New("--ipv4 and --ipv6 are mutually exclusive")
	}
	switch {
	case *ipv4Only:
		cfg.Network.Family = config.FamilyIPv4
	case *ipv6Only:
		cfg.Network.Family = config.FamilyIPv6
	}

	if isFlagSet("port") {
		cfg.Network.Port = *port
	}
	if *address != "" {
		cfg.Network.Address = *address
	}
	if *ifname != "" {
		cfg.Network.Interface = *ifname
	}
	if *nodeSeed != "" {
		cfg.Identity.Seed = *nodeSeed
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	cfg.Peers = append(cfg.Peers, peers...)

	for _, a := range announces {
		entry, err := config.ParseAnnounce(a)
		if err != nil {
			return fmt.Errorf("--announce: %w", err)
		}
		cfg.Announce = append(cfg.Announce, entry)
	}

	if *lpdDisable {
		cfg.LPD.Disable = true
	}
	if *lpdAddr != "" {
		cfg.LPD.Address = *lpdAddr
	}
	if *natDisable {
		cfg.NAT.Disable = true
	}

	switch {
	case *dnsPort < 0:
		cfg.DNS.Enable = false
	case *dnsPort > 0:
		cfg.DNS.Enable = true
		cfg.DNS.Port = *dnsPort
	}
	if *dnsProxy != "" {
		cfg.DNS.ProxyEnable = true
		cfg.DNS.ProxyServer = *dnsProxy
	}
	if *queryTLD != "" {
		cfg.DNS.QueryTLD = *queryTLD
	}

	switch {
	case *consolePort < 0:
		cfg.Console.Enable = false
	case *consolePort > 0:
		cfg.Console.Enable = true
		cfg.Console.Port = *consolePort
	}

	if *metricsListen != "" {
		cfg.Metrics.Enable = true
		cfg.Metrics.Listen = *metricsListen
	}

	if *verbosity != "" {
		v, err := log.ParseVerbosity(*verbosity)
		if err != nil {
			return err
		}
		cfg.Log.Verbosity = v
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	return nil
}

// isFlagSet 判断参数是否在命令行中显式设置
func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// setupLogging 配置全局日志输出
func setupLogging(cfg config.LogConfig) (func(), error) {
	var w io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // 用户指定的日志路径
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeFn = func() { _ = f.Close() }
	}
	log.Setup(w, cfg.Verbosity, cfg.Format)
	return closeFn, nil
}

// writePidFile 写入进程 ID
func writePidFile(path string) error {
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // pid 文件需要可读
		return fmt.Errorf("write pidfile: %w", err)
	}
	return nil
}

// printNodeInfo 输出节点摘要
func printNodeInfo(node *kadnode.Node) {
	cfg := node.Config()
	fmt.Printf("Node ID:  %s\n", node.ID())
	fmt.Printf("DHT:      %s (%s)\n", node.LocalAddr(), cfg.Network.Family)
	if cfg.DNS.Enable {
		fmt.Printf("DNS:      %s:%d (%s)\n", cfg.DNS.Address, cfg.DNS.Port, cfg.DNS.QueryTLD)
	}
	if cfg.Console.Enable {
		fmt.Printf("Console:  127.0.0.1:%d\n", cfg.Console.Port)
	}
	if cfg.Metrics.Enable {
		fmt.Printf("Metrics:  http://%s/metrics\n", cfg.Metrics.Listen)
	}
	for _, a := range cfg.Announce {
		fmt.Printf("Announce: %s\n", a)
	}
}
