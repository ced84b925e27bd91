// Package config 提供 KadNode 的统一配置管理
//
// 本包采用分节配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义，提供 DefaultXConfig() 和 Validate()
//   - 支持从 JSON 文件加载配置，命令行参数覆盖文件
//   - 支持预设配置（default/server/test）
//
// 使用示例：
//
//	cfg, err := config.LoadFile("/etc/kadnode/config.json")
//	cfg.Network.Port = 6881
//	if err := cfg.Validate(); err != nil { ... }
package config

import (
	"go.uber.org/multierr"
)

// AnnounceEntry 启动时发布的名称
type AnnounceEntry struct {
	// Name 名称或 40 位十六进制标识符
	Name string `json:"name"`

	// Port 服务端口（0 表示使用 DHT 端口）
	Port uint16 `json:"port,omitempty"`

	// Lifetime 发布时长（0 表示持续到进程退出）
	Lifetime Duration `json:"lifetime,omitempty"`
}

// Config 是 KadNode 的完整配置结构
//
// 配置按照功能模块组织：
//   - Identity: 节点身份
//   - DHT: Kademlia 参数
//   - Network: UDP 套接字
//   - Bootstrap: 静态节点与节点列表持久化
//   - LPD: 本地节点发现
//   - NAT: 端口映射
//   - DNS / Console: 前端
//   - Metrics: 指标导出
//   - Storage: 数据目录
//   - Log: 日志
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `json:"identity"`

	// DHT Kademlia 配置
	DHT DHTConfig `json:"dht"`

	// Network 网络配置
	Network NetworkConfig `json:"network"`

	// Bootstrap 引导配置
	Bootstrap BootstrapConfig `json:"bootstrap"`

	// LPD 本地节点发现配置
	LPD LPDConfig `json:"lpd"`

	// NAT 端口映射配置
	NAT NATConfig `json:"nat"`

	// DNS DNS 前端配置
	DNS DNSConfig `json:"dns"`

	// Console 命令控制台配置
	Console ConsoleConfig `json:"console"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`

	// Storage 存储配置
	Storage StorageConfig `json:"storage"`

	// Log 日志配置
	Log LogConfig `json:"log"`

	// Peers 静态节点列表（host:port）
	Peers []string `json:"peers,omitempty"`

	// Announce 启动时发布的名称
	Announce []AnnounceEntry `json:"announce,omitempty"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Identity:  DefaultIdentityConfig(),
		DHT:       DefaultDHTConfig(),
		Network:   DefaultNetworkConfig(),
		Bootstrap: DefaultBootstrapConfig(),
		LPD:       DefaultLPDConfig(),
		NAT:       DefaultNATConfig(),
		DNS:       DefaultDNSConfig(),
		Console:   DefaultConsoleConfig(),
		Metrics:   DefaultMetricsConfig(),
		Storage:   DefaultStorageConfig(),
		Log:       DefaultLogConfig(),
	}
}

// Validate 验证配置的有效性
//
// 检查所有子配置，返回合并后的全部错误。
func (c *Config) Validate() error {
	err := multierr.Combine(
		c.Identity.Validate(),
		c.DHT.Validate(),
		c.Network.Validate(),
		c.Bootstrap.Validate(),
		c.LPD.Validate(),
		c.NAT.Validate(),
		c.DNS.Validate(),
		c.Console.Validate(),
		c.Metrics.Validate(),
		c.Storage.Validate(),
		c.Log.Validate(),
	)
	for _, p := range c.Peers {
		err = multierr.Append(err, validateHostPort("peers", p))
	}
	for _, a := range c.Announce {
		err = multierr.Append(err, a.Validate())
	}
	return err
}
