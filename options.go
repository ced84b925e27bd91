package kadnode

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/dep2p/go-kadnode/config"
)

// Option 节点配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 基础配置（文件或调用方提供）
	config *config.Config

	// 预设
	preset string

	// 覆盖项，在预设之后应用
	overrides []func(*config.Config)

	// 额外的 Fx 选项（测试注入时钟等）
	fxOptions []fx.Option
}

// newOptions 创建默认选项
func newOptions() *options {
	return &options{}
}

// toConfig 合并为最终配置
//
// 顺序：基础配置 → 预设 → 覆盖项。
func (o *options) toConfig() (*config.Config, error) {
	cfg := o.config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := config.ApplyPreset(cfg, o.preset); err != nil {
		return nil, err
	}
	for _, apply := range o.overrides {
		apply(cfg)
	}
	return cfg, nil
}

func (o *options) override(fn func(*config.Config)) {
	o.overrides = append(o.overrides, fn)
}

// WithConfig 使用给定配置作为基础
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("config is nil")
		}
		o.config = cfg
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载基础配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		o.config = cfg
		return nil
	}
}

// WithPreset 应用预设（default / server / test）
func WithPreset(name string) Option {
	return func(o *options) error {
		o.preset = name
		return nil
	}
}

// WithPort 设置 DHT 监听端口
func WithPort(port int) Option {
	return func(o *options) error {
		if port < 0 || port > 65535 {
			return fmt.Errorf("port %d out of range", port)
		}
		o.override(func(c *config.Config) { c.Network.Port = port })
		return nil
	}
}

// WithFamily 限定地址族
func WithFamily(f config.Family) Option {
	return func(o *options) error {
		o.override(func(c *config.Config) { c.Network.Family = f })
		return nil
	}
}

// WithPeers 追加引导节点（host:port）
func WithPeers(peers ...string) Option {
	return func(o *options) error {
		o.override(func(c *config.Config) { c.Peers = append(c.Peers, peers...) })
		return nil
	}
}

// WithAnnounce 追加启动时发布的名称（name[:port]）
func WithAnnounce(names ...string) Option {
	return func(o *options) error {
		entries := make([]config.AnnounceEntry, 0, len(names))
		for _, n := range names {
			e, err := config.ParseAnnounce(n)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		o.override(func(c *config.Config) { c.Announce = append(c.Announce, entries...) })
		return nil
	}
}

// WithFxOptions 追加 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}
