package storage

import (
	"time"

	"github.com/dep2p/go-kadnode/config"
	"github.com/dep2p/go-kadnode/internal/core/storage/engine"
)

// Config Storage 模块配置
type Config struct {
	// Path BadgerDB 数据库目录
	Path string

	// InMemory 不落盘，进程退出即丢失
	InMemory bool

	// SyncWrites 每次写入同步到磁盘
	SyncWrites bool

	// GCInterval 值日志垃圾回收间隔，0 表示不回收
	GCInterval time.Duration

	// GCDiscardRatio 垃圾回收丢弃比例
	GCDiscardRatio float64

	// BlockCacheSize 块缓存大小（字节）
	BlockCacheSize int64
}

// DefaultConfig 返回默认配置
//
// 节点列表很小，缓存按 8MB 配置即可。
func DefaultConfig() Config {
	return Config{
		Path:           "./data/kadnode.db",
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
		BlockCacheSize: 8 << 20,
	}
}

// ConfigFromUnified 从统一配置创建 Storage 配置
func ConfigFromUnified(cfg *config.Config) Config {
	storageCfg := DefaultConfig()
	if cfg == nil {
		return storageCfg
	}
	if cfg.Storage.DataDir != "" {
		storageCfg.Path = cfg.Storage.DBPath()
	}
	storageCfg.InMemory = cfg.Storage.InMemory
	return storageCfg
}

// ToEngineConfig 转换为引擎配置
func (c Config) ToEngineConfig() *engine.Config {
	engineCfg := engine.DefaultConfig(c.Path)
	engineCfg.InMemory = c.InMemory
	engineCfg.SyncWrites = c.SyncWrites
	engineCfg.GCInterval = c.GCInterval
	engineCfg.GCDiscardRatio = c.GCDiscardRatio
	engineCfg.BlockCacheSize = c.BlockCacheSize
	return engineCfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Path == "" && !c.InMemory {
		return ErrInvalidConfig
	}
	if c.GCInterval > 0 && c.GCInterval < time.Minute {
		c.GCInterval = time.Minute
	}
	if c.GCDiscardRatio <= 0 || c.GCDiscardRatio > 1 {
		c.GCDiscardRatio = 0.5
	}
	return nil
}

// WithPath 设置存储路径
func (c Config) WithPath(path string) Config {
	c.Path = path
	return c
}

// WithInMemory 设置内存模式
func (c Config) WithInMemory(inMemory bool) Config {
	c.InMemory = inMemory
	return c
}
