package engine

import (
	"os"
	"path/filepath"
	"time"
)

// Config 存储引擎配置
type Config struct {
	// Path 数据目录路径（InMemory 时忽略）
	Path string

	// InMemory 纯内存模式
	InMemory bool

	// SyncWrites 每次写入同步到磁盘
	SyncWrites bool

	// BlockCacheSize 块缓存大小（字节）
	BlockCacheSize int64

	// MemTableSize 内存表大小（字节）
	MemTableSize int64

	// ValueLogFileSize 值日志文件大小（字节）
	ValueLogFileSize int64

	// GCInterval 值日志垃圾回收间隔，0 表示不回收
	GCInterval time.Duration

	// GCDiscardRatio 垃圾回收丢弃比例
	GCDiscardRatio float64
}

// DefaultConfig 返回默认配置
func DefaultConfig(path string) *Config {
	return &Config{
		Path:             path,
		BlockCacheSize:   8 << 20,
		MemTableSize:     8 << 20,
		ValueLogFileSize: 64 << 20,
		GCInterval:       10 * time.Minute,
		GCDiscardRatio:   0.5,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Path == "" && !c.InMemory {
		return ErrInvalidConfig
	}
	if c.MemTableSize < 1<<20 || c.ValueLogFileSize < 1<<20 {
		return ErrInvalidConfig
	}
	return nil
}

// EnsureDir 确保数据目录存在
func (c *Config) EnsureDir() error {
	if c.InMemory {
		return nil
	}
	absPath, err := filepath.Abs(c.Path)
	if err != nil {
		return err
	}
	c.Path = absPath
	return os.MkdirAll(c.Path, 0o755)
}
