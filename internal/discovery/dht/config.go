package dht

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/dep2p/go-kadnode/pkg/types"
)

// Config DHT 配置
type Config struct {
	// NodeID 本地节点 ID（为空时随机生成）
	NodeID types.NodeID

	// BucketSize K 桶大小（K）
	BucketSize int

	// ReplacementSize 每个 K 桶的替换缓存容量
	ReplacementSize int

	// Alpha 并发查询参数
	Alpha int

	// ReplicationFactor 重新发布时 ANNOUNCE 的目标节点数
	ReplicationFactor int

	// RequestTimeout 单次请求超时
	RequestTimeout time.Duration

	// MaxRetries 超时后的最大重传次数
	MaxRetries int

	// MaxRounds 迭代查询最大轮数
	MaxRounds int

	// FailureThreshold 连续失败多少次后驱逐联系人
	FailureThreshold int

	// MaxTransactions 同时在途的请求上限
	MaxTransactions int

	// ============= 维护任务 =============

	// RefreshCheckInterval 桶刷新检查间隔
	RefreshCheckInterval time.Duration

	// BucketStaleAfter 桶多久未变化视为陈旧
	BucketStaleAfter time.Duration

	// LivenessInterval 存活检测间隔
	LivenessInterval time.Duration

	// AnnounceCheckInterval 重新发布检查间隔
	AnnounceCheckInterval time.Duration

	// ReannounceInterval 本地记录重新发布间隔
	ReannounceInterval time.Duration

	// ExpireInterval 过期清理间隔
	ExpireInterval time.Duration

	// TokenRotation 发布令牌密钥轮换间隔
	TokenRotation time.Duration

	// ============= 记录存储 =============

	// RecordTTL 发布记录的默认有效期
	RecordTTL time.Duration

	// MaxRecordTTL 缓存记录有效期上限
	MaxRecordTTL time.Duration

	// MaxValuesPerKey 每个标识符保存的地址上限
	MaxValuesPerKey int

	// MaxKeys 缓存的标识符数量上限
	MaxKeys int

	// ============= 入站限速 =============

	// RateLimit 每个源 IP 每秒允许的请求数
	RateLimit float64

	// RateBurst 每个源 IP 的突发请求数
	RateBurst int

	// RateLimitEntries 限速表容量
	RateLimitEntries int

	// ShutdownGrace 关闭时等待在途请求的时间
	ShutdownGrace time.Duration
}

// MaxRetriesLimit 重传次数上限，兜底截止时间按 4<<MaxRetries 倍请求超时计算
const MaxRetriesLimit = 8

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		BucketSize:            20,
		ReplacementSize:       20,
		Alpha:                 3,
		ReplicationFactor:     8,
		RequestTimeout:        2 * time.Second,
		MaxRetries:            2,
		MaxRounds:             10,
		FailureThreshold:      3,
		MaxTransactions:       1024,
		RefreshCheckInterval:  1 * time.Minute,
		BucketStaleAfter:      15 * time.Minute,
		LivenessInterval:      5 * time.Minute,
		AnnounceCheckInterval: 1 * time.Minute,
		ReannounceInterval:    30 * time.Minute,
		ExpireInterval:        1 * time.Minute,
		TokenRotation:         5 * time.Minute,
		RecordTTL:             45 * time.Minute,
		MaxRecordTTL:          2 * time.Hour,
		MaxValuesPerKey:       32,
		MaxKeys:               4096,
		RateLimit:             50,
		RateBurst:             100,
		RateLimitEntries:      4096,
		ShutdownGrace:         2 * time.Second,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	var err error
	positive := func(name string, v int) {
		if v <= 0 {
			err = multierr.Append(err, fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name))
		}
	}
	positiveDur := func(name string, v time.Duration) {
		if v <= 0 {
			err = multierr.Append(err, fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name))
		}
	}

	positive("bucket size", c.BucketSize)
	positive("replacement size", c.ReplacementSize)
	positive("alpha", c.Alpha)
	positive("replication factor", c.ReplicationFactor)
	positive("max rounds", c.MaxRounds)
	positive("failure threshold", c.FailureThreshold)
	positive("max transactions", c.MaxTransactions)
	positive("max values per key", c.MaxValuesPerKey)
	positive("max keys", c.MaxKeys)
	positive("rate burst", c.RateBurst)
	positive("rate limit entries", c.RateLimitEntries)
	if c.MaxRetries < 0 || c.MaxRetries > MaxRetriesLimit {
		err = multierr.Append(err, fmt.Errorf("%w: max retries must be within [0, %d]", ErrInvalidConfig, MaxRetriesLimit))
	}
	if c.RateLimit <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: rate limit must be positive", ErrInvalidConfig))
	}

	positiveDur("request timeout", c.RequestTimeout)
	positiveDur("refresh check interval", c.RefreshCheckInterval)
	positiveDur("bucket stale age", c.BucketStaleAfter)
	positiveDur("liveness interval", c.LivenessInterval)
	positiveDur("announce check interval", c.AnnounceCheckInterval)
	positiveDur("reannounce interval", c.ReannounceInterval)
	positiveDur("expire interval", c.ExpireInterval)
	positiveDur("token rotation", c.TokenRotation)
	positiveDur("record ttl", c.RecordTTL)
	positiveDur("max record ttl", c.MaxRecordTTL)
	if c.ShutdownGrace < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: shutdown grace must not be negative", ErrInvalidConfig))
	}
	if c.RecordTTL > c.MaxRecordTTL {
		err = multierr.Append(err, fmt.Errorf("%w: record ttl exceeds max record ttl", ErrInvalidConfig))
	}

	return err
}

// ConfigOption 配置选项函数
type ConfigOption func(*Config)

// WithNodeID 设置本地节点 ID
func WithNodeID(id types.NodeID) ConfigOption {
	return func(c *Config) {
		c.NodeID = id
	}
}

// WithBucketSize 设置 K 桶大小
func WithBucketSize(size int) ConfigOption {
	return func(c *Config) {
		c.BucketSize = size
		c.ReplacementSize = size
	}
}

// WithAlpha 设置并发查询参数
func WithAlpha(alpha int) ConfigOption {
	return func(c *Config) {
		c.Alpha = alpha
	}
}

// WithRequestTimeout 设置请求超时和重传次数
func WithRequestTimeout(timeout time.Duration, retries int) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = timeout
		c.MaxRetries = retries
	}
}

// WithFailureThreshold 设置驱逐阈值
func WithFailureThreshold(n int) ConfigOption {
	return func(c *Config) {
		c.FailureThreshold = n
	}
}

// WithRecordTTL 设置记录有效期
func WithRecordTTL(ttl time.Duration) ConfigOption {
	return func(c *Config) {
		c.RecordTTL = ttl
		if c.MaxRecordTTL < ttl {
			c.MaxRecordTTL = ttl
		}
	}
}

// Apply 应用选项并返回配置自身
func (c *Config) Apply(opts ...ConfigOption) *Config {
	for _, opt := range opts {
		opt(c)
	}
	return c
}
