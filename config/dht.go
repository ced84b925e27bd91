package config

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// DHTConfig Kademlia DHT 配置
type DHTConfig struct {
	// BucketSize K 桶大小（K）
	BucketSize int `json:"bucket_size"`

	// Alpha 并发查询参数
	Alpha int `json:"alpha"`

	// ReplicationFactor 发布时的目标节点数
	ReplicationFactor int `json:"replication_factor"`

	// RequestTimeout 单次请求超时
	RequestTimeout Duration `json:"request_timeout"`

	// MaxRetries 最大重传次数
	MaxRetries int `json:"max_retries"`

	// MaxRounds 迭代查询最大轮数
	MaxRounds int `json:"max_rounds"`

	// FailureThreshold 驱逐前允许的连续失败次数
	FailureThreshold int `json:"failure_threshold"`

	// BucketStaleAfter 桶多久未变化需要刷新
	BucketStaleAfter Duration `json:"bucket_stale_after"`

	// LivenessInterval 存活检测间隔
	LivenessInterval Duration `json:"liveness_interval"`

	// ReannounceInterval 本地记录重新发布间隔
	ReannounceInterval Duration `json:"reannounce_interval"`

	// RecordTTL 发布记录有效期
	RecordTTL Duration `json:"record_ttl"`

	// MaxRecordTTL 缓存记录有效期上限
	MaxRecordTTL Duration `json:"max_record_ttl"`

	// MaxValuesPerKey 每个标识符的地址上限
	MaxValuesPerKey int `json:"max_values_per_key"`

	// MaxKeys 缓存标识符上限
	MaxKeys int `json:"max_keys"`

	// RateLimit 每个源 IP 每秒允许的请求数
	RateLimit float64 `json:"rate_limit"`

	// ShutdownGrace 关闭等待时间
	ShutdownGrace Duration `json:"shutdown_grace"`
}

// DefaultDHTConfig 返回默认 DHT 配置
func DefaultDHTConfig() DHTConfig {
	return DHTConfig{
		BucketSize:         20,
		Alpha:              3,
		ReplicationFactor:  8,
		RequestTimeout:     Duration(2 * time.Second),
		MaxRetries:         2,
		MaxRounds:          10,
		FailureThreshold:   3,
		BucketStaleAfter:   Duration(15 * time.Minute),
		LivenessInterval:   Duration(5 * time.Minute),
		ReannounceInterval: Duration(30 * time.Minute),
		RecordTTL:          Duration(45 * time.Minute),
		MaxRecordTTL:       Duration(2 * time.Hour),
		MaxValuesPerKey:    32,
		MaxKeys:            4096,
		RateLimit:          50,
		ShutdownGrace:      Duration(2 * time.Second),
	}
}

// Validate 验证 DHT 配置
func (c DHTConfig) Validate() error {
	var err error
	for name, v := range map[string]int{
		"bucket_size":        c.BucketSize,
		"alpha":              c.Alpha,
		"replication_factor": c.ReplicationFactor,
		"max_rounds":         c.MaxRounds,
		"failure_threshold":  c.FailureThreshold,
		"max_values_per_key": c.MaxValuesPerKey,
		"max_keys":           c.MaxKeys,
	} {
		if v <= 0 {
			err = multierr.Append(err, fmt.Errorf("dht: %s must be positive", name))
		}
	}
	for name, v := range map[string]Duration{
		"request_timeout":     c.RequestTimeout,
		"bucket_stale_after":  c.BucketStaleAfter,
		"liveness_interval":   c.LivenessInterval,
		"reannounce_interval": c.ReannounceInterval,
		"record_ttl":          c.RecordTTL,
		"max_record_ttl":      c.MaxRecordTTL,
	} {
		if v <= 0 {
			err = multierr.Append(err, fmt.Errorf("dht: %s must be positive", name))
		}
	}
	if c.MaxRetries < 0 || c.MaxRetries > 8 {
		err = multierr.Append(err, fmt.Errorf("dht: max_retries must be within [0, 8]"))
	}
	if c.RateLimit <= 0 {
		err = multierr.Append(err, fmt.Errorf("dht: rate_limit must be positive"))
	}
	if c.RecordTTL > c.MaxRecordTTL {
		err = multierr.Append(err, fmt.Errorf("dht: record_ttl exceeds max_record_ttl"))
	}
	return err
}
