package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// FromJSON 从 JSON 数据创建配置
//
// 未出现的字段保留默认值。
//
// 示例 JSON:
//
//	{
//	  "network": {"port": 6881, "family": "ipv4"},
//	  "dht": {"request_timeout": "2s"},
//	  "peers": ["bttracker.debian.org:6881"]
//	}
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// LoadFile 从 JSON 文件加载配置
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ToJSON 将配置编码为缩进的 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ApplyPreset 应用预设配置
//
// 支持的预设：
//   - "default": 默认配置
//   - "server": 公网服务器（关闭端口映射和本地发现，放宽容量）
//   - "test": 测试（内存存储、短超时、关闭所有前端）
func ApplyPreset(cfg *Config, presetName string) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	switch presetName {
	case "", "default":
		return nil
	case "server":
		return applyServerPreset(cfg)
	case "test":
		return applyTestPreset(cfg)
	default:
		return fmt.Errorf("unknown preset: %s", presetName)
	}
}

// applyServerPreset 应用服务器预设
func applyServerPreset(cfg *Config) error {
	cfg.NAT.Disable = true
	cfg.LPD.Disable = true
	cfg.DNS.Enable = false
	cfg.DHT.MaxKeys = 65536
	cfg.DHT.RateLimit = 200
	cfg.Bootstrap.MaxSavedPeers = 500
	return nil
}

// applyTestPreset 应用测试预设
func applyTestPreset(cfg *Config) error {
	cfg.Network.Address = "127.0.0.1"
	cfg.Network.Port = 0
	cfg.Network.Family = FamilyIPv4
	cfg.NAT.Disable = true
	cfg.LPD.Disable = true
	cfg.DNS.Enable = false
	cfg.Console.Enable = false
	cfg.Metrics.Enable = false
	cfg.Storage.InMemory = true
	cfg.DHT.RequestTimeout = Duration(200 * time.Millisecond)
	cfg.DHT.MaxRetries = 1
	cfg.DHT.ShutdownGrace = Duration(100 * time.Millisecond)
	return nil
}

// NewTestConfig 创建测试用配置
func NewTestConfig() *Config {
	cfg := NewConfig()
	_ = applyTestPreset(cfg)
	return cfg
}
