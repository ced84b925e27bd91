package config

import (
	"fmt"
	"path/filepath"
)

// StorageConfig 存储配置
//
// 已知节点列表保存在 BadgerDB 中，通过 Key 前缀隔离不同用途的数据。
//
// 数据目录结构：
//
//	${DataDir}/
//	└── kadnode.db/         # BadgerDB 数据库
type StorageConfig struct {
	// DataDir 数据目录路径
	DataDir string `json:"data_dir"`

	// InMemory 使用内存数据库（不落盘，重启后丢失）
	InMemory bool `json:"in_memory,omitempty"`
}

// DefaultStorageConfig 返回默认的存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataDir: "./data",
	}
}

// Validate 验证存储配置的有效性
func (c StorageConfig) Validate() error {
	if c.DataDir == "" && !c.InMemory {
		return fmt.Errorf("storage: data_dir cannot be empty")
	}
	return nil
}

// DBPath 返回 BadgerDB 数据库路径
func (c StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "kadnode.db")
}
