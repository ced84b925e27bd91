package config

import (
	"fmt"
	"strings"

	"github.com/dep2p/go-kadnode/pkg/lib/log"
)

// LogConfig 日志配置
type LogConfig struct {
	// Verbosity 详细程度（quiet / verbose / debug）
	Verbosity log.Verbosity `json:"verbosity"`

	// Format 输出格式（text / json）
	Format string `json:"format"`

	// File 日志文件（空表示标准错误）
	File string `json:"file,omitempty"`
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Verbosity: log.VerbosityVerbose,
		Format:    "text",
	}
}

// Validate 验证日志配置
func (c LogConfig) Validate() error {
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("log: invalid format %q (text or json)", c.Format)
	}
}
