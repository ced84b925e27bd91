package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dep2p/go-kadnode/config"
	"github.com/dep2p/go-kadnode/pkg/lib/log"
)

// ============================================================================
//                              环境变量（CLI 专用）
// ============================================================================

// 环境变量名（KADNODE_ 前缀）
const (
	envPrefix     = "KADNODE_"
	envPort       = "PORT"
	envPeers      = "PEERS"
	envDataDir    = "DATA_DIR"
	envVerbosity  = "VERBOSITY"
	envLogFile    = "LOG_FILE"
	envDisableNAT = "DISABLE_NAT"
)

// applyEnvOverrides 应用环境变量覆盖配置
//
// 环境变量优先级高于配置文件，但低于命令行参数。
func applyEnvOverrides(cfg *config.Config) error {
	if v := os.Getenv(envPrefix + envPort); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, envPort, err)
		}
		cfg.Network.Port = p
	}

	// 逗号分隔
	if v := os.Getenv(envPrefix + envPeers); v != "" {
		cfg.Peers = append(cfg.Peers, splitAndTrim(v, ",")...)
	}

	if v := os.Getenv(envPrefix + envDataDir); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv(envPrefix + envVerbosity); v != "" {
		lv, err := log.ParseVerbosity(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, envVerbosity, err)
		}
		cfg.Log.Verbosity = lv
	}

	if v := os.Getenv(envPrefix + envLogFile); v != "" {
		cfg.Log.File = v
	}

	if v := os.Getenv(envPrefix + envDisableNAT); v != "" {
		cfg.NAT.Disable = parseBool(v)
	}
	return nil
}

// ============================================================================
//                              辅助函数
// ============================================================================

// stringList 可重复的字符串参数
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// parseBool 解析布尔值字符串
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
