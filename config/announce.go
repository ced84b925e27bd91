package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseAnnounce 解析 name[:port] 格式的发布参数
func ParseAnnounce(s string) (AnnounceEntry, error) {
	s = strings.TrimSpace(s)
	name, portStr, hasPort := strings.Cut(s, ":")
	entry := AnnounceEntry{Name: name}
	if hasPort {
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil || port == 0 {
			return AnnounceEntry{}, fmt.Errorf("announce: invalid port in %q", s)
		}
		entry.Port = uint16(port)
	}
	if err := entry.Validate(); err != nil {
		return AnnounceEntry{}, err
	}
	return entry, nil
}

// Validate 验证发布条目
func (a AnnounceEntry) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("announce: empty name")
	}
	if a.Lifetime < 0 {
		return fmt.Errorf("announce: %s: negative lifetime", a.Name)
	}
	return nil
}

// String 返回 name[:port] 表示
func (a AnnounceEntry) String() string {
	if a.Port == 0 {
		return a.Name
	}
	return a.Name + ":" + strconv.Itoa(int(a.Port))
}
