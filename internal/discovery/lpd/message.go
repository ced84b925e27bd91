package lpd

import (
	"bytes"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

const (
	// searchLine 报文首行
	searchLine = "DHT-SEARCH * HTTP/1.0"

	// maxMessageSize 可接受的最大报文长度
	maxMessageSize = 512
)

// Announcement 一条 DHT-SEARCH 报文
type Announcement struct {
	// Port 发送方的 DHT 端口
	Port uint16

	// Cookie 发送方的进程标识
	Cookie string
}

// Marshal 编码报文
func (a Announcement) Marshal(group netip.AddrPort) []byte {
	var b bytes.Buffer
	b.WriteString(searchLine)
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Host: %s\r\n", group)
	fmt.Fprintf(&b, "Port: %d\r\n", a.Port)
	if a.Cookie != "" {
		fmt.Fprintf(&b, "Cookie: %s\r\n", a.Cookie)
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// ParseAnnouncement 解析报文
//
// 头部名称不区分大小写，未知头部忽略；缺少合法 Port 时返回 ErrMalformed。
func ParseAnnouncement(data []byte) (Announcement, error) {
	var a Announcement
	if len(data) == 0 || len(data) > maxMessageSize {
		return a, ErrMalformed
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if strings.TrimSpace(lines[0]) != searchLine {
		return a, ErrMalformed
	}

	havePort := false
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return a, ErrMalformed
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "port":
			n, err := strconv.ParseUint(value, 10, 16)
			if err != nil || n == 0 {
				return a, ErrMalformed
			}
			a.Port = uint16(n)
			havePort = true
		case "cookie":
			a.Cookie = value
		}
	}
	if !havePort {
		return a, ErrMalformed
	}
	return a, nil
}
