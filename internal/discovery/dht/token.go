package dht

import (
	"crypto/hmac"
	"crypto/rand"
	"net/netip"

	"github.com/minio/sha256-simd"
)

// tokenIssuer 发布令牌签发器
//
// 令牌 = HMAC-SHA256(secret, 请求方 IP) 截断到 8 字节。
// ANNOUNCE 必须回带当前或上一个密钥签发的令牌，
// 证明请求方确实在该 IP 上收到过查询响应。
type tokenIssuer struct {
	current  [32]byte
	previous [32]byte
}

func newTokenIssuer() *tokenIssuer {
	t := &tokenIssuer{}
	t.Rotate()
	t.previous = t.current
	return t
}

// Rotate 轮换密钥，上一个密钥签发的令牌仍然有效
func (t *tokenIssuer) Rotate() {
	t.previous = t.current
	if _, err := rand.Read(t.current[:]); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
}

func mac(secret []byte, ip netip.Addr) []byte {
	h := hmac.New(sha256.New, secret)
	raw := ip.Unmap().AsSlice()
	h.Write(raw)
	return h.Sum(nil)[:tokenSize]
}

// Issue 为 ip 签发令牌
func (t *tokenIssuer) Issue(ip netip.Addr) []byte {
	return mac(t.current[:], ip)
}

// Verify 校验 ip 回带的令牌
func (t *tokenIssuer) Verify(ip netip.Addr, token []byte) bool {
	if len(token) != tokenSize {
		return false
	}
	return hmac.Equal(token, mac(t.current[:], ip)) || hmac.Equal(token, mac(t.previous[:], ip))
}
