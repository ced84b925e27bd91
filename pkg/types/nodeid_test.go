package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNodeID_StringRoundTrip 测试十六进制表示可被解析回原值
func TestNodeID_StringRoundTrip(t *testing.T) {
	var id NodeID
	for i := range id {
		id[i] = byte(i + 1)
	}

	s := id.String()
	assert.Len(t, s, 40)
	assert.Equal(t, "01020304", id.ShortString())

	parsed, err := ParseNodeID(s)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

// TestParseNodeID_Invalid 测试非法输入
func TestParseNodeID_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", strings.Repeat("z", 40), strings.Repeat("a", 42)} {
		_, err := ParseNodeID(in)
		assert.ErrorIs(t, err, ErrInvalidNodeID, "input %q", in)
	}
}

// TestNodeIDFromName 测试查询名称到标识符的映射
func TestNodeIDFromName(t *testing.T) {
	hexName := strings.Repeat("ab", 20)

	id, err := NodeIDFromName(hexName+".p2p", ".p2p")
	require.NoError(t, err)
	assert.Equal(t, hexName, id.String(), "40 位十六进制名称应直接使用")

	a, err := NodeIDFromName("MyHost.p2p.", ".p2p")
	require.NoError(t, err)
	b, err := NodeIDFromName("myhost", ".p2p")
	require.NoError(t, err)
	assert.Equal(t, a, b, "名称映射应忽略大小写、TLD 和末尾的点")

	_, err = NodeIDFromName(".p2p", ".p2p")
	assert.ErrorIs(t, err, ErrInvalidNodeID)
}

// TestNodeIDFromSeed 测试种子派生的确定性
func TestNodeIDFromSeed(t *testing.T) {
	assert.Equal(t, NodeIDFromSeed("node-1"), NodeIDFromSeed("node-1"))
	assert.NotEqual(t, NodeIDFromSeed("node-1"), NodeIDFromSeed("node-2"))
	assert.False(t, RandomNodeID().IsEmpty())
}

// TestNodeID_TextMarshal 测试文本编解码（配置文件中使用）
func TestNodeID_TextMarshal(t *testing.T) {
	id := RandomNodeID()
	text, err := id.MarshalText()
	require.NoError(t, err)

	var out NodeID
	require.NoError(t, out.UnmarshalText(text))
	assert.Equal(t, id, out)
}
