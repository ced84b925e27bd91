package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kadnode/pkg/lib/log"
)

// TestNewConfig 测试创建默认配置
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 6881, cfg.Network.Port)
	assert.Equal(t, 3535, cfg.DNS.Port)
	assert.Equal(t, 1700, cfg.Console.Port)
	assert.Equal(t, ".p2p", cfg.DNS.QueryTLD)

	t.Log("✅ NewConfig 测试通过")
}

// TestConfig_ValidateCollectsAllErrors 测试验证会汇总所有错误
func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := NewConfig()
	cfg.DHT.BucketSize = 0
	cfg.Network.Port = 70000
	cfg.Peers = []string{"no-port"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket_size")
	assert.Contains(t, err.Error(), "network: port")
	assert.Contains(t, err.Error(), "no-port")
}

// TestConfig_ValidateMaxRetries 测试重传次数上限
func TestConfig_ValidateMaxRetries(t *testing.T) {
	cfg := NewConfig()
	cfg.DHT.MaxRetries = 8
	assert.NoError(t, cfg.Validate())

	cfg.DHT.MaxRetries = 9
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_retries")
}

// TestFromJSON 测试 JSON 加载与默认值合并
func TestFromJSON(t *testing.T) {
	data := []byte(`{
		"network": {"port": 7000, "family": "ipv4"},
		"dht": {"request_timeout": "500ms", "record_ttl": 600},
		"log": {"verbosity": "debug"},
		"peers": ["192.0.2.1:6881"],
		"announce": [{"name": "myhost", "port": 80}]
	}`)

	cfg, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Network.Port)
	assert.Equal(t, FamilyIPv4, cfg.Network.Family)
	assert.Equal(t, 500*time.Millisecond, cfg.DHT.RequestTimeout.Duration())
	assert.Equal(t, 10*time.Minute, cfg.DHT.RecordTTL.Duration(), "数字按秒解析")
	assert.Equal(t, log.VerbosityDebug, cfg.Log.Verbosity)
	assert.Equal(t, 20, cfg.DHT.BucketSize, "未出现的字段保留默认值")
	require.Len(t, cfg.Announce, 1)
	assert.Equal(t, uint16(80), cfg.Announce[0].Port)
	assert.NoError(t, cfg.Validate())
}

// TestFromJSON_InvalidEnum 测试类型化枚举在解析时校验
func TestFromJSON_InvalidEnum(t *testing.T) {
	_, err := FromJSON([]byte(`{"network": {"family": "ipx"}}`))
	assert.Error(t, err)

	_, err = FromJSON([]byte(`{"log": {"verbosity": "loud"}}`))
	assert.Error(t, err)
}

// TestLoadFile 测试从文件加载
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kadnode.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"console": {"port": 1701}}`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1701, cfg.Console.Port)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

// TestLPDConfig_EffectiveAddress 测试默认组播地址随地址族变化
func TestLPDConfig_EffectiveAddress(t *testing.T) {
	cfg := DefaultLPDConfig()
	assert.Equal(t, DefaultLPDAddrIPv4, cfg.EffectiveAddress(FamilyIPv4))
	assert.Equal(t, DefaultLPDAddrIPv6, cfg.EffectiveAddress(FamilyIPv6))
	assert.Equal(t, DefaultLPDAddrIPv6, cfg.EffectiveAddress(FamilyAny))

	cfg.Address = "239.1.2.3:7000"
	assert.Equal(t, "239.1.2.3:7000", cfg.EffectiveAddress(FamilyIPv6), "显式配置的地址不受地址族影响")

	cfg.Address = "10.0.0.1:7000"
	assert.Error(t, cfg.Validate(), "非组播地址应被拒绝")
}

// TestParseAnnounce 测试 name[:port] 解析
func TestParseAnnounce(t *testing.T) {
	a, err := ParseAnnounce("myhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "myhost", a.Name)
	assert.Equal(t, uint16(8080), a.Port)
	assert.Equal(t, "myhost:8080", a.String())

	a, err = ParseAnnounce("other")
	require.NoError(t, err)
	assert.Zero(t, a.Port)

	_, err = ParseAnnounce("bad:0")
	assert.Error(t, err)
	_, err = ParseAnnounce(":80")
	assert.Error(t, err)
}

// TestIdentityConfig_ResolveNodeID 测试节点 ID 来源优先级
func TestIdentityConfig_ResolveNodeID(t *testing.T) {
	cfg := IdentityConfig{Seed: "abc"}
	a, err := cfg.ResolveNodeID()
	require.NoError(t, err)
	b, err := cfg.ResolveNodeID()
	require.NoError(t, err)
	assert.Equal(t, a, b, "种子派生的 ID 应稳定")

	cfg.NodeID = a.String()
	cfg.Seed = "other"
	c, err := cfg.ResolveNodeID()
	require.NoError(t, err)
	assert.Equal(t, a, c, "显式 NodeID 优先于种子")

	cfg.NodeID = "zz"
	assert.Error(t, cfg.Validate())
}

// TestApplyPreset 测试预设
func TestApplyPreset(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, ApplyPreset(cfg, "server"))
	assert.True(t, cfg.NAT.Disable)
	assert.True(t, cfg.LPD.Disable)

	cfg = NewTestConfig()
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, 0, cfg.Network.Port)
	assert.NoError(t, cfg.Validate())

	assert.Error(t, ApplyPreset(NewConfig(), "mobile"))
	assert.Error(t, ApplyPreset(nil, "server"))
}

// TestDuration_JSON 测试 Duration 编解码
func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.NoError(t, d.UnmarshalJSON([]byte(`2.5`)))
	assert.Equal(t, 2500*time.Millisecond, d.Duration())

	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))

	out, err := Duration(time.Minute).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m0s"`, string(out))
}
