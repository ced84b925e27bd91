package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kadnode/config"
)

// TestConfigFromUnified 测试从统一配置派生存储配置
func TestConfigFromUnified(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Storage.DataDir = "/var/lib/kadnode"

	sc := ConfigFromUnified(cfg)
	assert.Equal(t, cfg.Storage.DBPath(), sc.Path)
	assert.False(t, sc.InMemory)

	cfg.Storage.InMemory = true
	assert.True(t, ConfigFromUnified(cfg).InMemory)

	assert.Equal(t, DefaultConfig(), ConfigFromUnified(nil))
}

// TestNew 测试创建引擎与 KV 存储
func TestNew(t *testing.T) {
	eng, err := New(DefaultConfig().WithPath(filepath.Join(t.TempDir(), "kadnode.db")))
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	defer eng.Close()

	store := NewKVStore(eng, []byte("b/"))
	require.NoError(t, store.Put([]byte("k"), []byte("v")))
	ok, err := store.Has([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = New(Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
