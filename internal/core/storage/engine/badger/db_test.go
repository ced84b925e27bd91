package badger

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kadnode/internal/core/storage/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := engine.DefaultConfig(filepath.Join(t.TempDir(), "test.db"))
	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// TestEngine_PutGetDelete 测试基础读写
func TestEngine_PutGetDelete(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	got, err := e.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	ok, err := e.Has([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, e.Delete([]byte("k")))
	_, err = e.Get([]byte("k"))
	assert.True(t, engine.IsNotFound(err))

	_, err = e.Get(nil)
	assert.ErrorIs(t, err, engine.ErrEmptyKey)

	t.Log("✅ 基础读写正常")
}

// TestEngine_BatchAndPrefixIterator 测试批量写入与前缀遍历
func TestEngine_BatchAndPrefixIterator(t *testing.T) {
	e := newTestEngine(t)

	b := e.NewBatch()
	for i := 0; i < 5; i++ {
		b.Put([]byte(fmt.Sprintf("a/%d", i)), []byte{byte(i)})
	}
	b.Put([]byte("b/0"), []byte("x"))
	assert.Equal(t, 6, b.Size())
	require.NoError(t, b.Write())
	assert.Zero(t, b.Size())

	iter := e.NewPrefixIterator([]byte("a/"))
	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()))
		assert.Len(t, iter.Value(), 1)
	}
	require.NoError(t, iter.Error())
	iter.Close()

	assert.Equal(t, []string{"a/0", "a/1", "a/2", "a/3", "a/4"}, keys)
}

// TestEngine_Reopen 测试重新打开后数据仍在
func TestEngine_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	e, err := New(engine.DefaultConfig(path))
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("persist"), []byte("yes")))
	require.NoError(t, e.Close())

	_, err = e.Get([]byte("persist"))
	assert.ErrorIs(t, err, engine.ErrClosed)

	e, err = New(engine.DefaultConfig(path))
	require.NoError(t, err)
	defer e.Close()

	got, err := e.Get([]byte("persist"))
	require.NoError(t, err)
	assert.Equal(t, []byte("yes"), got)
}

// TestEngine_InMemory 测试内存模式
func TestEngine_InMemory(t *testing.T) {
	cfg := engine.DefaultConfig("")
	cfg.InMemory = true
	e, err := New(cfg)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	ok, err := e.Has([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = New(engine.DefaultConfig(""))
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
}
