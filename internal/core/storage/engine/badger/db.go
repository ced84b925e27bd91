package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-kadnode/internal/core/storage/engine"
	"github.com/dep2p/go-kadnode/pkg/lib/log"
)

var logger = log.Logger("storage/badger")

// Engine BadgerDB 存储引擎
type Engine struct {
	db     *badger.DB
	config *engine.Config
	closed atomic.Bool

	gcCtx    context.Context
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
}

// New 打开 BadgerDB
func New(cfg *engine.Config) (*Engine, error) {
	if cfg == nil {
		return nil, engine.ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDir(); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := badger.Open(buildOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", cfg.Path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		db:       db,
		config:   cfg,
		gcCtx:    ctx,
		gcCancel: cancel,
	}, nil
}

func buildOptions(cfg *engine.Config) badger.Options {
	path := cfg.Path
	if cfg.InMemory {
		path = ""
	}
	return badger.DefaultOptions(path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithMemTableSize(cfg.MemTableSize).
		WithValueLogFileSize(cfg.ValueLogFileSize).
		WithBlockCacheSize(cfg.BlockCacheSize).
		WithLogger(badgerLogger{})
}

// badgerLogger 将 badger 日志转到 pkg/lib/log
//
// badger 的 Info 级别输出很多，统一降到 Debug。
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logger.Error(fmt.Sprintf(format, args...))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logger.Warn(fmt.Sprintf(format, args...))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logger.Debug(fmt.Sprintf(format, args...))
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logger.Debug(fmt.Sprintf(format, args...))
}

// Start 启动值日志垃圾回收
func (e *Engine) Start() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if e.config.GCInterval > 0 && !e.config.InMemory {
		e.gcWg.Add(1)
		go e.gcLoop()
	}
	return nil
}

func (e *Engine) gcLoop() {
	defer e.gcWg.Done()

	ticker := time.NewTicker(e.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.gcCtx.Done():
			return
		case <-ticker.C:
			// 一直回收到没有可回收的文件为止
			for e.db.RunValueLogGC(e.config.GCDiscardRatio) == nil {
			}
		}
	}
}

// Get 获取指定键的值
func (e *Engine) Get(key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}
	if len(key) == 0 {
		return nil, engine.ErrEmptyKey
	}

	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, convertError(err)
	}
	return value, nil
}

// Put 设置键值对
func (e *Engine) Put(key, value []byte) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if len(key) == 0 {
		return engine.ErrEmptyKey
	}
	return convertError(e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	}))
}

// Delete 删除指定键
func (e *Engine) Delete(key []byte) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if len(key) == 0 {
		return engine.ErrEmptyKey
	}
	return convertError(e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}))
}

// Has 检查键是否存在
func (e *Engine) Has(key []byte) (bool, error) {
	_, err := e.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, engine.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// NewBatch 创建批量写入
func (e *Engine) NewBatch() engine.Batch {
	return &WriteBatch{engine: e}
}

// NewPrefixIterator 创建前缀迭代器
func (e *Engine) NewPrefixIterator(prefix []byte) engine.Iterator {
	txn := e.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchSize = 32
	return &Iterator{
		txn:    txn,
		iter:   txn.NewIterator(opts),
		prefix: prefix,
	}
}

// Sync 同步数据到磁盘
func (e *Engine) Sync() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	return e.db.Sync()
}

// Close 关闭存储引擎
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.gcCancel()
	e.gcWg.Wait()
	return e.db.Close()
}

func convertError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return engine.ErrNotFound
	case errors.Is(err, badger.ErrEmptyKey):
		return engine.ErrEmptyKey
	case errors.Is(err, badger.ErrDBClosed):
		return engine.ErrClosed
	default:
		return err
	}
}

var _ engine.Engine = (*Engine)(nil)
