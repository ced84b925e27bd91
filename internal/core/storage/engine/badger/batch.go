package badger

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-kadnode/internal/core/storage/engine"
)

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// WriteBatch 批量写入
//
// 操作先缓存在内存中，Write 时原子提交。
type WriteBatch struct {
	engine *Engine
	ops    []batchOp
}

// Put 添加写入操作
func (b *WriteBatch) Put(key, value []byte) {
	if len(key) == 0 {
		return
	}
	b.ops = append(b.ops, batchOp{key: copyBytes(key), value: copyBytes(value)})
}

// Delete 添加删除操作
func (b *WriteBatch) Delete(key []byte) {
	if len(key) == 0 {
		return
	}
	b.ops = append(b.ops, batchOp{key: copyBytes(key), delete: true})
}

// Write 在一个事务里提交所有操作
//
// 事务超出 badger 的大小限制时整体失败，不会部分写入。
func (b *WriteBatch) Write() error {
	if b.engine.closed.Load() {
		return engine.ErrClosed
	}
	if len(b.ops) == 0 {
		return nil
	}

	err := b.engine.db.Update(func(txn *badger.Txn) error {
		for _, op := range b.ops {
			var err error
			if op.delete {
				err = txn.Delete(op.key)
			} else {
				err = txn.Set(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return convertError(err)
	}
	b.ops = b.ops[:0]
	return nil
}

// Size 返回待写入的操作数
func (b *WriteBatch) Size() int {
	return len(b.ops)
}

var _ engine.Batch = (*WriteBatch)(nil)
