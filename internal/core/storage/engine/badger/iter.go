package badger

import (
	"bytes"

	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-kadnode/internal/core/storage/engine"
)

// Iterator BadgerDB 前缀迭代器
type Iterator struct {
	txn    *badger.Txn
	iter   *badger.Iterator
	prefix []byte
	closed bool
	err    error
}

// First 移动到第一个键值对
func (it *Iterator) First() bool {
	if it.closed {
		return false
	}
	if len(it.prefix) > 0 {
		it.iter.Seek(it.prefix)
	} else {
		it.iter.Rewind()
	}
	return it.Valid()
}

// Next 移动到下一个键值对
func (it *Iterator) Next() bool {
	if it.closed {
		return false
	}
	it.iter.Next()
	return it.Valid()
}

// Valid 检查迭代器是否指向有效位置
func (it *Iterator) Valid() bool {
	if it.closed || !it.iter.Valid() {
		return false
	}
	return len(it.prefix) == 0 || bytes.HasPrefix(it.iter.Item().Key(), it.prefix)
}

// Key 返回当前键
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.iter.Item().KeyCopy(nil)
}

// Value 返回当前值
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	value, err := it.iter.Item().ValueCopy(nil)
	if err != nil {
		it.err = err
		return nil
	}
	return value
}

// Close 关闭迭代器
func (it *Iterator) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.iter.Close()
	it.txn.Discard()
}

// Error 返回迭代过程中的错误
func (it *Iterator) Error() error {
	return it.err
}

func copyBytes(src []byte) []byte {
	if src == nil {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

var _ engine.Iterator = (*Iterator)(nil)
