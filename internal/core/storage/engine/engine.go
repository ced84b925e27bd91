package engine

// Engine 键值存储引擎
type Engine interface {
	// Get 获取值，键不存在时返回 ErrNotFound
	Get(key []byte) ([]byte, error)

	// Put 写入键值对
	Put(key, value []byte) error

	// Delete 删除键，键不存在不视为错误
	Delete(key []byte) error

	// Has 检查键是否存在
	Has(key []byte) (bool, error)

	// NewBatch 创建批量写入
	NewBatch() Batch

	// NewPrefixIterator 创建只遍历 prefix 开头的键的迭代器
	//
	// 调用者负责 Close。
	NewPrefixIterator(prefix []byte) Iterator

	// Start 启动后台任务
	Start() error

	// Sync 同步数据到磁盘
	Sync() error

	// Close 关闭引擎
	Close() error
}

// Batch 批量写入
//
// 非线程安全。
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)

	// Write 原子写入所有操作，之后批量对象可重用
	Write() error

	// Size 返回待写入的操作数
	Size() int
}

// Iterator 迭代器
//
// 迭代器持有创建时的快照视图。
//
//	iter := eng.NewPrefixIterator(prefix)
//	defer iter.Close()
//	for iter.First(); iter.Valid(); iter.Next() {
//	    key, value := iter.Key(), iter.Value()
//	}
//	return iter.Error()
type Iterator interface {
	First() bool
	Next() bool
	Valid() bool

	// Key 返回当前键的副本
	Key() []byte

	// Value 返回当前值的副本
	Value() []byte

	Close()
	Error() error
}
