// Package engine 定义存储引擎接口
//
// 所有实现必须保证线程安全。批量写入在 Write 之前对其他操作不可见。
package engine
