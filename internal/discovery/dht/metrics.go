package dht

import "time"

// Metrics DHT 指标收集接口
//
// 所有方法都在事件循环中调用，实现必须是非阻塞的。
type Metrics interface {
	// MessageReceived 收到一个合法报文
	MessageReceived(kind MessageKind)

	// MessageSent 发出一个报文
	MessageSent(kind MessageKind)

	// MessageDropped 丢弃一个报文
	MessageDropped(reason string)

	// RequestTimedOut 请求重传耗尽
	RequestTimedOut(kind MessageKind)

	// LookupDone 一次迭代查询结束
	LookupDone(kind string, rounds int, took time.Duration, err error)
}

type nopMetrics struct{}

func (nopMetrics) MessageReceived(MessageKind)                   {}
func (nopMetrics) MessageSent(MessageKind)                       {}
func (nopMetrics) MessageDropped(string)                         {}
func (nopMetrics) RequestTimedOut(MessageKind)                   {}
func (nopMetrics) LookupDone(string, int, time.Duration, error) {}
