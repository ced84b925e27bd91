package dht

import (
	"container/heap"
	"time"
)

// ============================================================================
//                              到期队列
// ============================================================================

// timerEntry 到期队列中的一个任务
type timerEntry struct {
	due      time.Time
	seq      uint64
	fn       func()
	index    int
	canceled bool
}

// Cancel 取消任务（惰性删除，出队时跳过）
func (e *timerEntry) Cancel() {
	if e != nil {
		e.canceled = true
		e.fn = nil
	}
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// timerQueue 按到期时间排序的任务队列
//
// 事件循环只持有一个真实定时器，每次重置为队首的到期时间。
// 非并发安全。
type timerQueue struct {
	items timerHeap
	seq   uint64
}

// Schedule 在 due 时刻执行 fn
func (q *timerQueue) Schedule(due time.Time, fn func()) *timerEntry {
	q.seq++
	e := &timerEntry{due: due, seq: q.seq, fn: fn}
	heap.Push(&q.items, e)
	return e
}

// Next 返回最早的未取消任务的到期时间
func (q *timerQueue) Next() (time.Time, bool) {
	for len(q.items) > 0 {
		top := q.items[0]
		if !top.canceled {
			return top.due, true
		}
		heap.Pop(&q.items)
	}
	return time.Time{}, false
}

// RunDue 执行所有已到期的任务，返回执行数量
//
// 任务执行中新调度的任务若已到期，也会在本次执行。
func (q *timerQueue) RunDue(now time.Time) int {
	ran := 0
	for len(q.items) > 0 {
		top := q.items[0]
		if top.canceled {
			heap.Pop(&q.items)
			continue
		}
		if top.due.After(now) {
			break
		}
		heap.Pop(&q.items)
		fn := top.fn
		top.fn = nil
		top.canceled = true
		if fn != nil {
			fn()
			ran++
		}
	}
	return ran
}

// Len 返回队列中的任务数（含已取消但未出队的）
func (q *timerQueue) Len() int {
	return len(q.items)
}
