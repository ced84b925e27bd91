package dht

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestTimerQueue_Order 测试按到期时间执行，同一时间按调度顺序
func TestTimerQueue_Order(t *testing.T) {
	var q timerQueue
	base := time.Unix(1000, 0)
	var order []int

	q.Schedule(base.Add(3*time.Second), func() { order = append(order, 3) })
	q.Schedule(base.Add(1*time.Second), func() { order = append(order, 1) })
	q.Schedule(base.Add(1*time.Second), func() { order = append(order, 2) })

	next, ok := q.Next()
	assert.True(t, ok)
	assert.Equal(t, base.Add(time.Second), next)

	assert.Equal(t, 2, q.RunDue(base.Add(2*time.Second)))
	assert.Equal(t, []int{1, 2}, order)

	assert.Equal(t, 1, q.RunDue(base.Add(time.Hour)))
	assert.Equal(t, []int{1, 2, 3}, order)

	_, ok = q.Next()
	assert.False(t, ok)
}

// TestTimerQueue_Cancel 测试取消的任务不执行
func TestTimerQueue_Cancel(t *testing.T) {
	var q timerQueue
	base := time.Unix(1000, 0)
	ran := false

	e := q.Schedule(base, func() { ran = true })
	later := q.Schedule(base.Add(time.Minute), func() {})
	e.Cancel()

	next, ok := q.Next()
	assert.True(t, ok)
	assert.Equal(t, base.Add(time.Minute), next, "已取消的队首被跳过")

	q.RunDue(base)
	assert.False(t, ran)

	later.Cancel()
	_, ok = q.Next()
	assert.False(t, ok)
}

// TestTimerQueue_RescheduleFromTask 测试任务中重新调度
func TestTimerQueue_RescheduleFromTask(t *testing.T) {
	var q timerQueue
	base := time.Unix(1000, 0)
	count := 0

	var tick func()
	tick = func() {
		count++
		if count < 3 {
			q.Schedule(base.Add(time.Duration(count)*time.Second), tick)
		}
	}
	q.Schedule(base, tick)

	q.RunDue(base.Add(10 * time.Second))
	assert.Equal(t, 3, count, "任务中新调度且已到期的任务在同一次执行")
}
