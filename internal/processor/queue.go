package processor

import "time"

// taskQueue 是一个线程安全的任务 ID FIFO 队列。
// 容量固定为任务总数：任何时刻排队的任务不会超过总数，Push 不会阻塞。
type taskQueue struct {
	ch chan string
}

// newTaskQueue creates a queue with a fixed capacity.
func newTaskQueue(capacity int) *taskQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &taskQueue{ch: make(chan string, capacity)}
}

// Push enqueues a task id. Returns false if the queue is full.
func (q *taskQueue) Push(id string) bool {
	select {
	case q.ch <- id:
		return true
	default:
		return false
	}
}

// Pop dequeues a task id, waiting at most timeout. The bounded wait lets the
// worker loop observe the shutdown flag between pops.
func (q *taskQueue) Pop(timeout time.Duration) (string, bool) {
	select {
	case id := <-q.ch:
		return id, true
	case <-time.After(timeout):
		return "", false
	}
}

// Len returns the number of queued task ids.
func (q *taskQueue) Len() int {
	return len(q.ch)
}
