package imgview

import "sync"

// taskQueue is an unbounded FIFO of functions drained by one goroutine.
// push never blocks, so callers on the UI side are never held up by work
// running on the consumer.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{wake: make(chan struct{}, 1), done: make(chan struct{})}
}

// push appends fn. It reports false once the queue is closed.
func (q *taskQueue) push(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// len returns the number of queued functions.
func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// run drains the queue until it is closed and empty. It is called on the
// consumer goroutine.
func (q *taskQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		fn()
	}
}

// stop stops accepting work without waiting for queued work, so it may be
// called from the consumer goroutine itself.
func (q *taskQueue) stop() {
	q.mu.Lock()
	already := q.closed
	q.closed = true
	q.mu.Unlock()
	if !already {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
}

// close stops accepting work and waits for queued work to finish.
func (q *taskQueue) close() {
	q.stop()
	<-q.done
}
