package session

import "sync"

// queue is an unbounded FIFO of operations for the authority loop. Enqueue
// never blocks, so transport read loops can hand over commands without
// waiting for the loop.
type queue struct {
	mu     sync.Mutex
	ops    []func()
	closed bool
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{
		ops:    make([]func(), 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// enqueue returns false once the queue is closed.
func (q *queue) enqueue(op func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.ops = append(q.ops, op)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *queue) tryDequeue() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ops) == 0 {
		return nil, false
	}
	op := q.ops[0]
	q.ops[0] = nil
	if len(q.ops) == 1 {
		q.ops = q.ops[:0]
	} else {
		q.ops = q.ops[1:]
	}
	return op, true
}

// wait fires when operations may be available. It is closed by close.
func (q *queue) wait() <-chan struct{} { return q.signal }

// drained reports a closed queue with nothing left to run.
func (q *queue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.ops) == 0
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
