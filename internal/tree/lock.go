package tree

import "sync"

// lockTable implements the per-node advisory lock: a FIFO queue keyed by
// node id. It serializes concurrent find-or-create attempts under the same
// parent; reads never take it. Acquisition cannot fail, it only waits.
type lockTable struct {
	mu     sync.Mutex
	queues map[int64][]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{queues: make(map[int64][]chan struct{})}
}

// take enqueues the caller and blocks until it reaches the head.
func (t *lockTable) take(id int64) {
	ch := make(chan struct{})
	t.mu.Lock()
	q := append(t.queues[id], ch)
	t.queues[id] = q
	if len(q) == 1 {
		close(ch)
	}
	t.mu.Unlock()
	<-ch
}

// leave advances the queue, waking the next waiter if any.
func (t *lockTable) leave(id int64) {
	t.mu.Lock()
	q := t.queues[id]
	if len(q) == 0 {
		t.mu.Unlock()
		return
	}
	q = q[1:]
	if len(q) == 0 {
		delete(t.queues, id)
	} else {
		t.queues[id] = q
		close(q[0])
	}
	t.mu.Unlock()
}
