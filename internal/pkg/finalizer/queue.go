package finalizer

import (
	"context"
	"sync"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/registry"
)

// jobQueue is unbounded so the packet reader never blocks on Enqueue
type jobQueue struct {
	mu     sync.Mutex
	items  []registry.Job
	notify chan struct{}
	closed bool
}

func newJobQueue() *jobQueue {
	return &jobQueue{notify: make(chan struct{}, 1)}
}

func (q *jobQueue) push(job registry.Job) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, job)
	q.mu.Unlock()
	q.wake()
	return true
}

func (q *jobQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until a job is available. ok is false once the queue is
// closed and drained, or ctx ends.
func (q *jobQueue) pop(ctx context.Context) (registry.Job, bool) {
	for {
		if ctx.Err() != nil {
			return registry.Job{}, false
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items[0] = registry.Job{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.wake() // let another worker pick up the next one
			}
			return job, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			q.wake()
			return registry.Job{}, false
		}

		select {
		case <-ctx.Done():
			return registry.Job{}, false
		case <-q.notify:
		}
	}
}

func (q *jobQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *jobQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain removes and returns whatever was never picked up
func (q *jobQueue) drain() []registry.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// keyedMutex serializes work per Call-ID
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
