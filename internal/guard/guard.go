// Package guard bounds concurrent write execution two ways: a process-wide
// set of idempotency keys currently in flight, and a per-installation serial
// queue so two triggers on the same repo never race on one workspace.
//
// Both mechanisms are in-process and best-effort. The durable duplicate
// check is the marker scan in the publisher; the guard only keeps a healthy
// process from doing redundant work, and released keys must never stay
// stuck — Release runs on every exit path, crash or not.
package guard

import (
	"context"
	"sync"
)

// Inflight is the set of idempotency keys currently being published.
type Inflight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewInflight returns an empty in-flight set.
func NewInflight() *Inflight {
	return &Inflight{keys: make(map[string]struct{})}
}

// TryAcquire adds key to the set. It returns false without blocking when the
// key is already held, which the caller turns into an "already in progress"
// reply.
func (f *Inflight) TryAcquire(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.keys[key]; held {
		return false
	}
	f.keys[key] = struct{}{}
	return true
}

// Release removes key from the set. Releasing a key that is not held is a
// no-op so defer-ed releases stay safe on early-exit paths.
func (f *Inflight) Release(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
}

// Held reports whether key is currently in flight.
func (f *Inflight) Held(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, held := f.keys[key]
	return held
}

// SerialQueues runs jobs one at a time per installation while letting
// different installations proceed fully in parallel.
type SerialQueues struct {
	mu     sync.Mutex
	queues map[int64]*ticketQueue
}

// ticketQueue admits waiters strictly in the order they arrived. A mutex
// alone is not enough here: Go's mutex hands off out of arrival order under
// contention, and replies must land in the order triggers came in.
type ticketQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64 // next ticket to hand out
	serving uint64 // ticket currently admitted
}

func newTicketQueue() *ticketQueue {
	q := &ticketQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// enter takes a ticket and blocks until it is being served.
func (q *ticketQueue) enter() {
	q.mu.Lock()
	ticket := q.next
	q.next++
	for q.serving != ticket {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

// leave admits the next ticket.
func (q *ticketQueue) leave() {
	q.mu.Lock()
	q.serving++
	q.mu.Unlock()
	q.cond.Broadcast()
}

// depth reports tickets issued but not yet finished, the running job
// included.
func (q *ticketQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.next - q.serving)
}

// NewSerialQueues returns an empty queue set.
func NewSerialQueues() *SerialQueues {
	return &SerialQueues{queues: make(map[int64]*ticketQueue)}
}

func (q *SerialQueues) queueFor(installationID int64) *ticketQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	tq, ok := q.queues[installationID]
	if !ok {
		tq = newTicketQueue()
		q.queues[installationID] = tq
	}
	return tq
}

// Depth reports how many jobs are queued or running for the installation.
func (q *SerialQueues) Depth(installationID int64) int {
	return q.queueFor(installationID).depth()
}

// Do runs job behind the installation's queue. Jobs for one installation
// execute strictly in the order their Do calls arrived; jobs for different
// installations do not contend. The context is passed through to job; Do
// itself does not observe cancellation while waiting, because publish jobs
// are short and must not be abandoned half-acquired.
func (q *SerialQueues) Do(ctx context.Context, installationID int64, job func(ctx context.Context) error) error {
	tq := q.queueFor(installationID)
	tq.enter()
	defer tq.leave()
	return job(ctx)
}
