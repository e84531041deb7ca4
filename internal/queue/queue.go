// Package queue implements the per-session FIFO request serializer (spec
// component A). Every browser operation tagged with a session id is
// enqueued here; at most one item per session is in flight at any time,
// while different sessions run fully in parallel with no ordering relation
// between them (spec §5, testable properties 1–2).
package queue

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrCancelled is the error a pending item's future resolves to when its
// queue is deleted out from under it via DeleteQueue.
var ErrCancelled = errors.New("queue: cancelled")

// WorkFunc is one unit of serialized work. A panic inside WorkFunc is
// recovered and turned into an error that rejects only that item; the
// session's processor keeps running (spec §4.A, failure semantics).
type WorkFunc func() (any, error)

// Future is returned by Enqueue and resolves once the processor reaches
// the corresponding item.
type Future struct {
	done   chan struct{}
	result any
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(result any, err error) {
	f.result = result
	f.err = err
	close(f.done)
}

// Wait blocks until the item has run and returns its outcome.
func (f *Future) Wait() (any, error) {
	<-f.done
	return f.result, f.err
}

// Done returns a channel that closes once the future resolves, for callers
// that want to select on it alongside a context or timeout.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

type queueItem struct {
	work   WorkFunc
	future *Future
}

type sessionQueue struct {
	mu         sync.Mutex
	items      []*queueItem
	processing bool
}

// Manager owns one FIFO sessionQueue per session id.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*sessionQueue
	log    *zap.Logger
}

// NewManager creates an empty Manager.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		queues: make(map[string]*sessionQueue),
		log:    log.Named("queue"),
	}
}

func (m *Manager) queueFor(sessionID string) *sessionQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	sq, ok := m.queues[sessionID]
	if !ok {
		sq = &sessionQueue{}
		m.queues[sessionID] = sq
	}
	return sq
}

// Enqueue appends work to sessionID's queue and returns immediately with a
// Future that resolves when the work runs. Two Enqueue calls for the same
// sessionID are guaranteed to run in the order they were called; calls for
// different session ids have no ordering relation (spec §5).
func (m *Manager) Enqueue(sessionID string, work WorkFunc) *Future {
	sq := m.queueFor(sessionID)
	future := newFuture()

	sq.mu.Lock()
	sq.items = append(sq.items, &queueItem{work: work, future: future})
	start := !sq.processing
	if start {
		sq.processing = true
	}
	sq.mu.Unlock()

	if start {
		go m.run(sessionID, sq)
	}
	return future
}

// run drains sq until it is empty, then releases the processing flag. A
// late-arriving Enqueue that lands between the emptiness check and the
// release is safe: both operate under sq.mu, so an Enqueue observed before
// the release sees processing still true (no new goroutine spawned, this
// loop will pick the item up); one observed after sees it false and spawns
// a fresh run (spec §4.A algorithm).
func (m *Manager) run(sessionID string, sq *sessionQueue) {
	for {
		sq.mu.Lock()
		if len(sq.items) == 0 {
			sq.processing = false
			sq.mu.Unlock()
			return
		}
		item := sq.items[0]
		sq.items = sq.items[1:]
		sq.mu.Unlock()

		result, err := m.invoke(sessionID, item.work)
		item.future.resolve(result, err)
	}
}

func (m *Manager) invoke(sessionID string, work WorkFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("work panicked", zap.String("session_id", sessionID), zap.Any("panic", r))
			err = fmt.Errorf("queue: work panicked: %v", r)
		}
	}()
	return work()
}

// DeleteQueue rejects every still-pending item for sessionID with
// ErrCancelled and drops the queue. An item already in flight is not
// cancelled; it finishes and its result is discarded by the caller (spec
// §5, cancellation semantics).
func (m *Manager) DeleteQueue(sessionID string) {
	m.mu.Lock()
	sq, ok := m.queues[sessionID]
	delete(m.queues, sessionID)
	m.mu.Unlock()
	if !ok {
		return
	}

	sq.mu.Lock()
	pending := sq.items
	sq.items = nil
	sq.mu.Unlock()

	for _, item := range pending {
		item.future.resolve(nil, ErrCancelled)
	}
}

// Pending returns the number of items waiting (not counting one in flight).
func (m *Manager) Pending(sessionID string) int {
	m.mu.Lock()
	sq, ok := m.queues[sessionID]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return len(sq.items)
}

// IsProcessing reports whether sessionID's queue currently has an active
// processor loop (either running an item or about to pick one up).
func (m *Manager) IsProcessing(sessionID string) bool {
	m.mu.Lock()
	sq, ok := m.queues[sessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return sq.processing
}
