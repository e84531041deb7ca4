package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brennhill/tabfleet/internal/pool"
	"github.com/brennhill/tabfleet/internal/queue"
	"github.com/brennhill/tabfleet/internal/tabgroup"
)

// ErrNotFound is returned when a session id is not known to the registry.
var ErrNotFound = errors.New("session: not found")

// ErrNotOwner re-exports tabgroup.ErrNotOwner under the session package so
// tool handlers only need to import one error surface.
var ErrNotOwner = tabgroup.ErrNotOwner

// Registry owns session lifecycle and fans out lifecycle events. It is the
// canonical fused path: ExecuteCDP validates ownership via tabgroup,
// touches activity via Session, serializes via queue, and calls pool.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	colorIdx int

	groups *tabgroup.Registry
	queues *queue.Manager
	conns  *pool.Pool
	log    *zap.Logger

	listenersMu sync.RWMutex
	listeners   map[int]Listener
	nextListen  int
}

// NewRegistry wires the three collaborators a fused ExecuteCDP call needs.
func NewRegistry(groups *tabgroup.Registry, queues *queue.Manager, conns *pool.Pool, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		groups:    groups,
		queues:    queues,
		conns:     conns,
		log:       log.Named("session"),
		listeners: make(map[int]Listener),
	}
}

func (r *Registry) nextColor() string {
	c := Colors[r.colorIdx%len(Colors)]
	r.colorIdx++
	return c
}

// Create materializes a brand-new session, generating an id if the caller
// omits one.
func (r *Registry) Create(opts CreateOptions) *Session {
	r.mu.Lock()
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return existing
	}
	now := time.Now()
	s := &Session{
		ID:           id,
		Name:         opts.Name,
		Color:        r.nextColor(),
		tabs:         make(map[tabgroup.TabID]struct{}),
		CreatedAt:    now,
		lastActivity: now,
	}
	r.sessions[id] = s
	r.mu.Unlock()

	r.emit(Event{Type: EventCreated, SessionID: id})
	return s
}

// GetOrCreate returns the session for id, creating it if it does not exist.
// The dispatcher uses this for the documented tools/call auto-creation
// policy (spec §9 open question, resolved: auto-create).
func (r *Registry) GetOrCreate(id string) *Session {
	if s, ok := r.Get(id); ok {
		return s
	}
	return r.Create(CreateOptions{ID: id})
}

// Get returns the session for id without creating it.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns a snapshot of all live sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// EnsureTabGroup idempotently materializes the session's backing tab group.
func (r *Registry) EnsureTabGroup(sessionID string) (tabgroup.GroupID, error) {
	s, ok := r.Get(sessionID)
	if !ok {
		return 0, ErrNotFound
	}
	gid, err := r.groups.CreateGroup(sessionID, s.Name)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.TabGroupID = gid
	s.HasTabGroup = true
	s.mu.Unlock()
	return gid, nil
}

// CreateTab creates a new tab inside sessionID's group (materializing the
// group first if necessary) and records it on the Session.
func (r *Registry) CreateTab(sessionID, url string) (tabgroup.TabID, error) {
	s, ok := r.Get(sessionID)
	if !ok {
		return 0, ErrNotFound
	}
	if !s.HasTabGroup {
		if _, err := r.EnsureTabGroup(sessionID); err != nil {
			return 0, err
		}
	}
	tab, err := r.groups.CreateTabInGroup(sessionID, url)
	if err != nil {
		return 0, err
	}
	s.addTab(tab)
	r.emit(Event{Type: EventTabAdded, SessionID: sessionID, TabID: tab})
	return tab, nil
}

// AddTab records an externally-created tab as belonging to sessionID.
func (r *Registry) AddTab(sessionID string, tab tabgroup.TabID) error {
	s, ok := r.Get(sessionID)
	if !ok {
		return ErrNotFound
	}
	if err := r.groups.AddTab(tab, sessionID); err != nil {
		return err
	}
	s.addTab(tab)
	r.emit(Event{Type: EventTabAdded, SessionID: sessionID, TabID: tab})
	return nil
}

// RemoveTab drops a tab's membership from sessionID.
func (r *Registry) RemoveTab(sessionID string, tab tabgroup.TabID) {
	s, ok := r.Get(sessionID)
	if !ok {
		return
	}
	r.groups.RemoveFromGroup(tab)
	s.removeTab(tab)
	r.emit(Event{Type: EventTabRemoved, SessionID: sessionID, TabID: tab})
}

// ExecuteCDP is the canonical fused path (spec §4.D): validate ownership,
// touch activity, enqueue through the session's FIFO queue, and call the
// connection pool from inside the queued work so this session's operations
// never interleave with each other regardless of caller concurrency.
func (r *Registry) ExecuteCDP(ctx context.Context, sessionID string, tab tabgroup.TabID, method string, params any) (any, error) {
	s, ok := r.Get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	if !r.groups.ValidateOwnership(sessionID, tab) {
		return nil, fmt.Errorf("%w: session %s does not own tab %d", ErrNotOwner, sessionID, tab)
	}
	s.touch()

	wasAttached := r.conns.IsAttached(sessionID, int(tab))

	future := r.queues.Enqueue(sessionID, func() (any, error) {
		return r.conns.Execute(ctx, sessionID, int(tab), method, params)
	})
	result, err := future.Wait()
	if err == nil && !wasAttached && r.conns.IsAttached(sessionID, int(tab)) {
		r.emit(Event{Type: EventCDPAttached, SessionID: sessionID, TabID: tab})
	}
	return result, err
}

// Delete tears a session down: detach every pool connection, delete its
// tab group (closing its tabs), drop its request queue, clear it from the
// registry, and emit session:deleted (spec §3 lifecycle).
func (r *Registry) Delete(sessionID string) error {
	r.mu.Lock()
	_, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	detached := r.conns.DetachAll(context.Background(), sessionID)
	if err := r.groups.DeleteGroup(sessionID); err != nil {
		r.log.Warn("delete group failed during session delete", zap.String("session_id", sessionID), zap.Error(err))
	}
	r.queues.DeleteQueue(sessionID)

	for _, tab := range detached {
		r.emit(Event{Type: EventCDPDetached, SessionID: sessionID, TabID: tabgroup.TabID(tab)})
	}
	r.emit(Event{Type: EventDeleted, SessionID: sessionID})
	return nil
}

// ReapIdle scans once for sessions whose last activity is older than
// maxAgeMs and deletes them, returning the ids reaped. A session that
// receives a new operation concurrently with the scan either loses the
// race (and the in-flight operation later fails with "not found", an
// acceptable outcome per spec §5) or wins it (its activity timestamp is
// newer than the cutoff, so it survives this pass).
func (r *Registry) ReapIdle(maxAgeMs int64) []string {
	cutoff := time.Now().Add(-time.Duration(maxAgeMs) * time.Millisecond)

	r.mu.RLock()
	var stale []string
	for id, s := range r.sessions {
		if s.LastActivityAtMillis() < cutoff.UnixMilli() {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	var reaped []string
	for _, id := range stale {
		if err := r.Delete(id); err == nil {
			reaped = append(reaped, id)
		}
	}
	return reaped
}

// AddListener registers cb and returns a token for RemoveListener.
func (r *Registry) AddListener(cb Listener) int {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	id := r.nextListen
	r.nextListen++
	r.listeners[id] = cb
	return id
}

// RemoveListener unregisters a listener by its AddListener token.
func (r *Registry) RemoveListener(token int) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	delete(r.listeners, token)
}

func (r *Registry) emit(ev Event) {
	r.listenersMu.RLock()
	cbs := make([]Listener, 0, len(r.listeners))
	for _, cb := range r.listeners {
		cbs = append(cbs, cb)
	}
	r.listenersMu.RUnlock()

	for _, cb := range cbs {
		r.callListener(cb, ev)
	}
}

func (r *Registry) callListener(cb Listener, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("session listener panicked", zap.Any("panic", rec), zap.String("event", string(ev.Type)))
		}
	}()
	cb(ev)
}
