// Package refid implements the per-session, per-tab generator of stable
// short reference ids for accessibility-tree nodes (spec component H).
package refid

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

func defaultNow() int64 { return time.Now().UnixMilli() }

// Entry is one generated reference.
type Entry struct {
	RefID         string
	BackendNodeID int
	Role          string
	Name          string
	CreatedAtMs   int64
}

type tabKey struct {
	session string
	tab     int
}

type tabEntries struct {
	next    int
	entries map[string]Entry
}

// Registry generates and looks up ref ids, scoped per (session, tab).
// Counters are dense and monotonic within one read cycle and never reused
// until the owning tab is cleared (spec §3, testable property 9).
type Registry struct {
	mu   sync.Mutex
	tabs map[tabKey]*tabEntries
	now  func() int64
	log  *zap.Logger
}

// New creates an empty Registry. now defaults to a wall-clock millis func
// when nil; tests can inject a deterministic clock.
func New(now func() int64, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = defaultNow
	}
	return &Registry{tabs: make(map[tabKey]*tabEntries), now: now, log: log.Named("refid")}
}

// Generate allocates the next ref id for (session, tab).
func (r *Registry) Generate(session string, tab int, backendNodeID int, role, name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tabKey{session, tab}
	te, ok := r.tabs[key]
	if !ok {
		te = &tabEntries{entries: make(map[string]Entry)}
		r.tabs[key] = te
	}
	te.next++
	refID := fmt.Sprintf("ref_%d", te.next)
	te.entries[refID] = Entry{
		RefID:         refID,
		BackendNodeID: backendNodeID,
		Role:          role,
		Name:          name,
		CreatedAtMs:   r.now(),
	}
	return refID
}

// Get looks up a previously generated entry.
func (r *Registry) Get(session string, tab int, refID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	te, ok := r.tabs[tabKey{session, tab}]
	if !ok {
		return Entry{}, false
	}
	entry, ok := te.entries[refID]
	return entry, ok
}

// ClearTab resets the counter and drops all entries for (session, tab),
// called on navigation.
func (r *Registry) ClearTab(session string, tab int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, tabKey{session, tab})
}

// ClearSession drops every tab's entries for session.
func (r *Registry) ClearSession(session string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.tabs {
		if key.session == session {
			delete(r.tabs, key)
		}
	}
}
