// Package session implements session lifecycle, tab ownership, idle
// reaping, and lifecycle event fan-out (spec component D). It is the
// canonical fused path tool handlers go through: every session-scoped
// operation is validated, timestamped, queued, and executed from here.
package session

import (
	"sync"
	"time"

	"github.com/brennhill/tabfleet/internal/tabgroup"
)

// Colors mirrors the 9-entry display ring sessions rotate through,
// independent of the tab group color ring (spec §3).
var Colors = [9]string{
	"slate", "sky", "rose", "amber", "emerald", "fuchsia", "violet", "teal", "orange",
}

// Session is one isolated agent identity.
type Session struct {
	mu sync.RWMutex

	ID           string
	Name         string
	Color        string
	TabGroupID   tabgroup.GroupID
	HasTabGroup  bool
	tabs         map[tabgroup.TabID]struct{}
	CreatedAt    time.Time
	lastActivity time.Time
}

// CreatedAtMillis returns CreatedAt as monotonic-style epoch millis.
func (s *Session) CreatedAtMillis() int64 {
	return s.CreatedAt.UnixMilli()
}

// LastActivityAtMillis returns the last-touched timestamp as epoch millis.
func (s *Session) LastActivityAtMillis() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity.UnixMilli()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Tabs returns a snapshot of the tab ids currently owned by this session.
func (s *Session) Tabs() []tabgroup.TabID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tabgroup.TabID, 0, len(s.tabs))
	for t := range s.tabs {
		out = append(out, t)
	}
	return out
}

func (s *Session) addTab(tab tabgroup.TabID) {
	s.mu.Lock()
	s.tabs[tab] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) removeTab(tab tabgroup.TabID) {
	s.mu.Lock()
	delete(s.tabs, tab)
	s.mu.Unlock()
}

// EventType enumerates the lifecycle events the registry publishes.
type EventType string

const (
	EventCreated     EventType = "created"
	EventDeleted     EventType = "deleted"
	EventTabAdded    EventType = "tab-added"
	EventTabRemoved  EventType = "tab-removed"
	EventCDPAttached EventType = "cdp-attached"
	EventCDPDetached EventType = "cdp-detached"
)

// Event is published to every registered listener.
type Event struct {
	Type      EventType
	SessionID string
	TabID     tabgroup.TabID
}

// Listener receives Events. A panicking Listener is isolated by the
// registry; it never aborts the triggering operation or affects other
// listeners (spec §4.D, failure isolation).
type Listener func(Event)

// CreateOptions configures Create/GetOrCreate.
type CreateOptions struct {
	ID   string
	Name string
}
