// Package tabgroup implements the bidirectional session↔group↔tab mapping
// and ownership validation (spec component C). The underlying browser is an
// external collaborator reached through the Backend interface; this package
// owns only the bookkeeping, never the browser connection itself.
package tabgroup

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// TabID identifies a browser tab as reported by Backend.
type TabID int

// GroupID identifies a browser tab group as reported by Backend.
type GroupID int

// Colors is the 9-entry display ring tab groups rotate through (spec §3,
// §6 tabGroupColors knob).
var Colors = [9]string{
	"grey", "blue", "red", "yellow", "green", "pink", "purple", "cyan", "orange",
}

// Backend is the external browser collaborator. The core only ever calls it
// from within TabGroupRegistry methods; it never touches browser state
// directly elsewhere (spec §4.C, §1 scope note).
type Backend interface {
	CreateGroup(title, color string) (GroupID, error)
	CreateTab(group GroupID, url string) (TabID, error)
	CloseTab(tab TabID) error
	CloseGroup(group GroupID) error
}

// ErrNotOwner is returned by operations that require ownership when the
// calling session does not own the tab.
var ErrNotOwner = fmt.Errorf("tabgroup: session does not own tab")

// ErrNoGroup is returned when a session has no tab group yet.
var ErrNoGroup = fmt.Errorf("tabgroup: session has no tab group")

// Registry holds the session↔group↔tab mappings.
type Registry struct {
	mu sync.RWMutex

	backend Backend
	log     *zap.Logger

	sessionToGroup map[string]GroupID
	groupToSession map[GroupID]string
	tabToSession   map[TabID]string
	groupTabs      map[GroupID]map[TabID]struct{}

	colorIdx int
}

// NewRegistry creates an empty Registry backed by backend.
func NewRegistry(backend Backend, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		backend:        backend,
		log:            log.Named("tabgroup"),
		sessionToGroup: make(map[string]GroupID),
		groupToSession: make(map[GroupID]string),
		tabToSession:   make(map[TabID]string),
		groupTabs:      make(map[GroupID]map[TabID]struct{}),
	}
}

func (r *Registry) nextColor() string {
	c := Colors[r.colorIdx%len(Colors)]
	r.colorIdx++
	return c
}

// CreateGroup allocates a browser group for sessionID, seeds it with an
// anchor tab, and records all three mappings. Returns the existing group if
// one is already materialized for this session.
func (r *Registry) CreateGroup(sessionID, title string) (GroupID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gid, ok := r.sessionToGroup[sessionID]; ok {
		return gid, nil
	}

	color := r.nextColor()
	gid, err := r.backend.CreateGroup(title, color)
	if err != nil {
		return 0, fmt.Errorf("tabgroup: create group: %w", err)
	}

	anchor, err := r.backend.CreateTab(gid, "")
	if err != nil {
		return 0, fmt.Errorf("tabgroup: create anchor tab: %w", err)
	}

	r.sessionToGroup[sessionID] = gid
	r.groupToSession[gid] = sessionID
	r.tabToSession[anchor] = sessionID
	r.groupTabs[gid] = map[TabID]struct{}{anchor: {}}

	r.log.Debug("created group", zap.String("session_id", sessionID), zap.Int("group_id", int(gid)), zap.Int("anchor_tab", int(anchor)))
	return gid, nil
}

// CreateTabInGroup creates a new tab inside sessionID's group, creating the
// group first if it does not exist yet.
func (r *Registry) CreateTabInGroup(sessionID, url string) (TabID, error) {
	r.mu.Lock()
	gid, ok := r.sessionToGroup[sessionID]
	r.mu.Unlock()
	if !ok {
		var err error
		gid, err = r.CreateGroup(sessionID, sessionID)
		if err != nil {
			return 0, err
		}
	}

	tab, err := r.backend.CreateTab(gid, url)
	if err != nil {
		return 0, fmt.Errorf("tabgroup: create tab: %w", err)
	}

	r.mu.Lock()
	r.tabToSession[tab] = sessionID
	if r.groupTabs[gid] == nil {
		r.groupTabs[gid] = make(map[TabID]struct{})
	}
	r.groupTabs[gid][tab] = struct{}{}
	r.mu.Unlock()

	return tab, nil
}

// AddTab records an externally-created tab as belonging to sessionID's
// group (used when a tab is adopted rather than freshly created).
func (r *Registry) AddTab(tab TabID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	gid, ok := r.sessionToGroup[sessionID]
	if !ok {
		return ErrNoGroup
	}
	r.tabToSession[tab] = sessionID
	if r.groupTabs[gid] == nil {
		r.groupTabs[gid] = make(map[TabID]struct{})
	}
	r.groupTabs[gid][tab] = struct{}{}
	return nil
}

// RemoveFromGroup drops a tab's membership without closing it in the
// browser; used when the browser itself reports the tab gone.
func (r *Registry) RemoveFromGroup(tab TabID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeTabLocked(tab)
}

func (r *Registry) removeTabLocked(tab TabID) {
	sessionID, ok := r.tabToSession[tab]
	if !ok {
		return
	}
	delete(r.tabToSession, tab)
	if gid, ok := r.sessionToGroup[sessionID]; ok {
		delete(r.groupTabs[gid], tab)
	}
}

// ValidateOwnership reports whether tab belongs to sessionID. Every
// session-scoped tool invocation must call this before touching a tab
// (spec §4.C invariant); a false result must fail the caller, never fall
// back to best-effort access.
func (r *Registry) ValidateOwnership(sessionID string, tab TabID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.tabToSession[tab]
	return ok && owner == sessionID
}

// DeleteGroup closes every tab in sessionID's group and clears all
// mappings for it. Missing group is a no-op.
func (r *Registry) DeleteGroup(sessionID string) error {
	r.mu.Lock()
	gid, ok := r.sessionToGroup[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	tabs := make([]TabID, 0, len(r.groupTabs[gid]))
	for t := range r.groupTabs[gid] {
		tabs = append(tabs, t)
	}
	r.mu.Unlock()

	var firstErr error
	for _, t := range tabs {
		if err := r.backend.CloseTab(t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.backend.CloseGroup(gid); err != nil && firstErr == nil {
		firstErr = err
	}

	r.mu.Lock()
	for _, t := range tabs {
		delete(r.tabToSession, t)
	}
	delete(r.groupTabs, gid)
	delete(r.groupToSession, gid)
	delete(r.sessionToGroup, sessionID)
	r.mu.Unlock()

	return firstErr
}

// GroupOf returns the group id materialized for sessionID, if any.
func (r *Registry) GroupOf(sessionID string) (GroupID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gid, ok := r.sessionToGroup[sessionID]
	return gid, ok
}

// TabsOf returns the tabs currently recorded for sessionID's group.
func (r *Registry) TabsOf(sessionID string) []TabID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gid, ok := r.sessionToGroup[sessionID]
	if !ok {
		return nil
	}
	tabs := make([]TabID, 0, len(r.groupTabs[gid]))
	for t := range r.groupTabs[gid] {
		tabs = append(tabs, t)
	}
	return tabs
}

// OnTabRemoved is the inbound event handler for an external
// "tab closed" notification (e.g. chrome.tabs.onRemoved in the teacher's
// design notes), modeled per spec §4.C and Design Notes as a plain method
// call rather than a registered callback.
func (r *Registry) OnTabRemoved(tab TabID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeTabLocked(tab)
}

// OnGroupRemoved is the inbound event handler for an external
// "group closed" notification.
func (r *Registry) OnGroupRemoved(group GroupID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessionID, ok := r.groupToSession[group]
	if !ok {
		return
	}
	for t := range r.groupTabs[group] {
		delete(r.tabToSession, t)
	}
	delete(r.groupTabs, group)
	delete(r.groupToSession, group)
	delete(r.sessionToGroup, sessionID)
}
