// Package cdp is the one concrete implementation of the two browser-facing
// collaborators the core treats as opaque (spec §1 scope note): pool.Transport
// and tabgroup.Backend. Everything here talks to a real browser's remote
// debugging HTTP+websocket surface; nothing upstream of this package knows
// or cares that CDP is the wire protocol underneath.
package cdp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/brennhill/tabfleet/internal/tabgroup"
)

// Browser owns the HTTP side of Chrome's remote debugging protocol: target
// (tab) creation and teardown. Group membership is a purely local concept —
// the browser has no native "tab group" primitive reachable over plain CDP
// without the extension-level chrome.tabGroups API, which is out of scope
// (spec §1) — so CreateGroup/CloseGroup only do local bookkeeping.
type Browser struct {
	httpAddr   string
	httpClient *http.Client
	log        *zap.Logger

	mu        sync.Mutex
	nextTab   tabgroup.TabID
	nextGroup tabgroup.GroupID
	targets   map[tabgroup.TabID]targetInfo
	groups    map[tabgroup.GroupID][]tabgroup.TabID
}

type targetInfo struct {
	id    string // Chrome's own target id, used in the REST path
	wsURL string
}

type newTargetResponse struct {
	ID                   string `json:"id"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// NewBrowser creates a Browser talking to a Chrome instance's remote
// debugging HTTP endpoint (e.g. "http://127.0.0.1:9222").
func NewBrowser(httpAddr string, log *zap.Logger) *Browser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Browser{
		httpAddr:   httpAddr,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		log:        log.Named("cdp.browser"),
		targets:    make(map[tabgroup.TabID]targetInfo),
		groups:     make(map[tabgroup.GroupID][]tabgroup.TabID),
	}
}

// CreateGroup allocates a local group id; no browser call is made.
func (b *Browser) CreateGroup(title, color string) (tabgroup.GroupID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextGroup++
	gid := b.nextGroup
	b.groups[gid] = nil
	b.log.Debug("logical group created", zap.Int("group_id", int(gid)), zap.String("title", title), zap.String("color", color))
	return gid, nil
}

// CreateTab opens a new target via Chrome's /json/new endpoint and records
// its websocket debugger URL for later Transport.Attach calls.
func (b *Browser) CreateTab(group tabgroup.GroupID, targetURL string) (tabgroup.TabID, error) {
	endpoint := fmt.Sprintf("%s/json/new", b.httpAddr)
	if targetURL != "" {
		endpoint += "?url=" + url.QueryEscape(targetURL)
	}

	resp, err := b.httpClient.Get(endpoint) // #nosec G704 -- httpAddr is operator-configured, localhost by convention
	if err != nil {
		return 0, fmt.Errorf("cdp: create tab: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("cdp: create tab: unexpected status %d", resp.StatusCode)
	}

	var created newTargetResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return 0, fmt.Errorf("cdp: create tab: decode response: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextTab++
	tab := b.nextTab
	b.targets[tab] = targetInfo{id: created.ID, wsURL: created.WebSocketDebuggerURL}
	if group != 0 {
		b.groups[group] = append(b.groups[group], tab)
	}
	return tab, nil
}

// CloseTab closes a target via /json/close/{id}.
func (b *Browser) CloseTab(tab tabgroup.TabID) error {
	b.mu.Lock()
	info, ok := b.targets[tab]
	delete(b.targets, tab)
	b.mu.Unlock()
	if !ok {
		return nil
	}

	endpoint := fmt.Sprintf("%s/json/close/%s", b.httpAddr, info.id)
	resp, err := b.httpClient.Get(endpoint) // #nosec G704 -- httpAddr is operator-configured, localhost by convention
	if err != nil {
		return fmt.Errorf("cdp: close tab: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return nil
}

// CloseGroup closes every tab recorded under group and forgets it.
func (b *Browser) CloseGroup(group tabgroup.GroupID) error {
	b.mu.Lock()
	tabs := b.groups[group]
	delete(b.groups, group)
	b.mu.Unlock()

	var firstErr error
	for _, tab := range tabs {
		if err := b.CloseTab(tab); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// wsURL returns the websocket debugger URL recorded for tab, if any.
func (b *Browser) wsURL(tab tabgroup.TabID) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.targets[tab]
	return info.wsURL, ok
}

var _ tabgroup.Backend = (*Browser)(nil)
