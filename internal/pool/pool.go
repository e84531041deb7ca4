// Package pool implements the connection pool (spec component B): the
// attach/detach lifecycle of the debug channel for each (session, tab)
// pair, with concurrent-attach coalescing and one-shot reattach-on-detach
// recovery around Execute.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrDetached is the sentinel a Transport must wrap into (via errors.Is) or
// return directly when an Execute call fails because the underlying debug
// channel was detached mid-call. Any other error from Execute is surfaced
// as-is without the reattach-and-retry dance.
var ErrDetached = errors.New("pool: connection detached")

// Transport is the opaque low-level debugger channel (CDP in the real
// system). The core never interprets its protocol; it only attaches,
// detaches, and forwards typed calls (spec §1 scope note).
type Transport interface {
	Attach(ctx context.Context, tab int) error
	Detach(ctx context.Context, tab int) error
	Execute(ctx context.Context, tab int, method string, params any) (any, error)
}

type connKey struct {
	session string
	tab     int
}

type connState struct {
	attached bool
}

// Pool owns the (session, tab) -> {attached} map.
type Pool struct {
	mu          sync.Mutex
	connections map[connKey]*connState
	attachGroup singleflight.Group
	transport   Transport
	log         *zap.Logger
}

// New creates a Pool fronting transport.
func New(transport Transport, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		connections: make(map[connKey]*connState),
		transport:   transport,
		log:         log.Named("pool"),
	}
}

func keyString(session string, tab int) string {
	return fmt.Sprintf("%s:%d", session, tab)
}

// Attach is idempotent: if already attached it returns immediately; if an
// attach is already in flight for this key, the caller waits on that one
// instead of issuing a second Attach (spec §4.B, testable property 10).
func (p *Pool) Attach(ctx context.Context, session string, tab int) error {
	if p.IsAttached(session, tab) {
		return nil
	}

	_, err, _ := p.attachGroup.Do(keyString(session, tab), func() (any, error) {
		if p.IsAttached(session, tab) {
			return nil, nil
		}
		if err := p.transport.Attach(ctx, tab); err != nil {
			return nil, fmt.Errorf("pool: attach %s/%d: %w", session, tab, err)
		}
		p.mu.Lock()
		p.connections[connKey{session, tab}] = &connState{attached: true}
		p.mu.Unlock()
		return nil, nil
	})
	return err
}

// IsAttached reflects only confirmed state, never an in-flight attempt.
func (p *Pool) IsAttached(session string, tab int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.connections[connKey{session, tab}]
	return ok && st.attached
}

// Detach is best-effort and tolerant of "already detached".
func (p *Pool) Detach(ctx context.Context, session string, tab int) error {
	p.mu.Lock()
	key := connKey{session, tab}
	_, known := p.connections[key]
	delete(p.connections, key)
	p.mu.Unlock()

	if !known {
		return nil
	}
	if err := p.transport.Detach(ctx, tab); err != nil {
		p.log.Debug("detach error ignored", zap.String("session_id", session), zap.Int("tab", tab), zap.Error(err))
	}
	return nil
}

// Execute ensures the connection is attached, then forwards the call. If
// the transport reports a detach-during-call error, the connection is
// marked detached, reattached once, and the call retried once; a second
// failure is surfaced to the caller (spec §4.B, §7 ConnectionDetached row).
func (p *Pool) Execute(ctx context.Context, session string, tab int, method string, params any) (any, error) {
	if err := p.Attach(ctx, session, tab); err != nil {
		return nil, err
	}

	result, err := p.transport.Execute(ctx, tab, method, params)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrDetached) {
		return nil, err
	}

	p.mu.Lock()
	delete(p.connections, connKey{session, tab})
	p.mu.Unlock()
	p.log.Warn("connection detached during call, reattaching", zap.String("session_id", session), zap.Int("tab", tab))

	if reattachErr := p.Attach(ctx, session, tab); reattachErr != nil {
		return nil, fmt.Errorf("pool: reattach after detach: %w", reattachErr)
	}

	result, err = p.transport.Execute(ctx, tab, method, params)
	if err != nil {
		return nil, fmt.Errorf("pool: retry after reattach failed: %w", err)
	}
	return result, nil
}

// DetachAll detaches every connection owned by session and returns the tab
// ids it detached, so a caller can emit a per-tab detach event (spec §3
// lifecycle, session.Registry.Delete). Errors from individual detaches are
// logged but never propagated (spec §4.B).
func (p *Pool) DetachAll(ctx context.Context, session string) []int {
	p.mu.Lock()
	var tabs []int
	for k := range p.connections {
		if k.session == session {
			tabs = append(tabs, k.tab)
		}
	}
	p.mu.Unlock()

	for _, tab := range tabs {
		_ = p.Detach(ctx, session, tab)
	}
	return tabs
}

// OnDetach is the inbound event handler for an external "debugger detached"
// notification; it marks the matching connection as detached without
// calling back into the transport (spec §4.B).
func (p *Pool) OnDetach(tab int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.connections {
		if k.tab == tab {
			delete(p.connections, k)
			p.log.Debug("connection marked detached by external event", zap.Int("tab", tab), zap.String("reason", reason))
		}
	}
}
