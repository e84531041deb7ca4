// Package workerpool is the concrete SessionManager/PagePool collaborator
// workflow.Engine's doc comments describe as "session.Registry plus tab
// creation, kept abstract to avoid an import cycle". It adapts
// session.Registry and tabgroup.Registry to the two narrow interfaces the
// workflow package depends on, and pre-warms blank tabs through the same
// tabgroup.Backend the registry already uses.
package workerpool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/brennhill/tabfleet/internal/session"
	"github.com/brennhill/tabfleet/internal/tabgroup"
	"github.com/brennhill/tabfleet/internal/workflow"
)

// Adapter implements workflow.SessionManager and workflow.PagePool.
type Adapter struct {
	sessions *session.Registry
	backend  tabgroup.Backend
	log      *zap.Logger

	mu      sync.Mutex
	workers map[string]tabgroup.TabID // sessionID+"/"+workerID -> tab
}

// New creates an Adapter over sessions (for tab ownership bookkeeping) and
// backend (for pre-warming blank pages independent of any session).
func New(sessions *session.Registry, backend tabgroup.Backend, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		sessions: sessions,
		backend:  backend,
		log:      log.Named("workerpool"),
		workers:  make(map[string]tabgroup.TabID),
	}
}

func workerKey(sessionID, workerID string) string {
	return sessionID + "/" + workerID
}

// CreateWorker materializes spec as a tab inside sessionID's group and
// records the worker->tab mapping so DeleteWorker can close it later.
func (a *Adapter) CreateWorker(sessionID string, spec workflow.WorkerSpec) (workflow.Worker, error) {
	tab, err := a.sessions.CreateTab(sessionID, spec.TargetURL)
	if err != nil {
		return workflow.Worker{}, fmt.Errorf("workerpool: create tab for worker %q: %w", spec.Name, err)
	}

	a.mu.Lock()
	a.workers[workerKey(sessionID, spec.ID)] = tab
	a.mu.Unlock()

	a.log.Debug("worker tab created", zap.String("session_id", sessionID), zap.String("worker_id", spec.ID), zap.Int("tab", int(tab)))
	return workflow.Worker{ID: spec.ID, Name: spec.Name}, nil
}

// DeleteWorker closes and forgets workerID's tab. Unknown workers are a
// no-op, matching the engine's best-effort cleanup during CleanupWorkflow.
func (a *Adapter) DeleteWorker(sessionID, workerID string) error {
	key := workerKey(sessionID, workerID)

	a.mu.Lock()
	tab, ok := a.workers[key]
	delete(a.workers, key)
	a.mu.Unlock()
	if !ok {
		return nil
	}

	a.sessions.RemoveTab(sessionID, tab)
	return nil
}

// AdoptPage wires page, one of the values handed back by AcquireBatch, in as
// workerID's tab instead of calling CreateTab for a fresh one, then navigates
// it to targetURL. Used when a step's ShareCookies is set: the tab was
// pre-warmed in the same browser profile so it already carries the session's
// cookie jar, and only needs a navigate rather than a brand-new target.
func (a *Adapter) AdoptPage(sessionID, workerID, workerName, targetURL string, page workflow.Page) (workflow.Worker, error) {
	tab, ok := page.(tabgroup.TabID)
	if !ok {
		return workflow.Worker{}, fmt.Errorf("workerpool: page for worker %q is %T, not a tabgroup.TabID", workerID, page)
	}
	if err := a.sessions.AddTab(sessionID, tab); err != nil {
		return workflow.Worker{}, fmt.Errorf("workerpool: adopt tab for worker %q: %w", workerName, err)
	}

	if targetURL != "" {
		if _, err := a.sessions.ExecuteCDP(context.Background(), sessionID, tab, "Page.navigate", map[string]any{"url": targetURL}); err != nil {
			a.sessions.RemoveTab(sessionID, tab)
			return workflow.Worker{}, fmt.Errorf("workerpool: navigate adopted tab for worker %q: %w", workerName, err)
		}
	}

	a.mu.Lock()
	a.workers[workerKey(sessionID, workerID)] = tab
	a.mu.Unlock()

	a.log.Debug("worker tab adopted", zap.String("session_id", sessionID), zap.String("worker_id", workerID), zap.Int("tab", int(tab)))
	return workflow.Worker{ID: workerID, Name: workerName}, nil
}

// AcquireBatch pre-warms n blank tabs outside any session's group, handed
// back to the engine as opaque workflow.Page values. Tabs acquired here but
// never adopted via AdoptPage are currently not reclaimed; a caller that
// over-requests leaks blank tabs until the browser is closed.
func (a *Adapter) AcquireBatch(n int) ([]workflow.Page, error) {
	if n <= 0 {
		return nil, nil
	}
	pages := make([]workflow.Page, 0, n)
	for i := 0; i < n; i++ {
		tab, err := a.backend.CreateTab(0, "about:blank")
		if err != nil {
			return pages, fmt.Errorf("workerpool: acquire page %d/%d: %w", i+1, n, err)
		}
		pages = append(pages, tab)
	}
	return pages, nil
}

var (
	_ workflow.SessionManager = (*Adapter)(nil)
	_ workflow.PagePool       = (*Adapter)(nil)
)
