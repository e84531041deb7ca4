package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brennhill/tabfleet/internal/scratchpad"
)

// ErrNotFound is returned for operations against an unknown orchestration.
var ErrNotFound = errors.New("workflow: orchestration not found")

// ErrWorkerNotFound is returned for operations against an unknown worker
// name inside a known orchestration.
var ErrWorkerNotFound = errors.New("workflow: worker not found")

type workerRuntime struct {
	id            string
	name          string
	status        Status
	resultSummary string
	iteration     int
	dataHash      string
	staleCount    int
	timer         *time.Timer
}

// inMemoryState is the authoritative twin of OrchestrationState (spec §3):
// correctness lives here, the scratchpad file is a write-behind snapshot.
type inMemoryState struct {
	mu sync.Mutex

	id        string
	sessionID string
	createdAt time.Time

	workers map[string]*workerRuntime
	order   []string

	completed int
	failed    int
	allDone   bool
	status    OrchestrationStatus

	maxStale    int
	globalTimer *time.Timer
	stopped     bool
}

// Engine owns every live workflow's InMemoryWorkflowState and the single
// completion mutex shared across all of them.
type Engine struct {
	statesMu  sync.RWMutex
	states    map[string]*inMemoryState // by orchestrationId
	bySession map[string]string         // sessionId -> most recent orchestrationId
	recent    string                    // most recently created orchestrationId

	completionMu sync.Mutex

	sessions SessionManager
	pages    PagePool
	scratch  *scratchpad.Store
	log      *zap.Logger
}

// New creates an Engine wired to its collaborators.
func New(sessions SessionManager, pages PagePool, scratch *scratchpad.Store, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		states:    make(map[string]*inMemoryState),
		bySession: make(map[string]string),
		sessions:  sessions,
		pages:     pages,
		scratch:   scratch,
		log:       log.Named("workflow"),
	}
}

func newOrchestrationID() string {
	return fmt.Sprintf("orch-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// InitWorkflow materializes every step as a worker (spec §4.G protocol).
// Page acquisition failures and navigation failures are non-fatal: the
// worker is still created and reported, just without a loaded URL.
func (e *Engine) InitWorkflow(sessionID string, def Definition) (string, error) {
	orchestrationID := newOrchestrationID()

	pages, err := e.pages.AcquireBatch(len(def.Steps))
	if err != nil {
		e.log.Warn("batch page acquisition failed, continuing without pages", zap.Error(err))
		pages = nil
	}

	st := &inMemoryState{
		id:        orchestrationID,
		sessionID: sessionID,
		createdAt: time.Now(),
		workers:   make(map[string]*workerRuntime, len(def.Steps)),
		maxStale:  def.maxStaleIterations(),
	}

	// Worker/page bring-up runs concurrently across steps (spec §4.G step 2);
	// each step only touches its own slot in results, so no shared state
	// needs protecting beyond that slice.
	results := make([]struct {
		worker Worker
		ok     bool
	}, len(def.Steps))

	var g errgroup.Group
	for i, step := range def.Steps {
		i, step := i, step
		g.Go(func() error {
			var (
				worker Worker
				err    error
			)
			if i < len(pages) && step.ShareCookies {
				worker, err = e.sessions.AdoptPage(sessionID, step.WorkerID, step.WorkerName, step.URL, pages[i])
				if err != nil {
					e.log.Warn("page adoption failed, falling back to a fresh worker tab",
						zap.String("worker_name", step.WorkerName), zap.Error(err))
					worker, err = e.sessions.CreateWorker(sessionID, WorkerSpec{
						ID:           step.WorkerID,
						Name:         step.WorkerName,
						ShareCookies: step.ShareCookies,
						TargetURL:    step.URL,
					})
				}
			} else {
				worker, err = e.sessions.CreateWorker(sessionID, WorkerSpec{
					ID:           step.WorkerID,
					Name:         step.WorkerName,
					ShareCookies: step.ShareCookies,
					TargetURL:    step.URL,
				})
			}
			if err != nil {
				e.log.Error("create worker failed, skipping step", zap.String("worker_name", step.WorkerName), zap.Error(err))
				return nil
			}

			e.scratch.WriteWorker(worker.Name, scratchpad.WorkerState{Name: worker.Name, Status: string(StatusInit)})
			results[i] = struct {
				worker Worker
				ok     bool
			}{worker: worker, ok: true}
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if !res.ok {
			continue
		}
		worker := res.worker
		rt := &workerRuntime{id: worker.ID, name: worker.Name, status: StatusInit}
		st.workers[worker.Name] = rt
		st.order = append(st.order, worker.Name)

		timeout := def.workerTimeout()
		rt.timer = time.AfterFunc(timeout, func() {
			e.forceComplete(orchestrationID, worker.Name, StatusPartial, "timeout")
		})
	}

	st.status = OrchInit
	st.globalTimer = time.AfterFunc(def.globalTimeout(), func() {
		e.forceCompleteAllRunning(orchestrationID, "timeout")
	})

	e.statesMu.Lock()
	e.states[orchestrationID] = st
	e.bySession[sessionID] = orchestrationID
	e.recent = orchestrationID
	e.statesMu.Unlock()

	_ = e.persist(st)
	return orchestrationID, nil
}

func (e *Engine) getState(orchestrationID string) *inMemoryState {
	e.statesMu.RLock()
	defer e.statesMu.RUnlock()
	return e.states[orchestrationID]
}

func contentHash(data json.RawMessage) string {
	n := len(data)
	lead := n
	if lead > 32 {
		lead = 32
	}
	return fmt.Sprintf("%d:%s", n, string(data[:lead]))
}

// UpdateWorkerProgress records a progress entry and applies the stale-data
// circuit breaker: when extractedData is unchanged from the prior update
// for maxStaleIterations consecutive calls, the worker is force-completed
// as PARTIAL with reason "stale" (spec §4.G).
func (e *Engine) UpdateWorkerProgress(orchestrationID, name string, update ProgressUpdate) error {
	st := e.getState(orchestrationID)
	if st == nil {
		return ErrNotFound
	}

	st.mu.Lock()
	rt, ok := st.workers[name]
	if !ok {
		st.mu.Unlock()
		return ErrWorkerNotFound
	}
	if isTerminal(rt.status) {
		st.mu.Unlock()
		return nil
	}
	if update.Status != "" {
		rt.status = update.Status
	}
	if update.Iteration != 0 {
		rt.iteration = update.Iteration
	}

	forceStale := false
	if len(update.ExtractedData) > 0 {
		hash := contentHash(update.ExtractedData)
		if hash == rt.dataHash {
			rt.staleCount++
		} else {
			rt.dataHash = hash
			rt.staleCount = 1
		}
		forceStale = rt.staleCount >= st.maxStale
	}
	st.mu.Unlock()

	e.scratch.AddProgressEntry(name, update.Action, update.Result, update.Error)

	if forceStale {
		e.forceComplete(orchestrationID, name, StatusPartial, "stale-data circuit breaker: no new data across consecutive updates")
	}
	return nil
}

// CompleteWorker is the spec §4.G contract: scratchpad write outside the
// critical section, then the completion-mutex-protected counter update.
func (e *Engine) CompleteWorker(orchestrationID, name string, status Status, summary string, data json.RawMessage) error {
	st := e.getState(orchestrationID)
	if st == nil {
		return ErrNotFound
	}

	ws := scratchpad.WorkerState{Name: name, Status: string(status)}
	if existing, ok := e.scratch.ReadWorker(name); ok {
		ws = existing
		ws.Status = string(status)
	}
	e.scratch.WriteWorker(name, ws)

	return e.applyCompletion(st, name, status, summary)
}

func (e *Engine) forceComplete(orchestrationID, name string, status Status, reason string) {
	if err := e.CompleteWorker(orchestrationID, name, status, reason, nil); err != nil && !errors.Is(err, ErrWorkerNotFound) {
		e.log.Warn("force-complete failed", zap.String("orchestration_id", orchestrationID), zap.String("worker_name", name), zap.Error(err))
	}
}

func (e *Engine) forceCompleteAllRunning(orchestrationID, reason string) {
	st := e.getState(orchestrationID)
	if st == nil {
		return
	}
	st.mu.Lock()
	var running []string
	for _, name := range st.order {
		if !isTerminal(st.workers[name].status) {
			running = append(running, name)
		}
	}
	st.mu.Unlock()

	for _, name := range running {
		e.forceComplete(orchestrationID, name, StatusPartial, reason)
	}
}

// applyCompletion performs the counter-update rules under the shared
// completion mutex (spec §4.G, testable properties 4-6).
func (e *Engine) applyCompletion(st *inMemoryState, name string, status Status, summary string) error {
	e.completionMu.Lock()
	defer e.completionMu.Unlock()

	st.mu.Lock()
	rt, ok := st.workers[name]
	if !ok {
		st.mu.Unlock()
		return ErrWorkerNotFound
	}

	previous := rt.status
	wasAlreadyCompleted := isTerminal(previous)
	rt.status = status
	rt.resultSummary = summary
	if rt.timer != nil {
		rt.timer.Stop()
	}

	if !wasAlreadyCompleted {
		switch status {
		case StatusSuccess, StatusPartial:
			st.completed++
		case StatusFail:
			st.failed++
		}
	} else {
		prevCat, newCat := category(previous), category(status)
		switch {
		case prevCat == "ok" && newCat == "fail":
			st.completed--
			st.failed++
		case prevCat == "fail" && newCat == "ok":
			st.failed--
			st.completed++
		}
	}

	recomputeStatus(st)
	allDone := st.allDone
	st.mu.Unlock()

	if allDone && st.globalTimer != nil {
		st.globalTimer.Stop()
	}

	if err := e.persist(st); err != nil {
		e.log.Warn("write-behind persistence failed, in-memory state remains canonical",
			zap.String("orchestration_id", st.id), zap.Error(err))
	}
	return nil
}

// recomputeStatus applies the §3 invariant: FAILED iff every worker FAIL;
// COMPLETED iff every worker SUCCESS or PARTIAL; PARTIAL iff mixed and all
// done; else RUNNING (or INIT if none finished yet). Caller holds st.mu.
func recomputeStatus(st *inMemoryState) {
	total := len(st.workers)
	st.allDone = st.completed+st.failed == total
	if !st.allDone {
		if st.completed == 0 && st.failed == 0 {
			st.status = OrchInit
		} else {
			st.status = OrchRunning
		}
		return
	}
	switch {
	case st.failed == total:
		st.status = OrchFailed
	case st.completed == total:
		st.status = OrchCompleted
	default:
		st.status = OrchPartial
	}
}

func (e *Engine) persist(st *inMemoryState) error {
	st.mu.Lock()
	workers := make([]string, 0, len(st.order))
	for _, name := range st.order {
		workers = append(workers, name)
	}
	snapshot := scratchpad.OrchestrationState{
		JobID:        st.id,
		WorkerNames:  workers,
		StartedAtMs:  st.createdAt.UnixMilli(),
		CompletedCnt: st.completed,
		TotalCnt:     len(st.workers),
		Status:       string(st.status),
	}
	st.mu.Unlock()
	return e.scratch.WriteOrchestration(snapshot)
}

// GetOrchestrationStatus prefers the most-recently-created in-memory state;
// if the engine has no live states (e.g. freshly restarted), it falls back
// to the on-disk orchestration snapshot (spec §4.G).
func (e *Engine) GetOrchestrationStatus() (OrchestrationSnapshot, bool) {
	e.statesMu.RLock()
	st, ok := e.states[e.recent]
	e.statesMu.RUnlock()
	if ok {
		return snapshotOf(st), true
	}

	saved, ok := e.scratch.ReadOrchestration()
	if !ok {
		return OrchestrationSnapshot{}, false
	}
	return OrchestrationSnapshot{
		OrchestrationID: saved.JobID,
		Status:          OrchestrationStatus(saved.Status),
		Completed:       saved.CompletedCnt,
		Total:           saved.TotalCnt,
		AllDone:         saved.CompletedCnt >= saved.TotalCnt,
	}, true
}

func snapshotOf(st *inMemoryState) OrchestrationSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	workers := make([]WorkerResult, 0, len(st.order))
	for _, name := range st.order {
		rt := st.workers[name]
		workers = append(workers, WorkerResult{WorkerID: rt.id, WorkerName: rt.name, Status: rt.status, ResultSummary: rt.resultSummary})
	}
	return OrchestrationSnapshot{
		OrchestrationID: st.id,
		Status:          st.status,
		Completed:       st.completed,
		Failed:          st.failed,
		Total:           len(st.workers),
		AllDone:         st.allDone,
		Workers:         workers,
	}
}

// CollectResults returns per-worker results, aggregate counts, and the
// workflow's wall-clock duration so far (spec §4.G).
func (e *Engine) CollectResults(orchestrationID string) (CollectedResults, error) {
	st := e.getState(orchestrationID)
	if st == nil {
		return CollectedResults{}, ErrNotFound
	}
	snap := snapshotOf(st)
	st.mu.Lock()
	duration := time.Since(st.createdAt)
	st.mu.Unlock()

	return CollectedResults{
		OrchestrationID: snap.OrchestrationID,
		Status:          snap.Status,
		Completed:       snap.Completed,
		Failed:          snap.Failed,
		Total:           snap.Total,
		DurationMs:      duration.Milliseconds(),
		Workers:         snap.Workers,
	}, nil
}

// CleanupWorkflow deletes every worker through the session-manager
// collaborator, cancels every timeout, drops the in-memory state, and
// wipes the scratchpad directory. Per the source's behavior (preserved
// here under the assumption of one active workflow per process — see
// DESIGN.md), cleanup wipes every scratchpad file, not only this
// workflow's.
func (e *Engine) CleanupWorkflow(sessionID string) error {
	e.statesMu.Lock()
	orchestrationID, ok := e.bySession[sessionID]
	var st *inMemoryState
	if ok {
		st = e.states[orchestrationID]
		delete(e.states, orchestrationID)
		delete(e.bySession, sessionID)
	}
	e.statesMu.Unlock()
	if !ok || st == nil {
		return ErrNotFound
	}

	st.mu.Lock()
	st.stopped = true
	if st.globalTimer != nil {
		st.globalTimer.Stop()
	}
	for _, rt := range st.workers {
		if rt.timer != nil {
			rt.timer.Stop()
		}
		if err := e.sessions.DeleteWorker(sessionID, rt.id); err != nil {
			e.log.Debug("delete worker failed during cleanup, continuing", zap.String("worker_id", rt.id), zap.Error(err))
		}
	}
	st.mu.Unlock()

	if err := e.scratch.Cleanup(); err != nil {
		e.log.Warn("scratchpad cleanup failed", zap.Error(err))
	}
	return nil
}
