// Package workflow implements the parallel multi-worker workflow engine
// (spec component G): worker init, per-worker and global timeouts, a
// mutex-protected completion counter, a stale-data circuit breaker, and
// write-behind persistence through a scratchpad store.
package workflow

import (
	"encoding/json"
	"time"
)

// Status is a worker's lifecycle state.
type Status string

const (
	StatusInit       Status = "INIT"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	StatusPartial    Status = "PARTIAL"
	StatusFail       Status = "FAIL"
)

func isTerminal(s Status) bool {
	return s == StatusSuccess || s == StatusPartial || s == StatusFail
}

// category classifies a terminal status as "ok" (counts toward completed)
// or "fail" (counts toward failed), used by the completeWorker counter
// update rules (spec §4.G).
func category(s Status) string {
	if s == StatusFail {
		return "fail"
	}
	return "ok"
}

// OrchestrationStatus is the aggregate status of a whole workflow.
type OrchestrationStatus string

const (
	OrchInit      OrchestrationStatus = "INIT"
	OrchRunning   OrchestrationStatus = "RUNNING"
	OrchCompleted OrchestrationStatus = "COMPLETED"
	OrchPartial   OrchestrationStatus = "PARTIAL"
	OrchFailed    OrchestrationStatus = "FAILED"
)

// Default configuration knobs (spec §6).
const (
	DefaultWorkerTimeout     = 60 * time.Second
	DefaultGlobalTimeoutMs   = 300_000
	DefaultMaxStaleIteration = 5
)

// Step describes one worker to spin up as part of a workflow definition.
type Step struct {
	WorkerID        string
	WorkerName      string
	URL             string
	Task            string
	SuccessCriteria string
	ShareCookies    bool
}

// Definition is the input to InitWorkflow.
type Definition struct {
	ID                 string
	Name               string
	Steps              []Step
	Parallel           bool
	MaxRetries         int
	Timeout            time.Duration
	MaxStaleIterations int
	GlobalTimeoutMs    int64
}

func (d Definition) workerTimeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultWorkerTimeout
	}
	return d.Timeout
}

func (d Definition) globalTimeout() time.Duration {
	if d.GlobalTimeoutMs <= 0 {
		return DefaultGlobalTimeoutMs * time.Millisecond
	}
	return time.Duration(d.GlobalTimeoutMs) * time.Millisecond
}

func (d Definition) maxStaleIterations() int {
	if d.MaxStaleIterations <= 0 {
		return DefaultMaxStaleIteration
	}
	return d.MaxStaleIterations
}

// Worker is what the session-manager collaborator hands back for a
// newly-created worker target.
type Worker struct {
	ID   string
	Name string
}

// WorkerSpec is what InitWorkflow asks the session-manager collaborator to
// materialize for one step.
type WorkerSpec struct {
	ID           string
	Name         string
	ShareCookies bool
	TargetURL    string
}

// SessionManager is the external collaborator that owns worker identity
// inside a session (spec §6, consumed by WorkflowEngine; the real
// implementation is session.Registry plus tab creation, kept abstract here
// so this package does not import session directly and create a cycle).
type SessionManager interface {
	CreateWorker(sessionID string, spec WorkerSpec) (Worker, error)
	DeleteWorker(sessionID, workerID string) error

	// AdoptPage wires a page already acquired through PagePool.AcquireBatch
	// in as workerID's tab instead of materializing a brand-new one, then
	// navigates it to targetURL. Used by InitWorkflow for steps with
	// ShareCookies set, whenever a pre-warmed page is available for that
	// step's slot (spec §4.G step 2).
	AdoptPage(sessionID, workerID, workerName, targetURL string, page Page) (Worker, error)
}

// Page is an opaque handle returned by the page-pool collaborator; the
// engine never inspects it, only hands it to SessionManager.
type Page any

// PagePool is the external collaborator the engine batches page
// acquisition through during init, avoiding a page-per-worker proliferation
// (spec §4.G step 2).
type PagePool interface {
	AcquireBatch(n int) ([]Page, error)
}

// ProgressUpdate is the payload of updateWorkerProgress.
type ProgressUpdate struct {
	Status        Status
	Iteration     int
	Action        string
	Result        string
	Error         string
	ExtractedData json.RawMessage
}

// WorkerResult is one entry of CollectResults.
type WorkerResult struct {
	WorkerID      string
	WorkerName    string
	Status        Status
	ResultSummary string
}

// OrchestrationSnapshot is the observable, read-only view returned by
// GetOrchestrationStatus.
type OrchestrationSnapshot struct {
	OrchestrationID string
	Status          OrchestrationStatus
	Completed       int
	Failed          int
	Total           int
	AllDone         bool
	Workers         []WorkerResult
}

// CollectedResults is the return value of CollectResults.
type CollectedResults struct {
	OrchestrationID string
	Status          OrchestrationStatus
	Completed       int
	Failed          int
	Total           int
	DurationMs      int64
	Workers         []WorkerResult
}
