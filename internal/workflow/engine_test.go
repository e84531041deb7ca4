package workflow

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brennhill/tabfleet/internal/scratchpad"
)

type fakeSessionManager struct {
	mu      sync.Mutex
	created int
	adopted []string
}

func (f *fakeSessionManager) CreateWorker(sessionID string, spec WorkerSpec) (Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	name := spec.Name
	if name == "" {
		name = fmt.Sprintf("worker-%d", f.created)
	}
	return Worker{ID: spec.ID, Name: name}, nil
}

func (f *fakeSessionManager) DeleteWorker(sessionID, workerID string) error { return nil }

func (f *fakeSessionManager) AdoptPage(sessionID, workerID, workerName, targetURL string, page Page) (Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adopted = append(f.adopted, workerID)
	return Worker{ID: workerID, Name: workerName}, nil
}

type fakePagePool struct{}

func (fakePagePool) AcquireBatch(n int) ([]Page, error) {
	pages := make([]Page, n)
	return pages, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeSessionManager) {
	t.Helper()
	store, err := scratchpad.New(t.TempDir(), nil, nil)
	require.NoError(t, err)
	sessions := &fakeSessionManager{}
	return New(sessions, fakePagePool{}, store, nil), sessions
}

func stepsNamed(names ...string) []Step {
	steps := make([]Step, len(names))
	for i, n := range names {
		steps[i] = Step{WorkerID: n, WorkerName: n, URL: "https://example.com"}
	}
	return steps
}

// TestCompletionAccountingUnderParallelism is scenario S4.
func TestCompletionAccountingUnderParallelism(t *testing.T) {
	engine, _ := newTestEngine(t)
	orchID, err := engine.InitWorkflow("s1", Definition{Steps: stepsNamed("w1", "w2", "w3", "w4", "w5")})
	require.NoError(t, err)

	type call struct {
		name   string
		status Status
	}
	calls := []call{
		{"w1", StatusSuccess},
		{"w2", StatusPartial},
		{"w3", StatusFail},
		{"w4", StatusSuccess},
		{"w5", StatusPartial},
	}

	var wg sync.WaitGroup
	for _, c := range calls {
		wg.Add(1)
		go func(c call) {
			defer wg.Done()
			require.NoError(t, engine.CompleteWorker(orchID, c.name, c.status, "", nil))
		}(c)
	}
	wg.Wait()

	snap, ok := engine.GetOrchestrationStatus()
	require.True(t, ok)
	require.Equal(t, 4, snap.Completed)
	require.Equal(t, 1, snap.Failed)
	require.Equal(t, OrchPartial, snap.Status)
}

// TestIdempotentCompletion is scenario S5.
func TestIdempotentCompletion(t *testing.T) {
	engine, _ := newTestEngine(t)
	orchID, err := engine.InitWorkflow("s1", Definition{Steps: stepsNamed("w1")})
	require.NoError(t, err)

	require.NoError(t, engine.CompleteWorker(orchID, "w1", StatusSuccess, "", nil))
	require.NoError(t, engine.CompleteWorker(orchID, "w1", StatusSuccess, "", nil))

	snap, ok := engine.GetOrchestrationStatus()
	require.True(t, ok)
	require.Equal(t, 1, snap.Completed)
	require.Equal(t, 0, snap.Failed)
	require.Equal(t, OrchCompleted, snap.Status)
}

// TestStatusTransitionAdjustment is scenario S6.
func TestStatusTransitionAdjustment(t *testing.T) {
	engine, _ := newTestEngine(t)
	orchID, err := engine.InitWorkflow("s1", Definition{Steps: stepsNamed("w1")})
	require.NoError(t, err)

	require.NoError(t, engine.CompleteWorker(orchID, "w1", StatusSuccess, "", nil))
	require.NoError(t, engine.CompleteWorker(orchID, "w1", StatusFail, "", nil))

	snap, ok := engine.GetOrchestrationStatus()
	require.True(t, ok)
	require.Equal(t, 0, snap.Completed)
	require.Equal(t, 1, snap.Failed)
	require.Equal(t, OrchFailed, snap.Status)
}

// TestStaleDataCircuitBreaker is scenario S7.
func TestStaleDataCircuitBreaker(t *testing.T) {
	engine, _ := newTestEngine(t)
	orchID, err := engine.InitWorkflow("s1", Definition{Steps: stepsNamed("w1"), MaxStaleIterations: 3})
	require.NoError(t, err)

	payload := []byte(`{"x":1}`)
	for i := 0; i < 3; i++ {
		require.NoError(t, engine.UpdateWorkerProgress(orchID, "w1", ProgressUpdate{ExtractedData: payload}))
	}

	snap, ok := engine.GetOrchestrationStatus()
	require.True(t, ok)
	require.Len(t, snap.Workers, 1)
	require.Equal(t, StatusPartial, snap.Workers[0].Status)
	require.Contains(t, snap.Workers[0].ResultSummary, "stale")

	require.NoError(t, engine.CompleteWorker(orchID, "w1", StatusSuccess, "", nil))
	snap, ok = engine.GetOrchestrationStatus()
	require.True(t, ok)
	require.Equal(t, 1, snap.Completed)
	require.Equal(t, 0, snap.Failed)
}

func TestCollectResultsReturnsDurationAndCounts(t *testing.T) {
	engine, _ := newTestEngine(t)
	orchID, err := engine.InitWorkflow("s1", Definition{Steps: stepsNamed("w1", "w2")})
	require.NoError(t, err)
	require.NoError(t, engine.CompleteWorker(orchID, "w1", StatusSuccess, "done", nil))

	results, err := engine.CollectResults(orchID)
	require.NoError(t, err)
	require.Equal(t, 2, results.Total)
	require.Equal(t, 1, results.Completed)
	require.GreaterOrEqual(t, results.DurationMs, int64(0))
}

// TestInitWorkflowAdoptsPagesForShareCookiesSteps exercises the page-adoption
// path: steps with ShareCookies set must go through AdoptPage using the
// batch-acquired page for their slot, not CreateWorker.
func TestInitWorkflowAdoptsPagesForShareCookiesSteps(t *testing.T) {
	engine, sessions := newTestEngine(t)
	_, err := engine.InitWorkflow("s1", Definition{Steps: []Step{
		{WorkerID: "w1", WorkerName: "w1", URL: "https://example.com", ShareCookies: true},
		{WorkerID: "w2", WorkerName: "w2", URL: "https://example.com"},
	}})
	require.NoError(t, err)

	sessions.mu.Lock()
	defer sessions.mu.Unlock()
	require.Equal(t, []string{"w1"}, sessions.adopted)
	require.Equal(t, 1, sessions.created)
}

func TestCleanupWorkflowDeletesWorkersAndState(t *testing.T) {
	engine, sessions := newTestEngine(t)
	orchID, err := engine.InitWorkflow("s1", Definition{Steps: stepsNamed("w1")})
	require.NoError(t, err)

	require.NoError(t, engine.CleanupWorkflow("s1"))
	require.Equal(t, 1, sessions.created)

	_, ok := engine.GetOrchestrationStatus()
	require.False(t, ok)

	err = engine.CleanupWorkflow("s1")
	require.ErrorIs(t, err, ErrNotFound)

	_ = orchID
}
