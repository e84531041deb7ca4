package scratchpad

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil, nil)
	require.NoError(t, err)
	return s
}

func TestValidateWorkerNameRejectsUnsafeNames(t *testing.T) {
	require.False(t, validateWorkerName(""))
	require.False(t, validateWorkerName("../escape"))
	require.False(t, validateWorkerName("has/slash"))
	require.False(t, validateWorkerName("has\\backslash"))
	require.False(t, validateWorkerName("ctrl\x00char"))
	require.False(t, validateWorkerName(fmt.Sprintf("%0101d", 1)))
	require.True(t, validateWorkerName("worker_1-a"))
	require.True(t, validateWorkerName("작업자"))
	require.True(t, validateWorkerName("工作者"))
}

func TestWriteThenReadWorkerRoundTrips(t *testing.T) {
	s := newTestStore(t)
	state := WorkerState{Name: "w1", Status: "running", ProgressLog: []ProgressEntry{{Action: "click", Result: "ok"}}}
	require.True(t, s.WriteWorker("w1", state))

	got, ok := s.ReadWorker("w1")
	require.True(t, ok)
	require.Equal(t, state, got)
}

func TestReadWorkerMissingFileReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	_, ok := s.ReadWorker("never-written")
	require.False(t, ok)
}

func TestReadWorkerUnsafeNameReturnsFalseWithoutTouchingDisk(t *testing.T) {
	s := newTestStore(t)
	_, ok := s.ReadWorker("../escape")
	require.False(t, ok)
}

func TestLastFencedBlockWinsOverEarlierBlocks(t *testing.T) {
	s := newTestStore(t)
	path, ok := s.workerPath("w1")
	require.True(t, ok)

	doc := "# Worker: w1\n\nExtracted data:\n```json\n{\"name\":\"stale\",\"status\":\"old\",\"progressLog\":[]}\n```\n\nState:\n```json\n{\"name\":\"w1\",\"status\":\"running\",\"progressLog\":[]}\n```\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	got, ok := s.ReadWorker("w1")
	require.True(t, ok)
	require.Equal(t, "running", got.Status)
}

func TestAddProgressEntryTruncatesAt500(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 510; i++ {
		require.True(t, s.AddProgressEntry("w1", "step", "ok", ""))
	}
	got, ok := s.ReadWorker("w1")
	require.True(t, ok)
	require.Len(t, got.ProgressLog, maxProgressEntries)
}

func TestOrchestrationRoundTrips(t *testing.T) {
	s := newTestStore(t)
	state := OrchestrationState{JobID: "job-1", WorkerNames: []string{"w1", "w2"}, TotalCnt: 2, Status: "running"}
	require.NoError(t, s.WriteOrchestration(state))

	got, ok := s.ReadOrchestration()
	require.True(t, ok)
	require.Equal(t, state, got)
}

func TestCleanupRemovesAllFiles(t *testing.T) {
	s := newTestStore(t)
	require.True(t, s.WriteWorker("w1", WorkerState{Name: "w1"}))
	require.NoError(t, s.WriteOrchestration(OrchestrationState{JobID: "job-1"}))

	require.NoError(t, s.Cleanup())

	_, ok := s.ReadWorker("w1")
	require.False(t, ok)
	_, ok = s.ReadOrchestration()
	require.False(t, ok)
}
