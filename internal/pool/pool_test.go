package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	attachCount int32
	attachDelay time.Duration
	failFirstN  int32
	executed    int32

	mu       sync.Mutex
	detached map[int]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{detached: map[int]bool{}}
}

func (f *fakeTransport) Attach(ctx context.Context, tab int) error {
	atomic.AddInt32(&f.attachCount, 1)
	if f.attachDelay > 0 {
		time.Sleep(f.attachDelay)
	}
	f.mu.Lock()
	delete(f.detached, tab)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Detach(ctx context.Context, tab int) error {
	f.mu.Lock()
	f.detached[tab] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Execute(ctx context.Context, tab int, method string, params any) (any, error) {
	n := atomic.AddInt32(&f.executed, 1)
	if n <= f.failFirstN {
		return nil, ErrDetached
	}
	return "ok", nil
}

// TestAttachIdempotentUnderConcurrency is testable property 10.
func TestAttachIdempotentUnderConcurrency(t *testing.T) {
	transport := newFakeTransport()
	transport.attachDelay = 20 * time.Millisecond
	p := New(transport, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Attach(context.Background(), "A", 1)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&transport.attachCount))
	require.True(t, p.IsAttached("A", 1))
}

func TestExecuteReattachesOnceThenSurfacesSecondFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.failFirstN = 1
	p := New(transport, nil)

	result, err := p.Execute(context.Background(), "A", 1, "Page.navigate", nil)
	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.GreaterOrEqual(t, atomic.LoadInt32(&transport.attachCount), int32(2))
}

func TestExecuteSurfacesPersistentDetach(t *testing.T) {
	transport := newFakeTransport()
	transport.failFirstN = 100
	p := New(transport, nil)

	_, err := p.Execute(context.Background(), "A", 1, "Page.navigate", nil)
	require.Error(t, err)
}

func TestDetachAllIgnoresErrors(t *testing.T) {
	transport := newFakeTransport()
	p := New(transport, nil)
	require.NoError(t, p.Attach(context.Background(), "A", 1))
	require.NoError(t, p.Attach(context.Background(), "A", 2))
	require.NoError(t, p.Attach(context.Background(), "B", 3))

	p.DetachAll(context.Background(), "A")

	require.False(t, p.IsAttached("A", 1))
	require.False(t, p.IsAttached("A", 2))
	require.True(t, p.IsAttached("B", 3))
}

func TestOnDetachMarksConnectionDetached(t *testing.T) {
	transport := newFakeTransport()
	p := New(transport, nil)
	require.NoError(t, p.Attach(context.Background(), "A", 1))

	p.OnDetach(1, "navigated")

	require.False(t, p.IsAttached("A", 1))
}
