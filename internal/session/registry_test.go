package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brennhill/tabfleet/internal/pool"
	"github.com/brennhill/tabfleet/internal/queue"
	"github.com/brennhill/tabfleet/internal/tabgroup"
)

type fakeBackend struct {
	mu        sync.Mutex
	nextGroup tabgroup.GroupID
	nextTab   tabgroup.TabID
	closed    map[tabgroup.GroupID]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{closed: map[tabgroup.GroupID]bool{}}
}

func (f *fakeBackend) CreateGroup(title, color string) (tabgroup.GroupID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextGroup++
	return f.nextGroup, nil
}

func (f *fakeBackend) CreateTab(group tabgroup.GroupID, url string) (tabgroup.TabID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTab++
	return f.nextTab, nil
}

func (f *fakeBackend) CloseTab(tab tabgroup.TabID) error { return nil }

func (f *fakeBackend) CloseGroup(group tabgroup.GroupID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[group] = true
	return nil
}

type fakeTransport struct{}

func (f *fakeTransport) Attach(ctx context.Context, tab int) error { return nil }
func (f *fakeTransport) Detach(ctx context.Context, tab int) error { return nil }
func (f *fakeTransport) Execute(ctx context.Context, tab int, method string, params any) (any, error) {
	return "ok", nil
}

func newTestRegistry() *Registry {
	backend := newFakeBackend()
	groups := tabgroup.NewRegistry(backend, nil)
	queues := queue.NewManager(nil)
	conns := pool.New(&fakeTransport{}, nil)
	return NewRegistry(groups, queues, conns, nil)
}

func TestCreateAndGet(t *testing.T) {
	reg := newTestRegistry()
	s := reg.Create(CreateOptions{Name: "agent-1"})
	require.NotEmpty(t, s.ID)

	got, ok := reg.Get(s.ID)
	require.True(t, ok)
	require.Equal(t, s, got)
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	reg := newTestRegistry()
	s1 := reg.GetOrCreate("fixed-id")
	s2 := reg.GetOrCreate("fixed-id")
	require.Same(t, s1, s2)
}

func TestExecuteCDPRejectsUnownedTab(t *testing.T) {
	reg := newTestRegistry()
	s := reg.Create(CreateOptions{})
	_, err := reg.ExecuteCDP(context.Background(), s.ID, tabgroup.TabID(999), "Page.navigate", nil)
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestExecuteCDPFusedPathSucceeds(t *testing.T) {
	reg := newTestRegistry()
	s := reg.Create(CreateOptions{})
	tab, err := reg.CreateTab(s.ID, "https://example.com")
	require.NoError(t, err)

	result, err := reg.ExecuteCDP(context.Background(), s.ID, tab, "Page.navigate", nil)
	require.NoError(t, err)
	require.Equal(t, "ok", result)
}

func TestDeleteClearsGroupQueueAndRegistry(t *testing.T) {
	reg := newTestRegistry()
	s := reg.Create(CreateOptions{})
	_, err := reg.CreateTab(s.ID, "https://example.com")
	require.NoError(t, err)

	require.NoError(t, reg.Delete(s.ID))

	_, ok := reg.Get(s.ID)
	require.False(t, ok)
	_, ok = reg.groups.GroupOf(s.ID)
	require.False(t, ok)
}

func TestDeleteUnknownSessionReturnsNotFound(t *testing.T) {
	reg := newTestRegistry()
	err := reg.Delete("does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

// TestReapIdleRemovesOnlyStaleSessions is scenario S8.
func TestReapIdleRemovesOnlyStaleSessions(t *testing.T) {
	reg := newTestRegistry()
	oldSession := reg.Create(CreateOptions{Name: "old"})
	newSession := reg.Create(CreateOptions{Name: "new"})

	oldSession.mu.Lock()
	oldSession.lastActivity = time.Now().Add(-10 * time.Second)
	oldSession.mu.Unlock()

	reaped := reg.ReapIdle(5000)
	require.Equal(t, []string{oldSession.ID}, reaped)

	_, ok := reg.Get(oldSession.ID)
	require.False(t, ok)
	_, ok = reg.Get(newSession.ID)
	require.True(t, ok)

	reapedAgain := reg.ReapIdle(5000)
	require.Empty(t, reapedAgain)
}

func TestListenerPanicIsIsolated(t *testing.T) {
	reg := newTestRegistry()
	var gotEvents []EventType
	reg.AddListener(func(ev Event) {
		panic("listener boom")
	})
	reg.AddListener(func(ev Event) {
		gotEvents = append(gotEvents, ev.Type)
	})

	require.NotPanics(t, func() {
		reg.Create(CreateOptions{})
	})
	require.Equal(t, []EventType{EventCreated}, gotEvents)
}

func TestRemoveListenerStopsDelivery(t *testing.T) {
	reg := newTestRegistry()
	var count int
	token := reg.AddListener(func(ev Event) { count++ })
	reg.Create(CreateOptions{})
	require.Equal(t, 1, count)

	reg.RemoveListener(token)
	reg.Create(CreateOptions{})
	require.Equal(t, 1, count)
}
