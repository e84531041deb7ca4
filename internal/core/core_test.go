package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brennhill/tabfleet/internal/pool"
	"github.com/brennhill/tabfleet/internal/session"
	"github.com/brennhill/tabfleet/internal/tabgroup"
)

type fakeTransport struct{}

func (fakeTransport) Attach(ctx context.Context, tab int) error { return nil }
func (fakeTransport) Detach(ctx context.Context, tab int) error { return nil }
func (fakeTransport) Execute(ctx context.Context, tab int, method string, params any) (any, error) {
	return "ok", nil
}

type fakeBackend struct {
	nextGroup tabgroup.GroupID
	nextTab   tabgroup.TabID
}

func (f *fakeBackend) CreateGroup(title, color string) (tabgroup.GroupID, error) {
	f.nextGroup++
	return f.nextGroup, nil
}
func (f *fakeBackend) CreateTab(group tabgroup.GroupID, url string) (tabgroup.TabID, error) {
	f.nextTab++
	return f.nextTab, nil
}
func (f *fakeBackend) CloseTab(tab tabgroup.TabID) error       { return nil }
func (f *fakeBackend) CloseGroup(group tabgroup.GroupID) error { return nil }

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cfg := Default()
	cfg.ScratchpadDir = t.TempDir()
	c, err := New(cfg, fakeTransport{}, &fakeBackend{}, nil)
	require.NoError(t, err)
	return c
}

func TestNewWiresAllComponents(t *testing.T) {
	c := newTestCore(t)
	require.NotNil(t, c.Queues)
	require.NotNil(t, c.Pool)
	require.NotNil(t, c.TabGroups)
	require.NotNil(t, c.Sessions)
	require.NotNil(t, c.Scratch)
	require.NotNil(t, c.Workflow)
	require.NotNil(t, c.RefIDs)
	require.NotNil(t, c.Dispatch)
}

func TestSessionDeleteClearsRefIDs(t *testing.T) {
	c := newTestCore(t)
	s := c.Sessions.Create(session.CreateOptions{})
	c.RefIDs.Generate(s.ID, 1, 10, "button", "")

	require.NoError(t, c.Sessions.Delete(s.ID))

	_, ok := c.RefIDs.Get(s.ID, 1, "ref_1")
	require.False(t, ok)
}

func TestIdleReaperStartsAndStops(t *testing.T) {
	c := newTestCore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartIdleReaper(ctx)
	time.Sleep(10 * time.Millisecond)
	c.Stop()
}
