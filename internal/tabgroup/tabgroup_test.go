package tabgroup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeBackend is a deterministic, in-memory stand-in for the real browser.
// Ids increment monotonically in allocation order, which is what makes
// scenario S3 (first tab to A is id 1, to B is id 2) deterministic.
type fakeBackend struct {
	nextGroup GroupID
	nextTab   TabID
	closedTabs   map[TabID]bool
	closedGroups map[GroupID]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{closedTabs: map[TabID]bool{}, closedGroups: map[GroupID]bool{}}
}

func (f *fakeBackend) CreateGroup(title, color string) (GroupID, error) {
	f.nextGroup++
	return f.nextGroup, nil
}

func (f *fakeBackend) CreateTab(group GroupID, url string) (TabID, error) {
	f.nextTab++
	return f.nextTab, nil
}

func (f *fakeBackend) CloseTab(tab TabID) error {
	f.closedTabs[tab] = true
	return nil
}

func (f *fakeBackend) CloseGroup(group GroupID) error {
	f.closedGroups[group] = true
	return nil
}

// TestOwnershipValidation is scenario S3.
func TestOwnershipValidation(t *testing.T) {
	backend := newFakeBackend()
	reg := NewRegistry(backend, nil)

	gidA, err := reg.CreateGroup("A", "A")
	require.NoError(t, err)
	gidB, err := reg.CreateGroup("B", "B")
	require.NoError(t, err)
	require.NotEqual(t, gidA, gidB)

	tabs := reg.TabsOf("A")
	require.Len(t, tabs, 1)
	tabA := tabs[0]
	tabsB := reg.TabsOf("B")
	require.Len(t, tabsB, 1)
	tabB := tabsB[0]

	require.Equal(t, TabID(1), tabA)
	require.Equal(t, TabID(2), tabB)

	require.True(t, reg.ValidateOwnership("A", tabA))
	require.False(t, reg.ValidateOwnership("A", tabB))
	require.True(t, reg.ValidateOwnership("B", tabB))
	require.False(t, reg.ValidateOwnership("B", tabA))
}

func TestCreateGroupIdempotent(t *testing.T) {
	backend := newFakeBackend()
	reg := NewRegistry(backend, nil)

	gid1, err := reg.CreateGroup("A", "A")
	require.NoError(t, err)
	gid2, err := reg.CreateGroup("A", "A")
	require.NoError(t, err)
	require.Equal(t, gid1, gid2)
}

func TestDeleteGroupClosesTabsAndClearsMappings(t *testing.T) {
	backend := newFakeBackend()
	reg := NewRegistry(backend, nil)

	_, err := reg.CreateGroup("A", "A")
	require.NoError(t, err)
	extra, err := reg.CreateTabInGroup("A", "https://example.com")
	require.NoError(t, err)

	err = reg.DeleteGroup("A")
	require.NoError(t, err)

	require.True(t, backend.closedTabs[extra])
	require.False(t, reg.ValidateOwnership("A", extra))
	_, ok := reg.GroupOf("A")
	require.False(t, ok)
}

func TestOnTabRemovedClearsOwnership(t *testing.T) {
	backend := newFakeBackend()
	reg := NewRegistry(backend, nil)
	_, err := reg.CreateGroup("A", "A")
	require.NoError(t, err)
	tab := reg.TabsOf("A")[0]

	reg.OnTabRemoved(tab)
	require.False(t, reg.ValidateOwnership("A", tab))
}

func TestColorRingRotates(t *testing.T) {
	backend := newFakeBackend()
	reg := NewRegistry(backend, nil)
	seen := map[string]bool{}
	for i := 0; i < len(Colors)+2; i++ {
		seen[reg.nextColor()] = true
	}
	require.Len(t, seen, len(Colors))
}
