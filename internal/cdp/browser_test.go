package cdp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newFakeDevtoolsServer(t *testing.T, wsURL func(id string) string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/json/new", func(w http.ResponseWriter, r *http.Request) {
		id := "target-1"
		resp := newTargetResponse{ID: id, WebSocketDebuggerURL: wsURL(id)}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/json/close/", func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.URL.Path, "/json/close/"))
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func TestCreateTabRecordsWebSocketURL(t *testing.T) {
	srv := newFakeDevtoolsServer(t, func(id string) string { return "ws://example.invalid/" + id })
	defer srv.Close()

	b := NewBrowser(srv.URL, nil)
	tab, err := b.CreateTab(0, "https://example.com")
	require.NoError(t, err)

	url, ok := b.wsURL(tab)
	require.True(t, ok)
	require.Equal(t, "ws://example.invalid/target-1", url)
}

func TestCloseTabForgetsTarget(t *testing.T) {
	srv := newFakeDevtoolsServer(t, func(id string) string { return "ws://example.invalid/" + id })
	defer srv.Close()

	b := NewBrowser(srv.URL, nil)
	tab, err := b.CreateTab(0, "")
	require.NoError(t, err)

	require.NoError(t, b.CloseTab(tab))
	_, ok := b.wsURL(tab)
	require.False(t, ok)
}

func TestCloseGroupClosesAllMemberTabs(t *testing.T) {
	srv := newFakeDevtoolsServer(t, func(id string) string { return "ws://example.invalid/" + id })
	defer srv.Close()

	b := NewBrowser(srv.URL, nil)
	gid, err := b.CreateGroup("workers", "blue")
	require.NoError(t, err)

	tab1, err := b.CreateTab(gid, "")
	require.NoError(t, err)
	tab2, err := b.CreateTab(gid, "")
	require.NoError(t, err)

	require.NoError(t, b.CloseGroup(gid))
	_, ok1 := b.wsURL(tab1)
	_, ok2 := b.wsURL(tab2)
	require.False(t, ok1)
	require.False(t, ok2)
}

func TestCloseTabUnknownIsNoOp(t *testing.T) {
	b := NewBrowser("http://unused.invalid", nil)
	require.NoError(t, b.CloseTab(999))
}
