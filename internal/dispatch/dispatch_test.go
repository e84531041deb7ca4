package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brennhill/tabfleet/internal/mcp"
	"github.com/brennhill/tabfleet/internal/pool"
	"github.com/brennhill/tabfleet/internal/queue"
	"github.com/brennhill/tabfleet/internal/scratchpad"
	"github.com/brennhill/tabfleet/internal/session"
	"github.com/brennhill/tabfleet/internal/tabgroup"
	"github.com/brennhill/tabfleet/internal/workerpool"
	"github.com/brennhill/tabfleet/internal/workflow"
)

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

type fakeTransport struct{}

func (f *fakeTransport) Attach(ctx context.Context, tab int) error { return nil }
func (f *fakeTransport) Detach(ctx context.Context, tab int) error { return nil }
func (f *fakeTransport) Execute(ctx context.Context, tab int, method string, params any) (any, error) {
	return "ok", nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *ToolRegistry) {
	backend := &fakeBackend{}
	groups := tabgroup.NewRegistry(backend, nil)
	queues := queue.NewManager(nil)
	conns := pool.New(&fakeTransport{}, nil)
	sessions := session.NewRegistry(groups, queues, conns, nil)

	scratch, err := scratchpad.New(t.TempDir(), nil, nil)
	require.NoError(t, err)
	workers := workerpool.New(sessions, backend, nil)
	wf := workflow.New(workers, workers, scratch, nil)

	tools := NewToolRegistry()
	tools.Register(ToolDefinition{
		Name:        "echo",
		Description: "echoes its arguments back",
		InputSchema: map[string]any{"type": "object"},
		Handler: ToolHandlerFunc(func(sessionID string, arguments json.RawMessage) Result {
			return TextResult("sid=" + sessionID + " args=" + string(arguments))
		}),
	})

	d := New(ServerInfo{Name: "tabfleetd", Version: "test"}, tools, sessions, wf, nil)
	return d, tools
}

func TestInitializeReturnsProtocolVersion(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "initialize"})
	require.Nil(t, resp.Error)

	var result mcp.MCPInitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Equal(t, "2024-11-05", result.ProtocolVersion)
	require.Equal(t, "tabfleetd", result.ServerInfo.Name)
}

func TestToolsListReturnsRegisteredTools(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "tools/list"})
	require.Nil(t, resp.Error)

	var result mcp.MCPToolsListResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Tools, 1)
	require.Equal(t, "echo", result.Tools[0].Name)
}

func TestToolsCallUnknownToolIsMethodNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)
	params, _ := json.Marshal(map[string]any{"name": "nope"})
	resp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "tools/call", Params: params})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestToolsCallAutoCreatesUnknownSession(t *testing.T) {
	d, _ := newTestDispatcher(t)
	params, _ := json.Marshal(map[string]any{"name": "echo", "sessionId": "brand-new", "arguments": map[string]any{}})
	resp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "tools/call", Params: params})
	require.Nil(t, resp.Error)

	_, ok := d.sessions.Get("brand-new")
	require.True(t, ok)

	var result mcp.MCPToolResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.False(t, result.IsError)
}

func TestSessionsCreateListDelete(t *testing.T) {
	d, _ := newTestDispatcher(t)

	createParams, _ := json.Marshal(map[string]any{"name": "agent-1"})
	createResp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "sessions/create", Params: createParams})
	require.Nil(t, createResp.Error)

	var created map[string]any
	require.NoError(t, json.Unmarshal(createResp.Result, &created))
	id := created["id"].(string)
	require.NotEmpty(t, id)

	listResp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(2), Method: "sessions/list"})
	require.Nil(t, listResp.Error)
	var listed map[string]any
	require.NoError(t, json.Unmarshal(listResp.Result, &listed))
	require.Len(t, listed["sessions"], 1)

	deleteParams, _ := json.Marshal(map[string]any{"id": id})
	deleteResp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(3), Method: "sessions/delete", Params: deleteParams})
	require.Nil(t, deleteResp.Error)
}

func TestSessionsDeleteUnknownIsSessionNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)
	params, _ := json.Marshal(map[string]any{"id": "missing"})
	resp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "sessions/delete", Params: params})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeSessionNotFound, resp.Error.Code)
}

func TestWorkflowInitStatusResultsCleanup(t *testing.T) {
	d, _ := newTestDispatcher(t)

	initParams, _ := json.Marshal(map[string]any{
		"sessionId": "sess-1",
		"name":      "research",
		"steps": []map[string]any{
			{"workerId": "w1", "workerName": "alpha", "url": "https://example.com/a"},
			{"workerId": "w2", "workerName": "beta", "url": "https://example.com/b"},
		},
	})
	initResp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "workflow/init", Params: initParams})
	require.Nil(t, initResp.Error)

	var inited map[string]any
	require.NoError(t, json.Unmarshal(initResp.Result, &inited))
	orchestrationID := inited["orchestrationId"].(string)
	require.NotEmpty(t, orchestrationID)

	statusResp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(2), Method: "workflow/status"})
	require.Nil(t, statusResp.Error)

	resultsParams, _ := json.Marshal(map[string]any{"orchestrationId": orchestrationID})
	resultsResp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(3), Method: "workflow/results", Params: resultsParams})
	require.Nil(t, resultsResp.Error)

	cleanupParams, _ := json.Marshal(map[string]any{"sessionId": "sess-1"})
	cleanupResp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(4), Method: "workflow/cleanup", Params: cleanupParams})
	require.Nil(t, cleanupResp.Error)
}

func TestWorkerUpdateAndCompleteFeedWorkflowEngine(t *testing.T) {
	d, _ := newTestDispatcher(t)

	initParams, _ := json.Marshal(map[string]any{
		"sessionId": "sess-1",
		"steps": []map[string]any{
			{"workerId": "w1", "workerName": "alpha", "url": "https://example.com/a"},
		},
	})
	initResp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "workflow/init", Params: initParams})
	require.Nil(t, initResp.Error)
	var inited map[string]any
	require.NoError(t, json.Unmarshal(initResp.Result, &inited))
	orchestrationID := inited["orchestrationId"].(string)

	updateParams, _ := json.Marshal(map[string]any{
		"orchestrationId": orchestrationID,
		"workerName":      "alpha",
		"status":          "IN_PROGRESS",
		"iteration":       1,
		"action":          "click",
	})
	updateResp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(2), Method: "worker_update", Params: updateParams})
	require.Nil(t, updateResp.Error)

	completeParams, _ := json.Marshal(map[string]any{
		"orchestrationId": orchestrationID,
		"workerName":      "alpha",
		"status":          "SUCCESS",
		"summary":         "done",
	})
	completeResp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(3), Method: "worker_complete", Params: completeParams})
	require.Nil(t, completeResp.Error)

	statusResp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(4), Method: "workflow/status"})
	require.Nil(t, statusResp.Error)
	var snap workflow.OrchestrationSnapshot
	require.NoError(t, json.Unmarshal(statusResp.Result, &snap))
	require.Equal(t, 1, snap.Completed)
}

func TestWorkerCompleteUnknownOrchestrationIsSessionNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)
	params, _ := json.Marshal(map[string]any{"orchestrationId": "missing", "workerName": "alpha", "status": "SUCCESS"})
	resp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "worker_complete", Params: params})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeSessionNotFound, resp.Error.Code)
}

func TestWorkflowResultsUnknownOrchestrationIsSessionNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)
	params, _ := json.Marshal(map[string]any{"orchestrationId": "missing"})
	resp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "workflow/results", Params: params})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeSessionNotFound, resp.Error.Code)
}

func TestUnknownMethodIsMethodNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Handle(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "frobnicate"})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)
}
