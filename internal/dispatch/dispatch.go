// Package dispatch implements the JSON-RPC 2.0 method router and tool
// registry (spec component E): a fixed method set over initialize,
// tools/list, tools/call, and the sessions/* thin wrappers, backed by a
// name-keyed ToolHandler table.
package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brennhill/tabfleet/internal/mcp"
	"github.com/brennhill/tabfleet/internal/session"
	"github.com/brennhill/tabfleet/internal/workflow"
)

// Error codes mirror JSON-RPC 2.0's reserved range plus this system's
// domain additions (spec §4.E).
const (
	CodeParse            = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternal         = -32603
	CodeSessionNotFound  = -32001
	CodeTabNotFound      = -32002
	CodeCDPError         = -32003
	CodePermissionDenied = -32004
)

const protocolVersion = "2024-11-05"

// ServerInfo names this server in the initialize result.
type ServerInfo struct {
	Name    string
	Version string
}

// Result is what every ToolHandler returns. It mirrors mcp.MCPToolResult:
// tool-level failures set IsError and carry an explanatory text item; they
// never become RPC errors (spec §4.E Result shape).
type Result struct {
	Content  []mcp.MCPContentBlock
	IsError  bool
	Metadata map[string]any
}

func (r Result) toMCP() mcp.MCPToolResult {
	return mcp.MCPToolResult{Content: r.Content, IsError: r.IsError, Metadata: r.Metadata}
}

// TextResult is the common case: a single text content block.
func TextResult(text string) Result {
	return Result{Content: []mcp.MCPContentBlock{{Type: "text", Text: text}}}
}

// ErrorResult marks a tool-level (not protocol-level) failure.
func ErrorResult(text string) Result {
	return Result{Content: []mcp.MCPContentBlock{{Type: "text", Text: text}}, IsError: true}
}

// JSONResult renders a summary line followed by compact JSON, for
// nested or irregular tool output.
func JSONResult(summary string, data any) Result {
	payload := mcp.JSONResponse(summary, data)
	var result mcp.MCPToolResult
	_ = json.Unmarshal(payload, &result)
	return Result{Content: result.Content, IsError: result.IsError}
}

// ToolHandler is a registered tool's implementation (Design Notes §9: source
// passed anonymous callables in a name-keyed table; this interface replaces
// that with a value type the registry can store and invoke uniformly).
type ToolHandler interface {
	Call(sessionID string, arguments json.RawMessage) Result
}

// ToolHandlerFunc adapts a plain function to ToolHandler.
type ToolHandlerFunc func(sessionID string, arguments json.RawMessage) Result

func (f ToolHandlerFunc) Call(sessionID string, arguments json.RawMessage) Result {
	return f(sessionID, arguments)
}

// ToolDefinition is the registered shape of a tool plus its handler.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     ToolHandler
}

// ToolRegistry is a name-keyed hashmap lookup of registered tools (Design
// Notes §9: dispatch reduced to a hashmap lookup instead of dynamic
// dispatch over anonymous callables).
type ToolRegistry struct {
	tools map[string]ToolDefinition
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]ToolDefinition)}
}

// Register adds or replaces a tool definition.
func (tr *ToolRegistry) Register(def ToolDefinition) {
	tr.tools[def.Name] = def
}

// Get looks up a tool by name.
func (tr *ToolRegistry) Get(name string) (ToolDefinition, bool) {
	def, ok := tr.tools[name]
	return def, ok
}

// List returns the MCP-shaped definitions of every registered tool, for
// tools/list.
func (tr *ToolRegistry) List() []mcp.MCPTool {
	out := make([]mcp.MCPTool, 0, len(tr.tools))
	for _, def := range tr.tools {
		out = append(out, mcp.MCPTool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	return out
}

// Dispatcher routes JSON-RPC requests to the fixed method set (spec §4.E).
// It owns no state of its own beyond the tool registry and a reference to
// the session registry it delegates sessions/* and tool auto-creation to.
type Dispatcher struct {
	info     ServerInfo
	tools    *ToolRegistry
	sessions *session.Registry
	workflow *workflow.Engine
	log      *zap.Logger
}

// New creates a Dispatcher over tools, sessions, and the workflow engine.
func New(info ServerInfo, tools *ToolRegistry, sessions *session.Registry, wf *workflow.Engine, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{info: info, tools: tools, sessions: sessions, workflow: wf, log: log.Named("dispatch")}
}

// Handle routes one JSON-RPC request to the matching method and produces a
// response. Notifications (no id) still execute but the caller is expected
// to decide whether to write the response back (bridge framing decision,
// not this package's concern).
func (d *Dispatcher) Handle(req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return d.handleInitialize(req)
	case "tools/list":
		return d.handleToolsList(req)
	case "tools/call":
		return d.handleToolsCall(req)
	case "sessions/list":
		return d.handleSessionsList(req)
	case "sessions/create":
		return d.handleSessionsCreate(req)
	case "sessions/delete":
		return d.handleSessionsDelete(req)
	case "workflow/init":
		return d.handleWorkflowInit(req)
	case "workflow/status":
		return d.handleWorkflowStatus(req)
	case "workflow/results":
		return d.handleWorkflowResults(req)
	case "workflow/cleanup":
		return d.handleWorkflowCleanup(req)
	case "worker_update":
		return d.handleWorkerUpdate(req)
	case "worker_complete":
		return d.handleWorkerComplete(req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}
}

func (d *Dispatcher) handleInitialize(req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	result := mcp.MCPInitializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      mcp.MCPServerInfo{Name: d.info.Name, Version: d.info.Version},
		Capabilities: mcp.MCPCapabilities{
			Tools:     mcp.MCPToolsCapability{},
			Resources: mcp.MCPResourcesCapability{},
		},
	}
	return okResponse(req.ID, result)
}

func (d *Dispatcher) handleToolsList(req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	return okResponse(req.ID, mcp.MCPToolsListResult{Tools: d.tools.List()})
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	SessionID string          `json:"sessionId"`
}

func (d *Dispatcher) handleToolsCall(req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	var p toolsCallParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "malformed tools/call params: "+err.Error())
	}
	if p.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, "tools/call requires a name")
	}

	def, ok := d.tools.Get(p.Name)
	if !ok {
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown tool %q", p.Name))
	}

	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = argSessionID(p.Arguments)
	}
	// A sessionId present but unknown is auto-created, not rejected
	// (spec §4.E tools/call contract).
	if sessionID != "" {
		d.sessions.GetOrCreate(sessionID)
	}

	warnings := mcp.ValidateParamsAgainstSchema(p.Arguments, def.InputSchema)

	result := def.Handler.Call(sessionID, p.Arguments)
	resp := okResponse(req.ID, result.toMCP())
	return mcp.AppendWarningsToResponse(resp, warnings)
}

func argSessionID(arguments json.RawMessage) string {
	if len(arguments) == 0 {
		return ""
	}
	var a struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.Unmarshal(arguments, &a)
	return a.SessionID
}

type sessionsCreateParams struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (d *Dispatcher) handleSessionsList(req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	sessions := d.sessions.List()
	out := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, map[string]any{
			"id":             s.ID,
			"name":           s.Name,
			"color":          s.Color,
			"createdAt":      s.CreatedAtMillis(),
			"lastActivityAt": s.LastActivityAtMillis(),
		})
	}
	return okResponse(req.ID, map[string]any{"sessions": out})
}

func (d *Dispatcher) handleSessionsCreate(req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	var p sessionsCreateParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "malformed sessions/create params: "+err.Error())
		}
	}
	s := d.sessions.Create(session.CreateOptions{ID: p.ID, Name: p.Name})
	return okResponse(req.ID, map[string]any{"id": s.ID, "name": s.Name, "color": s.Color})
}

type sessionsDeleteParams struct {
	ID string `json:"id"`
}

func (d *Dispatcher) handleSessionsDelete(req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	var p sessionsDeleteParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" {
		return errorResponse(req.ID, CodeInvalidParams, "sessions/delete requires an id")
	}
	if err := d.sessions.Delete(p.ID); err != nil {
		return errorResponse(req.ID, CodeSessionNotFound, err.Error())
	}
	return okResponse(req.ID, map[string]any{"deleted": p.ID})
}

type workflowStep struct {
	WorkerID        string `json:"workerId"`
	WorkerName      string `json:"workerName"`
	URL             string `json:"url"`
	Task            string `json:"task"`
	SuccessCriteria string `json:"successCriteria"`
	ShareCookies    bool   `json:"shareCookies"`
}

type workflowInitParams struct {
	SessionID          string         `json:"sessionId"`
	Name               string         `json:"name"`
	Steps              []workflowStep `json:"steps"`
	MaxRetries         int            `json:"maxRetries"`
	TimeoutMs          int64          `json:"timeoutMs"`
	GlobalTimeoutMs    int64          `json:"globalTimeoutMs"`
	MaxStaleIterations int            `json:"maxStaleIterations"`
}

func (d *Dispatcher) handleWorkflowInit(req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	if d.workflow == nil {
		return errorResponse(req.ID, CodeInternal, "workflow engine not wired")
	}
	var p workflowInitParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.SessionID == "" {
		return errorResponse(req.ID, CodeInvalidParams, "workflow/init requires a sessionId and steps")
	}

	steps := make([]workflow.Step, 0, len(p.Steps))
	for _, s := range p.Steps {
		steps = append(steps, workflow.Step{
			WorkerID:        s.WorkerID,
			WorkerName:      s.WorkerName,
			URL:             s.URL,
			Task:            s.Task,
			SuccessCriteria: s.SuccessCriteria,
			ShareCookies:    s.ShareCookies,
		})
	}

	def := workflow.Definition{
		Name:               p.Name,
		Steps:              steps,
		Parallel:           true,
		MaxRetries:         p.MaxRetries,
		Timeout:            timeFromMs(p.TimeoutMs),
		GlobalTimeoutMs:    p.GlobalTimeoutMs,
		MaxStaleIterations: p.MaxStaleIterations,
	}

	orchestrationID, err := d.workflow.InitWorkflow(p.SessionID, def)
	if err != nil {
		return errorResponse(req.ID, CodeInternal, err.Error())
	}
	return okResponse(req.ID, map[string]any{"orchestrationId": orchestrationID})
}

func (d *Dispatcher) handleWorkflowStatus(req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	if d.workflow == nil {
		return errorResponse(req.ID, CodeInternal, "workflow engine not wired")
	}
	snap, ok := d.workflow.GetOrchestrationStatus()
	if !ok {
		return errorResponse(req.ID, CodeSessionNotFound, "no workflow has run in this process")
	}
	return okResponse(req.ID, snap)
}

type workflowIDParams struct {
	OrchestrationID string `json:"orchestrationId"`
	SessionID       string `json:"sessionId"`
}

func (d *Dispatcher) handleWorkflowResults(req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	if d.workflow == nil {
		return errorResponse(req.ID, CodeInternal, "workflow engine not wired")
	}
	var p workflowIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.OrchestrationID == "" {
		return errorResponse(req.ID, CodeInvalidParams, "workflow/results requires an orchestrationId")
	}
	results, err := d.workflow.CollectResults(p.OrchestrationID)
	if err != nil {
		return errorResponse(req.ID, CodeSessionNotFound, err.Error())
	}
	return okResponse(req.ID, results)
}

func (d *Dispatcher) handleWorkflowCleanup(req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	if d.workflow == nil {
		return errorResponse(req.ID, CodeInternal, "workflow engine not wired")
	}
	var p workflowIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.SessionID == "" {
		return errorResponse(req.ID, CodeInvalidParams, "workflow/cleanup requires a sessionId")
	}
	if err := d.workflow.CleanupWorkflow(p.SessionID); err != nil {
		return errorResponse(req.ID, CodeSessionNotFound, err.Error())
	}
	return okResponse(req.ID, map[string]any{"cleaned": p.SessionID})
}

type workerUpdateParams struct {
	OrchestrationID string          `json:"orchestrationId"`
	WorkerName      string          `json:"workerName"`
	Status          string          `json:"status"`
	Iteration       int             `json:"iteration"`
	Action          string          `json:"action"`
	Result          string          `json:"result"`
	Error           string          `json:"error"`
	ExtractedData   json.RawMessage `json:"extractedData"`
}

// handleWorkerUpdate is the worker-side progress-report RPC a worker calls
// mid-run to push its current iteration, last action, and any extracted
// data into the engine's circuit-breaker-tracked state (spec §4.G step 3).
func (d *Dispatcher) handleWorkerUpdate(req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	if d.workflow == nil {
		return errorResponse(req.ID, CodeInternal, "workflow engine not wired")
	}
	var p workerUpdateParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.OrchestrationID == "" || p.WorkerName == "" {
		return errorResponse(req.ID, CodeInvalidParams, "worker_update requires an orchestrationId and workerName")
	}

	update := workflow.ProgressUpdate{
		Iteration:     p.Iteration,
		Action:        p.Action,
		Result:        p.Result,
		Error:         p.Error,
		ExtractedData: p.ExtractedData,
	}
	if p.Status != "" {
		update.Status = workflow.Status(p.Status)
	}

	if err := d.workflow.UpdateWorkerProgress(p.OrchestrationID, p.WorkerName, update); err != nil {
		return errorResponse(req.ID, CodeSessionNotFound, err.Error())
	}
	return okResponse(req.ID, map[string]any{"acknowledged": true})
}

type workerCompleteParams struct {
	OrchestrationID string          `json:"orchestrationId"`
	WorkerName      string          `json:"workerName"`
	Status          string          `json:"status"`
	Summary         string          `json:"summary"`
	Data            json.RawMessage `json:"data"`
}

// handleWorkerComplete is the worker-side terminal-status RPC (spec §4.G
// step 4): a worker reports SUCCESS/PARTIAL/FAIL exactly once, feeding the
// engine's completion counter and overall-status rollup.
func (d *Dispatcher) handleWorkerComplete(req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	if d.workflow == nil {
		return errorResponse(req.ID, CodeInternal, "workflow engine not wired")
	}
	var p workerCompleteParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.OrchestrationID == "" || p.WorkerName == "" || p.Status == "" {
		return errorResponse(req.ID, CodeInvalidParams, "worker_complete requires an orchestrationId, workerName, and status")
	}

	if err := d.workflow.CompleteWorker(p.OrchestrationID, p.WorkerName, workflow.Status(p.Status), p.Summary, p.Data); err != nil {
		return errorResponse(req.ID, CodeSessionNotFound, err.Error())
	}
	return okResponse(req.ID, map[string]any{"acknowledged": true})
}

func timeFromMs(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func okResponse(id any, result any) mcp.JSONRPCResponse {
	payload := mcp.SafeMarshal(result, `{}`)
	return mcp.JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: payload}
}

func errorResponse(id any, code int, message string) mcp.JSONRPCResponse {
	return mcp.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &mcp.JSONRPCError{Code: code, Message: message},
	}
}
