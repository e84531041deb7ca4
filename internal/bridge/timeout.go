// timeout.go — Per-request timeout logic for MCP tool calls.
package bridge

import (
	"encoding/json"
	"time"
)

// Timeout constants for different tool categories.
const (
	FastTimeout    = 10 * time.Second
	SlowTimeout    = 35 * time.Second
	BlockingPoll   = 65 * time.Second
)

// ToolCallTimeout returns the per-request timeout based on the JSON-RPC
// method and, for tools/call, the tool name. Single CDP round trips (click,
// type, screenshot, page_read, form_input, dom_query) get FastTimeout;
// workflow/init waits on concurrent worker and page bring-up across every
// step (spec §4.G step 2) and gets SlowTimeout; worker_update/worker_complete
// are workers self-reporting progress mid-run and get BlockingPoll since a
// slow worker legitimately takes a while between reports.
//
// method is the JSON-RPC method (e.g. "tools/call", "workflow/init").
// params is the raw JSON of the request params.
func ToolCallTimeout(method string, params json.RawMessage) time.Duration {
	switch method {
	case "workflow/init":
		return SlowTimeout
	case "worker_update", "worker_complete":
		return BlockingPoll
	case "tools/call":
		return toolCallTimeoutForTool(params)
	default:
		return FastTimeout
	}
}

func toolCallTimeoutForTool(params json.RawMessage) time.Duration {
	var p struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(params, &p) != nil {
		return FastTimeout
	}
	switch p.Name {
	case "screenshot", "page_read":
		return SlowTimeout
	default:
		return FastTimeout
	}
}

// ExtractToolAction extracts the tool name and selector parameter from a
// tools/call request. Returns empty strings for non-tools/call methods or if
// parsing fails.
func ExtractToolAction(method string, params json.RawMessage) (toolName, selector string) {
	if method != "tools/call" {
		return "", ""
	}
	var p struct {
		Name string          `json:"name"`
		Args json.RawMessage `json:"arguments"`
	}
	if json.Unmarshal(params, &p) != nil {
		return "", ""
	}
	var a struct {
		Selector string `json:"selector"`
	}
	_ = json.Unmarshal(p.Args, &a)
	return p.Name, a.Selector
}
