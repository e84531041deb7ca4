package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brennhill/tabfleet/internal/dispatch"
	"github.com/brennhill/tabfleet/internal/mcp"
	"github.com/brennhill/tabfleet/internal/refid"
	"github.com/brennhill/tabfleet/internal/tabgroup"
)

// Deps is what every handler in this package needs: the fused executeCDP
// path and the ref-id lookup/generation behind selector-by-ref arguments
// (spec component H). The concrete value core.New passes in is a composite
// of session.Registry and refid.Registry, not either alone.
type Deps interface {
	ExecuteCDP(ctx context.Context, sessionID string, tab tabgroup.TabID, method string, params any) (any, error)
	GenerateRef(sessionID string, tab int, backendNodeID int, role, name string) string
	ResolveRef(sessionID string, tab int, refID string) (refid.Entry, bool)
}

func missingParam(field, retry string) dispatch.Result {
	payload := mcp.StructuredErrorResponse(mcp.ErrMissingParam, fmt.Sprintf("required parameter %q is missing", field), retry, mcp.WithParam(field))
	var result mcp.MCPToolResult
	_ = json.Unmarshal(payload, &result)
	return dispatch.Result{Content: result.Content, IsError: result.IsError}
}

func cdpError(err error) dispatch.Result {
	payload := mcp.StructuredErrorResponse(mcp.ErrCDPError, err.Error(), "Retry the operation; if it keeps failing the tab may have navigated away")
	var result mcp.MCPToolResult
	_ = json.Unmarshal(payload, &result)
	return dispatch.Result{Content: result.Content, IsError: result.IsError}
}

func refNotFound(refID string) dispatch.Result {
	payload := mcp.StructuredErrorResponse(mcp.ErrInvalidParam,
		fmt.Sprintf("ref %q was not found for this tab", refID),
		"Call page_read again to regenerate ref ids, then retry with a fresh one",
		mcp.WithParam("selector"))
	var result mcp.MCPToolResult
	_ = json.Unmarshal(payload, &result)
	return dispatch.Result{Content: result.Content, IsError: result.IsError}
}

// selectorParams resolves a tool-facing selector into its CDP parameter
// shape. A "ref_"-prefixed selector is looked up against deps's ref-id
// registry instead of being parsed as CSS/text/role (spec component H); any
// other selector goes through parseSelector unchanged.
func selectorParams(deps Deps, sessionID string, tab int, selector string) (map[string]any, *dispatch.Result) {
	if strings.HasPrefix(selector, "ref_") {
		entry, ok := deps.ResolveRef(sessionID, tab, selector)
		if !ok {
			res := refNotFound(selector)
			return nil, &res
		}
		return map[string]any{"backendNodeId": entry.BackendNodeID}, nil
	}
	return parseSelector(selector), nil
}

// annotateRefs walks an Accessibility.getFullAXTree result, generating a
// stable ref id for every node so a later click/type/form_input call can
// target it with "ref_N" instead of a CSS path (spec component H).
func annotateRefs(deps Deps, sessionID string, tab int, result any) []map[string]any {
	root, ok := result.(map[string]any)
	if !ok {
		return nil
	}
	rawNodes, ok := root["nodes"].([]any)
	if !ok {
		return nil
	}

	refs := make([]map[string]any, 0, len(rawNodes))
	for _, rn := range rawNodes {
		node, ok := rn.(map[string]any)
		if !ok {
			continue
		}
		backendNodeID := axIntField(node["backendDOMNodeId"])
		role := axStringField(node["role"])
		name := axStringField(node["name"])
		refID := deps.GenerateRef(sessionID, tab, backendNodeID, role, name)
		refs = append(refs, map[string]any{"ref": refID, "role": role, "name": name})
	}
	return refs
}

func axStringField(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m["value"].(string)
	return s
}

func axIntField(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

type baseArgs struct {
	Tab int `json:"tab"`
}

// Register installs click, type, screenshot, page_read, form_input, and
// dom_query into tools, all backed by deps's fused executeCDP path.
func Register(tools *dispatch.ToolRegistry, deps Deps) {
	tools.Register(dispatch.ToolDefinition{
		Name:        "click",
		Description: "Click an element matched by selector inside a session's tab.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"tab": map[string]any{"type": "integer"}, "selector": map[string]any{"type": "string"}},
			"required":   []string{"tab", "selector"},
		},
		Handler: dispatch.ToolHandlerFunc(func(sessionID string, arguments json.RawMessage) dispatch.Result {
			var args struct {
				baseArgs
				Selector string `json:"selector"`
			}
			_ = json.Unmarshal(arguments, &args)
			if args.Selector == "" {
				return missingParam("selector", "Add the 'selector' parameter identifying the element to click")
			}
			params, errResult := selectorParams(deps, sessionID, args.Tab, args.Selector)
			if errResult != nil {
				return *errResult
			}
			result, err := deps.ExecuteCDP(context.Background(), sessionID, tabgroup.TabID(args.Tab), "DOM.click", params)
			if err != nil {
				return cdpError(err)
			}
			return dispatch.TextResult(fmt.Sprintf("clicked %s: %v", args.Selector, result))
		}),
	})

	tools.Register(dispatch.ToolDefinition{
		Name:        "type",
		Description: "Type text into an element matched by selector.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"tab": map[string]any{"type": "integer"}, "selector": map[string]any{"type": "string"}, "text": map[string]any{"type": "string"}},
			"required":   []string{"tab", "selector", "text"},
		},
		Handler: dispatch.ToolHandlerFunc(func(sessionID string, arguments json.RawMessage) dispatch.Result {
			var args struct {
				baseArgs
				Selector string `json:"selector"`
				Text     string `json:"text"`
			}
			_ = json.Unmarshal(arguments, &args)
			if args.Selector == "" {
				return missingParam("selector", "Add the 'selector' parameter identifying the element to type into")
			}
			if args.Text == "" {
				return missingParam("text", "Add the 'text' parameter with the text to type")
			}
			params, errResult := selectorParams(deps, sessionID, args.Tab, args.Selector)
			if errResult != nil {
				return *errResult
			}
			params["text"] = args.Text
			result, err := deps.ExecuteCDP(context.Background(), sessionID, tabgroup.TabID(args.Tab), "Input.insertText", params)
			if err != nil {
				return cdpError(err)
			}
			return dispatch.TextResult(fmt.Sprintf("typed into %s: %v", args.Selector, result))
		}),
	})

	tools.Register(dispatch.ToolDefinition{
		Name:        "screenshot",
		Description: "Capture a screenshot of a session's tab.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"tab": map[string]any{"type": "integer"}},
			"required":   []string{"tab"},
		},
		Handler: dispatch.ToolHandlerFunc(func(sessionID string, arguments json.RawMessage) dispatch.Result {
			var args baseArgs
			_ = json.Unmarshal(arguments, &args)
			result, err := deps.ExecuteCDP(context.Background(), sessionID, tabgroup.TabID(args.Tab), "Page.captureScreenshot", nil)
			if err != nil {
				return cdpError(err)
			}
			data, _ := result.(string)
			return dispatch.Result{Content: []mcp.MCPContentBlock{{Type: "image", Text: data}}}
		}),
	})

	tools.Register(dispatch.ToolDefinition{
		Name:        "page_read",
		Description: "Read the accessibility tree of a session's tab.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"tab": map[string]any{"type": "integer"}},
			"required":   []string{"tab"},
		},
		Handler: dispatch.ToolHandlerFunc(func(sessionID string, arguments json.RawMessage) dispatch.Result {
			var args baseArgs
			_ = json.Unmarshal(arguments, &args)
			result, err := deps.ExecuteCDP(context.Background(), sessionID, tabgroup.TabID(args.Tab), "Accessibility.getFullAXTree", nil)
			if err != nil {
				return cdpError(err)
			}
			refs := annotateRefs(deps, sessionID, args.Tab, result)
			if len(refs) == 0 {
				return dispatch.TextResult(fmt.Sprintf("%v", result))
			}
			return dispatch.JSONResult(fmt.Sprintf("%d elements, selectable via their ref_N ids", len(refs)), refs)
		}),
	})

	tools.Register(dispatch.ToolDefinition{
		Name:        "form_input",
		Description: "Set the value of a form field matched by selector.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"tab": map[string]any{"type": "integer"}, "selector": map[string]any{"type": "string"}, "value": map[string]any{"type": "string"}},
			"required":   []string{"tab", "selector", "value"},
		},
		Handler: dispatch.ToolHandlerFunc(func(sessionID string, arguments json.RawMessage) dispatch.Result {
			var args struct {
				baseArgs
				Selector string `json:"selector"`
				Value    string `json:"value"`
			}
			_ = json.Unmarshal(arguments, &args)
			if args.Selector == "" {
				return missingParam("selector", "Add the 'selector' parameter identifying the form field")
			}
			params, errResult := selectorParams(deps, sessionID, args.Tab, args.Selector)
			if errResult != nil {
				return *errResult
			}
			params["value"] = args.Value
			result, err := deps.ExecuteCDP(context.Background(), sessionID, tabgroup.TabID(args.Tab), "DOM.setFormValue", params)
			if err != nil {
				return cdpError(err)
			}
			return dispatch.TextResult(fmt.Sprintf("set %s: %v", args.Selector, result))
		}),
	})

	tools.Register(dispatch.ToolDefinition{
		Name:        "dom_query",
		Description: "Query elements matching a selector and return their descriptors.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"tab": map[string]any{"type": "integer"}, "selector": map[string]any{"type": "string"}},
			"required":   []string{"tab", "selector"},
		},
		Handler: dispatch.ToolHandlerFunc(func(sessionID string, arguments json.RawMessage) dispatch.Result {
			var args struct {
				baseArgs
				Selector string `json:"selector"`
			}
			_ = json.Unmarshal(arguments, &args)
			if args.Selector == "" {
				return missingParam("selector", "Add the 'selector' parameter to query for")
			}
			params, errResult := selectorParams(deps, sessionID, args.Tab, args.Selector)
			if errResult != nil {
				return *errResult
			}
			result, err := deps.ExecuteCDP(context.Background(), sessionID, tabgroup.TabID(args.Tab), "DOM.querySelectorAll", params)
			if err != nil {
				return cdpError(err)
			}
			return dispatch.JSONResult(fmt.Sprintf("matches for %s", args.Selector), result)
		}),
	})
}
