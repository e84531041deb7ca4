// types.go — result payload shapes for the MCP methods tabfleetd answers:
// tool results, initialize, and the resource-listing surface.
package mcp

// MCPContentBlock is one chunk of an MCPToolResult's Content slice. tabfleetd
// only ever emits Type: "text", but the field stays a free string per the
// MCP content-block union.
type MCPContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MCPToolResult is what a tools/call response's "result" field holds.
type MCPToolResult struct {
	Content  []MCPContentBlock `json:"content"`
	IsError  bool              `json:"isError"` // SPEC:MCP
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// MCPInitializeResult answers the client's initialize handshake.
type MCPInitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"` // SPEC:MCP
	ServerInfo      MCPServerInfo   `json:"serverInfo"`      // SPEC:MCP
	Capabilities    MCPCapabilities `json:"capabilities"`
	Instructions    string          `json:"instructions,omitempty"`
}

// MCPServerInfo names the server for the client's initialize handshake.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPCapabilities advertises which optional MCP feature groups this server
// implements.
type MCPCapabilities struct {
	Tools     MCPToolsCapability     `json:"tools"`
	Resources MCPResourcesCapability `json:"resources"`
}

// MCPToolsCapability is an empty marker; its presence in MCPCapabilities is
// what matters, not any field on it.
type MCPToolsCapability struct{}

// MCPResourcesCapability is an empty marker; its presence in MCPCapabilities
// is what matters, not any field on it.
type MCPResourcesCapability struct{}

// MCPResource is one entry in a resources/list response.
type MCPResource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"` // SPEC:MCP
}

// MCPResourceContent is one entry in a resources/read response.
type MCPResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"` // SPEC:MCP
	Text     string `json:"text,omitempty"`
}

// MCPResourcesListResult is the result payload for resources/list.
type MCPResourcesListResult struct {
	Resources []MCPResource `json:"resources"`
}

// MCPResourcesReadResult is the result payload for resources/read.
type MCPResourcesReadResult struct {
	Contents []MCPResourceContent `json:"contents"`
}

// MCPToolsListResult is the result payload for tools/list.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPResourceTemplatesListResult is the result payload for
// resources/templates/list. tabfleetd has no templated resources, so Tools
// always answers with an empty slice, but the shape is part of the MCP
// contract clients probe for.
type MCPResourceTemplatesListResult struct {
	ResourceTemplates []any `json:"resourceTemplates"` // SPEC:MCP
}

// LogEntry is one record from a tab's console/network log. Keys typically
// include: ts, level, message, source, url, stack_trace.
type LogEntry = map[string]any
