// Package rpcclient is a JSON-RPC 2.0 client for tabfleetd's websocket
// transport, adapted from the teacher's gasoline-cmd server.Client: the
// same request-building and error-unwrapping shape, with the HTTP POST
// swapped for a websocket connection since that is tabfleetd's
// request/response wire.
package rpcclient

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brennhill/tabfleet/internal/mcp"
)

// Client holds one websocket connection to a running tabfleetd daemon.
type Client struct {
	conn      *websocket.Conn
	requestID atomic.Int64
	timeout   time.Duration
}

// Dial opens a websocket connection to addr (e.g. "ws://127.0.0.1:9790/rpc").
func Dial(addr string, timeout time.Duration) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends one JSON-RPC request and waits for its response.
func (c *Client) Call(method string, params any) (mcp.JSONRPCResponse, error) {
	id := c.requestID.Add(1)

	paramsJSON := mcp.SafeMarshal(params, `{}`)
	req := mcp.JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: paramsJSON}

	if c.timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}

	if err := c.conn.WriteJSON(req); err != nil {
		return mcp.JSONRPCResponse{}, fmt.Errorf("rpcclient: send %s: %w", method, err)
	}

	var resp mcp.JSONRPCResponse
	if err := c.conn.ReadJSON(&resp); err != nil {
		return mcp.JSONRPCResponse{}, fmt.Errorf("rpcclient: receive %s response: %w", method, err)
	}
	if resp.Error != nil {
		return resp, fmt.Errorf("rpcclient: server error [%d]: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp, nil
}

// CallTool sends a tools/call request and unmarshals its result.
func (c *Client) CallTool(sessionID, tool string, arguments map[string]any) (mcp.MCPToolResult, error) {
	argsJSON := mcp.SafeMarshal(arguments, `{}`)
	params := map[string]any{
		"name":      tool,
		"arguments": argsJSON,
		"sessionId": sessionID,
	}

	resp, err := c.Call("tools/call", params)
	if err != nil {
		return mcp.MCPToolResult{}, err
	}

	var result mcp.MCPToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return mcp.MCPToolResult{}, fmt.Errorf("rpcclient: decode tool result: %w", err)
	}
	return result, nil
}
