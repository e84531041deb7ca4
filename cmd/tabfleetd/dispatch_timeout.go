// dispatch_timeout.go — per-request deadline wrapper shared by both
// transports, adapted from the teacher's bridge.ToolCallTimeout use in its
// websocket bridge loop.
package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brennhill/tabfleet/internal/bridge"
	"github.com/brennhill/tabfleet/internal/core"
	"github.com/brennhill/tabfleet/internal/dispatch"
	"github.com/brennhill/tabfleet/internal/mcp"
)

// dispatchWithTimeout runs req through c.Dispatch.Handle under the deadline
// bridge.ToolCallTimeout assigns its method/tool. A request that blows its
// deadline comes back as an internal-error response instead of hanging the
// transport loop on a wedged browser; the underlying call keeps running to
// completion in the background.
func dispatchWithTimeout(c *core.Core, req mcp.JSONRPCRequest, log *zap.Logger) mcp.JSONRPCResponse {
	timeout := bridge.ToolCallTimeout(req.Method, req.Params)

	done := make(chan mcp.JSONRPCResponse, 1)
	go func() { done <- c.Dispatch.Handle(req) }()

	select {
	case resp := <-done:
		return resp
	case <-time.After(timeout):
		log.Warn("request exceeded its timeout", zap.String("method", req.Method), zap.Duration("timeout", timeout))
		return mcp.JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &mcp.JSONRPCError{Code: dispatch.CodeInternal, Message: fmt.Sprintf("%s exceeded its %s timeout", req.Method, timeout)},
		}
	}
}
