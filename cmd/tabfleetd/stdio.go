// stdio.go — the stdio JSON-RPC transport loop, adapted from the teacher's
// mcp_stdout.go emitter: echo the framing the request arrived in back on
// the response (spec's "both framings, auto-detected per message").
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/brennhill/tabfleet/internal/bridge"
	"github.com/brennhill/tabfleet/internal/core"
	"github.com/brennhill/tabfleet/internal/mcp"
)

// runStdio reads framed JSON-RPC requests from in, dispatches them through
// c, and writes framed responses to out until in is exhausted.
func runStdio(c *core.Core, in io.Reader, out io.Writer, maxMessageBytes int, log *zap.Logger) {
	reader := bufio.NewReader(in)
	var writeMu sync.Mutex

	for {
		payload, framing, err := bridge.ReadStdioMessageWithMode(reader, maxMessageBytes)
		if err != nil {
			if err != io.EOF {
				log.Warn("stdio read failed", zap.Error(err))
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var req mcp.JSONRPCRequest
		if jsonErr := json.Unmarshal(payload, &req); jsonErr != nil {
			resp := mcp.JSONRPCResponse{
				JSONRPC: "2.0",
				Error:   &mcp.JSONRPCError{Code: -32700, Message: "parse error: " + jsonErr.Error()},
			}
			writeResponse(out, &writeMu, resp, framing, log)
			continue
		}

		resp := dispatchWithTimeout(c, req, log)
		writeResponse(out, &writeMu, resp, framing, log)
	}
}

func writeResponse(out io.Writer, mu *sync.Mutex, resp mcp.JSONRPCResponse, framing bridge.StdioFraming, log *zap.Logger) {
	payload, err := json.Marshal(resp)
	if err != nil {
		log.Error("failed to marshal response", zap.Error(err))
		return
	}
	payload = bytes.TrimSpace(payload)

	mu.Lock()
	defer mu.Unlock()
	if framing == bridge.StdioFramingContentLength {
		_, _ = fmt.Fprintf(out, "Content-Length: %d\r\nContent-Type: application/json\r\n\r\n%s", len(payload), payload)
		return
	}
	_, _ = out.Write(payload)
	_, _ = out.Write([]byte("\n"))
}
