// wsserver.go — optional websocket JSON-RPC listener, the second framed
// transport the spec allows alongside stdio (§1 notes the wire transport is
// a pluggable external collaborator).
package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/brennhill/tabfleet/internal/core"
	"github.com/brennhill/tabfleet/internal/mcp"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWebsocket upgrades addr's HTTP listener to accept one JSON-RPC
// connection per websocket; each inbound text frame is one request, each
// outbound text frame is one response. Call in a goroutine; it blocks
// until ListenAndServe returns.
func serveWebsocket(c *core.Core, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		go serveWebsocketConn(c, conn, log)
	})
	log.Info("websocket transport listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, mux) // #nosec G704 -- addr is operator-configured
}

func serveWebsocketConn(c *core.Core, conn *websocket.Conn, log *zap.Logger) {
	defer func() { _ = conn.Close() }()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req mcp.JSONRPCRequest
		if jsonErr := json.Unmarshal(payload, &req); jsonErr != nil {
			resp := mcp.JSONRPCResponse{
				JSONRPC: "2.0",
				Error:   &mcp.JSONRPCError{Code: -32700, Message: "parse error: " + jsonErr.Error()},
			}
			if werr := conn.WriteJSON(resp); werr != nil {
				return
			}
			continue
		}

		resp := dispatchWithTimeout(c, req, log)
		if werr := conn.WriteJSON(resp); werr != nil {
			return
		}
	}
}
