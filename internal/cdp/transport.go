package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/brennhill/tabfleet/internal/pool"
	"github.com/brennhill/tabfleet/internal/tabgroup"
)

type cdpRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type cdpResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *cdpError       `json:"error,omitempty"`
	Method string          `json:"method,omitempty"` // present on events, which have no id
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *cdpError) Error() string { return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message) }

type conn struct {
	ws       *websocket.Conn
	nextID   atomic.Int64
	mu       sync.Mutex
	pending  map[int64]chan cdpResponse
	closed   chan struct{}
	closeErr error
}

func dial(wsURL string) (*conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}
	c := &conn{ws: ws, pending: make(map[int64]chan cdpResponse), closed: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

func (c *conn) readLoop() {
	defer close(c.closed)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.closeErr = err
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.mu.Unlock()
			return
		}

		var resp cdpResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Method != "" {
			continue // CDP event, not a method reply; this system has no event subscribers yet
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
			close(ch)
		}
	}
}

func (c *conn) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan cdpResponse, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	payload, err := json.Marshal(cdpRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", pool.ErrDetached, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: connection closed", pool.ErrDetached)
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

func (c *conn) close() {
	_ = c.ws.Close()
}

// Transport is the websocket-backed pool.Transport implementation: one CDP
// connection per attached tab.
type Transport struct {
	browser *Browser
	log     *zap.Logger

	mu    sync.Mutex
	conns map[tabgroup.TabID]*conn
}

// NewTransport creates a Transport that dials targets discovered through
// browser.
func NewTransport(browser *Browser, log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{browser: browser, log: log.Named("cdp.transport"), conns: make(map[tabgroup.TabID]*conn)}
}

// Attach dials the websocket debugger URL the Browser recorded for tab when
// it was created.
func (t *Transport) Attach(ctx context.Context, tab int) error {
	tid := tabgroup.TabID(tab)
	wsURL, ok := t.browser.wsURL(tid)
	if !ok {
		return fmt.Errorf("cdp: no debugger url recorded for tab %d", tab)
	}

	c, err := dial(wsURL)
	if err != nil {
		return fmt.Errorf("cdp: attach tab %d: %w", tab, err)
	}

	t.mu.Lock()
	t.conns[tid] = c
	t.mu.Unlock()
	return nil
}

// Detach closes the websocket connection for tab, if any.
func (t *Transport) Detach(ctx context.Context, tab int) error {
	tid := tabgroup.TabID(tab)
	t.mu.Lock()
	c, ok := t.conns[tid]
	delete(t.conns, tid)
	t.mu.Unlock()
	if ok {
		c.close()
	}
	return nil
}

// Execute sends one CDP method call over tab's websocket connection and
// waits for the matching reply. A write or closed-connection failure is
// reported via pool.ErrDetached so the pool's one-shot reattach-and-retry
// logic can recover it.
func (t *Transport) Execute(ctx context.Context, tab int, method string, params any) (any, error) {
	tid := tabgroup.TabID(tab)
	t.mu.Lock()
	c, ok := t.conns[tid]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: tab %d not attached", pool.ErrDetached, tab)
	}

	raw, err := c.call(ctx, method, params)
	if err != nil {
		return nil, err
	}

	var result any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("cdp: decode result of %s: %w", method, err)
		}
	}
	return result, nil
}

var _ pool.Transport = (*Transport)(nil)
