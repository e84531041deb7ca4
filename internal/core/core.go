// Package core wires every component into a single root value owned by
// the process, replacing the source's process-wide singleton getters
// (getRefIdManager, getSessionManager, getWorkflowEngine, ...). Request
// handlers receive the root explicitly; nothing here is package-global.
package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/brennhill/tabfleet/internal/dispatch"
	"github.com/brennhill/tabfleet/internal/pool"
	"github.com/brennhill/tabfleet/internal/queue"
	"github.com/brennhill/tabfleet/internal/redaction"
	"github.com/brennhill/tabfleet/internal/refid"
	"github.com/brennhill/tabfleet/internal/scratchpad"
	"github.com/brennhill/tabfleet/internal/session"
	"github.com/brennhill/tabfleet/internal/tabgroup"
	"github.com/brennhill/tabfleet/internal/tools"
	"github.com/brennhill/tabfleet/internal/workerpool"
	"github.com/brennhill/tabfleet/internal/workflow"
)

// Config carries every external knob enumerated in spec §6, all with
// defaults applied by Default().
type Config struct {
	SessionIdleReapMs   int64
	SessionIdleScanMs   int64
	WorkerTimeout       time.Duration
	GlobalTimeoutMs     int64
	MaxStaleIterations  int
	ScratchpadDir       string
	RedactionConfigPath string
	ServerName          string
	ServerVersion       string
}

// Default returns a Config with every spec §6 default applied.
func Default() Config {
	return Config{
		SessionIdleReapMs:  1_800_000,
		SessionIdleScanMs:  300_000,
		WorkerTimeout:      workflow.DefaultWorkerTimeout,
		GlobalTimeoutMs:    workflow.DefaultGlobalTimeoutMs,
		MaxStaleIterations: workflow.DefaultMaxStaleIteration,
		ServerName:         "tabfleetd",
		ServerVersion:      "dev",
	}
}

// Core is the process's single root object. It embeds every component
// (spec §9 Design Notes, Singletons) and owns the idle reaper's lifetime.
type Core struct {
	Config Config

	Queues    *queue.Manager
	Pool      *pool.Pool
	TabGroups *tabgroup.Registry
	Sessions  *session.Registry
	Scratch   *scratchpad.Store
	Workflow  *workflow.Engine
	RefIDs    *refid.Registry
	Tools     *dispatch.ToolRegistry
	Dispatch  *dispatch.Dispatcher
	Redactor  *redaction.RedactionEngine

	log *zap.Logger

	reaperCancel context.CancelFunc
	reaperDone   chan struct{}
	reaperOnce   sync.Once
}

// New wires every component per the data-flow described in spec §2: RPC ->
// Dispatcher -> SessionRegistry (asserts ownership via TabGroupRegistry) ->
// QueueManager -> ConnectionPool. transport and backend are the external
// collaborators the spec places out of scope (§1): the CDP channel and the
// browser tab/group surface, respectively. WorkflowEngine's own
// SessionManager/PagePool collaborators are built from the same session
// registry and backend rather than taken as parameters, since that pairing
// is exactly what those interfaces abstract (see workerpool's doc comment).
func New(cfg Config, transport pool.Transport, backend tabgroup.Backend, log *zap.Logger) (*Core, error) {
	if log == nil {
		log = zap.NewNop()
	}

	redactor := redaction.NewRedactionEngine(cfg.RedactionConfigPath)

	scratch, err := scratchpad.New(cfg.ScratchpadDir, redactor, log)
	if err != nil {
		return nil, err
	}

	queues := queue.NewManager(log)
	connPool := pool.New(transport, log)
	groups := tabgroup.NewRegistry(backend, log)
	sessionRegistry := session.NewRegistry(groups, queues, connPool, log)
	refIDs := refid.New(nil, log)
	workers := workerpool.New(sessionRegistry, backend, log)
	workflowEngine := workflow.New(workers, workers, scratch, log)

	toolRegistry := dispatch.NewToolRegistry()
	tools.Register(toolRegistry, toolsDeps{Registry: sessionRegistry, refs: refIDs})
	d := dispatch.New(dispatch.ServerInfo{Name: cfg.ServerName, Version: cfg.ServerVersion}, toolRegistry, sessionRegistry, workflowEngine, log)

	c := &Core{
		Config:    cfg,
		Queues:    queues,
		Pool:      connPool,
		TabGroups: groups,
		Sessions:  sessionRegistry,
		Scratch:   scratch,
		Workflow:  workflowEngine,
		RefIDs:    refIDs,
		Tools:     toolRegistry,
		Dispatch:  d,
		Redactor:  redactor,
		log:       log.Named("core"),
	}

	sessionRegistry.AddListener(c.onSessionEvent)
	return c, nil
}

func (c *Core) onSessionEvent(ev session.Event) {
	switch ev.Type {
	case session.EventDeleted:
		c.RefIDs.ClearSession(ev.SessionID)
	case session.EventTabRemoved:
		c.RefIDs.ClearTab(ev.SessionID, int(ev.TabID))
	case session.EventCDPAttached:
		c.log.Debug("cdp attached", zap.String("session_id", ev.SessionID), zap.Int("tab", int(ev.TabID)))
	case session.EventCDPDetached:
		c.log.Debug("cdp detached", zap.String("session_id", ev.SessionID), zap.Int("tab", int(ev.TabID)))
		c.RefIDs.ClearTab(ev.SessionID, int(ev.TabID))
	}
}

// toolsDeps composites session.Registry's fused executeCDP path with
// refid.Registry's generate/resolve pair into the single tools.Deps value
// internal/tools needs, without tools importing either package directly
// (spec component H wiring).
type toolsDeps struct {
	*session.Registry
	refs *refid.Registry
}

func (d toolsDeps) GenerateRef(sessionID string, tab int, backendNodeID int, role, name string) string {
	return d.refs.Generate(sessionID, tab, backendNodeID, role, name)
}

func (d toolsDeps) ResolveRef(sessionID string, tab int, refID string) (refid.Entry, bool) {
	return d.refs.Get(sessionID, tab, refID)
}

// StartIdleReaper launches the background scan that calls
// Sessions.ReapIdle every SessionIdleScanMs, stopping when ctx is
// cancelled or Stop is called (spec §5, §6).
func (c *Core) StartIdleReaper(ctx context.Context) {
	scanEvery := time.Duration(c.Config.SessionIdleScanMs) * time.Millisecond
	if scanEvery <= 0 {
		scanEvery = 300_000 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(ctx)
	c.reaperCancel = cancel
	c.reaperDone = make(chan struct{})

	go func() {
		defer close(c.reaperDone)
		ticker := time.NewTicker(scanEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reaped := c.Sessions.ReapIdle(c.Config.SessionIdleReapMs)
				if len(reaped) > 0 {
					c.log.Info("reaped idle sessions", zap.Int("count", len(reaped)))
				}
			}
		}
	}()
}

// Stop cancels the idle reaper and waits for it to exit. Safe to call
// more than once or when the reaper was never started.
func (c *Core) Stop() {
	c.reaperOnce.Do(func() {
		if c.reaperCancel != nil {
			c.reaperCancel()
		}
		if c.reaperDone != nil {
			<-c.reaperDone
		}
	})
}
