// Command tabfleetd is the daemon: it wires internal/core to a real browser
// over internal/cdp and serves JSON-RPC over stdio and, optionally,
// websocket, mirroring the teacher's flag-driven single-binary daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/brennhill/tabfleet/cmd/tabfleetd/config"
	"github.com/brennhill/tabfleet/internal/cdp"
	"github.com/brennhill/tabfleet/internal/core"
	"github.com/brennhill/tabfleet/internal/logging"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to tabfleet.toml (default: $TABFLEET_CONFIG or ./tabfleet.toml)")
	dev := flag.Bool("dev", false, "Emit development (console) logs instead of production JSON")
	wsAddr := flag.String("websocket-addr", "", "Listen address for the websocket transport (overrides config, empty disables)")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tabfleetd v%s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tabfleetd: load config: %v\n", err)
		os.Exit(1)
	}
	if *wsAddr != "" {
		cfg.Transport.WebsocketAddr = *wsAddr
	}

	mode := logging.ModeProduction
	if *dev {
		mode = logging.ModeDevelopment
	}
	log, err := logging.New(mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tabfleetd: build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	browser := cdp.NewBrowser(cfg.Browser.HTTPAddr, log)
	transport := cdp.NewTransport(browser, log)

	c, err := core.New(toCoreConfig(cfg), transport, browser, log)
	if err != nil {
		log.Sugar().Fatalf("tabfleetd: wire core: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.StartIdleReaper(ctx)
	defer c.Stop()

	if cfg.Transport.WebsocketAddr != "" {
		go func() {
			if err := serveWebsocket(c, cfg.Transport.WebsocketAddr, log); err != nil {
				log.Error("websocket transport exited", zap.Error(err))
			}
		}()
	}

	if !cfg.Transport.Stdio {
		log.Info("stdio transport disabled, blocking until shutdown signal")
		<-ctx.Done()
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		runStdio(c, os.Stdin, os.Stdout, cfg.Transport.MaxMessageBytes, log)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
}

func toCoreConfig(cfg config.Config) core.Config {
	cc := core.Default()
	cc.SessionIdleReapMs = cfg.Session.IdleReapMs
	cc.SessionIdleScanMs = cfg.Session.IdleScanMs
	if cfg.Workflow.WorkerTimeoutMs > 0 {
		cc.WorkerTimeout = time.Duration(cfg.Workflow.WorkerTimeoutMs) * time.Millisecond
	}
	cc.GlobalTimeoutMs = cfg.Workflow.GlobalTimeoutMs
	cc.MaxStaleIterations = cfg.Workflow.MaxStaleIterations
	cc.ScratchpadDir = cfg.Scratchpad.BaseDir
	cc.RedactionConfigPath = cfg.Scratchpad.RedactionConfigPath
	cc.ServerName = cfg.Server.Name
	cc.ServerVersion = cfg.Server.Version
	return cc
}
