// Command stashbridge is the background coordination agent: it keeps a
// companion script registered and live in browser tabs and serves the
// inventory command surface to UI and content layers.
//
// Usage:
//
//	stashbridge -config stashbridge.yaml
//	stashbridge -devtools ws://127.0.0.1:9222/... -listen 127.0.0.1:8089
//	stashbridge -mcp stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/stashbridge/agent"
	"github.com/hazyhaar/stashbridge/dbopen"
	"github.com/hazyhaar/stashbridge/dispatch"
	"github.com/hazyhaar/stashbridge/host/rodhost"
	"github.com/hazyhaar/stashbridge/identity"
	"github.com/hazyhaar/stashbridge/inventory"
)

// hostEvent is one entry in the sequential event queue. Permission events
// must be applied one at a time in delivery order, so every host-originated
// event funnels through a single consuming goroutine.
type hostEvent struct {
	originsAdded   []string
	originsRemoved []string
	tabActivated   *int
}

func main() {
	configPath := flag.String("config", "", "path to stashbridge.yaml config file")
	devtools := flag.String("devtools", "", "remote DevTools websocket URL (empty = launch local browser)")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	mcpTransport := flag.String("mcp", "", "serve MCP instead of HTTP: 'stdio'")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *devtools, *listen, *mcpTransport); err != nil {
		logger.Error("stashbridge: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, devtools, listen, mcpTransport string) error {
	cfg := agent.DefaultConfig()
	if configPath != "" {
		loaded, err := agent.LoadConfigFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if devtools != "" {
		cfg.DevTools.URL = devtools
	}
	if listen != "" {
		cfg.Listen = listen
	}

	// Host bridge.
	source, err := os.ReadFile(cfg.DevTools.CompanionSource)
	if err != nil {
		logger.Warn("stashbridge: companion source unavailable, injection disabled",
			"path", cfg.DevTools.CompanionSource, "error", err)
	}

	db, err := dbopen.Open(cfg.DevTools.RegistrationDB, dbopen.WithMkdirAll())
	if err != nil {
		return err
	}
	defer db.Close()
	store, err := rodhost.NewSQLStore(db)
	if err != nil {
		return err
	}

	bridge := rodhost.New(
		rodhost.WithControlURL(cfg.DevTools.URL),
		rodhost.WithCompanionSource(source),
		rodhost.WithRegistrationStore(store),
		rodhost.WithLogger(logger),
	)
	if err := bridge.Connect(ctx); err != nil {
		return err
	}
	defer bridge.Close()

	a := agent.New(bridge,
		agent.WithLogger(logger),
		agent.WithResolver(identity.New(
			identity.WithProfileURL(cfg.Community.ProfileURL),
			identity.WithLogger(logger),
		)),
		agent.WithFetcher(inventory.New(
			inventory.WithBaseURL(cfg.Community.InventoryBase),
			inventory.WithCommunityBase(cfg.Community.Base),
			inventory.WithLogger(logger),
		)),
	)

	if mcpTransport == "stdio" {
		srv := mcp.NewServer(&mcp.Implementation{
			Name:    "stashbridge",
			Version: "1.0.0",
		}, nil)
		agent.RegisterMCP(srv, a)
		logger.Info("stashbridge: serving MCP over stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	d := dispatch.New(dispatch.WithLogger(logger))
	a.Commands(d)

	// Single consumer: host events are applied strictly in delivery order.
	events := make(chan hostEvent, 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				applyEvent(ctx, a, ev)
			}
		}
	}()

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Post("/command", func(w http.ResponseWriter, req *http.Request) {
		var msg dispatch.Message
		if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
			http.Error(w, "bad message", http.StatusBadRequest)
			return
		}
		env := d.Dispatch(req.Context(), msg)
		if env == nil {
			// Unrecognized event: deliberately no response body.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(env)
	})
	r.Post("/events/permissions", func(w http.ResponseWriter, req *http.Request) {
		var ev struct {
			Added   []string `json:"added"`
			Removed []string `json:"removed"`
		}
		if err := json.NewDecoder(req.Body).Decode(&ev); err != nil {
			http.Error(w, "bad event", http.StatusBadRequest)
			return
		}
		events <- hostEvent{originsAdded: ev.Added, originsRemoved: ev.Removed}
		w.WriteHeader(http.StatusAccepted)
	})
	r.Post("/events/tab-activated", func(w http.ResponseWriter, req *http.Request) {
		var ev struct {
			TabID int `json:"tabId"`
		}
		if err := json.NewDecoder(req.Body).Decode(&ev); err != nil {
			http.Error(w, "bad event", http.StatusBadRequest)
			return
		}
		events <- hostEvent{tabActivated: &ev.TabID}
		w.WriteHeader(http.StatusAccepted)
	})

	srv := &http.Server{Addr: cfg.Listen, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("stashbridge: listening", "addr", cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// applyEvent runs one host event to completion. Failures are logged, never
// fatal: the event loop must keep consuming.
func applyEvent(ctx context.Context, a *agent.Agent, ev hostEvent) {
	switch {
	case len(ev.originsAdded) > 0:
		if err := a.OnOriginsGranted(ctx, ev.originsAdded); err != nil {
			slog.Error("stashbridge: grant event", "error", err)
		}
	case len(ev.originsRemoved) > 0:
		if err := a.OnOriginsRemoved(ctx, ev.originsRemoved); err != nil {
			slog.Error("stashbridge: revoke event", "error", err)
		}
	case ev.tabActivated != nil:
		// Handshake failure is surfaced in logs only; the next activation
		// starts a fresh machine.
		_ = a.OnTabActivated(ctx, *ev.tabActivated)
	}
}
