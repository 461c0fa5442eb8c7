// Package main runs the tmux-agents orchestration daemon: one process
// exposing the unix-socket, HTTP and WebSocket RPC surfaces over a shared
// dispatcher, with the launch, auto-close and reconcile workers supervised
// alongside.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tmuxagents/tmuxagents/internal/autoclose"
	"github.com/tmuxagents/tmuxagents/internal/common/config"
	"github.com/tmuxagents/tmuxagents/internal/common/constants"
	"github.com/tmuxagents/tmuxagents/internal/common/httpmw"
	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/internal/common/tracing"
	"github.com/tmuxagents/tmuxagents/internal/daemon"
	"github.com/tmuxagents/tmuxagents/internal/db"
	"github.com/tmuxagents/tmuxagents/internal/events/bus"
	"github.com/tmuxagents/tmuxagents/internal/gateway/unixsock"
	gatewayws "github.com/tmuxagents/tmuxagents/internal/gateway/websocket"
	"github.com/tmuxagents/tmuxagents/internal/launcher"
	"github.com/tmuxagents/tmuxagents/internal/mux"
	"github.com/tmuxagents/tmuxagents/internal/orchestrator"
	"github.com/tmuxagents/tmuxagents/internal/pipeline"
	"github.com/tmuxagents/tmuxagents/internal/reconcile"
	"github.com/tmuxagents/tmuxagents/internal/runtimes"
	"github.com/tmuxagents/tmuxagents/internal/store"
	"github.com/tmuxagents/tmuxagents/internal/worktree"
	"github.com/tmuxagents/tmuxagents/pkg/rpc"
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

// Exit codes.
const (
	exitOK         = 0
	exitConfig     = 1
	exitSocketBind = 2
	exitStoreInit  = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return exitConfig
	}

	// 2. Logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return exitConfig
	}
	defer log.Sync()
	logger.SetDefault(log)

	if cfg.Tracing.Enabled {
		tracing.Configure(cfg.Tracing.Endpoint)
		defer func() {
			shctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownGrace)
			defer cancel()
			_ = tracing.Shutdown(shctx)
		}()
	}

	log.Info("starting tmux-agents daemon", zap.String("version", version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Event bus: NATS when configured, in-memory otherwise.
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.String("url", cfg.NATS.URL), zap.Error(err))
			return exitConfig
		}
		eventBus = natsBus
		log.Info("connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		eventBus = bus.NewMemoryEventBus(log)
		log.Info("using in-memory event bus")
	}
	defer eventBus.Close()

	// 4. Store
	pool, err := db.Open(cfg.Database.Driver, cfg.DatabasePath(), cfg.Database.DSN, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		log.Error("failed to open database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
		return exitStoreInit
	}
	defer pool.Close()

	st, err := store.New(ctx, pool, eventBus, log)
	if err != nil {
		log.Error("failed to initialize store", zap.Error(err))
		return exitStoreInit
	}
	defer st.Close()

	// 5. Runtimes and multiplexer driver
	driver := mux.NewTmuxDriver(log)
	hosts := runtimes.NewHosts(cfg.Runtimes)
	registry, err := runtimes.NewRegistry(runtimes.Options{
		DefaultProvider:  cfg.Agents.DefaultProvider,
		FallbackProvider: cfg.Agents.FallbackProvider,
		ProfilesFile:     cfg.ProfilesFile(),
	})
	if err != nil {
		log.Error("failed to build provider registry", zap.Error(err))
		return exitConfig
	}

	// 6. Domain components
	worktrees := worktree.NewManager(driver, log)
	launch := launcher.New(st, driver, hosts, registry, worktrees, log)
	defer launch.Close()

	orch := orchestrator.New(st, driver, hosts, registry, launch, cfg.Orchestrator.PollPeriodDuration(), log)
	if err := orch.LoadAgents(ctx); err != nil {
		log.Warn("failed to load persisted agents", zap.Error(err))
	}

	engine := pipeline.NewEngine(st, orch, log)
	engine.EnsureBuiltins(ctx)
	if err := daemon.EnsureBuiltinTemplates(ctx, st); err != nil {
		log.Error("failed to seed built-in templates", zap.Error(err))
		return exitStoreInit
	}

	monitor := autoclose.New(st, driver, hosts, worktrees, cfg.Orchestrator.AutoClosePeriodDuration(), cfg.Orchestrator.AutoCloseDelayDuration(), log)
	reconciler := reconcile.New(st, driver, hosts, worktrees, cfg.Orchestrator.ReconcilePeriodDuration(), log)

	// 7. Event subscriptions
	if _, err := launch.WatchDependencies(eventBus); err != nil {
		log.Error("failed to subscribe dependency watcher", zap.Error(err))
		return exitConfig
	}
	if _, err := engine.WatchTasks(eventBus); err != nil {
		log.Error("failed to subscribe pipeline watcher", zap.Error(err))
		return exitConfig
	}

	// 8. RPC surface
	dispatcher := rpc.NewDispatcher()
	handlers := daemon.NewHandlers(daemon.Deps{
		Config:    cfg,
		Store:     st,
		Driver:    driver,
		Hosts:     hosts,
		Registry:  registry,
		Orch:      orch,
		Launcher:  launch,
		Pipelines: engine,
		Version:   version,
		Log:       log,
	})
	handlers.Register(dispatcher)

	hub := gatewayws.NewHub(dispatcher, log)
	if _, err := hub.BridgeEvents(eventBus); err != nil {
		log.Error("failed to bridge events to websocket hub", zap.Error(err))
		return exitConfig
	}

	sockSrv := unixsock.NewServer(cfg.Server.SocketPath(), dispatcher, log)
	if err := sockSrv.Listen(); err != nil {
		log.Error("failed to bind unix socket", zap.String("path", cfg.Server.SocketPath()), zap.Error(err))
		return exitSocketBind
	}
	defer sockSrv.Close()

	gin.SetMode(gin.ReleaseMode)

	wsRouter := gin.New()
	wsRouter.Use(gin.Recovery(), httpmw.RequestLogger(log, "websocket"), httpmw.OtelTracing("websocket"))
	gatewayws.NewHandler(ctx, hub, log).RegisterRoutes(wsRouter)
	wsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.WebSocketPort),
		Handler: wsRouter,
	}

	httpRouter := gin.New()
	httpRouter.Use(gin.Recovery(), httpmw.RequestLogger(log, "http"), httpmw.OtelTracing("http"))
	registerHTTPRoutes(httpRouter, dispatcher)
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      httpRouter,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// 9. Recover board state before the workers start: bindings are
	// reconciled against the live trees, then sentinel watchers re-armed.
	reconciler.Reconcile(ctx)
	launch.RearmWatchers(ctx)

	// 10. Supervised workers
	sup := daemon.NewSupervisor(log)
	sup.Add("orchestrator", orch.Run)
	sup.Add("autoclose", monitor.Run)
	sup.Add("reconciler", reconciler.Run)
	sup.Add("websocket-hub", func(ctx context.Context) error {
		hub.Run(ctx)
		return ctx.Err()
	})
	sup.Add("unix-socket", sockSrv.Serve)
	sup.Add("websocket-server", serveHTTP(wsSrv))
	sup.Add("http-server", serveHTTP(httpSrv))

	log.Info("daemon ready",
		zap.String("socket", cfg.Server.SocketPath()),
		zap.Int("httpPort", cfg.Server.HTTPPort),
		zap.Int("webSocketPort", cfg.Server.WebSocketPort))

	if err := sup.Run(ctx); err != nil {
		log.Error("supervisor exited", zap.Error(err))
	}
	log.Info("daemon stopped")
	return exitOK
}

// serveHTTP adapts an http.Server to a supervised worker with graceful
// shutdown on context cancellation.
func serveHTTP(srv *http.Server) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		select {
		case <-ctx.Done():
			shctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownGrace)
			defer cancel()
			_ = srv.Shutdown(shctx)
			return ctx.Err()
		case err := <-errCh:
			return err
		}
	}
}

// registerHTTPRoutes exposes the dispatcher over plain HTTP: POST /rpc takes
// a full message envelope, GET /health is a convenience for probes.
func registerHTTPRoutes(router *gin.Engine, dispatcher *rpc.Dispatcher) {
	router.POST("/rpc", func(c *gin.Context) {
		var msg rpc.Message
		if err := c.ShouldBindJSON(&msg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		resp, err := dispatcher.Dispatch(c.Request.Context(), &msg)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	router.GET("/health", func(c *gin.Context) {
		req, err := rpc.NewRequest("", rpc.MethodHealthGet, struct{}{})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp, err := dispatcher.Dispatch(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})
}
