// Workflow Engine Server
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smilemakc/workflow-engine/internal/api/rest"
	"github.com/smilemakc/workflow-engine/internal/condition"
	"github.com/smilemakc/workflow-engine/internal/config"
	"github.com/smilemakc/workflow-engine/internal/engine"
	"github.com/smilemakc/workflow-engine/internal/idempotency"
	"github.com/smilemakc/workflow-engine/internal/logger"
	"github.com/smilemakc/workflow-engine/internal/model"
	"github.com/smilemakc/workflow-engine/internal/notifier"
	"github.com/smilemakc/workflow-engine/internal/propagator"
	"github.com/smilemakc/workflow-engine/internal/registry"
	"github.com/smilemakc/workflow-engine/internal/runnerclient"
	"github.com/smilemakc/workflow-engine/internal/scheduler"
	"github.com/smilemakc/workflow-engine/internal/storage"
	"github.com/smilemakc/workflow-engine/internal/uiinteraction"
	"github.com/smilemakc/workflow-engine/internal/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.Logging)

	appLogger.Info("starting workflow engine server",
		"version", "1.0.0",
		"port", cfg.Server.Port,
	)

	db, err := storage.NewDB(cfg.Database, cfg.Logging.Level == "debug")
	if err != nil {
		appLogger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	appLogger.Info("database connected", "max_conns", cfg.Database.MaxConnections)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr(cfg.Redis.URL),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		appLogger.Warn("redis unreachable at startup, idempotency reservations will fail until it recovers", "error", err)
	} else {
		appLogger.Info("redis connected")
	}
	idempotencyCache := idempotency.New(redisClient, 24*time.Hour)

	// Repositories (§8).
	workflowRepo := storage.NewWorkflowRepository(db)
	executionRepo := storage.NewExecutionRepository(db)
	eventRepo := storage.NewEventRepository(db)
	uiInteractionRepo := storage.NewUIInteractionRepository(db)

	// Collaborators with no construction-order dependency on each other.
	sessionRegistry := registry.New()
	propagatorInstance := propagator.New(appLogger)
	conditionEvaluator := condition.NewEvaluator(cfg.Scheduler.ConditionCacheSize)
	// No program/version entity-CRUD service is wired in (§1's non-goal); a
	// nil ProgramLookup narrows validation to structure-only checks.
	structureValidator := validator.New(nil)
	runnerClient := runnerclient.New(cfg.Runner)

	notifierManager := notifier.New(appLogger)
	if err := notifierManager.Register(notifier.NewLogSink(appLogger)); err != nil {
		appLogger.Error("failed to register log notification sink", "error", err)
		os.Exit(1)
	}
	wsHub := notifier.NewHub(appLogger)
	if err := notifierManager.Register(notifier.NewWebSocketSink(wsHub)); err != nil {
		appLogger.Error("failed to register websocket notification sink", "error", err)
		os.Exit(1)
	}

	// The Scheduler, the UI Interaction Bridge and the Engine Facade each
	// depend on one of the other two (scheduler needs the bridge to know
	// whether a node suspends; the bridge needs the facade to re-resolve
	// live state on resume; the facade needs both to drive execution and
	// expose Suspend/Resume). Two small forward-reference adapters break
	// the cycle: each is constructed first, handed to whichever
	// collaborator needs it early, and pointed at the real thing once it
	// exists. Neither adapter is invoked until the whole graph is wired.
	uiBridgeRef := &uiBridgeForward{}
	loaderRef := &executionLoaderForward{}

	sched := scheduler.New(scheduler.Deps{
		Propagator:    propagatorInstance,
		ProgramNames:  runnerClient,
		Runner:        runnerClient,
		UIBridge:      uiBridgeRef,
		Condition:     conditionEvaluator,
		ExecutionRepo: executionRepo,
		EventRepo:     eventRepo,
		Logger:        appLogger,
	}, cfg.Scheduler.MaxConcurrentExecutions)

	bridge := uiinteraction.New(uiinteraction.Deps{
		Repo:           uiInteractionRepo,
		ExecutionRepo:  executionRepo,
		Notifier:       notifierManager,
		Scheduler:      sched,
		Loader:         loaderRef,
		Logger:         appLogger,
		DefaultTimeout: cfg.UIInteraction.DefaultTimeout,
	})
	uiBridgeRef.bridge = bridge

	facade := engine.New(engine.Deps{
		WorkflowRepo:              workflowRepo,
		ExecutionRepo:             executionRepo,
		EventRepo:                 eventRepo,
		FileStorage:               runnerClient,
		Validator:                 structureValidator,
		Registry:                  sessionRegistry,
		Scheduler:                 sched,
		UIBridge:                  bridge,
		Notifier:                  notifierManager,
		Logger:                    appLogger,
		DefaultMaxConcurrentNodes: cfg.Scheduler.DefaultMaxConcurrentNodes,
		DefaultTimeoutMinutes:     cfg.Scheduler.DefaultTimeoutMinutes,
	})
	loaderRef.facade = facade

	if n, err := facade.MarkOrphanedExecutionsFailed(context.Background()); err != nil {
		appLogger.Error("failed to mark orphaned executions as failed", "error", err)
	} else if n > 0 {
		appLogger.Info("marked orphaned executions as failed", "count", n)
	}

	sweeper, err := uiinteraction.NewSweeper(bridge, cfg.UIInteraction.SweepCronExpr)
	if err != nil {
		appLogger.Error("failed to build ui interaction sweeper", "error", err)
		os.Exit(1)
	}
	sweeper.Start()

	router := rest.NewRouter(cfg.Server, facade, idempotencyCache, appLogger)
	appLogger.Info("rest api routes registered")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		appLogger.Info("http server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		appLogger.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		appLogger.Info("server shutdown initiated", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		appLogger.Info("stopping ui interaction sweeper...")
		sweeper.Stop()
		appLogger.Info("ui interaction sweeper stopped")

		if err := server.Shutdown(ctx); err != nil {
			appLogger.Error("graceful shutdown failed", "error", err)
			if err := server.Close(); err != nil {
				appLogger.Error("server close failed", "error", err)
			}
		}

		appLogger.Info("server stopped")
	}
}

// redisAddr strips a redis:// scheme from cfg.Redis.URL if present; go-redis's
// Options.Addr wants a bare host:port.
func redisAddr(rawURL string) string {
	const scheme = "redis://"
	if len(rawURL) > len(scheme) && rawURL[:len(scheme)] == scheme {
		return rawURL[len(scheme):]
	}
	return rawURL
}

// uiBridgeForward satisfies scheduler.UIBridge before the real Bridge
// exists yet, and delegates to it afterward.
type uiBridgeForward struct {
	bridge *uiinteraction.Bridge
}

func (f *uiBridgeForward) IsInteractive(n *model.Node) bool {
	return f.bridge.IsInteractive(n)
}

func (f *uiBridgeForward) Suspend(ctx context.Context, exec *model.WorkflowExecution, w *model.Workflow, n *model.Node) (*model.UIInteraction, error) {
	return f.bridge.Suspend(ctx, exec, w, n)
}

// executionLoaderForward satisfies uiinteraction.ExecutionLoader before the
// real Facade exists yet, and delegates to it afterward.
type executionLoaderForward struct {
	facade *engine.Facade
}

func (f *executionLoaderForward) LoadForResume(ctx context.Context, executionID string) (*registry.Session, *model.WorkflowExecution, *model.Workflow, error) {
	return f.facade.LoadForResume(ctx, executionID)
}

func (f *executionLoaderForward) Finalize(ctx context.Context, session *registry.Session, exec *model.WorkflowExecution, w *model.Workflow) {
	f.facade.Finalize(ctx, session, exec, w)
}
