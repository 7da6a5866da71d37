package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/datapilot-io/datapilot-ce/internal/api"
	"github.com/datapilot-io/datapilot-ce/internal/config"
	"github.com/datapilot-io/datapilot-ce/internal/gerpgo"
	"github.com/datapilot-io/datapilot-ce/internal/metrics"
	"github.com/datapilot-io/datapilot-ce/internal/middleware"
	"github.com/datapilot-io/datapilot-ce/internal/repository"
	"github.com/datapilot-io/datapilot-ce/internal/services/gerpsync"
	"github.com/datapilot-io/datapilot-ce/internal/services/scheduler"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "."
	}
	if err := config.Load(configPath); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := config.Get()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := log.New(os.Stdout, "[DATAPILOT] ", log.LstdFlags)

	db, err := sqlx.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	taskRepo := repository.NewTaskRepository(db)
	logRepo := repository.NewExecutionLogRepository(db)
	syncRepo := repository.NewSyncRecordRepository(db)

	client := gerpgo.NewClient(gerpgo.Config{
		BaseURL:       cfg.Gerpgo.BaseURL,
		AppID:         cfg.Gerpgo.AppID,
		AppKey:        cfg.Gerpgo.AppKey,
		Timeout:       cfg.Gerpgo.Timeout,
		MaxRetries:    cfg.Gerpgo.MaxRetries,
		RetryInterval: cfg.Gerpgo.RetryInterval,
		RateLimitWait: cfg.Gerpgo.RateLimitWait,
		PageSize:      cfg.Gerpgo.PageSize,
	}, gerpgo.WithLogger(logger))

	orchestrator := gerpsync.NewOrchestrator(client, syncRepo,
		gerpsync.WithOrchestratorLogger(logger),
		gerpsync.WithPageSize(client.PageSize()),
	)

	registry := scheduler.NewRegistry()
	if err := gerpsync.RegisterJobs(registry, orchestrator); err != nil {
		log.Fatalf("Failed to register sync jobs: %v", err)
	}

	location, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		log.Fatalf("Invalid scheduler timezone %q: %v", cfg.Scheduler.Timezone, err)
	}
	sched := scheduler.NewService(registry, taskRepo, logRepo,
		scheduler.WithLogger(logger),
		scheduler.WithLocation(location),
		scheduler.WithWorkers(cfg.Scheduler.Workers),
		scheduler.WithOverlapPolicy(scheduler.OverlapPolicy(cfg.Scheduler.OverlapPolicy)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if loaded, err := sched.LoadActiveTasks(ctx); err != nil {
		log.Fatalf("Failed to load scheduled tasks: %v", err)
	} else {
		logger.Printf("Scheduling %d active task(s)", loaded)
	}
	sched.Start(ctx)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(logger))
	router.GET("/healthz", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "app": cfg.App.Name, "version": cfg.App.Version})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	api.NewTaskHandler(taskRepo, logRepo, sched, logger).RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Printf("Listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown error: %v", err)
	}
	sched.Stop()
	logger.Printf("Goodbye")
}
