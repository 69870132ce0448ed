package main

// @title           JobRouter API
// @version         1.0
// @description     Emits validated jobs onto the job queue.
// @BasePath        /api/v1

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"soika/jobrouter/internal/bootstrap"
	"soika/jobrouter/internal/server/handlers/deadletters"
	"soika/jobrouter/internal/server/handlers/events"
	"soika/jobrouter/internal/server/handlers/health"
	"soika/jobrouter/internal/server/handlers/jobs"
	"soika/jobrouter/internal/server/routers"
	"soika/jobrouter/pkg/config"
	"soika/jobrouter/pkg/infra/mysql"
	"soika/jobrouter/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/worker.yaml", "config file path")
)

func main() {
	flag.Parse()

	// 1. config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// 2. runtime; the adapter keeps reconnecting when the first connect fails
	rt, err := bootstrap.New(cfg, zapLogger, bootstrap.Options{
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	if err := rt.Connect(ctx); err != nil {
		zapLogger.Warnf(ctx, "[API] Queue not reachable yet: %v", err)
	}

	// 3. http server
	handlers := routers.Handlers{
		Jobs:   jobs.NewJobHandler(rt.Router, zapLogger),
		Health: health.NewHealthHandler(cfg.App.Name, rt.Adapter),
	}
	if rt.DB != nil {
		handlers.DeadLetters = deadletters.NewDeadLetterHandler(mysql.NewDeadLetterDAO(rt.DB, zapLogger), cfg.Router.Queue)
	}
	if rt.PubSub != nil {
		handlers.Events = events.NewEventHandler(rt.PubSub, zapLogger)
	}
	engine := routers.SetupRoutes(handlers, zapLogger)
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: engine,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	// 4. graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("Received shutdown signal, gracefully shutting down...")
	case err := <-serverErrChan:
		log.Printf("HTTP server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("API server stopped")
}
