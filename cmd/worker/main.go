package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"soika/jobrouter/internal/bootstrap"
	"soika/jobrouter/internal/worker"
	"soika/jobrouter/pkg/config"
	"soika/jobrouter/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/worker.yaml", "config file path")
)

func main() {
	flag.Parse()

	// 1. Banner
	log.Println("========================================")
	log.Println("  JobRouter Worker Starting...")
	log.Println("========================================")

	// 2. Load and check config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	log.Printf("Config loaded: %s, env: %s, driver: %s, queue: %s\n",
		cfg.App.Name, cfg.App.Env, cfg.Transport.Driver, cfg.Router.Queue)

	// 3. Logger
	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// 4. Assemble the runtime; nothing is dialled yet
	mgr, err := worker.NewManagerInstance(cfg, zapLogger, bootstrap.Options{
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}

	// 5. Run the manager
	go func() {
		if err := mgr.Start(); err != nil {
			log.Fatalf("Manager start failed: %v", err)
		}
	}()

	log.Println("Worker started. Press Ctrl+C to shutdown.")

	// 6. Wait for a signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Printf("Received signal: %v, shutting down...\n", sig)

	// 7. Drain and close
	mgr.Shutdown()

	log.Println("Worker exited gracefully")
}
