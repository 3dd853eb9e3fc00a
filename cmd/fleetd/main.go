package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tirilo-fleet-backend/config"
	"tirilo-fleet-backend/internal/api"
	"tirilo-fleet-backend/internal/cmdqueue"
	"tirilo-fleet-backend/internal/db"
	"tirilo-fleet-backend/internal/fleet"
	"tirilo-fleet-backend/internal/maintenance"
	"tirilo-fleet-backend/internal/notification"
	"tirilo-fleet-backend/internal/registry"
	"tirilo-fleet-backend/internal/sweeper"
	"tirilo-fleet-backend/internal/telemetry"

	"github.com/SherClockHolmes/webpush-go"
)

func main() {
	logger := log.New(os.Stdout, "fleetd ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Fatalf("VAPID keys must be configured. Please generate them and add them to your config file.")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Assemble the engine components
	alertPool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions)
	alertPool.Start(ctx)

	telemetryStore := telemetry.NewStore(gormDB)
	robotRegistry := registry.New(gormDB, telemetryStore, cfg.Presence.Window)
	commandQueue := cmdqueue.New(gormDB, cfg.Queue.MaxPendingPerDevice, cfg.Queue.MaxParamsBytes)
	maintenanceFlow := maintenance.New(gormDB, alertPool)

	svc := fleet.New(gormDB, robotRegistry, commandQueue, telemetryStore, maintenanceFlow, cfg.Presence.Window, cfg.Queue.PollBatchSize)
	logger.Println("fleet services initialized")

	// Run the sweeper (visibility-timeout requeue + offline alerts) in the background
	sweepSvc := sweeper.NewService(cfg, gormDB, commandQueue, telemetryStore, alertPool)
	go sweepSvc.Run(ctx)

	// Initialize router
	router := api.NewRouter(svc, &cfg.Server, &webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
