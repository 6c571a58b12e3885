package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/campustrace/sentinel-engine/internal/api"
	"github.com/campustrace/sentinel-engine/internal/config"
	"github.com/campustrace/sentinel-engine/internal/db"
	"github.com/campustrace/sentinel-engine/internal/ingest"
	"github.com/campustrace/sentinel-engine/internal/monitor"
	"github.com/campustrace/sentinel-engine/internal/pipeline"
	"github.com/campustrace/sentinel-engine/internal/shadow"
)

func main() {
	log.Println("Starting CampusTrace Sentinel Engine (Microservice: campus-sentinel-analytics)...")
	log.Println("Initializing Entity Resolvers and Multi-Modal Fusion...")

	// ─── Environment ────────────────────────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment overrides from .env")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	dataDir := getEnvOrDefault("DATA_DIR", "./data")
	modelPath := getEnvOrDefault("MODEL_PATH", "./models/sentinel.gob")

	var store *db.PostgresStore
	if dbUrl := os.Getenv("DATABASE_URL"); dbUrl != "" {
		conn, err := db.Connect(dbUrl)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persisting resolution data. Error: %v", err)
		} else {
			store = conn
			defer store.Close()
			if err := store.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	} else {
		log.Println("DATABASE_URL not set; running without persistence (cp .env.example .env to configure one)")
	}

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	// Alerts fan out to the dashboard stream and any registered webhook
	alerts := monitor.NewAlertManager(cfg.Dashboard, api.BroadcastAlert(wsHub))
	if webhookURL := os.Getenv("ALERT_WEBHOOK_URL"); webhookURL != "" {
		minSeverity := getEnvOrDefault("ALERT_WEBHOOK_MIN_SEVERITY", "medium")
		alerts.RegisterWebhook("ops", webhookURL, minSeverity, nil)
	}

	shadowRunner := shadow.NewRunner(cfg.Resolver, nil)
	if store != nil {
		shadowRunner = shadow.NewRunner(cfg.Resolver, store.GetPool())
	}

	runner := pipeline.NewRunner(&cfg, dataDir, store, alerts, shadowRunner)

	// Restore trained models from a previous boot so predictions are
	// available before the first run completes
	if _, err := os.Stat(modelPath); err == nil {
		if err := runner.Monitor().LoadModels(modelPath); err != nil {
			log.Printf("Warning: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Re-run the pipeline whenever a settled batch of CSV changes lands
	watcher := ingest.NewWatcher(dataDir, 0, func() {
		if !runner.RunAsync(context.Background()) {
			log.Println("[Watcher] Dataset changed during an active run; re-run skipped")
		}
	})
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Printf("Warning: dataset watcher stopped: %v", err)
		}
	}()

	// Kick off the first pipeline run in the background
	runner.RunAsync(context.Background())

	// Setup the Gin Router
	r := api.SetupRouter(&cfg, runner, store, alerts, wsHub)

	port := getEnvOrDefault("PORT", "5339")

	srv := &http.Server{Addr: ":" + port, Handler: r}
	go func() {
		log.Printf("Engine running on :%s (API Node: campus-sentinel-analytics)\n", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received, draining connections...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: server shutdown: %v", err)
	}

	// Persist trained models so the next boot predicts immediately
	if runner.Monitor().Trained() {
		if err := os.MkdirAll(filepath.Dir(modelPath), 0o755); err != nil {
			log.Printf("Warning: %v", err)
		} else if err := runner.Monitor().SaveModels(modelPath); err != nil {
			log.Printf("Warning: %v", err)
		}
	}
	log.Println("Engine stopped")
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
