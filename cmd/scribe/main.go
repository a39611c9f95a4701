package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"scribe/internal/config"
	"scribe/internal/coordinator"
	"scribe/internal/cursor"
	"scribe/internal/decision"
	"scribe/internal/embedding"
	"scribe/internal/executor"
	"scribe/internal/journal"
	"scribe/internal/notion"
	"scribe/internal/resolver"
	"scribe/internal/telegram"
	"scribe/internal/transcribe"
	"scribe/internal/webhook"
)

func main() {
	log.Println("scribe - message capture and reconciliation")
	log.Println("===========================================")

	// Load .env file (optional - won't error if missing)
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, using environment variables")
	} else {
		log.Println("[config] Loaded .env file")
	}

	cfgPath := os.Getenv("SCRIBE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Secrets come from the environment, never the config file
	telegramToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	gladiaKey := os.Getenv("GLADIA_API_KEY")
	gladiaURL := os.Getenv("GLADIA_URL")
	notionToken := os.Getenv("NOTION_API_KEY")
	notionDB := os.Getenv("NOTION_DATABASE_ID")

	if telegramToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN environment variable required")
	}
	if notionToken == "" || notionDB == "" {
		log.Fatal("NOTION_API_KEY and NOTION_DATABASE_ID environment variables required")
	}
	if gladiaKey == "" {
		log.Println("[config] GLADIA_API_KEY not set; voice messages will fail resolution and be retried")
	}

	os.MkdirAll(cfg.StatePath, 0755)

	// Processed-message cursor. A corrupt file is fatal: resetting it would
	// replay the entire message history through the pipeline.
	cur := cursor.New(filepath.Join(cfg.StatePath, "cursor.json"))
	if err := cur.Load(); err != nil {
		log.Fatalf("Failed to load cursor: %v", err)
	}
	log.Printf("[main] Cursor loaded: %d messages processed, max ID %d", cur.Count(), cur.MaxID())

	// Collaborator clients
	source := telegram.NewClient(telegramToken, cfg.RequestTimeout)
	stt := transcribe.NewClient(gladiaURL, gladiaKey, cfg.TranscribePollInterval, cfg.RequestTimeout)
	store := notion.NewClient(notionToken, notionDB, cfg.RequestTimeout)
	ollama := embedding.NewClient(cfg.OllamaURL, cfg.EmbedModel, cfg.CompleteModel, cfg.RequestTimeout)

	// Pipeline stages
	res := resolver.New(source, stt, cfg.MaxConcurrentTranscriptions, cfg.MaxTranscriptionsPerHour)
	engine := decision.New(ollama)
	exec := executor.New(store, executor.Options{
		Attempts: cfg.RetryAttempts,
		Backoff:  cfg.RetryBackoff,
	})
	jrnl := journal.New(cfg.StatePath)

	coord := coordinator.New(coordinator.Deps{
		Cursor:   cur,
		Source:   source,
		Resolver: res,
		Catalog:  store,
		Embedder: ollama,
		Decider:  engine,
		Applier:  exec,
		Journal:  jrnl,
		TopK:     cfg.TopK,
	})

	sched := coordinator.NewScheduler(coord, cfg.SweepInterval)
	sched.Start()

	srv := webhook.New(cfg.WebhookPort, coord, cur, jrnl)
	srv.Start()

	// Catch up on anything that arrived while we were down
	go coord.TryRunOnce("startup")

	log.Println("[main] All subsystems started. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("[main] Shutting down...")

	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Warning: webhook shutdown: %v", err)
	}

	// Let an in-flight run reach its commit point
	report, err := coord.RunOnce("shutdown-drain")
	if err != nil {
		log.Printf("Warning: final drain: %v", err)
	} else if report.Fetched > 0 {
		log.Printf("[main] Final drain processed %d of %d messages", report.Processed, report.Fetched)
	}

	log.Println("[main] Goodbye!")
}
