/**
 * Notegroup Worker - Main Entry Point
 *
 * Go worker that groups OCR text fragments into logical units (sticky notes,
 * paragraphs, table cells) by bounding-box geometry.
 *
 * Architecture:
 * - Asynq consumer for the Redis-backed task queue
 * - Tesseract OCR when tasks carry images instead of fragments
 * - PostgreSQL persistence (in-memory store when DATABASE_URL is unset)
 * - Qdrant placement index for similar-placement lookup (optional)
 * - Redis result cache and group change events
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adverant/nexus/notegroup-worker/internal/config"
	"github.com/adverant/nexus/notegroup-worker/internal/logging"
	"github.com/adverant/nexus/notegroup-worker/internal/ocr"
	"github.com/adverant/nexus/notegroup-worker/internal/processor"
	"github.com/adverant/nexus/notegroup-worker/internal/queue"
	"github.com/adverant/nexus/notegroup-worker/internal/storage"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(".env.nexus"); err != nil {
		log.Printf("Warning: .env.nexus not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Notegroup Worker starting...")
	log.Printf("Configuration loaded: Redis=%s, PostgreSQL=%t, Qdrant=%s, Workers=%d",
		cfg.RedisURL, cfg.DatabaseURL != "", cfg.QdrantURL, cfg.WorkerConcurrency)

	storageManager, err := buildStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage manager: %v", err)
	}

	// Initialize OCR
	tesseract, err := ocr.NewTesseractOCR(&ocr.TesseractConfig{
		Language: cfg.TesseractLanguage,
		Level:    ocr.Level(cfg.OCRLevel),
	})
	if err != nil {
		log.Fatalf("Failed to initialize Tesseract: %v", err)
	}

	// Initialize grouping processor
	proc, err := processor.NewGroupingProcessor(&processor.ProcessorConfig{
		StorageManager: storageManager,
		OCR:            tesseract,
		Options:        cfg.GroupingOptions(),
		MaxImageSize:   cfg.MaxImageSize,
		Logger:         logging.NewLogger("processor"),
	})
	if err != nil {
		log.Fatalf("Failed to initialize grouping processor: %v", err)
	}

	// Initialize queue consumer
	log.Printf("Connecting to Redis queue...")
	queueConsumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
		ResultRetention:   time.Duration(cfg.ResultRetention) * time.Second,
		AutoSeparate:      cfg.AutoSeparate,
		Logger:            logging.NewLogger("queue"),
	})
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	if err := queueConsumer.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	// Print startup summary
	log.Printf("===========================================")
	log.Printf("Notegroup Worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s", cfg.QueueName)
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("Tasks: %s, %s, %s, %s", queue.TypeDetect, queue.TypeSeparate, queue.TypeManual, queue.TypeSimilar)
	log.Printf("OCR: tesseract (%s, %s level)", cfg.TesseractLanguage, cfg.OCRLevel)
	log.Printf("Grouping defaults: minGroupSize=%d overlap=%.2f proximity=%.0f hierarchical=%t",
		cfg.MinGroupSize, cfg.OverlapThreshold, cfg.ProximityThreshold, cfg.UseHierarchicalGrouping)
	log.Printf("===========================================")
	log.Printf("Waiting for tasks...")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Wait for shutdown signal
	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := queueConsumer.Stop(ctx); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	}

	log.Printf("Closing storage manager...")
	if err := storageManager.Close(); err != nil {
		log.Printf("Error closing storage manager: %v", err)
	} else {
		log.Printf("Storage manager closed")
	}

	log.Printf("Shutdown complete")
}

// buildStorage connects the configured backends. Only the group store is
// mandatory; the placement index and result cache degrade to disabled.
func buildStorage(cfg *config.Config) (*storage.StorageManager, error) {
	var backend storage.Backend
	if cfg.DatabaseURL != "" {
		log.Printf("Connecting to PostgreSQL...")
		pg, err := storage.NewPostgresClient(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		backend = pg
	} else {
		log.Printf("WARNING: DATABASE_URL not configured. Groups are kept in memory and lost on restart.")
		backend = storage.NewMemoryStore()
	}

	var index *storage.PlacementIndex
	if cfg.QdrantURL != "" {
		idx, err := storage.NewPlacementIndex(cfg.QdrantURL, cfg.QdrantCollection)
		if err != nil {
			log.Printf("WARNING: Qdrant unavailable: %v. Similar-placement lookup disabled.", err)
		} else {
			index = idx
		}
	}

	cache, err := storage.NewResultCache(cfg.RedisURL, cfg.QueueName, cfg.CacheTTL())
	if err != nil {
		log.Printf("WARNING: Result cache unavailable: %v. Detection results will not be cached.", err)
		cache = nil
	}

	return storage.NewStorageManager(&storage.ManagerConfig{
		Backend: backend,
		Index:   index,
		Cache:   cache,
		Logger:  logging.NewLogger("storage"),
	})
}
