/**
 * Configuration for the notegroup worker
 *
 * Loads configuration from environment variables matching .env.nexus
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/adverant/nexus/notegroup-worker/internal/grouping"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (queue, result cache, events)
	RedisURL        string
	CacheTTLSeconds int

	// PostgreSQL configuration; empty selects the in-memory store
	DatabaseURL string

	// Qdrant placement index; empty disables similar-placement lookup
	QdrantURL        string
	QdrantCollection string

	// Worker configuration
	QueueName         string
	WorkerConcurrency int
	ProcessingTimeout int // milliseconds
	MaxImageSize      int64
	AutoSeparate      bool
	ResultRetention   int // seconds

	// OCR configuration
	TesseractLanguage string
	OCRLevel          string

	// Grouping defaults
	MinGroupSize            int
	OverlapThreshold        float64
	ProximityThreshold      float64
	UseHierarchicalGrouping bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:                getEnvOrDefault("REDIS_URL", "redis://nexus-redis:6379"),
		CacheTTLSeconds:         getEnvAsIntOrDefault("CACHE_TTL_SECONDS", 3600),
		DatabaseURL:             getEnvOrDefault("DATABASE_URL", ""),
		QdrantURL:               getEnvOrDefault("QDRANT_URL", ""),
		QdrantCollection:        getEnvOrDefault("QDRANT_COLLECTION", "notegroup_placements"),
		QueueName:               getEnvOrDefault("QUEUE_NAME", "notegroup"),
		WorkerConcurrency:       getEnvAsIntOrDefault("WORKER_CONCURRENCY", 10),
		ProcessingTimeout:       getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
		MaxImageSize:            getEnvAsInt64OrDefault("MAX_IMAGE_SIZE", 52428800), // 50MB
		AutoSeparate:            getEnvAsBoolOrDefault("AUTO_SEPARATE", true),
		ResultRetention:         getEnvAsIntOrDefault("RESULT_RETENTION_SECONDS", 86400),
		TesseractLanguage:       getEnvOrDefault("TESSERACT_LANGUAGE", "eng"),
		OCRLevel:                getEnvOrDefault("OCR_LEVEL", "line"),
		MinGroupSize:            getEnvAsIntOrDefault("GROUPING_MIN_GROUP_SIZE", grouping.DefaultMinGroupSize),
		OverlapThreshold:        getEnvAsFloatOrDefault("GROUPING_OVERLAP_THRESHOLD", grouping.DefaultOverlapThreshold),
		ProximityThreshold:      getEnvAsFloatOrDefault("GROUPING_PROXIMITY_THRESHOLD", grouping.DefaultProximityThreshold),
		UseHierarchicalGrouping: getEnvAsBoolOrDefault("GROUPING_HIERARCHICAL", true),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.MaxImageSize < 1024 || c.MaxImageSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_IMAGE_SIZE must be between 1KB and 1GB, got %d", c.MaxImageSize)
	}

	if c.CacheTTLSeconds < 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must not be negative, got %d", c.CacheTTLSeconds)
	}

	if c.OCRLevel != "line" && c.OCRLevel != "word" {
		return fmt.Errorf("OCR_LEVEL must be line or word, got %q", c.OCRLevel)
	}

	if err := c.GroupingOptions().Validate(); err != nil {
		return fmt.Errorf("grouping defaults: %w", err)
	}

	return nil
}

// GroupingOptions returns the engine options used when a request has none
func (c *Config) GroupingOptions() grouping.Options {
	return grouping.Options{
		MinGroupSize:            c.MinGroupSize,
		OverlapThreshold:        c.OverlapThreshold,
		ProximityThreshold:      c.ProximityThreshold,
		UseHierarchicalGrouping: grouping.Bool(c.UseHierarchicalGrouping),
	}
}

// CacheTTL returns the result cache TTL
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
