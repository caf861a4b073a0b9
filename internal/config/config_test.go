package config

import (
	"testing"
	"time"

	"github.com/adverant/nexus/notegroup-worker/internal/grouping"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"REDIS_URL", "DATABASE_URL", "QDRANT_URL", "QUEUE_NAME", "WORKER_CONCURRENCY",
		"PROCESSING_TIMEOUT", "OCR_LEVEL", "CACHE_TTL_SECONDS", "GROUPING_MIN_GROUP_SIZE",
		"GROUPING_OVERLAP_THRESHOLD", "GROUPING_PROXIMITY_THRESHOLD", "GROUPING_HIERARCHICAL",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.RedisURL != "redis://nexus-redis:6379" || cfg.QueueName != "notegroup" {
		t.Errorf("redis/queue = %s/%s", cfg.RedisURL, cfg.QueueName)
	}
	if cfg.DatabaseURL != "" || cfg.QdrantURL != "" {
		t.Errorf("optional backends should default to empty, got %q/%q", cfg.DatabaseURL, cfg.QdrantURL)
	}
	if cfg.CacheTTL() != time.Hour {
		t.Errorf("cache TTL = %v", cfg.CacheTTL())
	}
	got, want := cfg.GroupingOptions(), grouping.DefaultOptions()
	if got.MinGroupSize != want.MinGroupSize || got.OverlapThreshold != want.OverlapThreshold ||
		got.ProximityThreshold != want.ProximityThreshold || got.Hierarchical() != want.Hierarchical() {
		t.Errorf("grouping options = %+v, want %+v", got, want)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("OCR_LEVEL", "word")
	t.Setenv("GROUPING_MIN_GROUP_SIZE", "2")
	t.Setenv("GROUPING_OVERLAP_THRESHOLD", "0.25")
	t.Setenv("GROUPING_PROXIMITY_THRESHOLD", "80")
	t.Setenv("GROUPING_HIERARCHICAL", "false")
	t.Setenv("AUTO_SEPARATE", "0")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.WorkerConcurrency != 4 || cfg.OCRLevel != "word" || cfg.AutoSeparate {
		t.Errorf("worker config = %+v", cfg)
	}
	got := cfg.GroupingOptions()
	if got.MinGroupSize != 2 || got.OverlapThreshold != 0.25 || got.ProximityThreshold != 80 || got.Hierarchical() {
		t.Errorf("grouping options = %+v", got)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"concurrency too high", "WORKER_CONCURRENCY", "500"},
		{"concurrency zero", "WORKER_CONCURRENCY", "0"},
		{"unknown OCR level", "OCR_LEVEL", "symbol"},
		{"overlap threshold above one", "GROUPING_OVERLAP_THRESHOLD", "1.5"},
		{"negative proximity", "GROUPING_PROXIMITY_THRESHOLD", "-10"},
		{"negative group size", "GROUPING_MIN_GROUP_SIZE", "-1"},
		{"short timeout", "PROCESSING_TIMEOUT", "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadConfig(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("TEST_INT", "abc")
	t.Setenv("TEST_FLOAT", "x1")
	t.Setenv("TEST_BOOL", "maybe")

	if got := getEnvAsIntOrDefault("TEST_INT", 7); got != 7 {
		t.Errorf("int = %d", got)
	}
	if got := getEnvAsFloatOrDefault("TEST_FLOAT", 1.5); got != 1.5 {
		t.Errorf("float = %v", got)
	}
	if got := getEnvAsBoolOrDefault("TEST_BOOL", true); !got {
		t.Error("bool fell back to false")
	}
}
