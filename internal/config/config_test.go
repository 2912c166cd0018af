package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SWEEP_SCHEDULE", "")
	t.Setenv("QUEUE_STUCK_AFTER", "")
	t.Setenv("WORKER_CONCURRENCY", "")
	t.Setenv("PDF_MAX_PAGES", "")
	t.Setenv("OCR_LANGUAGE", "")
	t.Setenv("UPSTREAM_RETRY_ATTEMPTS", "")
	t.Setenv("UPSTREAM_BREAKER_OPEN_FOR", "")

	cfg := Load()
	if cfg.SweepSchedule != "@every 1m" {
		t.Fatalf("expected default sweep schedule, got %q", cfg.SweepSchedule)
	}
	if cfg.QueueStuckAfter != 5*time.Minute {
		t.Fatalf("expected stuck threshold 5m, got %s", cfg.QueueStuckAfter)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Fatalf("expected worker concurrency 4, got %d", cfg.WorkerConcurrency)
	}
	if cfg.PDFMaxPages != 50 {
		t.Fatalf("expected pdf page cap 50, got %d", cfg.PDFMaxPages)
	}
	if cfg.OCRLanguage != "por" {
		t.Fatalf("expected OCR language por, got %q", cfg.OCRLanguage)
	}
	if cfg.UpstreamRetryAttempts != 2 || cfg.UpstreamBreakerOpenFor != time.Minute {
		t.Fatalf("unexpected upstream defaults %d/%s", cfg.UpstreamRetryAttempts, cfg.UpstreamBreakerOpenFor)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("QUEUE_STUCK_AFTER", "90s")
	t.Setenv("LLM_TIMEOUT", "30")
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")
	t.Setenv("WORKER_STARTUP_SCAN", "false")

	cfg := Load()
	if cfg.QueueStuckAfter != 90*time.Second {
		t.Fatalf("expected 90s, got %s", cfg.QueueStuckAfter)
	}
	if cfg.LLMTimeout != 30*time.Second {
		t.Fatalf("expected plain seconds to parse, got %s", cfg.LLMTimeout)
	}
	if cfg.APIRateLimitRPS != 2.5 {
		t.Fatalf("expected rps 2.5, got %v", cfg.APIRateLimitRPS)
	}
	if cfg.WorkerStartupScan {
		t.Fatalf("expected startup scan disabled")
	}
}

func TestLoadFallsBackOnMalformedValues(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "many")
	t.Setenv("QUEUE_STUCK_AFTER", "soon")

	cfg := Load()
	if cfg.WorkerConcurrency != 4 {
		t.Fatalf("expected fallback concurrency, got %d", cfg.WorkerConcurrency)
	}
	if cfg.QueueStuckAfter != 5*time.Minute {
		t.Fatalf("expected fallback threshold, got %s", cfg.QueueStuckAfter)
	}
}
