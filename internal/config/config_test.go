package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("GARMIN_CLIENT_ID", "test_client_id")
	t.Setenv("GARMIN_CLIENT_SECRET", "test_secret")
	t.Setenv("TOKEN_ENCRYPTION_KEY", "dGVzdF9rZXlfdGVzdF9rZXlfdGVzdF9rZXlfMTI=")
	t.Setenv("INTERNAL_API_KEY", "test_api_key")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Host != "localhost" {
		t.Errorf("Expected host 'localhost', got %s", cfg.Host)
	}
	if cfg.Port != 4201 {
		t.Errorf("Expected port 4201, got %d", cfg.Port)
	}
	if cfg.DatabasePath != "./data.db" {
		t.Errorf("Expected database path './data.db', got %s", cfg.DatabasePath)
	}
	if cfg.WorkerConcurrency != 2 {
		t.Errorf("Expected worker concurrency 2, got %d", cfg.WorkerConcurrency)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Errorf("Expected 30s HTTP timeout, got %s", cfg.HTTPTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected log level 'info', got %s", cfg.LogLevel)
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected metrics enabled by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("HTTP_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Port)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Errorf("Expected worker concurrency 4, got %d", cfg.WorkerConcurrency)
	}
	if cfg.HTTPTimeout != 5*time.Second {
		t.Errorf("Expected 5s HTTP timeout, got %s", cfg.HTTPTimeout)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GARMIN_CLIENT_ID", "")
	t.Setenv("INTERNAL_API_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("Expected error for missing required variables")
	}
	if !strings.Contains(err.Error(), "GARMIN_CLIENT_ID") {
		t.Errorf("Expected GARMIN_CLIENT_ID in error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "INTERNAL_API_KEY") {
		t.Errorf("Expected INTERNAL_API_KEY in error, got: %v", err)
	}
}

func TestLoad_WebhookSecretOptional(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.WebhookSecret != "" {
		t.Errorf("Expected empty webhook secret, got %s", cfg.WebhookSecret)
	}
}
