package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel: got %s, want info", cfg.LogLevel)
	}
	if cfg.Detection.Mode != "hybrid" {
		t.Errorf("Detection.Mode: got %s, want hybrid", cfg.Detection.Mode)
	}
	if !cfg.Detection.Enabled {
		t.Error("Detection.Enabled should default to true")
	}
	if cfg.Detection.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold: got %f, want 0.7", cfg.Detection.ConfidenceThreshold)
	}
	if cfg.Faker.Locale != "en_US" {
		t.Errorf("Faker.Locale: got %s", cfg.Faker.Locale)
	}
	if !cfg.Faker.Consistency {
		t.Error("Faker.Consistency should default to true")
	}
	if cfg.Mapping.DatabasePath == "" {
		t.Error("Mapping.DatabasePath should not be empty")
	}
	if cfg.LLM.Enabled {
		t.Error("LLM.Enabled should default to false")
	}
	if cfg.LLM.Endpoint != "http://localhost:11434" {
		t.Errorf("LLM.Endpoint: got %s", cfg.LLM.Endpoint)
	}
	if cfg.LLM.TimeoutSeconds != 30 {
		t.Errorf("LLM.TimeoutSeconds: got %d, want 30", cfg.LLM.TimeoutSeconds)
	}
}

func TestLoadFile_ValidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
log_level = "debug"

[detection]
mode = "regex"
enabled = true
confidence_threshold = 0.85

[detection.patterns]
custom_id = "CUST-[0-9]{6}"

[faker]
locale = "en_GB"
seed = 7
consistency = true

[mapping]
database_path = "/tmp/test-mapping.db"
retention_days = 30

[llm]
enabled = true
model = "llama3:8b"
endpoint = "http://remote:11434"
timeout_seconds = 15
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	if err := loadFile(cfg, path); err != nil {
		t.Fatalf("loadFile: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %s, want debug", cfg.LogLevel)
	}
	if cfg.Detection.Mode != "regex" {
		t.Errorf("Detection.Mode: got %s, want regex", cfg.Detection.Mode)
	}
	if cfg.Detection.ConfidenceThreshold != 0.85 {
		t.Errorf("ConfidenceThreshold: got %f, want 0.85", cfg.Detection.ConfidenceThreshold)
	}
	if cfg.Detection.Patterns["custom_id"] != "CUST-[0-9]{6}" {
		t.Errorf("Patterns[custom_id]: got %q", cfg.Detection.Patterns["custom_id"])
	}
	if cfg.Faker.Locale != "en_GB" {
		t.Errorf("Faker.Locale: got %s, want en_GB", cfg.Faker.Locale)
	}
	if cfg.Faker.Seed != 7 {
		t.Errorf("Faker.Seed: got %d, want 7", cfg.Faker.Seed)
	}
	if cfg.Mapping.DatabasePath != "/tmp/test-mapping.db" {
		t.Errorf("Mapping.DatabasePath: got %s", cfg.Mapping.DatabasePath)
	}
	if cfg.Mapping.RetentionDays != 30 {
		t.Errorf("Mapping.RetentionDays: got %d, want 30", cfg.Mapping.RetentionDays)
	}
	if !cfg.LLM.Enabled {
		t.Error("LLM.Enabled should be true after file load")
	}
	if cfg.LLM.Model != "llama3:8b" {
		t.Errorf("LLM.Model: got %s", cfg.LLM.Model)
	}
	if cfg.LLM.TimeoutSeconds != 15 {
		t.Errorf("LLM.TimeoutSeconds: got %d, want 15", cfg.LLM.TimeoutSeconds)
	}
}

func TestLoadFile_Missing_IsNoOp(t *testing.T) {
	cfg := defaults()
	if err := loadFile(cfg, "/nonexistent/path/config.toml"); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel changed unexpectedly: %s", cfg.LogLevel)
	}
}

func TestLoadFile_InvalidTOML_Errors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(path, []byte("this is not [ valid toml"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	if err := loadFile(cfg, path); err == nil {
		t.Error("expected error on invalid TOML")
	}
}

func TestLoadEnv_LogLevel(t *testing.T) {
	t.Setenv("MCPCONCEAL_LOG_LEVEL", "warn")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel: got %s, want warn", cfg.LogLevel)
	}
}

func TestLoadEnv_ConfidenceThreshold(t *testing.T) {
	t.Setenv("MCPCONCEAL_CONFIDENCE_THRESHOLD", "0.95")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.Detection.ConfidenceThreshold != 0.95 {
		t.Errorf("ConfidenceThreshold: got %f, want 0.95", cfg.Detection.ConfidenceThreshold)
	}
}

func TestLoadEnv_RetentionDays(t *testing.T) {
	t.Setenv("MCPCONCEAL_RETENTION_DAYS", "90")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.Mapping.RetentionDays != 90 {
		t.Errorf("RetentionDays: got %d, want 90", cfg.Mapping.RetentionDays)
	}
}

func TestLoadEnv_LLMEnabled(t *testing.T) {
	t.Setenv("MCPCONCEAL_LLM_ENABLED", "true")
	cfg := defaults()
	loadEnv(cfg)
	if !cfg.LLM.Enabled {
		t.Error("LLM.Enabled should be true")
	}
}

func TestLoadEnv_InvalidThreshold_Ignored(t *testing.T) {
	t.Setenv("MCPCONCEAL_CONFIDENCE_THRESHOLD", "not-a-number")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.Detection.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold: got %f, want unchanged default 0.7", cfg.Detection.ConfidenceThreshold)
	}
}

func TestLoad_ReturnsNonNilWithNoPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load() returned nil")
	}
	if cfg.Detection.ConfidenceThreshold <= 0 {
		t.Errorf("ConfidenceThreshold should be positive, got %f", cfg.Detection.ConfidenceThreshold)
	}
}
