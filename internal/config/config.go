// Package config loads and holds all proxy configuration.
//
// Settings are layered: defaults → TOML config file → environment variables
// (env vars win). The file layer uses github.com/BurntSushi/toml so missing
// keys simply leave the default in place, exactly like the JSON layer this
// package replaces used to behave with encoding/json.Unmarshal into an
// already-populated struct.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds the full proxy configuration.
type Config struct {
	LogLevel  string          `toml:"log_level"`
	Detection DetectionConfig `toml:"detection"`
	Faker     FakerConfig     `toml:"faker"`
	Mapping   MappingConfig   `toml:"mapping"`
	LLM       LLMConfig       `toml:"llm"`
}

// DetectionConfig is the [detection] section.
type DetectionConfig struct {
	Mode                string            `toml:"mode"` // regex, llm, hybrid
	Enabled             bool              `toml:"enabled"`
	ConfidenceThreshold float64           `toml:"confidence_threshold"`
	Patterns            map[string]string `toml:"patterns"` // [detection.patterns]
}

// FakerConfig is the [faker] section.
type FakerConfig struct {
	Locale      string `toml:"locale"`
	Seed        int64  `toml:"seed"`
	Consistency bool   `toml:"consistency"`
}

// MappingConfig is the [mapping] section.
type MappingConfig struct {
	DatabasePath  string `toml:"database_path"`
	Encryption    bool   `toml:"encryption"` // reserved, not implemented
	RetentionDays int    `toml:"retention_days"`
}

// LLMConfig is the [llm] section.
type LLMConfig struct {
	Enabled        bool   `toml:"enabled"`
	Model          string `toml:"model"`
	Endpoint       string `toml:"endpoint"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Load returns config with defaults overridden by the TOML file at path (if
// non-empty and readable) and environment variables.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	loadEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		LogLevel: "info",
		Detection: DetectionConfig{
			Mode:                "hybrid",
			Enabled:             true,
			ConfidenceThreshold: 0.7,
			Patterns:            map[string]string{},
		},
		Faker: FakerConfig{
			Locale:      "en_US",
			Seed:        42,
			Consistency: true,
		},
		Mapping: MappingConfig{
			DatabasePath:  "mcpconceal-mapping.db",
			Encryption:    false,
			RetentionDays: 0, // 0 = retain forever
		},
		LLM: LLMConfig{
			Enabled:        false,
			Model:          "qwen2.5:3b",
			Endpoint:       "http://localhost:11434",
			TimeoutSeconds: 30,
		},
	}
}

// loadFile decodes TOML at path into cfg in place. A missing file is not an
// error (config is optional beyond defaults); a present-but-invalid file is.
func loadFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	log.Printf("[CONFIG] Loaded %s", path)
	return nil
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("MCPCONCEAL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MCPCONCEAL_DETECTION_MODE"); v != "" {
		cfg.Detection.Mode = v
	}
	if v := os.Getenv("MCPCONCEAL_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("MCPCONCEAL_FAKER_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Faker.Seed = n
		}
	}
	if v := os.Getenv("MCPCONCEAL_DATABASE_PATH"); v != "" {
		cfg.Mapping.DatabasePath = v
	}
	if v := os.Getenv("MCPCONCEAL_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Mapping.RetentionDays = n
		}
	}
	if v := os.Getenv("MCPCONCEAL_LLM_ENABLED"); v == "true" {
		cfg.LLM.Enabled = true
	} else if v == "false" {
		cfg.LLM.Enabled = false
	}
	if v := os.Getenv("MCPCONCEAL_LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("MCPCONCEAL_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("MCPCONCEAL_LLM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LLM.TimeoutSeconds = n
		}
	}
}
