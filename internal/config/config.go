// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir    string // Base directory for all databases (always absolute)
	PolicyFile string // YAML rebalancing policy
	LogLevel   string
	Port       int
	DevMode    bool
	Ephemeral  bool // Keep portfolios and ledger in memory only
	QuotesURL  string
	Archive    ArchiveConfig
	Policy     *Policy
}

// ArchiveConfig holds the S3-compatible bucket used for ledger export archives
type ArchiveConfig struct {
	Bucket          string
	Prefix          string
	Endpoint        string // Empty = AWS default endpoint resolution
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether archiving is configured
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// Load reads configuration from environment variables and the policy file
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:    absDataDir,
		PolicyFile: getEnv("POLICY_FILE", "policy.yaml"),
		Port:       getEnvAsInt("PORT", 8001),
		DevMode:    getEnvAsBool("DEV_MODE", false),
		Ephemeral:  getEnvAsBool("EPHEMERAL", false),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		QuotesURL:  getEnv("QUOTES_WS_URL", ""),
		Archive: ArchiveConfig{
			Bucket:          getEnv("ARCHIVE_BUCKET", ""),
			Prefix:          getEnv("ARCHIVE_PREFIX", "ledger-exports"),
			Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
			Region:          getEnv("ARCHIVE_REGION", "auto"),
			AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
		},
	}

	policy, err := LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Archive.Enabled() && c.Archive.AccessKeyID != "" && c.Archive.SecretAccessKey == "" {
		return fmt.Errorf("ARCHIVE_SECRET_ACCESS_KEY is required when ARCHIVE_ACCESS_KEY_ID is set")
	}
	if c.Policy == nil {
		return fmt.Errorf("policy not loaded")
	}
	return c.Policy.Validate()
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
