package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the noesis API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	AI        AIConfig        `yaml:"ai"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds the SQLite knowledge store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig holds the optional Redis embedding cache settings.
// When Addrs is empty the cache is disabled and every embedding goes to
// the provider.
type CacheConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
}

// AIConfig holds the OpenAI-compatible provider settings shared by the
// embedding, summarization, extraction, and chat generation calls.
type AIConfig struct {
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"`
	EmbeddingModel      string `yaml:"embedding_model"`
	EmbeddingDimensions int    `yaml:"embedding_dimensions"`
	ChatModel           string `yaml:"chat_model"`
	RequestTimeoutSec   int    `yaml:"request_timeout_sec"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	FetchTimeoutSec    int `yaml:"fetch_timeout_sec"`
	EmbedBatchSize     int `yaml:"embed_batch_size"`
	EmbedWorkers       int `yaml:"embed_workers"`
	EnrichmentMaxChars int `yaml:"enrichment_max_chars"`
	ChunkMaxTokens     int `yaml:"chunk_max_tokens"`
	StaleAfterSec      int `yaml:"stale_after_sec"`
}

// RetrievalConfig holds retrieval settings.
type RetrievalConfig struct {
	Budget        int `yaml:"budget"`
	MaxCandidates int `yaml:"max_candidates"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Must cover a full ingestion or chat stream.
		c.HTTP.WriteTimeoutSec = 300
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/noesis.db"
	}
	if c.AI.RequestTimeoutSec <= 0 {
		c.AI.RequestTimeoutSec = 60
	}
	if c.Ingest.FetchTimeoutSec <= 0 {
		c.Ingest.FetchTimeoutSec = 30
	}
	if c.Ingest.EmbedBatchSize <= 0 {
		c.Ingest.EmbedBatchSize = 10
	}
	if c.Ingest.EmbedWorkers <= 0 {
		// Sequential batching is the safe default.
		c.Ingest.EmbedWorkers = 1
	}
	if c.Ingest.EnrichmentMaxChars <= 0 {
		c.Ingest.EnrichmentMaxChars = 8000
	}
	if c.Ingest.ChunkMaxTokens <= 0 {
		c.Ingest.ChunkMaxTokens = 300
	}
	if c.Ingest.StaleAfterSec <= 0 {
		c.Ingest.StaleAfterSec = 3600
	}
	if c.Retrieval.Budget <= 0 {
		c.Retrieval.Budget = 3
	}
	if c.Retrieval.MaxCandidates <= 0 {
		c.Retrieval.MaxCandidates = 50
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.AI.EmbeddingModel == "" {
		return fmt.Errorf("ai.embedding_model is required")
	}
	if c.AI.ChatModel == "" {
		return fmt.Errorf("ai.chat_model is required")
	}
	if c.Retrieval.Budget > c.Retrieval.MaxCandidates {
		return fmt.Errorf("retrieval.budget (%d) must not exceed retrieval.max_candidates (%d)",
			c.Retrieval.Budget, c.Retrieval.MaxCandidates)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
