package config

import (
	"os"
	"testing"
)

func validConfig() Config {
	cfg := Config{
		HTTP: HTTPConfig{Port: 8080},
		AI: AIConfig{
			EmbeddingModel: "text-embedding-3-small",
			ChatModel:      "gpt-4o-mini",
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_MissingModels(t *testing.T) {
	cfg := validConfig()
	cfg.AI.EmbeddingModel = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing embedding model")
	}

	cfg = validConfig()
	cfg.AI.ChatModel = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing chat model")
	}
}

func TestValidate_BudgetExceedsCandidates(t *testing.T) {
	cfg := validConfig()
	cfg.Retrieval.Budget = 100
	cfg.Retrieval.MaxCandidates = 10

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when budget exceeds max_candidates")
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Ingest.EmbedBatchSize != 10 {
		t.Errorf("embed_batch_size: got %d, want 10", cfg.Ingest.EmbedBatchSize)
	}
	if cfg.Ingest.EmbedWorkers != 1 {
		t.Errorf("embed_workers: got %d, want 1", cfg.Ingest.EmbedWorkers)
	}
	if cfg.Retrieval.Budget != 3 {
		t.Errorf("retrieval.budget: got %d, want 3", cfg.Retrieval.Budget)
	}
	if cfg.Database.Path == "" {
		t.Error("database.path default missing")
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("NOESIS_TEST_KEY", "secret")
	defer os.Unsetenv("NOESIS_TEST_KEY")

	out := expandEnvVars([]byte("api_key: ${NOESIS_TEST_KEY}\nurl: ${NOESIS_TEST_MISSING:-http://localhost}"))
	want := "api_key: secret\nurl: http://localhost"
	if string(out) != want {
		t.Errorf("unexpected expansion:\ngot:  %q\nwant: %q", string(out), want)
	}
}
