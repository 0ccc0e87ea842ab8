package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("WORKERS")
	os.Unsetenv("PATTERN_STORE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Workers != 4 {
		t.Errorf("expected default workers 4, got %d", cfg.Workers)
	}

	if cfg.PatternStore != "patterns.json" {
		t.Errorf("expected default pattern store, got %s", cfg.PatternStore)
	}

	if !cfg.ApplyLearning {
		t.Error("expected learning application enabled by default")
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	os.Setenv("WORKERS", "8")
	os.Setenv("KNOWLEDGE_FILE", "/etc/chartline/knowledge.yaml")
	defer os.Unsetenv("WORKERS")
	defer os.Unsetenv("KNOWLEDGE_FILE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Workers != 8 {
		t.Errorf("expected workers 8, got %d", cfg.Workers)
	}

	if cfg.KnowledgeFile != "/etc/chartline/knowledge.yaml" {
		t.Errorf("expected knowledge file override, got %s", cfg.KnowledgeFile)
	}
}

func TestLoad_RejectsZeroWorkers(t *testing.T) {
	os.Setenv("WORKERS", "0")
	defer os.Unsetenv("WORKERS")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero workers")
	}
}

func TestConfig_ResolvedLogFormat(t *testing.T) {
	c := &Config{Env: "development"}
	if c.ResolvedLogFormat() != "console" {
		t.Errorf("expected console in development, got %s", c.ResolvedLogFormat())
	}

	c.Env = "production"
	if c.ResolvedLogFormat() != "json" {
		t.Errorf("expected json in production, got %s", c.ResolvedLogFormat())
	}

	c.LogFormat = "console"
	if c.ResolvedLogFormat() != "console" {
		t.Error("expected explicit LOG_FORMAT to win")
	}
}
