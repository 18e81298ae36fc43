package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Flow.DefaultPlatform != "amazon" {
		t.Errorf("default platform = %q, want amazon", cfg.Flow.DefaultPlatform)
	}
}

func TestParseLayersOverDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
flow:
  default_platform: flipkart
  confirm_timeout: 45s
models:
  candidates:
    - provider: google
      model: gemini-2.5-pro
    - provider: ollama
      model: llama3
  ollama_endpoint: http://localhost:11434
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Flow.DefaultPlatform != "flipkart" {
		t.Errorf("default_platform = %q", cfg.Flow.DefaultPlatform)
	}
	if cfg.Flow.ConfirmTimeout.Std() != 45*time.Second {
		t.Errorf("confirm_timeout = %s, want 45s", cfg.Flow.ConfirmTimeout.Std())
	}
	// Untouched sections keep their defaults.
	if cfg.Flow.PageLoadTimeout.Std() != 10*time.Second {
		t.Errorf("page_load_timeout lost its default: %s", cfg.Flow.PageLoadTimeout.Std())
	}
	if len(cfg.Models.Candidates) != 2 || cfg.Models.Candidates[1].Model != "llama3" {
		t.Errorf("candidates not parsed: %+v", cfg.Models.Candidates)
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	if _, err := Parse([]byte("flow:\n  confirm_timeout: soon\n")); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestParseRejectsIncompleteCandidate(t *testing.T) {
	_, err := Parse([]byte("models:\n  candidates:\n    - provider: google\n"))
	if err == nil {
		t.Fatal("expected error for candidate without model")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Cleanup(Reset)
	if err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("Load of missing file should default, got %v", err)
	}
	cfg, err := Get()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.DBPath != "retailagent.db" {
		t.Errorf("db_path = %q", cfg.Storage.DBPath)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Cleanup(Reset)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  db_path: /tmp/ra.db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg, _ := Get()
	if cfg.Storage.DBPath != "/tmp/ra.db" {
		t.Errorf("db_path = %q", cfg.Storage.DBPath)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Cleanup(Reset)
	t.Setenv("RETAILAGENT_DB_PATH", "/var/lib/ra.db")
	t.Setenv("RETAILAGENT_DEFAULT_PLATFORM", "myntra")

	if err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatal(err)
	}
	cfg, _ := Get()
	if cfg.Storage.DBPath != "/var/lib/ra.db" {
		t.Errorf("db_path = %q", cfg.Storage.DBPath)
	}
	if cfg.Flow.DefaultPlatform != "myntra" {
		t.Errorf("default_platform = %q", cfg.Flow.DefaultPlatform)
	}
}

func TestGetBeforeLoad(t *testing.T) {
	t.Cleanup(Reset)
	Reset()
	if _, err := Get(); err == nil {
		t.Fatal("Get before Load should fail")
	}
}

func TestUpdateModelsValidates(t *testing.T) {
	t.Cleanup(Reset)
	if err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatal(err)
	}

	bad := ModelsConfig{MaxRetries: -1}
	if err := UpdateModels(bad); err == nil {
		t.Fatal("invalid update accepted")
	}

	good := ModelsConfig{MaxRetries: 2, Candidates: []ModelCandidate{{Provider: "google", Model: "gemini-2.5-flash"}}}
	if err := UpdateModels(good); err != nil {
		t.Fatalf("valid update rejected: %v", err)
	}
	cfg, _ := Get()
	if cfg.Models.MaxRetries != 2 {
		t.Errorf("update not applied: %+v", cfg.Models)
	}
}
