package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func loadFromYAML(t *testing.T, yamlContent, dotenv string) (Config, error) {
	t.Helper()
	b := newFileBackend(writeTempFile(t, "config.yaml", yamlContent))
	envPath := ""
	if dotenv != "" {
		envPath = writeTempFile(t, ".env", dotenv)
	}
	return loadWith(b, envPath)
}

// clearEnv blanks every FAQSCOPE_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFromYAML(t, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("Ollama.EmbedModel = %q", cfg.Ollama.EmbedModel)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("LLM.Provider = %q, want ollama", cfg.LLM.Provider)
	}
	if cfg.Pipeline.MinClusterSize != 5 || cfg.Pipeline.TopCandidates != 5 || cfg.Pipeline.Workers != 1 {
		t.Errorf("Pipeline = %+v", cfg.Pipeline)
	}
	if cfg.LLM.TimeoutDuration() != 60*time.Second {
		t.Errorf("TimeoutDuration = %v", cfg.LLM.TimeoutDuration())
	}
}

func TestYAMLParsing(t *testing.T) {
	clearEnv(t)
	content := `
server:
  port: 5000
ollama:
  base_url: http://custom:11434
  chat_model: custom-chat
llm:
  timeout: 15s
  rate_per_second: 0.5
storage:
  data_dir: /tmp/faqscope-test
pipeline:
  min_cluster_size: 3
  workers: 4
log:
  level: debug
`
	cfg, err := loadFromYAML(t, content, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://custom:11434" || cfg.Ollama.ChatModel != "custom-chat" {
		t.Errorf("Ollama = %+v", cfg.Ollama)
	}
	if cfg.LLM.TimeoutDuration() != 15*time.Second {
		t.Errorf("TimeoutDuration = %v", cfg.LLM.TimeoutDuration())
	}
	if cfg.LLM.RatePerSecond != 0.5 {
		t.Errorf("RatePerSecond = %v", cfg.LLM.RatePerSecond)
	}
	if cfg.Storage.DataDir != "/tmp/faqscope-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Pipeline.MinClusterSize != 3 || cfg.Pipeline.Workers != 4 {
		t.Errorf("Pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Log.SlogLevel().String() != "DEBUG" {
		t.Errorf("SlogLevel = %v", cfg.Log.SlogLevel())
	}
}

func TestLayering(t *testing.T) {
	clearEnv(t)
	yamlContent := "server:\n  port: 5000\npipeline:\n  workers: 2\n"
	dotenv := "FAQSCOPE_SERVER_PORT=6000\nFAQSCOPE_PIPELINE_WORKERS=3\n"
	t.Setenv("FAQSCOPE_PIPELINE_WORKERS", "8")

	cfg, err := loadFromYAML(t, yamlContent, dotenv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf(".env should override the file: port = %d", cfg.Server.Port)
	}
	if cfg.Pipeline.Workers != 8 {
		t.Errorf("environment should override .env: workers = %d", cfg.Pipeline.Workers)
	}
}

func TestSecretsIgnoredInFile(t *testing.T) {
	clearEnv(t)
	content := "llm:\n  provider: openrouter\n  openrouter_api_key: file-key\n"
	if _, err := loadFromYAML(t, content, ""); err == nil || !strings.Contains(err.Error(), "missing required config") {
		t.Fatalf("expected missing key error, got %v", err)
	}

	t.Setenv("FAQSCOPE_OPENROUTER_API_KEY", "env-key")
	cfg, err := loadFromYAML(t, content, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.OpenRouterAPIKey != "env-key" {
		t.Errorf("OpenRouterAPIKey = %q, want env-key", cfg.LLM.OpenRouterAPIKey)
	}
}

func TestValidation(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad provider", "llm:\n  provider: cohere\n", "invalid llm.provider"},
		{"cluster size", "pipeline:\n  min_cluster_size: 1\n", "min_cluster_size"},
		{"workers", "pipeline:\n  workers: 0\n", "pipeline.workers"},
		{"bad int", "server:\n  port: many\n", "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadFromYAML(t, tt.yaml, "")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestSetKey_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "faqscope", "config.yaml")

	if err := setKey(newFileBackend(path), "pipeline.workers", "6"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(newFileBackend(path), "llm.rate_per_second", "1.5"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(newFileBackend(path), "ollama.chat_model", "qwen2.5"); err != nil {
		t.Fatalf("setKey: %v", err)
	}

	cfg, err := loadWith(newFileBackend(path), "")
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Pipeline.Workers != 6 || cfg.LLM.RatePerSecond != 1.5 || cfg.Ollama.ChatModel != "qwen2.5" {
		t.Errorf("cfg = %+v / %+v / %+v", cfg.Pipeline, cfg.LLM, cfg.Ollama)
	}

	b := newFileBackend(path)
	if err := b.Delete("pipeline.workers"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	cfg, _ = loadWith(newFileBackend(path), "")
	if cfg.Pipeline.Workers != 1 {
		t.Errorf("after delete workers = %d, want default 1", cfg.Pipeline.Workers)
	}
}

func TestSetKey_Rejects(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.yaml"))
	if err := setKey(b, "llm.openrouter_api_key", "x"); err == nil || !strings.Contains(err.Error(), "secret") {
		t.Errorf("secret key: err = %v", err)
	}
	if err := setKey(b, "nope", "x"); err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("unknown key: err = %v", err)
	}
	if err := setKey(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
}

func TestShowAll_MasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.OpenRouterAPIKey = "sk-secret"
	for _, k := range ShowAll(cfg) {
		if k.Key == "llm.openrouter_api_key" && k.Value != "********" {
			t.Errorf("secret shown as %q", k.Value)
		}
		if k.Key == "api.token" && k.Value != "" {
			t.Errorf("empty token shown as %q", k.Value)
		}
	}
	for _, k := range ValidKeys() {
		if k == "api.token" || k == "llm.openrouter_api_key" {
			t.Errorf("ValidKeys lists secret %q", k)
		}
	}
}
