package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FAQSCOPE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "api.token", typ: kString, env: "FAQSCOPE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
	{
		key: "ollama.base_url", typ: kString, env: "FAQSCOPE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "FAQSCOPE_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "FAQSCOPE_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "llm.provider", typ: kString, env: "FAQSCOPE_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.openrouter_api_key", typ: kString, env: "FAQSCOPE_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenRouterAPIKey },
	},
	{
		key: "llm.openrouter_model", typ: kString, env: "FAQSCOPE_LLM_OPENROUTER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenRouterModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenRouterModel },
	},
	{
		key: "llm.timeout", typ: kString, env: "FAQSCOPE_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "llm.max_attempts", typ: kInt, env: "FAQSCOPE_LLM_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxAttempts },
	},
	{
		key: "llm.rate_per_second", typ: kFloat, env: "FAQSCOPE_LLM_RATE_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.LLM.RatePerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.RatePerSecond },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FAQSCOPE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "pipeline.min_cluster_size", typ: kInt, env: "FAQSCOPE_PIPELINE_MIN_CLUSTER_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.MinClusterSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.MinClusterSize },
	},
	{
		key: "pipeline.min_samples", typ: kInt, env: "FAQSCOPE_PIPELINE_MIN_SAMPLES",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.MinSamples = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.MinSamples },
	},
	{
		key: "pipeline.top_candidates", typ: kInt, env: "FAQSCOPE_PIPELINE_TOP_CANDIDATES",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.TopCandidates = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.TopCandidates },
	},
	{
		key: "pipeline.keyword_count", typ: kInt, env: "FAQSCOPE_PIPELINE_KEYWORD_COUNT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.KeywordCount = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.KeywordCount },
	},
	{
		key: "pipeline.workers", typ: kInt, env: "FAQSCOPE_PIPELINE_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.Workers },
	},
	{
		key: "log.level", typ: kString, env: "FAQSCOPE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
