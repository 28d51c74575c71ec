package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kalambet/faqscope/internal/cluster"
	"github.com/kalambet/faqscope/internal/config"
	"github.com/kalambet/faqscope/internal/engine"
	"github.com/kalambet/faqscope/internal/ingest"
	"github.com/kalambet/faqscope/internal/llm"
	"github.com/kalambet/faqscope/internal/matching"
	"github.com/kalambet/faqscope/internal/pipeline"
	"github.com/kalambet/faqscope/internal/scoring"
	"github.com/kalambet/faqscope/internal/storage"
	"github.com/kalambet/faqscope/internal/summarize"
)

// app bundles the configured collaborators shared by the commands.
type app struct {
	cfg    config.Config
	store  *storage.Store
	engine engine.Engine
}

// openApp loads config, configures logging and opens the store.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})))

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return &app{
		cfg:    cfg,
		store:  store,
		engine: engine.NewOllamaEngine(cfg.Ollama.BaseURL),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// chatModel is the Ollama model used for language-model calls, or "" when
// they go to OpenRouter.
func (a *app) chatModel() string {
	if a.cfg.LLM.Provider == "openrouter" {
		return ""
	}
	return a.cfg.Ollama.ChatModel
}

// ensureEngine checks Ollama and pulls missing models.
func (a *app) ensureEngine(ctx context.Context, withChat bool) error {
	chat := ""
	if withChat {
		chat = a.chatModel()
	}
	return engine.EnsureReady(ctx, a.engine, chat, a.cfg.Ollama.EmbedModel, os.Stderr)
}

func (a *app) embedPending(ctx context.Context) (ingest.EmbedStats, error) {
	return ingest.EmbedPending(ctx, a.store, ingest.NewEmbedder(a.engine, a.cfg.Ollama.EmbedModel))
}

// provider returns the configured language model wrapped in the shared
// rate limit and retry policy.
func (a *app) provider() llm.Provider {
	var base llm.Provider
	if a.cfg.LLM.Provider == "openrouter" {
		base = llm.NewOpenRouter(a.cfg.LLM.OpenRouterAPIKey, a.cfg.LLM.OpenRouterModel)
	} else {
		base = llm.NewEngineProvider(a.engine, a.cfg.Ollama.ChatModel)
	}

	policy := llm.DefaultPolicy()
	policy.Timeout = a.cfg.LLM.TimeoutDuration()
	policy.RatePerSecond = a.cfg.LLM.RatePerSecond
	if a.cfg.LLM.MaxAttempts > 0 {
		policy.MaxAttempts = a.cfg.LLM.MaxAttempts
	}
	return llm.NewResilient(base, policy)
}

func (a *app) pipeline() (*pipeline.Pipeline, error) {
	p := a.provider()
	pc := a.cfg.Pipeline
	return pipeline.New(pipeline.Deps{
		Source:     a.store,
		Runs:       a.store,
		Reranker:   matching.NewReranker(p),
		Scorer:     scoring.New(p),
		Summarizer: summarize.New(p),
	}, pipeline.Config{
		Cluster: cluster.Config{
			MinClusterSize: pc.MinClusterSize,
			MinSamples:     pc.MinSamples,
		},
		TopCandidates: pc.TopCandidates,
		KeywordCount:  pc.KeywordCount,
		Workers:       pc.Workers,
	})
}
