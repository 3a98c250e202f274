package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/liao/cinema-bot/internal/ai"
	"github.com/liao/cinema-bot/internal/catalog"
	"github.com/liao/cinema-bot/internal/config"
	"github.com/liao/cinema-bot/internal/history"
	"github.com/liao/cinema-bot/internal/persona"
	"github.com/liao/cinema-bot/internal/pipeline"
	"github.com/liao/cinema-bot/internal/rag"
)

// app 进程级依赖，启动时构建一次
type app struct {
	cfg     *config.Config
	store   history.Store
	persona *persona.Persona
	svc     *pipeline.Service
}

// loadConfig 读取 --config 并初始化日志
func loadConfig(cmd *cobra.Command, logOut io.Writer) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := setupLogger(logOut, cfg.Log.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore 只打开历史库，history/clear 命令不需要加载影片库和模型
func openStore(cfg *config.Config) (history.Store, error) {
	store, err := history.OpenSQLite(cfg.History.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return store, nil
}

func loadPersona(path string) *persona.Persona {
	if path == "" {
		return persona.Default()
	}
	p, err := persona.LoadFromFile(path)
	if err != nil {
		slog.Warn("load persona failed, using default", "error", err)
		return persona.Default()
	}
	return p
}

// newApp 加载影片库（失败即启动失败）、建立索引、初始化模型与历史库
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	table, err := catalog.Load(cfg.Catalog.Path, cfg.Catalog.Format)
	if err != nil {
		return nil, err
	}
	slog.Info("catalog loaded", "path", cfg.Catalog.Path, "films", table.Len())

	retriever := rag.NewRetriever(table, rag.Options{
		Threshold: cfg.RAG.Threshold,
		Workers:   cfg.RAG.Workers,
	})

	model, err := newModel(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	slog.Info("AI client initialized", "provider", cfg.LLM.Provider, "models", cfg.LLM.Models)

	p := loadPersona(cfg.PersonaFile)
	generator := ai.NewGenerator(model, p, ai.GeneratorOptions{
		MaxTokens:   cfg.LLM.MaxOutputTokens,
		Timeout:     cfg.LLM.Timeout,
		MaxAttempts: cfg.LLM.MaxAttempts,
		Backoff:     cfg.LLM.RetryBackoff,
	})

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		store:   store,
		persona: p,
		svc:     pipeline.NewService(retriever, generator, store, p, cfg.RAG.TopK),
	}, nil
}

func newModel(ctx context.Context, cfg config.LLMConfig) (ai.Model, error) {
	switch cfg.Provider {
	case config.ProviderTogether:
		return ai.NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Models[0], cfg.Temperature), nil
	case config.ProviderGemini:
		client, err := ai.NewGeminiClient(ctx, cfg.APIKey, cfg.Models, cfg.Temperature, cfg.RPMLimit)
		if err != nil {
			return nil, fmt.Errorf("create AI client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Error("close history store failed", "error", err)
	}
}
