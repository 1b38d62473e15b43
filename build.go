package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"auto_article_curator/article"
	"auto_article_curator/cache"
	"auto_article_curator/config"
	"auto_article_curator/embedding"
	"auto_article_curator/llm"
	"auto_article_curator/outline"
	"auto_article_curator/pipeline"
	"auto_article_curator/research"
	"auto_article_curator/retriever"
	"auto_article_curator/store"
)

// LM roles. Each gets its own meter so usage is reported per role.
const (
	roleConversation = "conversation"
	roleQuestion     = "question"
	roleOutline      = "outline"
	roleArticle      = "article"
	rolePolish       = "polish"
	roleFallback     = "fallback"
)

type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	Store    *store.Store
	meters   map[string]*llm.Meter
	fallback llm.Client
	search   *retriever.Adapter
	outliner *retriever.PageOutliner
	embedder embedding.Engine
	cache    *cache.SQLite
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, meters: make(map[string]*llm.Meter)}
	var err error
	if a.Store, err = store.New(cfg.OutputDir); err != nil {
		return nil, err
	}

	models := map[string]string{
		roleConversation: cfg.Models.Conversation,
		roleQuestion:     cfg.Models.Question,
		roleOutline:      cfg.Models.Outline,
		roleArticle:      cfg.Models.Article,
		rolePolish:       cfg.Models.Polish,
	}
	for role, model := range models {
		c, err := buildLLM(ctx, cfg.LLM, model)
		if err != nil {
			return nil, fmt.Errorf("%s model: %w", role, err)
		}
		a.meters[role] = llm.NewMeter(llm.Retrying{Client: c, Policy: cfg.RetryPolicy()})
	}
	if cfg.Fallback != nil {
		c, err := buildLLM(ctx, *cfg.Fallback, "")
		if err != nil {
			return nil, fmt.Errorf("fallback model: %w", err)
		}
		m := llm.NewMeter(llm.Retrying{Client: c, Policy: cfg.RetryPolicy()})
		a.meters[roleFallback] = m
		a.fallback = m
	}

	emb, err := embedding.NewEngine(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}
	a.embedder = embedding.Retrying{Engine: emb, Policy: cfg.RetryPolicy()}
	if err := a.buildRetriever(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// buildLLM picks the client implementation for the configured provider.
func buildLLM(ctx context.Context, lc config.LLMConfig, model string) (llm.Client, error) {
	settings := lc.Settings(model)
	switch lc.Provider {
	case "openai":
		return llm.NewOpenAIFromSettings(settings)
	case "deepseek":
		// DeepSeek serves an OpenAI-compatible API; base_url must point at it (official endpoint or a gateway).
		if lc.BaseURL == "" {
			return nil, fmt.Errorf("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
		return llm.NewOpenAIFromSettings(settings)
	case "gemini":
		return llm.NewGeminiFromSettings(ctx, settings)
	case "mock":
		return llm.Mock{}, nil
	default:
		return nil, fmt.Errorf("llm provider %s not supported", lc.Provider)
	}
}

func (a *app) buildRetriever(ctx context.Context) error {
	rc := a.cfg.Retriever
	timeout := a.cfg.RetrieverTimeout()

	var backend retriever.Backend
	switch rc.Backend {
	case "searxng":
		backend = retriever.NewSearXNG(rc.BaseURL, timeout)
	default:
		backend = retriever.NewDuckDuckGo(timeout)
	}
	if rc.FetchPages {
		backend = &retriever.Expanded{Backend: backend, Fetcher: retriever.NewPageFetcher(timeout), Logger: a.logger}
	}
	if rc.CachePath != "" {
		c, err := cache.Open(rc.CachePath, a.cfg.CacheTTL())
		if err != nil {
			return fmt.Errorf("open search cache: %w", err)
		}
		a.cache = c
		if n, err := c.Purge(ctx); err != nil {
			a.logger.Warn("purge search cache", zap.Error(err))
		} else if n > 0 {
			a.logger.Debug("purged expired search results", zap.Int64("entries", n))
		}
		backend = &retriever.Cached{Backend: backend, Store: c, Logger: a.logger}
	}

	k := a.cfg.Research.SearchTopK
	if k <= 0 {
		k = rc.K
	}
	a.search = retriever.New(backend,
		retriever.WithTopK(k),
		retriever.WithPolicy(a.cfg.RetryPolicy()),
		retriever.WithFilter(retriever.NewDomainFilter(rc.ExcludeDomains...)),
		retriever.WithLogger(a.logger),
	)
	a.outliner = retriever.NewPageOutliner(timeout)
	return nil
}

// Runner wires every stage component into a pipeline runner.
func (a *app) Runner(excludeURLs []string) (*pipeline.Runner, error) {
	rc := a.cfg.Research

	personas, err := research.NewPersonaGenerator(a.meters[roleConversation], a.outliner, a.logger.Named("persona"))
	if err != nil {
		return nil, err
	}
	expert, err := research.NewExpert(a.meters[roleConversation], a.search, a.logger.Named("expert"))
	if err != nil {
		return nil, err
	}
	expert.MaxQueries = rc.MaxSearchQueriesPerTurn
	sim, err := research.NewSimulator(a.meters[roleQuestion], expert, a.logger.Named("simulator"))
	if err != nil {
		return nil, err
	}
	sim.MaxTurns = rc.MaxConvTurn
	sim.MaxThreads = rc.MaxThreadNum

	oe, err := outline.NewEngine(a.meters[roleOutline], a.logger.Named("outline"))
	if err != nil {
		return nil, err
	}
	gen, err := article.NewGenerator(a.meters[roleArticle], a.logger.Named("article"))
	if err != nil {
		return nil, err
	}
	gen.TopK = rc.RetrieveTopK
	gen.MaxThreads = rc.MaxThreadNum
	gen.OnSection = func(name string) {
		a.logger.Debug("section written", zap.String("section", name))
	}
	pol, err := article.NewPolisher(a.meters[rolePolish], a.logger.Named("polish"))
	if err != nil {
		return nil, err
	}
	pol.Dedup = rc.Dedup

	return pipeline.New(pipeline.Options{
		Personas:       personas,
		Simulator:      sim,
		Outline:        oe,
		Generator:      gen,
		Polisher:       pol,
		Embedder:       a.embedder,
		Store:          a.Store,
		Fallback:       a.fallback,
		Meters:         a.meters,
		Searches:       a.search,
		Callbacks:      pipeline.LogCallbacks{Logger: a.logger.Named("pipeline")},
		Logger:         a.logger,
		MaxPerspective: rc.MaxPerspective,
		ExcludeURLs:    excludeURLs,
	})
}

func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("close search cache", zap.Error(err))
		}
	}
}
