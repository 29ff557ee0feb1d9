package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/costpilot-ai/costpilot/pkg/backend"
	"github.com/costpilot-ai/costpilot/pkg/cache"
	cacheredis "github.com/costpilot-ai/costpilot/pkg/cache/redis"
	cachesqlite "github.com/costpilot-ai/costpilot/pkg/cache/sqlite"
	"github.com/costpilot-ai/costpilot/pkg/classify"
	"github.com/costpilot-ai/costpilot/pkg/config"
	"github.com/costpilot-ai/costpilot/pkg/metrics"
	"github.com/costpilot-ai/costpilot/pkg/optimizer"
)

// loadConfig reads and validates a config file; an empty path yields the
// defaults, which still require LLM_API_KEY to be set.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Backends.Cloud.APIKey == "" {
		cfg.Backends.Cloud.APIKey = envAPIKey()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envAPIKey() string {
	return os.Getenv("LLM_API_KEY")
}

func buildStore(cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "sqlite":
		return cachesqlite.New(cfg.Cache.SQLitePath)
	case "redis":
		return cacheredis.New(cacheredis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		}), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// buildProcessor wires the processor and also returns the local backend
// so the caller can register its reachability probe.
func buildProcessor(cfg *config.Config, store cache.Store, m *metrics.Metrics, logger *zap.Logger) (*optimizer.Processor, *backend.Ollama, error) {
	local := backend.NewOllama(cfg.Backends.Local.URL, cfg.Backends.Local.Model, cfg.Backends.Local.Timeout)
	cloud, err := backend.NewCloud(backend.CloudOptions{
		URL:         cfg.Backends.Cloud.URL,
		Model:       cfg.Backends.Cloud.Model,
		APIKey:      cfg.Backends.Cloud.APIKey,
		MaxTokens:   cfg.Backends.Cloud.MaxTokens,
		Temperature: cfg.Backends.Cloud.Temperature,
		Timeout:     cfg.Backends.Cloud.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init cloud backend: %w", err)
	}

	return optimizer.New(optimizer.Options{
		Store:             store,
		Classifier:        classify.NewKeywordClassifier(cfg.Classifier.WordThreshold, cfg.Classifier.Vocabulary),
		Local:             local,
		Cloud:             cloud,
		Table:             cfg.Table(),
		Metrics:           m,
		Logger:            logger,
		TTL:               cfg.Cache.TTL,
		MaxStoredResponse: cfg.Cache.MaxResponseBytes,
	}), local, nil
}
