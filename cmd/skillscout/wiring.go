package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terra-clan/skillscout/internal/ai"
	"github.com/terra-clan/skillscout/internal/cache"
	"github.com/terra-clan/skillscout/internal/config"
	"github.com/terra-clan/skillscout/internal/events"
	"github.com/terra-clan/skillscout/internal/health"
	"github.com/terra-clan/skillscout/internal/pipeline"
	"github.com/terra-clan/skillscout/internal/prompts"
	"github.com/terra-clan/skillscout/internal/sonar"
	"github.com/terra-clan/skillscout/internal/workspace"
)

const (
	metadataPrefix = "skillscout:sonar:"
	eventsPrefix   = "skillscout:events:"

	healthCheckTimeout = 5 * time.Second
)

// components are the collaborators shared by the serve and analyze commands
type components struct {
	redis    *redis.Client
	metadata sonar.MetadataCache
	bus      events.Bus
	docker   *sonar.DockerScanner
	reviewer *ai.Reviewer
	analyzer *pipeline.Aggregator
	registry *health.Registry
}

// buildComponents wires cache, bus, scanner, AI reviewer and aggregator
// from cfg. Redis backs the cache and bus only when useRedis is set.
func buildComponents(ctx context.Context, cfg *config.Config, useRedis bool) (*components, error) {
	c := &components{registry: health.NewRegistry(healthCheckTimeout)}

	if useRedis && cfg.Redis.Address != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		store := cache.NewRedisStore(client, metadataPrefix, cfg.Redis.CacheTTL)
		bus := events.NewRedisBus(client, eventsPrefix)
		c.redis = client
		c.metadata = store
		c.bus = bus
		c.registry.Register("redis", store)
	} else {
		slog.Info("redis not configured, using in-process cache and event bus")
		c.metadata = cache.NewMemoryStore(cfg.Redis.CacheTTL)
		c.bus = events.NewMemoryBus()
	}

	loader, err := prompts.NewLoader()
	if err != nil {
		c.Close()
		return nil, err
	}
	if cfg.Prompts.Dir != "" {
		if err := loader.LoadFromDir(cfg.Prompts.Dir); err != nil {
			slog.Warn("failed to load prompts from dir", "dir", cfg.Prompts.Dir, "error", err)
		}
	}

	transport, err := ai.NewTransport(cfg.AI)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create ai transport: %w", err)
	}
	policy := pipeline.Policy(cfg.Retry.MaxAttempts, cfg.Retry.InitialInterval, cfg.Retry.MaxInterval)
	c.reviewer = ai.NewReviewer(transport, loader, policy)

	analyzer, err := c.staticAnalyzer(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.analyzer = pipeline.NewAggregator(pipeline.AggregatorConfig{
		Fetcher:  workspace.NewFetcher(cfg.Workspace.Root, cfg.Workspace.CloneTimeout),
		Reviewer: c.reviewer,
		Analyzer: analyzer,
		Limits: workspace.Limits{
			TreeDepth:      cfg.Workspace.TreeDepth,
			MaxSampleBytes: cfg.Workspace.MaxSampleBytes,
			MaxFileBytes:   cfg.Workspace.MaxFileBytes,
		},
		ProjectPrefix: cfg.Sonar.ProjectPrefix,
		Policy:        policy,
	})

	return c, nil
}

// staticAnalyzer returns nil when no analysis server is configured, which
// yields zeroed metrics for every run
func (c *components) staticAnalyzer(ctx context.Context, cfg *config.Config) (pipeline.StaticAnalyzer, error) {
	if cfg.Sonar.Host == "" {
		slog.Warn("sonar host not configured, metrics will be zero")
		return nil, nil
	}

	var local *sonar.ExecScanner
	if cfg.Sonar.ScannerMode == "exec" {
		local = sonar.NewExecScanner(cfg.Sonar.ScannerPath, cfg.Sonar.Host, cfg.Sonar.Token, cfg.Sonar.ScannerTimeout)
	}
	if cfg.Sonar.ScannerMode == "docker" {
		container, err := sonar.NewDockerScanner(cfg.Docker, cfg.Sonar.Host, cfg.Sonar.Token, cfg.Sonar.ScannerTimeout)
		if err != nil {
			return nil, err
		}
		if err := container.Ping(ctx); err != nil {
			slog.Warn("docker daemon not reachable", "host", cfg.Docker.Host, "error", err)
		}
		c.docker = container
		c.registry.Register("docker", health.CheckerFunc(container.Ping))
	}

	scanner, err := sonar.NewScanner(cfg.Sonar.ScannerMode, local, c.docker)
	if err != nil {
		return nil, err
	}
	return sonar.NewAnalyzer(cfg.Sonar, scanner, c.metadata), nil
}

// Close releases the docker and redis connections
func (c *components) Close() {
	if c.docker != nil {
		if err := c.docker.Close(); err != nil {
			slog.Error("docker client close error", "error", err)
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}
}
