// Package app assembles the service from configuration: proxy pool,
// fetcher, extractors, stores, and the scraper use case. Both the API
// server and the CLI build through it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/extractor"
	"github.com/user/scraper-service/internal/fetcher"
	"github.com/user/scraper-service/internal/proxy"
	"github.com/user/scraper-service/internal/scheduler"
	"github.com/user/scraper-service/internal/store"
	"github.com/user/scraper-service/internal/usecase"
	"github.com/user/scraper-service/pkg/config"
)

// App bundles the built service with the resources it owns.
type App struct {
	Scraper usecase.Scraper
	Proxies *proxy.Pool

	pgPool *pgxpool.Pool
	rdb    *redis.Client
}

// Build wires the full service from cfg. Optional backends (remote sheet,
// Postgres, Redis) are attached only when configured; their absence is not
// an error.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}

	var proxies *proxy.Pool
	if cfg.UseProxy {
		proxies = proxy.NewPool(cfg.ProxyProbeURL)
		a.Proxies = proxies
	}

	f := fetcher.New(cfg, proxies)
	github := extractor.NewGitHub(f, cfg.GitHubAPIURL, cfg.GitHubToken)
	website := extractor.NewWebsite(f)
	sched := scheduler.New(cfg.MaxThreads)

	targets := map[entity.TaskKind]usecase.Targets{
		entity.KindGitHub: {
			Local: store.NewExcelStore(filepath.Join(cfg.DataDir, "github_data.xlsx")),
		},
		entity.KindWebsite: {
			Local: store.NewExcelStore(filepath.Join(cfg.DataDir, "website_data.xlsx")),
		},
	}

	if cfg.SheetAppID != "" && cfg.SheetAppSecret != "" {
		client := store.NewSheetClient(cfg.SheetBaseURL, cfg.SheetAppID, cfg.SheetAppSecret)
		if cfg.GitHubSpreadsheetToken != "" {
			t := targets[entity.KindGitHub]
			t.Remote = store.NewSheetStore(client, cfg.GitHubSpreadsheetToken, cfg.GitHubSheetID)
			targets[entity.KindGitHub] = t
		}
		if cfg.WebsiteSpreadsheetToken != "" {
			t := targets[entity.KindWebsite]
			t.Remote = store.NewSheetStore(client, cfg.WebsiteSpreadsheetToken, cfg.WebsiteSheetID)
			targets[entity.KindWebsite] = t
		}
		slog.Info("remote sheet backend configured", "base_url", cfg.SheetBaseURL)
	}

	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.pgPool = pool

		ghStore := store.NewPostgresStore(pool, "github_records", entity.FieldRepositoryURL)
		webStore := store.NewPostgresStore(pool, "website_records", entity.FieldWebsiteURL)
		for _, s := range []*store.PostgresStore{ghStore, webStore} {
			if err := s.EnsureSchema(ctx); err != nil {
				pool.Close()
				return nil, err
			}
		}
		t := targets[entity.KindGitHub]
		t.Postgres = ghStore
		targets[entity.KindGitHub] = t
		t = targets[entity.KindWebsite]
		t.Postgres = webStore
		targets[entity.KindWebsite] = t
		slog.Info("postgres backend configured")
	}

	var visited *store.VisitedCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, visited cache disabled", "addr", cfg.RedisAddr, "error", err)
			rdb.Close()
		} else {
			a.rdb = rdb
			visited = store.NewVisitedCache(rdb, cfg.VisitedTTL())
			slog.Info("visited cache configured", "addr", cfg.RedisAddr, "ttl", cfg.VisitedTTL())
		}
	}

	a.Scraper = usecase.NewScraper(sched, github, website, targets, visited)
	return a, nil
}

// Close releases pooled connections.
func (a *App) Close() {
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}
