// Package usecase wires scraping, reconciliation, and persistence into the
// operations exposed by the CLI and the HTTP API.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/extractor"
	"github.com/user/scraper-service/internal/reconcile"
	"github.com/user/scraper-service/internal/scheduler"
	"github.com/user/scraper-service/internal/store"
	"github.com/user/scraper-service/pkg/utils"
)

// ErrNoStore is returned when an operation targets a backend that is not
// configured.
var ErrNoStore = errors.New("store not configured")

// Targets are the persistence backends for one record kind. Local is always
// present; Remote and Postgres are optional.
type Targets struct {
	Local    store.TabularStore
	Remote   store.TabularStore
	Postgres store.TabularStore
}

// BatchResult is the outcome of one scrape batch.
type BatchResult struct {
	Records  []entity.Record    `json:"records"`
	Failures []entity.URLError  `json:"failures,omitempty"`
	Skipped  []string           `json:"skipped,omitempty"`
	Local    *reconcile.Summary `json:"local,omitempty"`
	Remote   *reconcile.Summary `json:"remote,omitempty"`
	Postgres *reconcile.Summary `json:"postgres,omitempty"`
}

// DeleteResult reports per-backend deletion counts plus any partial
// failures.
type DeleteResult struct {
	LocalDeleted    int      `json:"local_deleted"`
	RemoteDeleted   int      `json:"remote_deleted"`
	PostgresDeleted int      `json:"postgres_deleted"`
	Errors          []string `json:"errors,omitempty"`
}

// Scraper is the application service surface.
type Scraper interface {
	ScrapeBatch(ctx context.Context, urls []string, kind entity.TaskKind, saveToRemote bool) (*BatchResult, error)
	ScrapeAuto(ctx context.Context, urls []string, saveToRemote bool) (*BatchResult, error)
	GetData(ctx context.Context, kind entity.TaskKind, source string) (*entity.Dataset, error)
	DeleteByURLs(ctx context.Context, urls []string, kind entity.TaskKind) (*DeleteResult, error)
	CleanDuplicates(ctx context.Context, kind entity.TaskKind, source string) (int, error)
}

type scraperUseCase struct {
	sched   *scheduler.Scheduler
	github  *extractor.GitHub
	website *extractor.Website
	targets map[entity.TaskKind]Targets
	visited *store.VisitedCache
}

// NewScraper builds the service. visited may be nil when the cache is
// disabled.
func NewScraper(
	sched *scheduler.Scheduler,
	github *extractor.GitHub,
	website *extractor.Website,
	targets map[entity.TaskKind]Targets,
	visited *store.VisitedCache,
) Scraper {
	return &scraperUseCase{
		sched:   sched,
		github:  github,
		website: website,
		targets: targets,
		visited: visited,
	}
}

// ScrapeBatch scrapes every URL as the given kind, merges the results into
// the local dataset, and optionally into the remote and Postgres backends.
// Recently scraped URLs are skipped via the visited cache.
func (uc *scraperUseCase) ScrapeBatch(ctx context.Context, urls []string, kind entity.TaskKind, saveToRemote bool) (*BatchResult, error) {
	result := &BatchResult{}

	var tasks []entity.ScrapeTask
	for _, raw := range urls {
		u := utils.NormalizeURL(raw)
		if u == "" {
			continue
		}
		if uc.visited != nil && uc.visited.Seen(ctx, u) {
			slog.Info("url scraped recently, skipping", "url", u)
			result.Skipped = append(result.Skipped, u)
			continue
		}
		tasks = append(tasks, entity.ScrapeTask{URL: u, Kind: kind})
	}
	if len(tasks) == 0 {
		return result, nil
	}

	records, failures := uc.sched.Run(ctx, tasks, uc.runTask)
	result.Records = records
	result.Failures = failures
	if len(records) == 0 {
		return result, nil
	}

	if uc.visited != nil {
		for _, rec := range records {
			uc.visited.Mark(ctx, rec[kind.IdentityField()])
		}
	}

	return result, uc.persist(ctx, result, records, kind, saveToRemote)
}

// ScrapeAuto classifies each URL as a GitHub repository or a plain website
// and runs the two batches separately, merging the outcomes.
func (uc *scraperUseCase) ScrapeAuto(ctx context.Context, urls []string, saveToRemote bool) (*BatchResult, error) {
	var ghURLs, webURLs []string
	for _, raw := range urls {
		if utils.IsGitHubRepoURL(raw) {
			ghURLs = append(ghURLs, raw)
		} else {
			webURLs = append(webURLs, raw)
		}
	}

	merged := &BatchResult{}
	if len(ghURLs) > 0 {
		r, err := uc.ScrapeBatch(ctx, ghURLs, entity.KindGitHub, saveToRemote)
		if err != nil {
			return merged, err
		}
		mergeResults(merged, r)
	}
	if len(webURLs) > 0 {
		r, err := uc.ScrapeBatch(ctx, webURLs, entity.KindWebsite, saveToRemote)
		if err != nil {
			return merged, err
		}
		mergeResults(merged, r)
	}
	return merged, nil
}

func (uc *scraperUseCase) runTask(ctx context.Context, task entity.ScrapeTask) (entity.Record, error) {
	if task.Kind == entity.KindGitHub {
		return uc.github.Extract(ctx, task.URL)
	}
	return uc.website.Extract(ctx, task.URL)
}

func (uc *scraperUseCase) persist(ctx context.Context, result *BatchResult, records []entity.Record, kind entity.TaskKind, saveToRemote bool) error {
	targets, ok := uc.targets[kind]
	if !ok || targets.Local == nil {
		return fmt.Errorf("%w: no local backend for kind %s", ErrNoStore, kind)
	}

	sum, err := reconcile.New(targets.Local, kind).Merge(ctx, cloneRecords(records))
	if err != nil {
		return fmt.Errorf("save to local store: %w", err)
	}
	result.Local = sum

	if saveToRemote && targets.Remote != nil {
		sum, err := reconcile.New(targets.Remote, kind).Merge(ctx, cloneRecords(records))
		if err != nil {
			return fmt.Errorf("save to remote store: %w", err)
		}
		result.Remote = sum
	}

	if targets.Postgres != nil {
		sum, err := reconcile.New(targets.Postgres, kind).Merge(ctx, cloneRecords(records))
		if err != nil {
			// Postgres mirrors the local dataset; its failure must not undo
			// a successful local save.
			slog.Error("postgres mirror failed", "kind", kind, "error", err)
		} else {
			result.Postgres = sum
		}
	}
	return nil
}

// GetData loads the dataset for kind from the named source backend
// ("local", "remote", or "postgres").
func (uc *scraperUseCase) GetData(ctx context.Context, kind entity.TaskKind, source string) (*entity.Dataset, error) {
	st, err := uc.storeFor(kind, source)
	if err != nil {
		return nil, err
	}
	d, err := st.ReadAll(ctx)
	if err != nil {
		if source == "local" && errors.Is(err, store.ErrNotFound) {
			return &entity.Dataset{}, nil
		}
		return nil, err
	}
	return d, nil
}

// DeleteByURLs removes the URLs from every configured backend for kind.
// Backend failures are collected so a dead remote does not block local
// deletion; the caller sees exactly which side succeeded.
func (uc *scraperUseCase) DeleteByURLs(ctx context.Context, urls []string, kind entity.TaskKind) (*DeleteResult, error) {
	targets, ok := uc.targets[kind]
	if !ok {
		return nil, fmt.Errorf("%w: kind %s", ErrNoStore, kind)
	}

	normalized := make([]string, 0, len(urls))
	for _, u := range urls {
		if n := utils.NormalizeURL(u); n != "" {
			normalized = append(normalized, n)
		}
	}

	res := &DeleteResult{}
	field := kind.IdentityField()

	if targets.Local != nil {
		n, err := targets.Local.DeleteWhere(ctx, field, normalized)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			res.Errors = append(res.Errors, fmt.Sprintf("local: %v", err))
		}
		res.LocalDeleted = n
	}
	if targets.Remote != nil {
		n, err := targets.Remote.DeleteWhere(ctx, field, normalized)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("remote: %v", err))
		}
		res.RemoteDeleted = n
	}
	if targets.Postgres != nil {
		n, err := targets.Postgres.DeleteWhere(ctx, field, normalized)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("postgres: %v", err))
		}
		res.PostgresDeleted = n
	}

	if uc.visited != nil {
		for _, u := range normalized {
			uc.visited.Forget(ctx, u)
		}
	}

	slog.Info("delete finished",
		"kind", kind,
		"urls", len(normalized),
		"local", res.LocalDeleted,
		"remote", res.RemoteDeleted,
		"postgres", res.PostgresDeleted,
		"errors", len(res.Errors),
	)
	return res, nil
}

// CleanDuplicates removes later duplicate rows from the named backend.
func (uc *scraperUseCase) CleanDuplicates(ctx context.Context, kind entity.TaskKind, source string) (int, error) {
	st, err := uc.storeFor(kind, source)
	if err != nil {
		return 0, err
	}
	return reconcile.New(st, kind).CleanDuplicates(ctx)
}

func (uc *scraperUseCase) storeFor(kind entity.TaskKind, source string) (store.TabularStore, error) {
	targets, ok := uc.targets[kind]
	if !ok {
		return nil, fmt.Errorf("%w: kind %s", ErrNoStore, kind)
	}
	var st store.TabularStore
	switch strings.ToLower(source) {
	case "", "local":
		st = targets.Local
	case "remote":
		st = targets.Remote
	case "postgres":
		st = targets.Postgres
	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}
	if st == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoStore, kind, source)
	}
	return st, nil
}

func mergeResults(dst, src *BatchResult) {
	dst.Records = append(dst.Records, src.Records...)
	dst.Failures = append(dst.Failures, src.Failures...)
	dst.Skipped = append(dst.Skipped, src.Skipped...)
	if src.Local != nil {
		dst.Local = addSummaries(dst.Local, src.Local)
	}
	if src.Remote != nil {
		dst.Remote = addSummaries(dst.Remote, src.Remote)
	}
	if src.Postgres != nil {
		dst.Postgres = addSummaries(dst.Postgres, src.Postgres)
	}
}

func addSummaries(a, b *reconcile.Summary) *reconcile.Summary {
	if a == nil {
		return b
	}
	return &reconcile.Summary{
		Updated:           a.Updated + b.Updated,
		Inserted:          a.Inserted + b.Inserted,
		SkippedDuplicates: a.SkippedDuplicates + b.SkippedDuplicates,
		Total:             a.Total + b.Total,
	}
}

// cloneRecords guards each backend's truncation pass from mutating the
// records another backend will persist.
func cloneRecords(records []entity.Record) []entity.Record {
	out := make([]entity.Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
