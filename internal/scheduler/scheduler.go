// Package scheduler fans a batch of scrape tasks out over a fixed worker
// pool and collects per-task outcomes.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/pkg/metrics"
)

// TaskFunc processes a single task and returns the extracted record.
type TaskFunc func(ctx context.Context, task entity.ScrapeTask) (entity.Record, error)

// Scheduler runs batches with at most workers goroutines. Per-URL failures
// are collected, never propagated as a batch failure.
type Scheduler struct {
	workers int
}

// New returns a scheduler with the given worker count (minimum 1).
func New(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{workers: workers}
}

type indexed struct {
	idx  int
	task entity.ScrapeTask
}

type outcome struct {
	idx    int
	record entity.Record
	err    error
}

// Run executes fn for every task concurrently and returns the successful
// records in submission order plus one URLError per failed task. A panicking
// task is converted into a failure for that URL only.
func (s *Scheduler) Run(ctx context.Context, tasks []entity.ScrapeTask, fn TaskFunc) ([]entity.Record, []entity.URLError) {
	if len(tasks) == 0 {
		return nil, nil
	}

	jobs := make(chan indexed)
	results := make(chan outcome, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for job := range jobs {
				results <- s.runOne(ctx, id, job, fn)
			}
		}(i)
	}

	go func() {
		defer close(jobs)
		for i, task := range tasks {
			select {
			case jobs <- indexed{idx: i, task: task}:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(results)

	// Results arrive in completion order; restore submission order so
	// downstream dedup keeps the first submitted occurrence.
	collected := make([]outcome, 0, len(tasks))
	for out := range results {
		collected = append(collected, out)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })

	var records []entity.Record
	var failures []entity.URLError
	for _, out := range collected {
		if out.err != nil {
			failures = append(failures, entity.URLError{
				URL:     tasks[out.idx].URL,
				Message: out.err.Error(),
			})
			continue
		}
		records = append(records, out.record)
	}

	slog.Info("batch finished",
		"total", len(tasks),
		"succeeded", len(records),
		"failed", len(failures),
		"workers", s.workers,
	)
	return records, failures
}

func (s *Scheduler) runOne(ctx context.Context, worker int, job indexed, fn TaskFunc) (out outcome) {
	out.idx = job.idx
	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panicked", "url", job.task.URL, "worker", worker, "panic", r)
			out.err = fmt.Errorf("task panicked: %v", r)
			metrics.ScrapesTotal.WithLabelValues(string(job.task.Kind), "failure").Inc()
		}
	}()

	slog.Debug("worker picked up task", "worker", worker, "url", job.task.URL, "kind", job.task.Kind)
	start := time.Now()
	record, err := fn(ctx, job.task)
	metrics.FetchDuration.WithLabelValues(string(job.task.Kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Warn("task failed", "url", job.task.URL, "error", err)
		metrics.ScrapesTotal.WithLabelValues(string(job.task.Kind), "failure").Inc()
		out.err = err
		return out
	}
	metrics.ScrapesTotal.WithLabelValues(string(job.task.Kind), "success").Inc()
	out.record = record
	return out
}
