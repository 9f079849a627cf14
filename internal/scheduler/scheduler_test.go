package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/scraper-service/internal/entity"
)

func makeTasks(n int) []entity.ScrapeTask {
	tasks := make([]entity.ScrapeTask, n)
	for i := range tasks {
		tasks[i] = entity.ScrapeTask{
			URL:  fmt.Sprintf("https://example.com/%d", i),
			Kind: entity.KindWebsite,
		}
	}
	return tasks
}

func TestRunCollectsAllResults(t *testing.T) {
	tasks := makeTasks(10)
	s := New(3)

	records, failures := s.Run(context.Background(), tasks, func(_ context.Context, task entity.ScrapeTask) (entity.Record, error) {
		return entity.Record{entity.FieldWebsiteURL: task.URL}, nil
	})

	if len(failures) != 0 {
		t.Fatalf("failures = %v, want none", failures)
	}
	if len(records) != len(tasks) {
		t.Fatalf("records = %d, want %d", len(records), len(tasks))
	}
	// Submission order must survive concurrent completion.
	for i, rec := range records {
		if want := tasks[i].URL; rec[entity.FieldWebsiteURL] != want {
			t.Errorf("records[%d] = %q, want %q", i, rec[entity.FieldWebsiteURL], want)
		}
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	tasks := makeTasks(6)
	s := New(2)

	records, failures := s.Run(context.Background(), tasks, func(_ context.Context, task entity.ScrapeTask) (entity.Record, error) {
		if strings.HasSuffix(task.URL, "/2") || strings.HasSuffix(task.URL, "/4") {
			return nil, errors.New("boom")
		}
		return entity.Record{entity.FieldWebsiteURL: task.URL}, nil
	})

	if len(records) != 4 {
		t.Errorf("records = %d, want 4", len(records))
	}
	if len(failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(failures))
	}
	for _, f := range failures {
		if f.Message != "boom" {
			t.Errorf("failure message = %q, want boom", f.Message)
		}
	}
}

func TestRunRecoversPanics(t *testing.T) {
	tasks := makeTasks(3)
	s := New(2)

	records, failures := s.Run(context.Background(), tasks, func(_ context.Context, task entity.ScrapeTask) (entity.Record, error) {
		if strings.HasSuffix(task.URL, "/1") {
			panic("extractor blew up")
		}
		return entity.Record{entity.FieldWebsiteURL: task.URL}, nil
	})

	if len(records) != 2 {
		t.Errorf("records = %d, want 2", len(records))
	}
	if len(failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(failures))
	}
	if !strings.Contains(failures[0].Message, "extractor blew up") {
		t.Errorf("failure message = %q, want panic text", failures[0].Message)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	const workers = 3
	tasks := makeTasks(20)
	s := New(workers)

	var active, maxSeen int32
	var mu sync.Mutex

	s.Run(context.Background(), tasks, func(_ context.Context, task entity.ScrapeTask) (entity.Record, error) {
		cur := atomic.AddInt32(&active, 1)
		mu.Lock()
		if cur > maxSeen {
			maxSeen = cur
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return entity.Record{entity.FieldWebsiteURL: task.URL}, nil
	})

	if maxSeen > workers {
		t.Errorf("max concurrent tasks = %d, want <= %d", maxSeen, workers)
	}
}

func TestRunEmptyBatch(t *testing.T) {
	s := New(4)
	records, failures := s.Run(context.Background(), nil, func(_ context.Context, _ entity.ScrapeTask) (entity.Record, error) {
		t.Fatal("task func must not be called for an empty batch")
		return nil, nil
	})
	if records != nil || failures != nil {
		t.Errorf("got records=%v failures=%v, want nil/nil", records, failures)
	}
}
