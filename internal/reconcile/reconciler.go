// Package reconcile merges freshly scraped records into a stored dataset:
// identity-keyed update-or-insert, duplicate skipping, and oversized-cell
// truncation.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/store"
	"github.com/user/scraper-service/pkg/metrics"
)

// cellLimit is the maximum size of a single cell value. The local backend
// measures runes, the remote backend bytes.
const cellLimit = 30000

// truncateSuffix marks a value that was cut down to fit the cell limit.
const truncateSuffix = "...content truncated"

// Summary reports what one reconciliation pass did.
type Summary struct {
	Updated           int `json:"updated"`
	Inserted          int `json:"inserted"`
	SkippedDuplicates int `json:"skipped_duplicates"`
	Total             int `json:"total"`
}

// Reconciler merges batches into a single TabularStore.
type Reconciler struct {
	store store.TabularStore
	kind  entity.TaskKind
}

// New builds a reconciler for one store and record kind.
func New(st store.TabularStore, kind entity.TaskKind) *Reconciler {
	return &Reconciler{store: st, kind: kind}
}

// Merge folds incoming records into the stored dataset and persists the
// result. Existing rows matching an incoming identity URL are updated in
// place; new identities are appended. Records without an identity value and
// intra-batch duplicates are skipped with a warning.
//
// A read failure on the local backend degrades to "no existing data": the
// incoming batch becomes the full dataset. On any other backend a read
// failure aborts the merge, since overwriting a reachable remote with a
// partial view would lose rows.
func (r *Reconciler) Merge(ctx context.Context, incoming []entity.Record) (*Summary, error) {
	field := r.kind.IdentityField()
	batch, skipped := dedupeBatch(incoming, field)

	existing, err := r.store.ReadAll(ctx)
	if err != nil {
		if r.store.Kind() == "local" {
			slog.Warn("local dataset unreadable, starting fresh", "error", err)
			existing = &entity.Dataset{}
		} else {
			return nil, fmt.Errorf("load existing %s dataset: %w", r.store.Kind(), err)
		}
	}

	// A dataset with headers but no identity column cannot be merged into:
	// there is nothing to match rows on. Locally the incoming batch becomes
	// the whole dataset; remotely that would silently discard rows someone
	// else owns, so it is an error.
	if len(existing.Headers) > 0 && !existing.HasColumn(field) {
		if r.store.Kind() == "local" {
			slog.Warn("local dataset has no identity column, replacing it",
				"field", field, "discarded_rows", len(existing.Rows))
			existing = &entity.Dataset{}
		} else {
			return nil, fmt.Errorf("%s dataset has no %q column, refusing to merge", r.store.Kind(), field)
		}
	}

	index := make(map[string]int, len(existing.Rows))
	for i, row := range existing.Rows {
		if u := entity.ExtractURL(row[field]); u != "" {
			if _, dup := index[u]; !dup {
				index[u] = i
			}
		}
	}

	sum := &Summary{SkippedDuplicates: skipped}
	for _, rec := range batch {
		url := entity.ExtractURL(strings.TrimSpace(rec[field]))
		truncateRecord(rec, r.store.Kind())
		if i, ok := index[url]; ok {
			// Update in place, keeping columns the new record doesn't carry.
			for k, v := range rec {
				existing.Rows[i][k] = v
			}
			for _, k := range recordFields(rec) {
				if !existing.HasColumn(k) {
					existing.Headers = append(existing.Headers, k)
				}
			}
			sum.Updated++
			metrics.ReconcileRowsTotal.WithLabelValues("updated").Inc()
		} else {
			existing.Append(rec)
			index[url] = len(existing.Rows) - 1
			sum.Inserted++
			metrics.ReconcileRowsTotal.WithLabelValues("inserted").Inc()
		}
	}
	sum.Total = len(existing.Rows)

	if err := r.store.WriteAll(ctx, existing); err != nil {
		return nil, fmt.Errorf("persist %s dataset: %w", r.store.Kind(), err)
	}
	slog.Info("reconcile finished",
		"store", r.store.Kind(),
		"updated", sum.Updated,
		"inserted", sum.Inserted,
		"skipped_duplicates", sum.SkippedDuplicates,
		"total", sum.Total,
	)
	return sum, nil
}

// CleanDuplicates rewrites the dataset keeping only the first row per
// identity URL. Returns the number of rows removed.
func (r *Reconciler) CleanDuplicates(ctx context.Context) (int, error) {
	field := r.kind.IdentityField()
	d, err := r.store.ReadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load %s dataset: %w", r.store.Kind(), err)
	}

	seen := make(map[string]struct{}, len(d.Rows))
	kept := d.Rows[:0]
	removed := 0
	for _, row := range d.Rows {
		u := entity.ExtractURL(row[field])
		if u != "" {
			if _, dup := seen[u]; dup {
				removed++
				continue
			}
			seen[u] = struct{}{}
		}
		kept = append(kept, row)
	}
	if removed == 0 {
		return 0, nil
	}
	d.Rows = kept

	if err := r.store.WriteAll(ctx, d); err != nil {
		return 0, fmt.Errorf("persist %s dataset: %w", r.store.Kind(), err)
	}
	slog.Info("duplicates cleaned", "store", r.store.Kind(), "removed", removed, "remaining", len(d.Rows))
	return removed, nil
}

// dedupeBatch drops records lacking an identity value and keeps only the
// first record per identity URL.
func dedupeBatch(incoming []entity.Record, field string) ([]entity.Record, int) {
	seen := make(map[string]struct{}, len(incoming))
	var out []entity.Record
	skipped := 0
	for _, rec := range incoming {
		url := entity.ExtractURL(strings.TrimSpace(rec[field]))
		if url == "" {
			slog.Warn("record has no identity value, skipping", "field", field)
			skipped++
			continue
		}
		if _, dup := seen[url]; dup {
			slog.Warn("duplicate identity within batch, keeping first occurrence", "url", url)
			skipped++
			metrics.ReconcileRowsTotal.WithLabelValues("skipped_duplicate").Inc()
			continue
		}
		seen[url] = struct{}{}
		out = append(out, rec)
	}
	return out, skipped
}

// truncateRecord caps every cell of rec in place. The remote backend
// enforces its limit in bytes; everything else counts runes.
func truncateRecord(rec entity.Record, storeKind string) {
	byBytes := storeKind == "remote"
	for k, v := range rec {
		rec[k] = Truncate(v, cellLimit, byBytes)
	}
}

// Truncate cuts s down to at most limit units (bytes or runes) and marks the
// cut with a suffix. Already-truncated values that fit are returned
// unchanged, so the operation is idempotent.
func Truncate(s string, limit int, byBytes bool) string {
	length := func(v string) int {
		if byBytes {
			return len(v)
		}
		return utf8.RuneCountInString(v)
	}
	if length(s) <= limit {
		return s
	}

	for length(s) > limit {
		cut := int(float64(limit) * 0.8)
		if cut <= 0 {
			return truncateSuffix
		}
		body := strings.TrimSuffix(s, truncateSuffix)
		var next string
		if byBytes {
			if cut > len(body) {
				cut = len(body)
			}
			for cut > 0 && cut < len(body) && !utf8.RuneStart(body[cut]) {
				cut--
			}
			next = body[:cut] + truncateSuffix
		} else {
			runes := []rune(body)
			if cut > len(runes) {
				cut = len(runes)
			}
			next = string(runes[:cut]) + truncateSuffix
		}
		if next == s {
			break
		}
		s = next
	}
	return s
}

func recordFields(rec entity.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
