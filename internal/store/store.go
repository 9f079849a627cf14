// Package store provides tabular persistence backends sharing one
// interface: a local xlsx workbook, a remote spreadsheet service, and an
// optional Postgres table.
package store

import (
	"context"
	"errors"

	"github.com/user/scraper-service/internal/entity"
)

// ErrNotFound is returned by ReadAll when the backing table does not exist
// yet. Callers decide whether that is fatal or just means "empty".
var ErrNotFound = errors.New("store: table not found")

// TabularStore is whole-dataset persistence. Implementations load and write
// complete datasets; there is no row-level streaming.
type TabularStore interface {
	// Kind names the backend for logs and error messages.
	Kind() string

	// ReadAll loads the full dataset including its header.
	ReadAll(ctx context.Context) (*entity.Dataset, error)

	// WriteAll replaces the stored dataset with d.
	WriteAll(ctx context.Context, d *entity.Dataset) error

	// AppendRows adds rows after the existing ones. Backends without a true
	// append primitive implement it as read-extend-write.
	AppendRows(ctx context.Context, rows []entity.Record) error

	// DeleteWhere removes every row whose field column matches one of the
	// given URLs (after identity-cell normalization). Returns the number of
	// rows removed.
	DeleteWhere(ctx context.Context, field string, urls []string) (int, error)

	// Exists reports whether some row's field column matches url.
	Exists(ctx context.Context, field, url string) (bool, error)
}

// matchRows returns the indices of rows whose identity cell resolves to one
// of the wanted URLs.
func matchRows(d *entity.Dataset, field string, urls []string) []int {
	want := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		want[u] = struct{}{}
	}
	var idx []int
	for i, row := range d.Rows {
		u := entity.ExtractURL(row[field])
		if _, ok := want[u]; ok {
			idx = append(idx, i)
		}
	}
	return idx
}

// hasURL reports whether any row's identity cell resolves to url.
func hasURL(d *entity.Dataset, field, url string) bool {
	for _, row := range d.Rows {
		if entity.ExtractURL(row[field]) == url {
			return true
		}
	}
	return false
}
