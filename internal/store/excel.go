package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/user/scraper-service/internal/entity"
)

const defaultSheetName = "Sheet1"

// ExcelStore persists a dataset as a single-sheet xlsx workbook on disk.
// The whole file is rewritten on every WriteAll.
type ExcelStore struct {
	path  string
	sheet string
}

// NewExcelStore stores the workbook at path, creating parent directories on
// first write.
func NewExcelStore(path string) *ExcelStore {
	return &ExcelStore{path: path, sheet: defaultSheetName}
}

func (s *ExcelStore) Kind() string { return "local" }

// Path returns the workbook location on disk.
func (s *ExcelStore) Path() string { return s.path }

// ReadAll loads the workbook. A missing file yields ErrNotFound.
func (s *ExcelStore) ReadAll(ctx context.Context) (*entity.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
	}
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", s.path, err)
	}
	defer f.Close()

	sheet := s.sheet
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return entity.DatasetFromValues(rows), nil
}

// WriteAll rewrites the workbook with the given dataset.
func (s *ExcelStore) WriteAll(ctx context.Context, d *entity.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName(f.GetSheetName(0), s.sheet)

	for i, cells := range d.Values() {
		row := make([]any, len(cells))
		for j, c := range cells {
			row[j] = c
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
		if err := f.SetSheetRow(s.sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := f.SaveAs(s.path); err != nil {
		return fmt.Errorf("save workbook %s: %w", s.path, err)
	}
	slog.Info("workbook saved", "path", s.path, "rows", len(d.Rows))
	return nil
}

// AppendRows loads the workbook, extends it, and rewrites it. A missing
// workbook starts empty.
func (s *ExcelStore) AppendRows(ctx context.Context, rows []entity.Record) error {
	d, err := s.ReadAll(ctx)
	if err != nil {
		if !isNotFound(err) {
			return err
		}
		d = &entity.Dataset{}
	}
	for _, row := range rows {
		d.Append(row)
	}
	return s.WriteAll(ctx, d)
}

// DeleteWhere drops matching rows and rewrites the workbook. A missing
// workbook counts as nothing to delete.
func (s *ExcelStore) DeleteWhere(ctx context.Context, field string, urls []string) (int, error) {
	d, err := s.ReadAll(ctx)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	idx := matchRows(d, field, urls)
	if len(idx) == 0 {
		return 0, nil
	}

	drop := make(map[int]struct{}, len(idx))
	for _, i := range idx {
		drop[i] = struct{}{}
	}
	kept := d.Rows[:0]
	for i, row := range d.Rows {
		if _, gone := drop[i]; !gone {
			kept = append(kept, row)
		}
	}
	d.Rows = kept

	if err := s.WriteAll(ctx, d); err != nil {
		return 0, err
	}
	return len(idx), nil
}

// Exists reports whether url is already recorded.
func (s *ExcelStore) Exists(ctx context.Context, field, url string) (bool, error) {
	d, err := s.ReadAll(ctx)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return hasURL(d, field, url), nil
}

func isNotFound(err error) bool {
	return err != nil && (os.IsNotExist(err) || errors.Is(err, ErrNotFound))
}
