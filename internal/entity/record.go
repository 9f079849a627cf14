package entity

import (
	"encoding/json"
	"strings"
)

// Identity columns recognized across stores. Exactly one of them is the
// dedup key for a given dataset.
const (
	FieldRepositoryURL = "repository_url"
	FieldWebsiteURL    = "website_url"
)

// Record is a single scraped row: field name to scalar value, already
// rendered as strings at the system edge.
type Record map[string]string

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Dataset is an ordered sequence of records with a known header. All stores
// load and persist datasets whole; there is no streaming access.
type Dataset struct {
	Headers []string
	Rows    []Record
}

// HasColumn reports whether the dataset header contains name.
func (d *Dataset) HasColumn(name string) bool {
	for _, h := range d.Headers {
		if h == name {
			return true
		}
	}
	return false
}

// ensureColumn appends name to the header if missing.
func (d *Dataset) ensureColumn(name string) {
	if !d.HasColumn(name) {
		d.Headers = append(d.Headers, name)
	}
}

// Append adds a row, extending the header with any new fields.
func (d *Dataset) Append(r Record) {
	for _, k := range sortedKeys(r) {
		d.ensureColumn(k)
	}
	d.Rows = append(d.Rows, r)
}

// Values renders the dataset as a header row followed by data rows, the
// shape the sheet backend's value-range API expects.
func (d *Dataset) Values() [][]string {
	out := make([][]string, 0, len(d.Rows)+1)
	out = append(out, d.Headers)
	for _, row := range d.Rows {
		cells := make([]string, len(d.Headers))
		for i, h := range d.Headers {
			cells[i] = row[h]
		}
		out = append(out, cells)
	}
	return out
}

// DatasetFromValues builds a dataset from a header row plus data rows.
// Returns an empty dataset for empty input.
func DatasetFromValues(values [][]string) *Dataset {
	d := &Dataset{}
	if len(values) == 0 {
		return d
	}
	d.Headers = values[0]
	for _, cells := range values[1:] {
		row := make(Record, len(d.Headers))
		for i, h := range d.Headers {
			if i < len(cells) {
				row[h] = cells[i]
			} else {
				row[h] = ""
			}
		}
		d.Rows = append(d.Rows, row)
	}
	return d
}

// ExtractURL normalizes an identity cell to a plain URL string. Remote sheet
// cells may hold a rich-link object ({"link": "...", "text": "..."}) or an
// array of such objects instead of a bare string.
func ExtractURL(cell string) string {
	s := strings.TrimSpace(cell)
	if s == "" {
		return ""
	}
	switch s[0] {
	case '{':
		var obj map[string]any
		if err := json.Unmarshal([]byte(s), &obj); err == nil {
			if link, ok := obj["link"].(string); ok {
				return strings.TrimSpace(link)
			}
		}
	case '[':
		var arr []any
		if err := json.Unmarshal([]byte(s), &arr); err == nil && len(arr) > 0 {
			if obj, ok := arr[0].(map[string]any); ok {
				if link, ok := obj["link"].(string); ok {
					return strings.TrimSpace(link)
				}
			}
			if str, ok := arr[0].(string); ok {
				return strings.TrimSpace(str)
			}
		}
	}
	return s
}

func sortedKeys(r Record) []string {
	// Preserve a stable field order: identity columns first, then the rest
	// alphabetically. Map iteration order would reshuffle headers per call.
	keys := make([]string, 0, len(r))
	for _, id := range []string{FieldRepositoryURL, FieldWebsiteURL} {
		if _, ok := r[id]; ok {
			keys = append(keys, id)
		}
	}
	rest := make([]string, 0, len(r))
	for k := range r {
		if k != FieldRepositoryURL && k != FieldWebsiteURL {
			rest = append(rest, k)
		}
	}
	// insertion sort keeps this dependency-free for small records
	for i := 1; i < len(rest); i++ {
		for j := i; j > 0 && rest[j] < rest[j-1]; j-- {
			rest[j], rest[j-1] = rest[j-1], rest[j]
		}
	}
	return append(keys, rest...)
}
