package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/user/scraper-service/internal/entity"
)

// fakeSheetAPI mimics the spreadsheet service endpoints the store talks to.
// Value writes overlay only the rows their range covers and deletes shift
// rows up, matching the real service.
type fakeSheetAPI struct {
	mu           sync.Mutex
	tokenCalls   int
	values       [][]any
	putRows      [][]int // row counts of successful value writes
	failBulkPut  bool    // fail PUTs larger than maxChunkRows
	failBatch    bool
	expireFirst  bool // answer the first data call with an expired-token code
	expiredServ  int
	deleteRanges [][2]int // start and end index of each dimension_range delete
}

// applyWrite overlays values starting at the range's first row. Rows below
// the written range are left untouched.
func (f *fakeSheetAPI) applyWrite(rangeRef string, values [][]any) {
	start := rangeStartRow(rangeRef)
	for i, row := range values {
		idx := start - 1 + i
		for len(f.values) <= idx {
			f.values = append(f.values, nil)
		}
		f.values[idx] = row
	}
}

func rangeStartRow(rangeRef string) int {
	if i := strings.Index(rangeRef, "!"); i >= 0 {
		rangeRef = rangeRef[i+1:]
	}
	cell := strings.SplitN(rangeRef, ":", 2)[0]
	n, _ := strconv.Atoi(strings.TrimLeft(cell, "ABCDEFGHIJKLMNOPQRSTUVWXYZ"))
	if n < 1 {
		n = 1
	}
	return n
}

func (f *fakeSheetAPI) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /open-apis/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tokenCalls++
		n := f.tokenCalls
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"code": 0, "msg": "ok",
			"tenant_access_token": fmt.Sprintf("t-%d", n),
			"expire":              7200,
		})
	})

	mux.HandleFunc("/open-apis/sheets/v2/spreadsheets/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if f.expireFirst && f.expiredServ == 0 {
			f.expiredServ++
			json.NewEncoder(w).Encode(map[string]any{"code": invalidTokenCode, "msg": "token expired"})
			return
		}

		switch {
		case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/values/"):
			json.NewEncoder(w).Encode(map[string]any{
				"code": 0, "msg": "ok",
				"data": map[string]any{"valueRange": map[string]any{"values": f.values}},
			})
		case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/values"):
			var body struct {
				ValueRange struct {
					Range  string  `json:"range"`
					Values [][]any `json:"values"`
				} `json:"valueRange"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if f.failBulkPut && len(body.ValueRange.Values) > maxChunkRows {
				json.NewEncoder(w).Encode(map[string]any{"code": 400, "msg": "payload too large"})
				return
			}
			f.putRows = append(f.putRows, []int{len(body.ValueRange.Values)})
			f.applyWrite(body.ValueRange.Range, body.ValueRange.Values)
			json.NewEncoder(w).Encode(map[string]any{"code": 0, "msg": "ok"})
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/values_batch_update"):
			if f.failBatch {
				json.NewEncoder(w).Encode(map[string]any{"code": 400, "msg": "batch rejected"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"code": 0, "msg": "ok"})
		case r.Method == http.MethodDelete && strings.HasSuffix(r.URL.Path, "/dimension_range"):
			var body struct {
				Dimension struct {
					StartIndex int `json:"startIndex"`
					EndIndex   int `json:"endIndex"`
				} `json:"dimension"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			start, end := body.Dimension.StartIndex, body.Dimension.EndIndex
			f.deleteRanges = append(f.deleteRanges, [2]int{start, end})
			if start >= 1 && start <= len(f.values) {
				if end > len(f.values) {
					end = len(f.values)
				}
				f.values = append(f.values[:start-1], f.values[end:]...)
			}
			json.NewEncoder(w).Encode(map[string]any{"code": 0, "msg": "ok"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	return mux
}

func newSheetFixture(t *testing.T, api *fakeSheetAPI) *SheetStore {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	client := NewSheetClient(srv.URL, "app-id", "app-secret")
	return NewSheetStore(client, "sstoken", "shtid")
}

func TestSheetStoreReadAll(t *testing.T) {
	api := &fakeSheetAPI{
		values: [][]any{
			{"repository_url", "stars"},
			{map[string]any{"link": "https://github.com/octo/alpha", "text": "alpha"}, float64(42)},
			{"https://github.com/octo/beta", float64(7)},
		},
	}
	s := newSheetFixture(t, api)

	d, err := s.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(d.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(d.Rows))
	}
	// Rich-link cells stay JSON-encoded and resolve through ExtractURL.
	if got := entity.ExtractURL(d.Rows[0][entity.FieldRepositoryURL]); got != "https://github.com/octo/alpha" {
		t.Errorf("row 0 identity = %q", got)
	}
	if d.Rows[0]["stars"] != "42" {
		t.Errorf("row 0 stars = %q, want 42", d.Rows[0]["stars"])
	}
}

func TestSheetStoreTokenRefreshOnce(t *testing.T) {
	api := &fakeSheetAPI{
		expireFirst: true,
		values:      [][]any{{"repository_url"}, {"https://github.com/octo/alpha"}},
	}
	s := newSheetFixture(t, api)

	d, err := s.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll after token expiry: %v", err)
	}
	if len(d.Rows) != 1 {
		t.Errorf("rows = %d, want 1", len(d.Rows))
	}
	if api.tokenCalls != 2 {
		t.Errorf("token calls = %d, want 2 (initial + one refresh)", api.tokenCalls)
	}
}

func TestSheetStoreWriteAllBulk(t *testing.T) {
	api := &fakeSheetAPI{}
	s := newSheetFixture(t, api)

	if err := s.WriteAll(context.Background(), sampleDataset()); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if len(api.putRows) != 1 {
		t.Fatalf("put calls = %d, want 1", len(api.putRows))
	}
	if api.putRows[0][0] != 3 { // header + 2 rows
		t.Errorf("bulk write rows = %d, want 3", api.putRows[0][0])
	}
}

func TestSheetStoreWriteAllChunkedFallback(t *testing.T) {
	api := &fakeSheetAPI{failBulkPut: true, failBatch: true}
	s := newSheetFixture(t, api)

	d := &entity.Dataset{}
	for i := 0; i < 120; i++ {
		d.Append(entity.Record{
			entity.FieldRepositoryURL: fmt.Sprintf("https://github.com/octo/repo-%d", i),
		})
	}

	if err := s.WriteAll(context.Background(), d); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	// 121 value rows (header included) split into ceil(121/50) = 3 chunks.
	if len(api.putRows) != 3 {
		t.Fatalf("chunked put calls = %d, want 3", len(api.putRows))
	}
	total := 0
	for _, c := range api.putRows {
		if c[0] > maxChunkRows {
			t.Errorf("chunk size %d exceeds %d", c[0], maxChunkRows)
		}
		total += c[0]
	}
	if total != 121 {
		t.Errorf("total rows written = %d, want 121", total)
	}
}

func TestSheetStoreDeleteWhereDescending(t *testing.T) {
	api := &fakeSheetAPI{
		values: [][]any{
			{"repository_url"},
			{"https://github.com/octo/alpha"},
			{"https://github.com/octo/beta"},
			{"https://github.com/octo/gamma"},
		},
	}
	s := newSheetFixture(t, api)

	n, err := s.DeleteWhere(context.Background(), entity.FieldRepositoryURL,
		[]string{"https://github.com/octo/alpha", "https://github.com/octo/gamma"})
	if err != nil {
		t.Fatalf("DeleteWhere: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	// gamma is data row index 2 (sheet row 4), alpha index 0 (sheet row 2);
	// deletes must run bottom-up so earlier indices stay valid.
	want := [][2]int{{4, 4}, {2, 2}}
	if len(api.deleteRanges) != len(want) {
		t.Fatalf("delete calls = %v, want %v", api.deleteRanges, want)
	}
	for i, rng := range want {
		if api.deleteRanges[i] != rng {
			t.Errorf("delete %d range = %v, want %v", i, api.deleteRanges[i], rng)
		}
	}
}

func TestSheetStoreWriteAllTrimsStaleRows(t *testing.T) {
	api := &fakeSheetAPI{
		values: [][]any{
			{"repository_url"},
			{"https://github.com/octo/alpha"},
			{"https://github.com/octo/alpha"},
			{"https://github.com/octo/beta"},
		},
	}
	s := newSheetFixture(t, api)

	d := &entity.Dataset{}
	d.Append(entity.Record{entity.FieldRepositoryURL: "https://github.com/octo/alpha"})
	d.Append(entity.Record{entity.FieldRepositoryURL: "https://github.com/octo/beta"})

	if err := s.WriteAll(context.Background(), d); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	// The sheet held 4 value rows but the new dataset covers only 3, so the
	// stale row 4 must be deleted instead of surviving below the write.
	want := [2]int{4, 4}
	if len(api.deleteRanges) != 1 || api.deleteRanges[0] != want {
		t.Fatalf("delete ranges = %v, want [%v]", api.deleteRanges, want)
	}

	got, err := s.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll after shrink: %v", err)
	}
	if len(got.Rows) != 2 {
		t.Fatalf("rows after shrink = %d, want 2", len(got.Rows))
	}
	seen := 0
	for _, row := range got.Rows {
		if row[entity.FieldRepositoryURL] == "https://github.com/octo/alpha" {
			seen++
		}
	}
	if seen != 1 {
		t.Errorf("alpha appears %d times after shrink, want 1", seen)
	}
}
