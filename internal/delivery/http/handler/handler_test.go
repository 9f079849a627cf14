package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/user/scraper-service/internal/delivery/http/handler"
	"github.com/user/scraper-service/internal/delivery/http/router"
	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/reconcile"
	"github.com/user/scraper-service/internal/usecase"
)

// stubScraper records calls and returns canned results.
type stubScraper struct {
	lastKind entity.TaskKind
	lastURLs []string
	autoHit  bool
}

func (s *stubScraper) ScrapeBatch(_ context.Context, urls []string, kind entity.TaskKind, _ bool) (*usecase.BatchResult, error) {
	s.lastKind = kind
	s.lastURLs = urls
	return &usecase.BatchResult{
		Records: []entity.Record{{kind.IdentityField(): urls[0]}},
		Local:   &reconcile.Summary{Inserted: 1, Total: 1},
	}, nil
}

func (s *stubScraper) ScrapeAuto(ctx context.Context, urls []string, save bool) (*usecase.BatchResult, error) {
	s.autoHit = true
	return s.ScrapeBatch(ctx, urls, entity.KindWebsite, save)
}

func (s *stubScraper) GetData(_ context.Context, kind entity.TaskKind, source string) (*entity.Dataset, error) {
	d := &entity.Dataset{}
	d.Append(entity.Record{kind.IdentityField(): "https://example.com"})
	return d, nil
}

func (s *stubScraper) DeleteByURLs(_ context.Context, urls []string, kind entity.TaskKind) (*usecase.DeleteResult, error) {
	s.lastKind = kind
	s.lastURLs = urls
	return &usecase.DeleteResult{LocalDeleted: len(urls)}, nil
}

func (s *stubScraper) CleanDuplicates(_ context.Context, kind entity.TaskKind, source string) (int, error) {
	return 2, nil
}

func newTestServer(t *testing.T) (*stubScraper, *httptest.Server) {
	t.Helper()
	stub := &stubScraper{}
	srv := httptest.NewServer(router.New(handler.NewHandler(stub)))
	t.Cleanup(srv.Close)
	return stub, srv
}

func TestHandleScrapeGitHub(t *testing.T) {
	stub, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/scrape/github", "application/json",
		strings.NewReader(`{"urls":["https://github.com/octo/alpha"],"save_to_remote":true}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if stub.lastKind != entity.KindGitHub {
		t.Errorf("kind = %q, want github", stub.lastKind)
	}

	var body usecase.BatchResult
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Local == nil || body.Local.Inserted != 1 {
		t.Errorf("local summary = %+v", body.Local)
	}
}

func TestHandleScrapeRejectsEmptyBody(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/scrape/website", "application/json",
		strings.NewReader(`{"urls":[]}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleScrapeRejectsBadJSON(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/scrape/github", "application/json",
		strings.NewReader(`{not json`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleScrapeAuto(t *testing.T) {
	stub, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/scrape/auto", "application/json",
		strings.NewReader(`{"urls":["https://example.com"]}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if !stub.autoHit {
		t.Error("auto endpoint did not reach ScrapeAuto")
	}
}

func TestHandleGetData(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/data/website")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Headers []string            `json:"headers"`
		Rows    []map[string]string `json:"rows"`
		Total   int                 `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 1 || len(body.Rows) != 1 {
		t.Errorf("body = %+v, want one row", body)
	}
}

func TestHandleGetDataBadKind(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/data/ftp-site")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleDelete(t *testing.T) {
	stub, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/delete", "application/json",
		strings.NewReader(`{"urls":["https://github.com/octo/alpha"],"kind":"github"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if stub.lastKind != entity.KindGitHub {
		t.Errorf("kind = %q, want github", stub.lastKind)
	}

	var body usecase.DeleteResult
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.LocalDeleted != 1 {
		t.Errorf("local_deleted = %d, want 1", body.LocalDeleted)
	}
}

func TestHandleDeleteMissingKind(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/delete", "application/json",
		strings.NewReader(`{"urls":["https://github.com/octo/alpha"]}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleClean(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/clean", "application/json",
		strings.NewReader(`{"kind":"website","source":"local"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Removed int `json:"removed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Removed != 2 {
		t.Errorf("removed = %d, want 2", body.Removed)
	}
}

func TestHandleHealth(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
