package extractor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/fetcher"
	"github.com/user/scraper-service/pkg/config"
)

func testFetcher() *fetcher.Fetcher {
	return fetcher.New(&config.Config{
		MaxThreads:         2,
		RequestTimeoutSecs: 5,
		MaxRetries:         0,
	}, nil)
}

func fakeGitHubAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/alpha", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"name":              "alpha",
			"full_name":         "octo/alpha",
			"html_url":          "https://github.com/octo/alpha",
			"description":       "test repository",
			"stargazers_count":  42,
			"forks_count":       7,
			"open_issues_count": 3,
			"updated_at":        "2026-08-01T12:00:00Z",
			"language":          "Go",
			"license":           map[string]any{"spdx_id": "MIT", "name": "MIT License"},
		})
	})
	mux.HandleFunc("GET /repos/octo/alpha/contributors", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"login": "a"}, {"login": "b"}, {"login": "c"},
		})
	})
	mux.HandleFunc("GET /repos/octo/alpha/readme", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# Alpha\nA test repo."))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGitHubExtractFromAPI(t *testing.T) {
	srv := fakeGitHubAPI(t)
	g := NewGitHub(testFetcher(), srv.URL, "")

	rec, err := g.Extract(context.Background(), "github.com/octo/alpha")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := map[string]string{
		entity.FieldRepositoryURL: "https://github.com/octo/alpha",
		"repository_name":         "octo/alpha",
		"description":             "test repository",
		"stars":                   "42",
		"forks":                   "7",
		"issues":                  "3",
		"last_updated":            "2026-08-01T12:00:00Z",
		"language":                "Go",
		"license":                 "MIT",
		"contributors":            "3",
		"readme":                  "# Alpha\nA test repo.",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Errorf("%s = %q, want %q", k, rec[k], v)
		}
	}
}

func TestGitHubExtractSendsToken(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if gotAuth == "" {
			gotAuth = r.Header.Get("Authorization")
		}
		json.NewEncoder(w).Encode(map[string]any{"full_name": "octo/alpha"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewGitHub(testFetcher(), srv.URL, "secret123")
	if _, err := g.Extract(context.Background(), "https://github.com/octo/alpha"); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if gotAuth != "token secret123" {
		t.Errorf("Authorization = %q, want token secret123", gotAuth)
	}
}

func TestGitHubExtractRejectsNonRepoURL(t *testing.T) {
	g := NewGitHub(testFetcher(), "http://unused.invalid", "")
	if _, err := g.Extract(context.Background(), "https://example.com/not-github"); err == nil {
		t.Fatal("expected error for a non-repository url")
	}
}

func TestGitHubExtractFallsBackToPage(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer api.Close()

	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head>
			<meta name="description" content="scraped description">
			</head><body>
			<span id="repo-stars-counter-star" title="1,234">1.2k</span>
			<span id="repo-network-counter">56</span>
			<span itemprop="programmingLanguage">Go</span>
			</body></html>`))
	}))
	defer page.Close()

	g := NewGitHub(testFetcher(), api.URL, "")
	g.pageBase = page.URL

	rec, err := g.Extract(context.Background(), "https://github.com/octo/alpha")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if rec["description"] != "scraped description" {
		t.Errorf("description = %q", rec["description"])
	}
	if rec["stars"] != "1234" {
		t.Errorf("stars = %q, want 1234", rec["stars"])
	}
	if rec["forks"] != "56" {
		t.Errorf("forks = %q, want 56", rec["forks"])
	}
	if rec["language"] != "Go" {
		t.Errorf("language = %q, want Go", rec["language"])
	}
	if rec["repository_name"] != "octo/alpha" {
		t.Errorf("repository_name = %q", rec["repository_name"])
	}
}
