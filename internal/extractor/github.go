// Package extractor turns fetched pages into flat records: one extractor
// for GitHub repositories, one for generic websites.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/fetcher"
	"github.com/user/scraper-service/pkg/utils"
)

// GitHub extracts repository metadata, preferring the REST API and falling
// back to scraping the repository page when the API is unavailable.
type GitHub struct {
	fetch    *fetcher.Fetcher
	apiURL   string
	pageBase string
	token    string
}

// NewGitHub builds the extractor. token may be empty for anonymous access.
func NewGitHub(f *fetcher.Fetcher, apiURL, token string) *GitHub {
	return &GitHub{
		fetch:    f,
		apiURL:   strings.TrimRight(apiURL, "/"),
		pageBase: "https://github.com",
		token:    token,
	}
}

type repoResponse struct {
	Name        string `json:"name"`
	FullName    string `json:"full_name"`
	HTMLURL     string `json:"html_url"`
	Description string `json:"description"`
	Stars       int    `json:"stargazers_count"`
	Forks       int    `json:"forks_count"`
	OpenIssues  int    `json:"open_issues_count"`
	UpdatedAt   string `json:"updated_at"`
	Language    string `json:"language"`
	License     *struct {
		SpdxID string `json:"spdx_id"`
		Name   string `json:"name"`
	} `json:"license"`
}

// Extract resolves rawURL to owner/name and builds the record.
func (g *GitHub) Extract(ctx context.Context, rawURL string) (entity.Record, error) {
	repoURL := utils.NormalizeURL(rawURL)
	owner, name := utils.ParseGitHubURL(repoURL)
	if owner == "" || name == "" {
		return nil, fmt.Errorf("not a github repository url: %s", rawURL)
	}

	rec, err := g.fromAPI(ctx, repoURL, owner, name)
	if err == nil {
		return rec, nil
	}
	slog.Warn("github api extraction failed, scraping page", "repo", owner+"/"+name, "error", err)

	return g.fromPage(ctx, repoURL, owner, name)
}

func (g *GitHub) apiHeaders() map[string]string {
	h := map[string]string{"Accept": "application/vnd.github+json"}
	if g.token != "" {
		h["Authorization"] = "token " + g.token
	}
	return h
}

func (g *GitHub) fromAPI(ctx context.Context, repoURL, owner, name string) (entity.Record, error) {
	res := g.fetch.Get(ctx, fmt.Sprintf("%s/repos/%s/%s", g.apiURL, owner, name), g.apiHeaders())
	if res.Status != entity.FetchOK {
		return nil, fmt.Errorf("repo endpoint: %w", res.Err)
	}

	var repo repoResponse
	if err := json.Unmarshal(res.Body, &repo); err != nil {
		return nil, fmt.Errorf("decode repo response: %w", err)
	}

	rec := entity.Record{
		entity.FieldRepositoryURL: repoURL,
		"repository_name":         repo.FullName,
		"description":             repo.Description,
		"stars":                   strconv.Itoa(repo.Stars),
		"forks":                   strconv.Itoa(repo.Forks),
		"issues":                  strconv.Itoa(repo.OpenIssues),
		"last_updated":            repo.UpdatedAt,
		"language":                repo.Language,
	}
	if rec["repository_name"] == "" {
		rec["repository_name"] = owner + "/" + name
	}
	if repo.License != nil {
		if repo.License.SpdxID != "" && repo.License.SpdxID != "NOASSERTION" {
			rec["license"] = repo.License.SpdxID
		} else {
			rec["license"] = repo.License.Name
		}
	} else {
		rec["license"] = ""
	}

	rec["contributors"] = g.contributorCount(ctx, owner, name)
	rec["readme"] = g.readme(ctx, owner, name)
	return rec, nil
}

// contributorCount is best-effort: a failure leaves the field empty rather
// than failing the whole record.
func (g *GitHub) contributorCount(ctx context.Context, owner, name string) string {
	res := g.fetch.Get(ctx,
		fmt.Sprintf("%s/repos/%s/%s/contributors?per_page=100&anon=true", g.apiURL, owner, name),
		g.apiHeaders())
	if res.Status != entity.FetchOK {
		slog.Debug("contributors endpoint failed", "repo", owner+"/"+name, "error", res.Err)
		return ""
	}
	var contributors []json.RawMessage
	if err := json.Unmarshal(res.Body, &contributors); err != nil {
		return ""
	}
	n := len(contributors)
	if n == 100 {
		return "100+"
	}
	return strconv.Itoa(n)
}

func (g *GitHub) readme(ctx context.Context, owner, name string) string {
	headers := g.apiHeaders()
	headers["Accept"] = "application/vnd.github.raw+json"
	res := g.fetch.Get(ctx, fmt.Sprintf("%s/repos/%s/%s/readme", g.apiURL, owner, name), headers)
	if res.Status != entity.FetchOK {
		slog.Debug("readme endpoint failed", "repo", owner+"/"+name, "error", res.Err)
		return ""
	}
	return string(res.Body)
}

// fromPage scrapes the repository HTML page for the subset of fields it
// exposes.
func (g *GitHub) fromPage(ctx context.Context, repoURL, owner, name string) (entity.Record, error) {
	res := g.fetch.Get(ctx, fmt.Sprintf("%s/%s/%s", g.pageBase, owner, name), nil)
	if res.Status != entity.FetchOK {
		return nil, fmt.Errorf("repository page: %w", res.Err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("parse repository page: %w", err)
	}

	rec := entity.Record{
		entity.FieldRepositoryURL: repoURL,
		"repository_name":         owner + "/" + name,
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		rec["description"] = strings.TrimSpace(desc)
	}
	rec["stars"] = counterText(doc, "#repo-stars-counter-star")
	rec["forks"] = counterText(doc, "#repo-network-counter")
	doc.Find(`a[href$="/blob/main/LICENSE"], a[href*="LICENSE"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if strings.Contains(strings.ToLower(text), "license") {
			rec["license"] = text
			return false
		}
		return true
	})
	doc.Find(`[itemprop="programmingLanguage"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		rec["language"] = strings.TrimSpace(sel.Text())
		return false
	})
	return rec, nil
}

func counterText(doc *goquery.Document, selector string) string {
	sel := doc.Find(selector).First()
	if title, ok := sel.Attr("title"); ok && title != "" {
		return strings.ReplaceAll(title, ",", "")
	}
	return strings.TrimSpace(sel.Text())
}
