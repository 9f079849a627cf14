package extractor

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/fetcher"
	"github.com/user/scraper-service/pkg/utils"
)

// maxMainLinks caps how many navigation links end up in the record.
const maxMainLinks = 20

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// Website extracts general page metadata: title, description, keywords,
// favicon, main navigation links, and contact details.
type Website struct {
	fetch *fetcher.Fetcher
}

// NewWebsite builds the extractor.
func NewWebsite(f *fetcher.Fetcher) *Website {
	return &Website{fetch: f}
}

// Extract fetches the page at rawURL and builds its record.
func (w *Website) Extract(ctx context.Context, rawURL string) (entity.Record, error) {
	pageURL := utils.NormalizeURL(rawURL)
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid website url %s: %w", rawURL, err)
	}

	res := w.fetch.Get(ctx, pageURL, nil)
	if res.Status != entity.FetchOK {
		return nil, fmt.Errorf("fetch website: %w", res.Err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("parse website: %w", err)
	}

	rec := entity.Record{
		entity.FieldWebsiteURL: pageURL,
		"title":                strings.TrimSpace(doc.Find("title").First().Text()),
		"description":          metaContent(doc, "description"),
		"keywords":             metaContent(doc, "keywords"),
		"favicon":              w.favicon(doc, base),
		"main_links":           strings.Join(w.mainLinks(doc, base), "; "),
		"contacts":             strings.Join(w.contacts(ctx, doc, base), "; "),
	}
	if rec["description"] == "" {
		rec["description"] = ogContent(doc, "og:description")
	}
	if rec["title"] == "" {
		rec["title"] = ogContent(doc, "og:title")
	}
	return rec, nil
}

func metaContent(doc *goquery.Document, name string) string {
	if v, ok := doc.Find(fmt.Sprintf(`meta[name="%s"]`, name)).Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func ogContent(doc *goquery.Document, property string) string {
	if v, ok := doc.Find(fmt.Sprintf(`meta[property="%s"]`, property)).Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// favicon resolves the icon link against the page URL, defaulting to
// /favicon.ico.
func (w *Website) favicon(doc *goquery.Document, base *url.URL) string {
	href := ""
	doc.Find(`link[rel="icon"], link[rel="shortcut icon"], link[rel="apple-touch-icon"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if v, ok := sel.Attr("href"); ok && strings.TrimSpace(v) != "" {
			href = strings.TrimSpace(v)
			return false
		}
		return true
	})
	if href == "" {
		href = "/favicon.ico"
	}
	return resolveRef(base, href)
}

// mainLinks collects distinct same-document navigation targets, preferring
// nav and header sections before the rest of the page.
func (w *Website) mainLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var links []string

	collect := func(_ int, sel *goquery.Selection) {
		if len(links) >= maxMainLinks {
			return
		}
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || href == "#" ||
			strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "tel:") {
			return
		}
		abs := resolveRef(base, href)
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	}

	doc.Find("nav a[href], header a[href]").Each(collect)
	if len(links) < maxMainLinks {
		doc.Find("a[href]").Each(collect)
	}
	return links
}

// contacts gathers emails and phone links from the page, then probes an
// on-site contact page for more when the landing page has none.
func (w *Website) contacts(ctx context.Context, doc *goquery.Document, base *url.URL) []string {
	found := contactsFromDoc(doc)
	if len(found) > 0 {
		return found
	}

	contactURL := ""
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		lower := strings.ToLower(href + " " + sel.Text())
		if strings.Contains(lower, "contact") {
			if abs := resolveRef(base, strings.TrimSpace(href)); abs != "" {
				contactURL = abs
				return false
			}
		}
		return true
	})
	if contactURL == "" {
		return nil
	}

	res := w.fetch.Get(ctx, contactURL, nil)
	if res.Status != entity.FetchOK {
		return nil
	}
	contactDoc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil
	}
	return contactsFromDoc(contactDoc)
}

func contactsFromDoc(doc *goquery.Document) []string {
	set := make(map[string]struct{})

	doc.Find(`a[href^="mailto:"]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if addr = strings.TrimSpace(addr); addr != "" {
			set[addr] = struct{}{}
		}
	})
	doc.Find(`a[href^="tel:"]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if num := strings.TrimSpace(strings.TrimPrefix(href, "tel:")); num != "" {
			set[num] = struct{}{}
		}
	})
	for _, email := range emailPattern.FindAllString(doc.Text(), -1) {
		set[email] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func resolveRef(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}
