// Package proxy maintains a rotating pool of HTTP proxy endpoints with
// liveness probing.
package proxy

import (
	"bufio"
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/user/scraper-service/pkg/metrics"
)

// refreshInterval is how stale the working set may get before Next triggers
// a full re-probe.
const refreshInterval = 30 * time.Minute

// Endpoint is a proxy reachable over HTTP and HTTPS. The two URLs are
// usually identical.
type Endpoint struct {
	HTTP  string
	HTTPS string
}

// ParseEndpoint turns a single proxy address line into an Endpoint.
func ParseEndpoint(raw string) Endpoint {
	raw = strings.TrimSpace(raw)
	return Endpoint{HTTP: raw, HTTPS: raw}
}

// ProxyURL returns the endpoint as a *url.URL for http.Transport.Proxy.
func (e Endpoint) ProxyURL() (*url.URL, error) {
	return url.Parse(e.HTTP)
}

// Pool holds known endpoints and the subset that passed the most recent
// liveness probe. All mutations and the rotation cursor are guarded by a
// single mutex; probes run outside the lock.
type Pool struct {
	probeURL     string
	probeTimeout time.Duration

	mu        sync.Mutex
	endpoints []Endpoint
	working   []Endpoint
	cursor    int
	lastCheck time.Time

	userAgents []string
}

// NewPool creates a pool probing against probeURL.
func NewPool(probeURL string) *Pool {
	p := &Pool{
		probeURL:     probeURL,
		probeTimeout: 10 * time.Second,
		userAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/107.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/107.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/107.0.0.0 Safari/537.36",
		},
	}
	return p
}

// Add probes the endpoint and, if live, appends it to both the full and the
// working lists. Duplicates are rejected. Returns whether the endpoint was
// added.
func (p *Pool) Add(ctx context.Context, ep Endpoint) bool {
	if !p.probe(ctx, ep) {
		slog.Warn("proxy failed liveness probe, not added", "proxy", ep.HTTP)
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, known := range p.endpoints {
		if known == ep {
			return false
		}
	}
	p.endpoints = append(p.endpoints, ep)
	p.working = append(p.working, ep)
	p.publishGauge()
	slog.Info("proxy added", "proxy", ep.HTTP, "working", len(p.working))
	return true
}

// AddMany applies Add to each endpoint and returns the number accepted.
func (p *Pool) AddMany(ctx context.Context, eps []Endpoint) int {
	added := 0
	for _, ep := range eps {
		if p.Add(ctx, ep) {
			added++
		}
	}
	slog.Info("proxy batch load finished", "added", added, "total", len(eps))
	return added
}

// LoadFromFile reads one endpoint per non-empty, non-comment line and adds
// each. Returns the number accepted.
func (p *Pool) LoadFromFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var eps []Endpoint
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eps = append(eps, ParseEndpoint(line))
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return p.AddMany(ctx, eps), nil
}

// Next returns the next working endpoint in round-robin order, or false if
// the working set is empty. A refresh is triggered when the last probe pass
// is older than 30 minutes.
func (p *Pool) Next(ctx context.Context) (Endpoint, bool) {
	p.mu.Lock()
	stale := time.Since(p.lastCheck) > refreshInterval && len(p.endpoints) > 0
	p.mu.Unlock()
	if stale {
		p.Refresh(ctx, false)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.working) == 0 {
		return Endpoint{}, false
	}
	ep := p.working[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.working)
	return ep, true
}

// Remove drops the endpoint from both lists and clamps the cursor.
func (p *Pool) Remove(ep Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoints = removeEndpoint(p.endpoints, ep)
	p.working = removeEndpoint(p.working, ep)
	if len(p.working) > 0 {
		p.cursor = p.cursor % len(p.working)
	} else {
		p.cursor = 0
	}
	p.publishGauge()
	slog.Info("proxy removed", "proxy", ep.HTTP, "working", len(p.working))
}

// Refresh re-probes every known endpoint and rebuilds the working subset.
// With force=false it is a no-op when the last pass is recent.
func (p *Pool) Refresh(ctx context.Context, force bool) {
	p.mu.Lock()
	if !force && time.Since(p.lastCheck) <= refreshInterval {
		p.mu.Unlock()
		return
	}
	candidates := make([]Endpoint, len(p.endpoints))
	copy(candidates, p.endpoints)
	before := len(p.working)
	p.mu.Unlock()

	// Probe outside the lock; fetch workers keep rotating over the old
	// working set meanwhile.
	var alive []Endpoint
	for _, ep := range candidates {
		if p.probe(ctx, ep) {
			alive = append(alive, ep)
		} else {
			slog.Warn("proxy no longer working", "proxy", ep.HTTP)
		}
	}

	p.mu.Lock()
	p.working = alive
	p.cursor = 0
	p.lastCheck = time.Now()
	p.publishGauge()
	p.mu.Unlock()
	slog.Info("proxy refresh finished", "working_before", before, "working_after", len(alive), "known", len(candidates))
}

// Stats returns (total known, currently working).
func (p *Pool) Stats() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints), len(p.working)
}

// UserAgent returns a random browser user agent for outbound requests.
func (p *Pool) UserAgent() string {
	if len(p.userAgents) == 0 {
		return ""
	}
	return p.userAgents[rand.Intn(len(p.userAgents))]
}

func (p *Pool) probe(ctx context.Context, ep Endpoint) bool {
	proxyURL, err := ep.ProxyURL()
	if err != nil {
		return false
	}
	client := &http.Client{
		Timeout:   p.probeTimeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		slog.Debug("proxy probe failed", "proxy", ep.HTTP, "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (p *Pool) publishGauge() {
	metrics.ProxiesWorking.Set(float64(len(p.working)))
}

func removeEndpoint(eps []Endpoint, target Endpoint) []Endpoint {
	out := eps[:0]
	for _, ep := range eps {
		if ep != target {
			out = append(out, ep)
		}
	}
	return out
}
