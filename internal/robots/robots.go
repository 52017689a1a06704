// Package robots fetches and evaluates robots.txt for a single audit run.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"webaudit/internal/urlpolicy"
)

const maxRobotsBytes = 1 << 20

// Policy is the admission decision source for one run. It is immutable once
// fetched; a fetch or parse failure degrades to the permissive default so
// robots.txt availability never blocks a crawl from starting.
type Policy struct {
	RobotsURL  string
	Found      bool
	Sitemaps   []string
	CrawlDelay time.Duration
	FetchError string

	userAgent string
	data      *robotstxt.RobotsData
}

// Fetcher issues the single robots.txt request for a run.
type Fetcher struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewFetcher builds a Fetcher with the run's user agent.
func NewFetcher(userAgent string, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Fetch retrieves <origin>/robots.txt for the start URL and parses it. It
// never fails: any network or parse error yields the permissive policy with
// the cause recorded in FetchError.
func (f *Fetcher) Fetch(ctx context.Context, startURL string) *Policy {
	parsed, err := urlpolicy.Parse(startURL)
	if err != nil {
		return f.permissive("", err)
	}
	robotsURL := urlpolicy.Origin(parsed) + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return f.permissive(robotsURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return f.permissive(robotsURL, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return f.permissive(robotsURL, err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return f.permissive(robotsURL, err)
	}

	policy := &Policy{
		RobotsURL: robotsURL,
		Found:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Sitemaps:  parseSitemapLines(string(body)),
		userAgent: f.userAgent,
		data:      data,
	}
	if group := data.FindGroup(f.userAgent); group != nil {
		policy.CrawlDelay = group.CrawlDelay
	}
	return policy
}

func (f *Fetcher) permissive(robotsURL string, cause error) *Policy {
	f.logger.Warn("robots fetch failed; using permissive policy",
		zap.String("robots_url", robotsURL),
		zap.Error(cause),
	)
	return &Policy{
		RobotsURL:  robotsURL,
		FetchError: cause.Error(),
		userAgent:  f.userAgent,
	}
}

// Permissive returns the allow-everything policy used when no robots.txt is
// consulted.
func Permissive() *Policy {
	return &Policy{}
}

// Allowed reports whether the run's user agent may fetch rawURL.
func (p *Policy) Allowed(rawURL string) bool {
	if p == nil || p.data == nil {
		return true
	}
	parsed, err := urlpolicy.Parse(rawURL)
	if err != nil {
		return false
	}
	group := p.data.FindGroup(p.userAgent)
	if group == nil {
		return true
	}
	path := parsed.EscapedPath()
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	return group.Test(path)
}

// parseSitemapLines extracts Sitemap: declarations; robotstxt exposes groups
// but not sitemap directives, so they are read from the raw body.
func parseSitemapLines(body string) []string {
	var sitemaps []string
	seen := make(map[string]struct{})
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "sitemap") {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		sitemaps = append(sitemaps, value)
	}
	return sitemaps
}

// Summary renders the policy for logs and the run report.
func (p *Policy) Summary() string {
	if p == nil {
		return "permissive"
	}
	if !p.Found {
		return fmt.Sprintf("no robots.txt (%s)", p.RobotsURL)
	}
	return fmt.Sprintf("robots.txt with %d sitemap(s)", len(p.Sitemaps))
}
