// Package report assembles and publishes the audit output for one run.
package report

import "time"

// Version is the report schema version written into report.json.
const Version = "1.0.0"

// PageRecord is the audit result for one successfully fetched page.
type PageRecord struct {
	URL         string              `json:"url"`
	FinalURL    string              `json:"final_url"`
	Status      int                 `json:"status"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Canonical   string              `json:"canonical,omitempty"`
	MetaRobots  string              `json:"meta_robots,omitempty"`
	Author      string              `json:"author,omitempty"`
	Keywords    string              `json:"keywords,omitempty"`
	OpenGraph   map[string]string   `json:"open_graph,omitempty"`
	TwitterCard map[string]string   `json:"twitter_card,omitempty"`
	JSONLD      []map[string]any    `json:"json_ld,omitempty"`
	Headings    map[string][]string `json:"headings,omitempty"`
	WordCount   int                 `json:"word_count"`
	Links       []string            `json:"links,omitempty"`
	Images      []string            `json:"images,omitempty"`
	Markdown    string              `json:"markdown,omitempty"`
	LoadTimeMS  int64               `json:"load_time_ms"`
	FetchedAt   time.Time           `json:"fetched_at"`

	// Screenshot bytes go to their own file during publication, never into
	// report.json.
	Screenshot     []byte `json:"-"`
	ScreenshotPath string `json:"screenshot_path,omitempty"`
}

// CrawlError records a page that could not be audited. Blocked marks robots
// disallows, which the summary counts apart from genuine failures.
type CrawlError struct {
	URL     string    `json:"url"`
	Message string    `json:"message"`
	Blocked bool      `json:"blocked,omitempty"`
	At      time.Time `json:"at"`
}

// SiteInfo identifies the audited site.
type SiteInfo struct {
	InputURL string `json:"input_url"`
	Origin   string `json:"origin"`
	Hostname string `json:"hostname"`
}

// RobotsInfo captures the admission policy the run operated under.
type RobotsInfo struct {
	URL        string   `json:"url"`
	Found      bool     `json:"found"`
	CrawlDelay float64  `json:"crawl_delay_seconds,omitempty"`
	Sitemaps   []string `json:"sitemaps,omitempty"`
	FetchError string   `json:"fetch_error,omitempty"`
}

// SitemapInfo captures what URL discovery yielded.
type SitemapInfo struct {
	Discovered  bool     `json:"discovered"`
	TotalURLs   int      `json:"total_urls"`
	SitemapURLs []string `json:"sitemap_urls,omitempty"`
}

// Durations breaks the run wall time into phases.
type Durations struct {
	DiscoveryMS int64 `json:"discovery_ms"`
	CrawlMS     int64 `json:"crawl_ms"`
	TotalMS     int64 `json:"total_ms"`
}

// SEOStats counts pages carrying the on-page and structured-data signals.
type SEOStats struct {
	PagesWithTitle       int `json:"pages_with_title"`
	PagesWithDescription int `json:"pages_with_description"`
	PagesWithCanonical   int `json:"pages_with_canonical"`
	PagesWithH1          int `json:"pages_with_h1"`
	PagesWithOpenGraph   int `json:"pages_with_opengraph"`
	PagesWithTwitterCard int `json:"pages_with_twitter_card"`
	PagesWithJSONLD      int `json:"pages_with_jsonld"`
}

// ContentStats aggregates link and heading volume across audited pages.
type ContentStats struct {
	TotalInternalLinks      int `json:"total_internal_links"`
	TotalExternalLinks      int `json:"total_external_links"`
	AvgInternalLinksPerPage int `json:"avg_internal_links_per_page"`
	AvgExternalLinksPerPage int `json:"avg_external_links_per_page"`
	TotalH1Tags             int `json:"total_h1_tags"`
	TotalH2Tags             int `json:"total_h2_tags"`
	TotalWords              int `json:"total_words"`
}

// PerformanceStats summarizes observed load times.
type PerformanceStats struct {
	AvgLoadTimeMS int64 `json:"avg_load_time_ms"`
	FastestPageMS int64 `json:"fastest_page_ms"`
	SlowestPageMS int64 `json:"slowest_page_ms"`
}

// Summary is the rollup section of a report.
type Summary struct {
	TotalPages      int              `json:"total_pages"`
	SuccessfulPages int              `json:"successful_pages"`
	BlockedPages    int              `json:"blocked_pages"`
	ErrorPages      int              `json:"error_pages"`
	SEO             SEOStats         `json:"seo"`
	Content         ContentStats     `json:"content"`
	Performance     PerformanceStats `json:"performance"`
}

// Report is the complete output of one audit run.
type Report struct {
	Version     string       `json:"version"`
	RunID       string       `json:"run_id"`
	GeneratedAt time.Time    `json:"generated_at"`
	Site        SiteInfo     `json:"site"`
	Robots      RobotsInfo   `json:"robots"`
	Sitemap     SitemapInfo  `json:"sitemap"`
	Pages       []PageRecord `json:"pages"`
	Errors      []CrawlError `json:"errors"`
	Summary     Summary      `json:"summary"`
	// ContentDigest is the analyze-phase plain-text rollup, when produced.
	ContentDigest string    `json:"content_digest,omitempty"`
	Durations     Durations `json:"durations"`
}

// BuildSummary computes the rollup from page results. isInternal reports
// whether a link target belongs to the audited site.
func BuildSummary(pages []PageRecord, errs []CrawlError, isInternal func(string) bool) Summary {
	s := Summary{
		TotalPages:      len(pages) + len(errs),
		SuccessfulPages: len(pages),
	}
	for _, e := range errs {
		if e.Blocked {
			s.BlockedPages++
		} else {
			s.ErrorPages++
		}
	}

	var totalLoad int64
	for i, p := range pages {
		if p.Title != "" {
			s.SEO.PagesWithTitle++
		}
		if p.Description != "" {
			s.SEO.PagesWithDescription++
		}
		if p.Canonical != "" {
			s.SEO.PagesWithCanonical++
		}
		if len(p.Headings["h1"]) > 0 {
			s.SEO.PagesWithH1++
		}
		if p.OpenGraph["title"] != "" {
			s.SEO.PagesWithOpenGraph++
		}
		if p.TwitterCard["card"] != "" {
			s.SEO.PagesWithTwitterCard++
		}
		if len(p.JSONLD) > 0 {
			s.SEO.PagesWithJSONLD++
		}
		s.Content.TotalH1Tags += len(p.Headings["h1"])
		s.Content.TotalH2Tags += len(p.Headings["h2"])
		s.Content.TotalWords += p.WordCount
		for _, link := range p.Links {
			if isInternal != nil && isInternal(link) {
				s.Content.TotalInternalLinks++
			} else {
				s.Content.TotalExternalLinks++
			}
		}

		totalLoad += p.LoadTimeMS
		if i == 0 || p.LoadTimeMS < s.Performance.FastestPageMS {
			s.Performance.FastestPageMS = p.LoadTimeMS
		}
		if p.LoadTimeMS > s.Performance.SlowestPageMS {
			s.Performance.SlowestPageMS = p.LoadTimeMS
		}
	}
	if len(pages) > 0 {
		s.Performance.AvgLoadTimeMS = totalLoad / int64(len(pages))
		s.Content.AvgInternalLinksPerPage = s.Content.TotalInternalLinks / len(pages)
		s.Content.AvgExternalLinksPerPage = s.Content.TotalExternalLinks / len(pages)
	}
	return s
}
