package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildSummary(t *testing.T) {
	internal := func(link string) bool {
		return strings.HasPrefix(link, "https://example.com/")
	}
	pages := []PageRecord{
		{
			Title:       "Home",
			Description: "Landing page",
			Canonical:   "https://example.com/",
			OpenGraph:   map[string]string{"title": "Home"},
			TwitterCard: map[string]string{"card": "summary"},
			JSONLD:      []map[string]any{{"@type": "WebSite"}},
			Headings:    map[string][]string{"h1": {"Welcome"}, "h2": {"A", "B"}},
			WordCount:   120,
			Links:       []string{"https://example.com/about", "https://other.example/x"},
			LoadTimeMS:  200,
		},
		{
			Title:      "About",
			Headings:   map[string][]string{"h2": {"Team"}},
			WordCount:  80,
			Links:      []string{"https://example.com/"},
			LoadTimeMS: 100,
		},
	}
	errs := []CrawlError{
		{URL: "https://example.com/broken", Message: "HTTP 500"},
		{URL: "https://example.com/private", Message: "blocked by robots.txt", Blocked: true},
	}

	s := BuildSummary(pages, errs, internal)

	require.Equal(t, 4, s.TotalPages)
	require.Equal(t, 2, s.SuccessfulPages)
	require.Equal(t, 1, s.BlockedPages)
	require.Equal(t, 1, s.ErrorPages)

	require.Equal(t, 2, s.SEO.PagesWithTitle)
	require.Equal(t, 1, s.SEO.PagesWithDescription)
	require.Equal(t, 1, s.SEO.PagesWithCanonical)
	require.Equal(t, 1, s.SEO.PagesWithH1)
	require.Equal(t, 1, s.SEO.PagesWithOpenGraph)
	require.Equal(t, 1, s.SEO.PagesWithTwitterCard)
	require.Equal(t, 1, s.SEO.PagesWithJSONLD)

	require.Equal(t, 2, s.Content.TotalInternalLinks)
	require.Equal(t, 1, s.Content.TotalExternalLinks)
	require.Equal(t, 1, s.Content.AvgInternalLinksPerPage)
	require.Equal(t, 1, s.Content.TotalH1Tags)
	require.Equal(t, 3, s.Content.TotalH2Tags)
	require.Equal(t, 200, s.Content.TotalWords)

	require.Equal(t, int64(150), s.Performance.AvgLoadTimeMS)
	require.Equal(t, int64(100), s.Performance.FastestPageMS)
	require.Equal(t, int64(200), s.Performance.SlowestPageMS)
}

func TestBuildSummaryEmpty(t *testing.T) {
	s := BuildSummary(nil, nil, nil)
	require.Equal(t, 0, s.TotalPages)
	require.Equal(t, int64(0), s.Performance.AvgLoadTimeMS)
	require.Equal(t, 0, s.Content.AvgInternalLinksPerPage)
}

func TestRunID(t *testing.T) {
	ts := time.Date(2026, 8, 29, 14, 3, 7, 0, time.UTC)

	require.Equal(t, "example.com_2026-08-29T14-03-07", RunID("example.com", ts))
	require.Equal(t, "my-site.example.com_2026-08-29T14-03-07", RunID("My-Site.Example.COM", ts))
	require.Equal(t, "site_2026-08-29T14-03-07", RunID("", ts))

	got := RunID("a b/c:d", ts)
	require.NotContains(t, got, " ")
	require.NotContains(t, got, "/")
	require.NotContains(t, got, ":d")
}

func TestSanitizeFilename(t *testing.T) {
	require.Equal(t, "Pricing  Plans", SanitizeFilename(`Pricing / Plans?`))
	require.Equal(t, "untitled", SanitizeFilename(`<>:"/\|?*`))

	long := strings.Repeat("a", 80)
	require.Len(t, SanitizeFilename(long), 50)
}
