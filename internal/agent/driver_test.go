package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"webaudit/internal/crawler"
	"webaudit/internal/fetch"
	"webaudit/internal/progress"
	"webaudit/internal/report"
	"webaudit/internal/robots"
)

type scriptedVisitor struct {
	mu       sync.Mutex
	pages    map[string]*fetch.PageData
	failures map[string][]error
	sitemaps map[string][]string
	visits   []string
}

func newScriptedVisitor() *scriptedVisitor {
	return &scriptedVisitor{
		pages:    make(map[string]*fetch.PageData),
		failures: make(map[string][]error),
		sitemaps: make(map[string][]string),
	}
}

func (s *scriptedVisitor) addPage(url string, links ...string) {
	s.pages[url] = &fetch.PageData{
		URL:      url,
		FinalURL: url,
		Status:   200,
		Title:    "Page " + url,
		Text:     "body text for " + url,
		Links:    links,
	}
}

func (s *scriptedVisitor) Visit(_ context.Context, rawURL string) (*fetch.PageData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits = append(s.visits, rawURL)
	if errs := s.failures[rawURL]; len(errs) > 0 {
		s.failures[rawURL] = errs[1:]
		return nil, errs[0]
	}
	if pd, ok := s.pages[rawURL]; ok {
		clone := *pd
		return &clone, nil
	}
	return nil, fetch.NewError(fetch.KindFatal, rawURL, errors.New("HTTP 404"))
}

func (s *scriptedVisitor) FetchSitemapURLs(_ context.Context, sitemapURL string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if urls, ok := s.sitemaps[sitemapURL]; ok {
		return urls, nil
	}
	return nil, errors.New("sitemap status 404")
}

func (s *scriptedVisitor) Close() error { return nil }

func (s *scriptedVisitor) visitCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.visits {
		if v == url {
			n++
		}
	}
	return n
}

func newDriver(t *testing.T, cfg Config, v fetch.Visitor) *Driver {
	t.Helper()
	if cfg.RunID == uuid.Nil {
		cfg.RunID = uuid.New()
	}
	d, err := New(cfg, v, nil, StatsSummarizer{}, progress.Nop{}, zap.NewNop())
	require.NoError(t, err)
	return d
}

func TestDriverHappyPath(t *testing.T) {
	v := newScriptedVisitor()
	v.addPage("https://example.com/",
		"https://example.com/b",
		"https://example.com/c",
		"https://example.com/d",
		"https://other.example/e",
	)
	v.addPage("https://example.com/b")
	v.addPage("https://example.com/c")
	v.addPage("https://example.com/d")

	d := newDriver(t, Config{
		StartURL: "https://example.com/",
		Scope:    crawler.ScopeSite,
		MaxPages: 3,
	}, v)

	state, err := d.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, PhaseDone, state.Phase)
	require.Len(t, state.Pages, 3)
	require.Empty(t, state.Errors)
	require.NotEmpty(t, state.Summary)
	require.Zero(t, v.visitCount("https://other.example/e"))
}

func TestDriverRobotsBlockRecordedAsBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	policy := robots.NewFetcher("audit-test", zap.NewNop()).Fetch(context.Background(), srv.URL+"/")
	require.True(t, policy.Found)

	v := newScriptedVisitor()
	d := newDriver(t, Config{
		StartURL: srv.URL + "/private/page",
		Scope:    crawler.ScopeProvided,
		MaxPages: 2,
		Policy:   policy,
	}, v)

	state, err := d.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, PhaseDone, state.Phase)
	require.Same(t, policy, d.Policy())
	require.Empty(t, state.Pages)
	require.Len(t, state.Errors, 1)
	require.True(t, state.Errors[0].Blocked)
	require.Contains(t, state.Errors[0].Message, "robots")
	require.Zero(t, v.visitCount(srv.URL+"/private/page"))
}

func TestDriverSeedsFromSitemap(t *testing.T) {
	v := newScriptedVisitor()
	v.sitemaps["https://example.com/sitemap.xml"] = []string{
		"https://example.com/",
		"https://example.com/docs",
	}
	v.addPage("https://example.com/")
	v.addPage("https://example.com/docs")

	d := newDriver(t, Config{
		StartURL: "https://example.com/",
		Scope:    crawler.ScopeSite,
		MaxPages: 5,
	}, v)

	state, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, state.Pages, 2)
	require.Equal(t, 1, v.visitCount("https://example.com/docs"))
}

func TestDriverRetriesThenSucceeds(t *testing.T) {
	v := newScriptedVisitor()
	v.addPage("https://example.com/")
	transient := fetch.NewError(fetch.KindTransient, "https://example.com/", errors.New("timeout"))
	v.failures["https://example.com/"] = []error{transient, transient}

	d := newDriver(t, Config{
		StartURL: "https://example.com/",
		Scope:    crawler.ScopeProvided,
		MaxPages: 3,
	}, v)

	state, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseDone, state.Phase)
	require.Len(t, state.Pages, 1)
	require.Empty(t, state.Errors)
	require.Equal(t, 3, v.visitCount("https://example.com/"))
}

func TestDriverGivesUpAfterRetryBudget(t *testing.T) {
	v := newScriptedVisitor()
	v.addPage("https://example.com/")
	transient := fetch.NewError(fetch.KindTransient, "https://example.com/", errors.New("timeout"))
	v.failures["https://example.com/"] = []error{transient, transient, transient, transient}

	d := newDriver(t, Config{
		StartURL: "https://example.com/",
		Scope:    crawler.ScopeProvided,
		MaxPages: 3,
	}, v)

	state, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseDone, state.Phase)
	require.Empty(t, state.Pages)
	require.Len(t, state.Errors, 1)
	require.Equal(t, 4, v.visitCount("https://example.com/"))
}

func TestDriverUnattendedBotChallengeDegrades(t *testing.T) {
	v := newScriptedVisitor()
	v.failures["https://example.com/"] = []error{
		fetch.NewError(fetch.KindBotChallenge, "https://example.com/", errors.New("HTTP 403 challenge wall")),
	}

	d := newDriver(t, Config{
		StartURL: "https://example.com/",
		Scope:    crawler.ScopeProvided,
		MaxPages: 3,
		Attended: false,
	}, v)

	state, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseDone, state.Phase)
	require.Empty(t, state.Pages)
	require.Len(t, state.Errors, 1)
	require.Contains(t, state.Errors[0].Message, "unresolved")
	require.Equal(t, []string{"https://example.com/"}, state.Unresolved)
	require.False(t, state.AwaitingHuman)
	require.Equal(t, 1, v.visitCount("https://example.com/"))
}

func TestDriverAttendedResumeRetriesChallenge(t *testing.T) {
	v := newScriptedVisitor()
	v.addPage("https://example.com/")
	v.failures["https://example.com/"] = []error{
		fetch.NewError(fetch.KindBotChallenge, "https://example.com/", errors.New("captcha")),
	}

	d := newDriver(t, Config{
		StartURL:     "https://example.com/",
		Scope:        crawler.ScopeProvided,
		MaxPages:     3,
		Attended:     true,
		HumanTimeout: 5 * time.Second,
	}, v)

	// The operator resolves the challenge before the pause is entered; the
	// buffered resume signal is consumed by stepHuman.
	d.Resume()

	state, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseDone, state.Phase)
	require.Len(t, state.Pages, 1)
	require.Empty(t, state.Errors)
	require.Equal(t, 2, v.visitCount("https://example.com/"))
}

func TestDriverAttendedTimeoutDegrades(t *testing.T) {
	v := newScriptedVisitor()
	v.failures["https://example.com/"] = []error{
		fetch.NewError(fetch.KindBotChallenge, "https://example.com/", errors.New("captcha")),
	}

	d := newDriver(t, Config{
		StartURL:     "https://example.com/",
		Scope:        crawler.ScopeProvided,
		MaxPages:     3,
		Attended:     true,
		HumanTimeout: 20 * time.Millisecond,
	}, v)

	state, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseDone, state.Phase)
	require.Len(t, state.Errors, 1)
	require.Equal(t, []string{"https://example.com/"}, state.Unresolved)
}

func TestDriverFanoutCap(t *testing.T) {
	v := newScriptedVisitor()
	links := make([]string, 30)
	for i := range links {
		links[i] = fmt.Sprintf("https://example.com/p%d", i)
		v.addPage(links[i])
	}
	v.addPage("https://example.com/", links...)

	d := newDriver(t, Config{
		StartURL:  "https://example.com/",
		Scope:     crawler.ScopeSite,
		MaxPages:  40,
		FanoutCap: 5,
	}, v)

	state, err := d.Run(context.Background())
	require.NoError(t, err)

	// Seed page plus at most five admitted links.
	require.Len(t, state.Pages, 6)
}

func TestDriverSummarizerFailureRecordedNotFatal(t *testing.T) {
	v := newScriptedVisitor()
	v.addPage("https://example.com/")

	cfg := Config{
		StartURL: "https://example.com/",
		Scope:    crawler.ScopeProvided,
		MaxPages: 3,
		RunID:    uuid.New(),
	}
	d, err := New(cfg, v, nil, failingSummarizer{}, progress.Nop{}, zap.NewNop())
	require.NoError(t, err)

	state, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseDone, state.Phase)
	require.Len(t, state.Pages, 1)
	require.Len(t, state.Errors, 1)
	require.Contains(t, state.Errors[0].Message, "summarization failed")
}

type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, []report.PageRecord) (string, error) {
	return "", errors.New("model unavailable")
}

func TestDriverCancellation(t *testing.T) {
	v := newScriptedVisitor()
	v.addPage("https://example.com/")

	d := newDriver(t, Config{
		StartURL: "https://example.com/",
		Scope:    crawler.ScopeProvided,
		MaxPages: 3,
	}, v)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := d.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotEqual(t, PhaseDone, state.Phase)
}

func TestStatsSummarizer(t *testing.T) {
	s := StatsSummarizer{MaxTitles: 2}

	out, err := s.Summarize(context.Background(), []report.PageRecord{
		{Title: "Home", WordCount: 100},
		{Title: "About", WordCount: 50},
		{Title: "Contact", WordCount: 25},
	})
	require.NoError(t, err)
	require.Contains(t, out, "3 page(s)")
	require.Contains(t, out, "175 words")
	require.Contains(t, out, "Home; About")
	require.NotContains(t, out, "Contact")

	empty, err := s.Summarize(context.Background(), nil)
	require.NoError(t, err)
	require.Contains(t, empty, "No pages")
}
