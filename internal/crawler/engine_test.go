package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"webaudit/internal/fetch"
	"webaudit/internal/frontier"
	"webaudit/internal/progress"
	"webaudit/internal/robots"
)

type stubVisitor struct {
	mu       sync.Mutex
	pages    map[string]*fetch.PageData
	failures map[string][]error
	visits   []string
}

func newStubVisitor() *stubVisitor {
	return &stubVisitor{
		pages:    make(map[string]*fetch.PageData),
		failures: make(map[string][]error),
	}
}

func (s *stubVisitor) addPage(url string, links ...string) {
	s.pages[url] = &fetch.PageData{
		URL:      url,
		FinalURL: url,
		Status:   200,
		Title:    "Page " + url,
		Text:     "some page text here",
		Links:    links,
	}
}

func (s *stubVisitor) Visit(_ context.Context, rawURL string) (*fetch.PageData, error) {
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

func (s *stubVisitor) FetchSitemapURLs(context.Context, string) ([]string, error) {
	return nil, nil
}

func (s *stubVisitor) Close() error { return nil }

func (s *stubVisitor) visitCount(url string) int {
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

func newEngine(t *testing.T, f *frontier.Frontier, v fetch.Visitor, policy *robots.Policy, concurrency int) *Engine {
	t.Helper()
	cfg := Config{
		RunID:       uuid.New(),
		Scope:       ScopeSite,
		Concurrency: concurrency,
	}
	return New(cfg, f, v, policy, progress.Nop{}, zap.NewNop())
}

func TestRunFollowsSameOriginLinks(t *testing.T) {
	v := newStubVisitor()
	v.addPage("https://example.com/",
		"https://example.com/b",
		"https://example.com/c",
		"https://example.com/d",
		"https://other.example/e",
	)
	v.addPage("https://example.com/b")
	v.addPage("https://example.com/c")
	v.addPage("https://example.com/d")

	f, err := frontier.New("https://example.com/", 3)
	require.NoError(t, err)
	_, err = f.Enqueue("https://example.com/", frontier.SourceStart)
	require.NoError(t, err)

	e := newEngine(t, f, v, nil, 1)
	result, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Pages, 3)
	require.Empty(t, result.Errors)
	require.Zero(t, v.visitCount("https://other.example/e"))
	require.Equal(t, 3, f.VisitedCount())
}

func TestRunHonorsBudgetAcrossConcurrency(t *testing.T) {
	for _, concurrency := range []int{1, 3, 10} {
		t.Run(fmt.Sprintf("workers=%d", concurrency), func(t *testing.T) {
			v := newStubVisitor()
			// A fully connected little site, far larger than the budget.
			urls := make([]string, 20)
			for i := range urls {
				urls[i] = fmt.Sprintf("https://example.com/p%d", i)
			}
			for _, u := range urls {
				v.addPage(u, urls...)
			}

			f, err := frontier.New("https://example.com/p0", 5)
			require.NoError(t, err)
			_, err = f.Enqueue("https://example.com/p0", frontier.SourceStart)
			require.NoError(t, err)

			e := newEngine(t, f, v, nil, concurrency)
			result, err := e.Run(context.Background())
			require.NoError(t, err)

			require.Len(t, result.Pages, 5)
			require.Empty(t, result.Errors)
			require.Equal(t, 5, f.VisitedCount())
		})
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	t.Run("succeeds within retry budget", func(t *testing.T) {
		v := newStubVisitor()
		v.addPage("https://example.com/")
		v.failures["https://example.com/"] = []error{
			fetch.NewError(fetch.KindTransient, "https://example.com/", errors.New("timeout")),
			fetch.NewError(fetch.KindTransient, "https://example.com/", errors.New("timeout")),
		}

		f, err := frontier.New("https://example.com/", 5)
		require.NoError(t, err)
		_, err = f.Enqueue("https://example.com/", frontier.SourceStart)
		require.NoError(t, err)

		result, err := newEngine(t, f, v, nil, 1).Run(context.Background())
		require.NoError(t, err)
		require.Len(t, result.Pages, 1)
		require.Empty(t, result.Errors)
		require.Equal(t, 3, v.visitCount("https://example.com/"))
	})

	t.Run("gives up after retry budget", func(t *testing.T) {
		v := newStubVisitor()
		v.addPage("https://example.com/")
		fail := fetch.NewError(fetch.KindTransient, "https://example.com/", errors.New("timeout"))
		v.failures["https://example.com/"] = []error{fail, fail, fail, fail}

		f, err := frontier.New("https://example.com/", 5)
		require.NoError(t, err)
		_, err = f.Enqueue("https://example.com/", frontier.SourceStart)
		require.NoError(t, err)

		result, err := newEngine(t, f, v, nil, 1).Run(context.Background())
		require.NoError(t, err)
		require.Empty(t, result.Pages)
		require.Len(t, result.Errors, 1)
		require.Equal(t, 4, v.visitCount("https://example.com/"))
	})
}

func TestRunFatalErrorIsNotRetried(t *testing.T) {
	v := newStubVisitor()

	f, err := frontier.New("https://example.com/gone", 5)
	require.NoError(t, err)
	_, err = f.Enqueue("https://example.com/gone", frontier.SourceStart)
	require.NoError(t, err)

	result, err := newEngine(t, f, v, nil, 1).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Pages)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0].Message, "404")
	require.Equal(t, 1, v.visitCount("https://example.com/gone"))
}

func TestRunBotChallengeRecordedWithoutRetry(t *testing.T) {
	v := newStubVisitor()
	v.failures["https://example.com/"] = []error{
		fetch.NewError(fetch.KindBotChallenge, "https://example.com/", errors.New("HTTP 403 challenge wall")),
	}

	f, err := frontier.New("https://example.com/", 5)
	require.NoError(t, err)
	_, err = f.Enqueue("https://example.com/", frontier.SourceStart)
	require.NoError(t, err)

	result, err := newEngine(t, f, v, nil, 1).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Pages)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0].Message, "bot challenge")
	require.False(t, result.Errors[0].Blocked)
	require.Equal(t, 1, v.visitCount("https://example.com/"))
}

func TestRunRobotsBlockedNeverVisited(t *testing.T) {
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

	v := newStubVisitor()
	v.addPage(srv.URL + "/")

	f, err := frontier.New(srv.URL+"/", 5)
	require.NoError(t, err)
	_, err = f.Enqueue(srv.URL+"/", frontier.SourceStart)
	require.NoError(t, err)
	// Queued before the policy was installed; dispatch must still refuse it.
	_, err = f.Enqueue(srv.URL+"/private/area", frontier.SourceStart)
	require.NoError(t, err)

	result, err := newEngine(t, f, v, policy, 1).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Pages, 1)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0].Message, "robots")
	require.True(t, result.Errors[0].Blocked)
	require.Zero(t, v.visitCount(srv.URL+"/private/area"))
}

func TestNewPageRecordCarriesStructuredData(t *testing.T) {
	data := &fetch.PageData{
		Status:      200,
		Title:       "Home",
		Canonical:   "https://example.com/",
		MetaRobots:  "index, follow",
		Author:      "Acme Inc",
		Keywords:    "widgets, acme",
		OpenGraph:   map[string]string{"title": "Home"},
		TwitterCard: map[string]string{"card": "summary"},
		JSONLD:      []map[string]any{{"@type": "WebSite"}},
		Text:        "three little words",
	}

	rec := NewPageRecord("https://example.com/x", "https://example.com/", data)

	require.Equal(t, "https://example.com/x", rec.URL)
	require.Equal(t, "https://example.com/", rec.FinalURL)
	require.Equal(t, "https://example.com/", rec.Canonical)
	require.Equal(t, "index, follow", rec.MetaRobots)
	require.Equal(t, "Acme Inc", rec.Author)
	require.Equal(t, "widgets, acme", rec.Keywords)
	require.Equal(t, map[string]string{"title": "Home"}, rec.OpenGraph)
	require.Equal(t, map[string]string{"card": "summary"}, rec.TwitterCard)
	require.Len(t, rec.JSONLD, 1)
	require.Equal(t, 3, rec.WordCount)
}

func TestRunRedirectDedup(t *testing.T) {
	v := newStubVisitor()
	v.pages["https://example.com/old"] = &fetch.PageData{
		URL:      "https://example.com/old",
		FinalURL: "https://example.com/new",
		Status:   200,
		Title:    "New",
	}
	v.addPage("https://example.com/new")

	f, err := frontier.New("https://example.com/old", 5)
	require.NoError(t, err)
	_, err = f.Enqueue("https://example.com/old", frontier.SourceStart)
	require.NoError(t, err)
	_, err = f.Enqueue("https://example.com/new", frontier.SourceStart)
	require.NoError(t, err)

	result, err := newEngine(t, f, v, nil, 1).Run(context.Background())
	require.NoError(t, err)

	// The redirect absorbed the queued target, so one record exists for the
	// final URL.
	require.Len(t, result.Pages, 1)
	require.Equal(t, "https://example.com/new", result.Pages[0].FinalURL)
	require.Empty(t, result.Errors)
}

func TestRunCancellation(t *testing.T) {
	v := newStubVisitor()
	urls := make([]string, 50)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/p%d", i)
	}
	for _, u := range urls {
		v.addPage(u, urls...)
	}

	f, err := frontier.New("https://example.com/p0", 50)
	require.NoError(t, err)
	_, err = f.Enqueue("https://example.com/p0", frontier.SourceStart)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = newEngine(t, f, v, nil, 2).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
