// Package crawler runs the bounded-concurrency audit over an admitted
// frontier.
package crawler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"webaudit/internal/fetch"
	"webaudit/internal/frontier"
	"webaudit/internal/progress"
	"webaudit/internal/report"
	"webaudit/internal/robots"
)

// Scope selects which URLs the run may visit beyond the seeded set.
type Scope string

const (
	// ScopeProvided visits only the seeded URLs.
	ScopeProvided Scope = "provided"
	// ScopeSite additionally follows same-origin links found on pages.
	ScopeSite Scope = "site"
)

// DefaultMaxRetries bounds repeat attempts for transient page failures.
const DefaultMaxRetries = 3

// Config tunes one engine run.
type Config struct {
	RunID       uuid.UUID
	Scope       Scope
	Concurrency int
	MaxRetries  int
}

// Result is the raw outcome of a run before report assembly.
type Result struct {
	Pages  []report.PageRecord
	Errors []report.CrawlError
}

// Engine drains the frontier with a fixed pool of page workers.
type Engine struct {
	cfg      Config
	frontier *frontier.Frontier
	visitor  fetch.Visitor
	policy   *robots.Policy
	emitter  progress.Emitter
	logger   *zap.Logger
}

// New assembles an engine over an already seeded frontier.
func New(cfg Config, f *frontier.Frontier, v fetch.Visitor, policy *robots.Policy, emitter progress.Emitter, logger *zap.Logger) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Scope == "" {
		cfg.Scope = ScopeSite
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		frontier: f,
		visitor:  v,
		policy:   policy,
		emitter:  emitter,
		logger:   logger,
	}
}

// Run visits frontier items until the queue drains or ctx is canceled. It
// returns whatever was collected so far together with ctx's error when the
// run is cut short.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	var (
		mu     sync.Mutex
		result Result
	)
	// Workers signal here after finishing an item so the dispatch loop can
	// re-check a queue the item may have refilled.
	wake := make(chan struct{}, 1)
	inflight := 0

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, e.cfg.Concurrency)

	for {
		if gctx.Err() != nil {
			break
		}
		item, ok := e.frontier.Pop()
		if !ok {
			mu.Lock()
			idle := inflight == 0
			mu.Unlock()
			if idle {
				break
			}
			select {
			case <-wake:
			case <-gctx.Done():
			}
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-gctx.Done():
			continue
		}

		mu.Lock()
		inflight++
		mu.Unlock()

		g.Go(func() error {
			defer func() {
				<-sem
				mu.Lock()
				inflight--
				mu.Unlock()
				select {
				case wake <- struct{}{}:
				default:
				}
			}()
			rec, crawlErr := e.auditPage(gctx, item)
			mu.Lock()
			defer mu.Unlock()
			if rec != nil {
				result.Pages = append(result.Pages, *rec)
			}
			if crawlErr != nil {
				result.Errors = append(result.Errors, *crawlErr)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return &result, err
	}
	return &result, ctx.Err()
}

// auditPage visits one frontier item, retrying transient failures in place.
// It returns a record on success or a crawl error otherwise, never both.
func (e *Engine) auditPage(ctx context.Context, item frontier.Item) (*report.PageRecord, *report.CrawlError) {
	if e.policy != nil && !e.policy.Allowed(item.URL) {
		e.emit(progress.StagePageBlocked, item.URL, 0, 0, "blocked by robots.txt")
		return nil, &report.CrawlError{URL: item.URL, Message: "blocked by robots.txt", Blocked: true, At: time.Now().UTC()}
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries+1; attempt++ {
		if ctx.Err() != nil {
			return nil, &report.CrawlError{URL: item.URL, Message: ctx.Err().Error(), At: time.Now().UTC()}
		}
		e.emit(progress.StagePageStart, item.URL, 0, attempt, "")

		start := time.Now()
		data, err := e.visitor.Visit(ctx, item.URL)
		if err == nil {
			return e.finishPage(item, data), nil
		}
		lastErr = err

		switch fetch.Classify(err) {
		case fetch.KindTransient:
			if attempt <= e.cfg.MaxRetries {
				e.logger.Debug("page retry",
					zap.String("url", item.URL),
					zap.Int("attempt", attempt),
					zap.Error(err))
				e.emit(progress.StagePageRetry, item.URL, 0, attempt, err.Error())
				continue
			}
		case fetch.KindBotChallenge:
			e.emit(progress.StagePageBlocked, item.URL, 0, attempt, err.Error())
			return nil, &report.CrawlError{URL: item.URL, Message: "bot challenge: " + err.Error(), At: time.Now().UTC()}
		}
		e.logger.Warn("page failed",
			zap.String("url", item.URL),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		break
	}

	e.emit(progress.StagePageError, item.URL, 0, 0, lastErr.Error())
	return nil, &report.CrawlError{URL: item.URL, Message: lastErr.Error(), At: time.Now().UTC()}
}

func (e *Engine) finishPage(item frontier.Item, data *fetch.PageData) *report.PageRecord {
	finalURL, dup := e.frontier.ResolveFinal(item.URL, data.FinalURL)
	if dup {
		e.logger.Debug("redirect target already audited",
			zap.String("url", item.URL),
			zap.String("final", finalURL))
		return nil
	}

	if e.cfg.Scope == ScopeSite {
		for _, link := range data.Links {
			verdict, err := e.frontier.Enqueue(link, item.URL)
			if err == nil && verdict == frontier.Accepted {
				e.logger.Debug("link admitted", zap.String("url", link), zap.String("from", item.URL))
			}
		}
	}

	e.emit(progress.StagePageDone, item.URL, data.Status, 0, "")
	rec := NewPageRecord(item.URL, finalURL, data)
	return &rec
}

// NewPageRecord converts one visit result into its report row. requestedURL
// is the URL as dispatched, finalURL its post-redirect canonical identity.
func NewPageRecord(requestedURL, finalURL string, data *fetch.PageData) report.PageRecord {
	return report.PageRecord{
		URL:         requestedURL,
		FinalURL:    finalURL,
		Status:      data.Status,
		Title:       data.Title,
		Description: data.Description,
		Canonical:   data.Canonical,
		MetaRobots:  data.MetaRobots,
		Author:      data.Author,
		Keywords:    data.Keywords,
		OpenGraph:   data.OpenGraph,
		TwitterCard: data.TwitterCard,
		JSONLD:      data.JSONLD,
		Headings:    data.Headings,
		WordCount:   len(strings.Fields(data.Text)),
		Links:       data.Links,
		Images:      data.Images,
		Markdown:    data.Markdown,
		LoadTimeMS:  data.LoadTimeMS,
		FetchedAt:   time.Now().UTC(),
		Screenshot:  data.Screenshot,
	}
}

func (e *Engine) emit(stage progress.Stage, url string, status, attempt int, note string) {
	e.emitter.Emit(progress.Event{
		RunID:   e.cfg.RunID,
		TS:      time.Now().UTC(),
		Stage:   stage,
		URL:     url,
		Status:  status,
		Attempt: attempt,
		Note:    note,
	})
}
