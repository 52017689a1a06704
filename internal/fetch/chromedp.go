package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"webaudit/internal/sitemap"
)

// ErrVisitorClosed is returned from calls made after Close.
var ErrVisitorClosed = errors.New("visitor closed")

const (
	maxSitemapDocs  = 16
	maxSitemapBytes = 10 << 20
)

// Config controls the chromedp visitor.
type Config struct {
	UserAgent string
	// Timeout bounds one navigation plus extraction round trip.
	Timeout time.Duration
	// MaxConcurrency bounds simultaneous open tabs.
	MaxConcurrency int
	// Delay is the politeness pause between dispatches (robots Crawl-delay
	// wins over the configured default).
	Delay time.Duration
	// Screenshots enables full-page capture per visit.
	Screenshots bool
}

// ChromedpVisitor implements Visitor with a shared headless browser and one
// tab per visit.
type ChromedpVisitor struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	limiter         *rate.Limiter
	timeout         time.Duration
	userAgent       string
	screenshots     bool
	httpClient      *http.Client

	closeOnce sync.Once
	closed    chan struct{}
}

// NewChromedpVisitor launches the headless browser and verifies it responds.
func NewChromedpVisitor(cfg Config, logger *zap.Logger) (*ChromedpVisitor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}
	return &ChromedpVisitor{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxConcurrency),
		limiter:         rate.NewLimiter(limit, 1),
		timeout:         cfg.Timeout,
		userAgent:       cfg.UserAgent,
		screenshots:     cfg.Screenshots,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		closed: make(chan struct{}),
	}, nil
}

// Visit navigates to rawURL in a fresh tab and extracts the page.
func (v *ChromedpVisitor) Visit(ctx context.Context, rawURL string) (*PageData, error) {
	select {
	case <-v.closed:
		return nil, NewError(KindFatal, rawURL, ErrVisitorClosed)
	default:
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return nil, NewError(KindFatal, rawURL, fmt.Errorf("politeness wait: %w", err))
	}
	release, err := v.acquireSlot(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()

	tabCtx, cancelTab := chromedp.NewContext(v.browserCtx)
	defer cancelTab()
	taskCtx, cancelTask := context.WithTimeout(tabCtx, v.timeout)
	defer cancelTask()
	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	meta.listen(tabCtx)

	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(v.userAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	var shot []byte
	if v.screenshots {
		tasks = append(tasks, chromedp.CaptureScreenshot(&shot))
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return nil, NewError(v.classifyRunError(ctx, err), rawURL, err)
	}

	status, finalURL := meta.result(rawURL)
	if challengeErr := classifyResponse(status, html); challengeErr != nil {
		return nil, NewError(KindBotChallenge, rawURL, challengeErr)
	}
	if status >= 400 {
		return nil, NewError(KindFatal, rawURL, fmt.Errorf("HTTP %d", status))
	}

	data, err := extractPage(html, finalURL)
	if err != nil {
		return nil, NewError(KindTransient, rawURL, err)
	}
	data.URL = rawURL
	data.Status = status
	data.Screenshot = shot
	data.LoadTimeMS = time.Since(start).Milliseconds()
	return data, nil
}

func (v *ChromedpVisitor) acquireSlot(ctx context.Context, rawURL string) (func(), error) {
	select {
	case v.sem <- struct{}{}:
		return func() { <-v.sem }, nil
	case <-ctx.Done():
		return nil, NewError(KindFatal, rawURL, fmt.Errorf("acquire tab slot: %w", ctx.Err()))
	}
}

func (v *ChromedpVisitor) classifyRunError(ctx context.Context, err error) Kind {
	if ctx.Err() != nil {
		return KindFatal
	}
	return Classify(err)
}

// classifyResponse flags bot challenges from the navigation outcome: 403 and
// 429 walls plus interstitial pages that answer 200 with a challenge shell.
func classifyResponse(status int, html string) error {
	if status == http.StatusForbidden || status == http.StatusTooManyRequests {
		return fmt.Errorf("HTTP %d challenge wall", status)
	}
	head := strings.ToLower(html)
	if len(head) > 4096 {
		head = head[:4096]
	}
	for _, marker := range challengeMarkers {
		if strings.Contains(head, marker) {
			return fmt.Errorf("challenge marker %q in page", marker)
		}
	}
	return nil
}

// FetchSitemapURLs downloads a sitemap document and returns every page URL
// it yields, following nested sitemap indexes up to a fixed document cap.
func (v *ChromedpVisitor) FetchSitemapURLs(ctx context.Context, sitemapURL string) ([]string, error) {
	var urls []string
	processed := make(map[string]struct{})
	queue := []string{sitemapURL}

	for len(queue) > 0 && len(processed) < maxSitemapDocs {
		next := queue[0]
		queue = queue[1:]
		if _, done := processed[next]; done {
			continue
		}
		processed[next] = struct{}{}

		body, err := v.getSitemap(ctx, next)
		if err != nil {
			if next == sitemapURL {
				return nil, err
			}
			v.logger.Warn("nested sitemap fetch failed", zap.String("sitemap", next), zap.Error(err))
			continue
		}
		entries, nested, err := sitemap.Parse(body)
		if err != nil {
			if next == sitemapURL {
				return nil, err
			}
			v.logger.Warn("nested sitemap parse failed", zap.String("sitemap", next), zap.Error(err))
			continue
		}
		for _, entry := range entries {
			urls = append(urls, entry.Loc)
		}
		queue = append(queue, nested...)
	}
	return urls, nil
}

func (v *ChromedpVisitor) getSitemap(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new sitemap request: %w", err)
	}
	req.Header.Set("User-Agent", v.userAgent)
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			v.logger.Debug("close sitemap body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
}

// Close tears down the browser. Safe to call more than once.
func (v *ChromedpVisitor) Close() error {
	v.closeOnce.Do(func() {
		close(v.closed)
		v.browserCancel()
		v.allocatorCancel()
	})
	return nil
}

type responseMeta struct {
	once   sync.Once
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) listen(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		m.once.Do(func() {
			m.status = int(resp.Response.Status)
			m.url = resp.Response.URL
		})
	})
}

func (m *responseMeta) result(requested string) (int, string) {
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	finalURL := m.url
	if finalURL == "" {
		finalURL = requested
	}
	return status, finalURL
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
