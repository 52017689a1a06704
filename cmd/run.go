package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"webaudit/internal/agent"
	"webaudit/internal/config"
	"webaudit/internal/crawler"
	"webaudit/internal/fetch"
	"webaudit/internal/frontier"
	"webaudit/internal/progress"
	"webaudit/internal/report"
	"webaudit/internal/robots"
	"webaudit/internal/sitemap"
	"webaudit/internal/urlpolicy"
)

const (
	engineAgent = "agent"
	engineFlat  = "flat"
)

type auditOptions struct {
	url         string
	engine      string
	scope       string
	maxPages    int
	concurrency int
	screenshots bool
	attended    bool
	outputDir   string

	// resumeInput feeds operator keystrokes to the human pause in attended
	// runs, normally stdin.
	resumeInput io.Reader
}

// executeAudit runs one full audit and returns the published report
// directory.
func executeAudit(ctx context.Context, cfg config.Config, opts auditOptions, emitter progress.Emitter, logger *zap.Logger) (string, error) {
	start := time.Now()

	startURL, err := urlpolicy.Canonical(opts.url)
	if err != nil {
		return "", fmt.Errorf("invalid start url %q: %w", opts.url, err)
	}
	origin, err := urlpolicy.Parse(startURL)
	if err != nil {
		return "", fmt.Errorf("invalid start url %q: %w", opts.url, err)
	}
	if opts.maxPages <= 0 {
		opts.maxPages = cfg.Crawl.MaxPages
	}
	if opts.concurrency <= 0 {
		opts.concurrency = cfg.Crawl.Concurrency
	}
	if opts.scope == "" {
		opts.scope = cfg.Crawl.Scope
	}
	if opts.outputDir == "" {
		opts.outputDir = cfg.Output.Dir
	}

	policy := robots.Permissive()
	if cfg.Crawl.RespectRobots {
		policy = robots.NewFetcher(cfg.Crawl.UserAgent, logger).Fetch(ctx, startURL)
	}

	delay := cfg.CrawlDelay()
	if policy.CrawlDelay > delay {
		delay = policy.CrawlDelay
	}
	visitor, err := fetch.NewChromedpVisitor(fetch.Config{
		UserAgent:      cfg.Crawl.UserAgent,
		Timeout:        cfg.NavTimeout(),
		MaxConcurrency: opts.concurrency,
		Delay:          delay,
		Screenshots:    opts.screenshots,
	}, logger)
	if err != nil {
		return "", fmt.Errorf("start browser backend: %w", err)
	}
	defer func() {
		if cerr := visitor.Close(); cerr != nil {
			logger.Warn("browser shutdown failed", zap.Error(cerr))
		}
	}()
	discoveryMS := time.Since(start).Milliseconds()

	runID := uuid.New()
	crawlStart := time.Now()

	var out engineOutput
	switch opts.engine {
	case engineAgent, "":
		out, err = runAgentEngine(ctx, cfg, opts, runID, startURL, policy, visitor, emitter, logger)
	case engineFlat:
		out, err = runFlatEngine(ctx, cfg, opts, runID, startURL, policy, visitor, emitter, logger)
	default:
		return "", fmt.Errorf("unknown engine %q (want %s or %s)", opts.engine, engineAgent, engineFlat)
	}
	if err != nil {
		return "", err
	}
	// The agent driver may substitute a policy during discovery; report the
	// one the run actually operated under.
	if out.policy != nil {
		policy = out.policy
	}

	rep := &report.Report{
		Version:     report.Version,
		RunID:       report.RunID(origin.Hostname(), start),
		GeneratedAt: time.Now().UTC(),
		Site: report.SiteInfo{
			InputURL: opts.url,
			Origin:   urlpolicy.Origin(origin),
			Hostname: origin.Hostname(),
		},
		Robots: report.RobotsInfo{
			URL:        policy.RobotsURL,
			Found:      policy.Found,
			CrawlDelay: policy.CrawlDelay.Seconds(),
			Sitemaps:   policy.Sitemaps,
			FetchError: policy.FetchError,
		},
		Sitemap: report.SitemapInfo{
			Discovered:  out.admitted > 0,
			TotalURLs:   out.admitted,
			SitemapURLs: out.sitemapDocs,
		},
		Pages:  out.pages,
		Errors: out.errors,
		Summary: report.BuildSummary(out.pages, out.errors, func(link string) bool {
			u, perr := urlpolicy.Parse(link)
			return perr == nil && urlpolicy.SameOrigin(u, origin)
		}),
		ContentDigest: out.digest,
		Durations: report.Durations{
			DiscoveryMS: discoveryMS,
			CrawlMS:     time.Since(crawlStart).Milliseconds(),
			TotalMS:     time.Since(start).Milliseconds(),
		},
	}

	dir, err := report.NewWriter(opts.outputDir, logger).Publish(rep)
	if err != nil {
		return "", fmt.Errorf("publish report: %w", err)
	}
	logger.Info("audit complete",
		zap.String("url", startURL),
		zap.Int("pages", len(out.pages)),
		zap.Int("errors", len(out.errors)),
		zap.String("report", dir))
	return dir, nil
}

// engineOutput is what either engine hands back for report assembly.
type engineOutput struct {
	pages       []report.PageRecord
	errors      []report.CrawlError
	digest      string
	policy      *robots.Policy
	sitemapDocs []string
	admitted    int
}

func runAgentEngine(
	ctx context.Context,
	cfg config.Config,
	opts auditOptions,
	runID uuid.UUID,
	startURL string,
	policy *robots.Policy,
	visitor fetch.Visitor,
	emitter progress.Emitter,
	logger *zap.Logger,
) (engineOutput, error) {
	driver, err := agent.New(agent.Config{
		RunID:        runID,
		StartURL:     startURL,
		Scope:        crawler.Scope(opts.scope),
		MaxPages:     opts.maxPages,
		MaxRetries:   cfg.Crawl.MaxRetries,
		FanoutCap:    cfg.Crawl.FanoutCap,
		Policy:       policy,
		Attended:     opts.attended,
		HumanTimeout: 5 * time.Minute,
	}, visitor, nil, agent.StatsSummarizer{}, emitter, logger)
	if err != nil {
		return engineOutput{}, fmt.Errorf("build state machine: %w", err)
	}

	if opts.attended && opts.resumeInput != nil {
		go watchResume(opts.resumeInput, driver, logger)
	}

	state, err := driver.Run(ctx)
	if err != nil {
		return engineOutput{}, fmt.Errorf("run state machine: %w", err)
	}
	out := engineOutput{
		pages:  state.Pages,
		errors: state.Errors,
		digest: state.Summary,
		policy: driver.Policy(),
	}
	out.sitemapDocs, out.admitted = driver.SitemapStats()
	return out, nil
}

func runFlatEngine(
	ctx context.Context,
	cfg config.Config,
	opts auditOptions,
	runID uuid.UUID,
	startURL string,
	policy *robots.Policy,
	visitor fetch.Visitor,
	emitter progress.Emitter,
	logger *zap.Logger,
) (engineOutput, error) {
	out := engineOutput{policy: policy}
	f, err := frontier.New(startURL, opts.maxPages)
	if err != nil {
		return engineOutput{}, fmt.Errorf("build frontier: %w", err)
	}
	if _, err := f.Enqueue(startURL, frontier.SourceStart); err != nil {
		return engineOutput{}, fmt.Errorf("seed frontier: %w", err)
	}
	f.SetPolicy(policy)

	if crawler.Scope(opts.scope) == crawler.ScopeSite {
		for _, candidate := range sitemap.Candidates(startURL, policy) {
			urls, serr := visitor.FetchSitemapURLs(ctx, candidate)
			if serr != nil {
				logger.Debug("sitemap unavailable", zap.String("sitemap", candidate), zap.Error(serr))
				continue
			}
			out.sitemapDocs = append(out.sitemapDocs, candidate)
			for _, u := range urls {
				verdict, qerr := f.Enqueue(u, frontier.SitemapSource(candidate))
				if qerr == nil && verdict == frontier.Accepted {
					out.admitted++
				}
			}
		}
	}

	eng := crawler.New(crawler.Config{
		RunID:       runID,
		Scope:       crawler.Scope(opts.scope),
		Concurrency: opts.concurrency,
		MaxRetries:  cfg.Crawl.MaxRetries,
	}, f, visitor, policy, emitter, logger)

	result, err := eng.Run(ctx)
	if err != nil {
		return engineOutput{}, fmt.Errorf("run crawl: %w", err)
	}
	out.pages = result.Pages
	out.errors = result.Errors
	return out, nil
}

// watchResume turns operator input lines into resume signals during a human
// pause.
func watchResume(input io.Reader, driver *agent.Driver, logger *zap.Logger) {
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		logger.Info("operator input received, resuming crawl")
		driver.Resume()
	}
}
