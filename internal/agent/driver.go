package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"webaudit/internal/crawler"
	"webaudit/internal/fetch"
	"webaudit/internal/frontier"
	"webaudit/internal/progress"
	"webaudit/internal/report"
	"webaudit/internal/robots"
	"webaudit/internal/sitemap"
)

const (
	// DefaultMaxRetries bounds priority retries per in-flight item.
	DefaultMaxRetries = 3
	// DefaultFanoutCap bounds links admitted from a single page so one hub
	// page cannot flood the frontier.
	DefaultFanoutCap = 25
)

// Config tunes one state machine run.
type Config struct {
	RunID        uuid.UUID
	StartURL     string
	ProvidedURLs []string
	Scope        crawler.Scope
	MaxPages     int
	MaxRetries   int
	FanoutCap    int
	// Policy, when set, is used instead of fetching robots.txt during
	// discovery.
	Policy *robots.Policy
	// Attended marks an interactive run where an operator can resolve a
	// human pause. Unattended runs degrade the pause immediately.
	Attended bool
	// HumanTimeout bounds how long an attended run waits for the operator.
	// Zero means wait until the run context is canceled.
	HumanTimeout time.Duration
}

// Driver owns the state and advances it one transition at a time.
type Driver struct {
	cfg        Config
	frontier   *frontier.Frontier
	visitor    fetch.Visitor
	robots     *robots.Fetcher
	policy     *robots.Policy
	summarizer Summarizer
	emitter    progress.Emitter
	logger     *zap.Logger

	state  State
	resume chan struct{}

	sitemapURLs     []string
	sitemapAdmitted int
}

// New builds a driver in the init phase.
func New(cfg Config, v fetch.Visitor, rf *robots.Fetcher, summarizer Summarizer, emitter progress.Emitter, logger *zap.Logger) (*Driver, error) {
	if cfg.StartURL == "" {
		return nil, fmt.Errorf("start url is required")
	}
	if cfg.MaxPages <= 0 {
		return nil, fmt.Errorf("max pages must be positive, got %d", cfg.MaxPages)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.FanoutCap <= 0 {
		cfg.FanoutCap = DefaultFanoutCap
	}
	if cfg.Scope == "" {
		cfg.Scope = crawler.ScopeSite
	}
	if summarizer == nil {
		summarizer = NopSummarizer{}
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := frontier.New(cfg.StartURL, cfg.MaxPages)
	if err != nil {
		return nil, fmt.Errorf("build frontier: %w", err)
	}
	return &Driver{
		cfg:        cfg,
		frontier:   f,
		visitor:    v,
		robots:     rf,
		summarizer: summarizer,
		emitter:    emitter,
		logger:     logger,
		state:      State{Phase: PhaseInit},
		resume:     make(chan struct{}, 1),
	}, nil
}

// State returns a snapshot pointer for inspection. Callers must not mutate
// it while Run is in flight.
func (d *Driver) State() *State {
	return &d.state
}

// SitemapStats reports which sitemap documents yielded URLs and how many
// were admitted to the frontier.
func (d *Driver) SitemapStats() (documents []string, admitted int) {
	return d.sitemapURLs, d.sitemapAdmitted
}

// Policy returns the robots policy the run operated under, nil before
// discovery runs.
func (d *Driver) Policy() *robots.Policy {
	return d.policy
}

// Resume signals the operator has resolved the pending bot challenge.
func (d *Driver) Resume() {
	select {
	case d.resume <- struct{}{}:
	default:
	}
}

// Run advances transitions until the done phase or ctx cancellation.
func (d *Driver) Run(ctx context.Context) (*State, error) {
	for d.state.Phase != PhaseDone {
		if err := ctx.Err(); err != nil {
			return &d.state, err
		}
		u, err := d.step(ctx)
		if err != nil {
			return &d.state, err
		}
		d.state.Apply(u)
	}
	return &d.state, nil
}

func (d *Driver) step(ctx context.Context) (Update, error) {
	switch d.state.Phase {
	case PhaseInit:
		return d.stepInit(), nil
	case PhaseDiscovery:
		return d.stepDiscovery(ctx), nil
	case PhaseCrawl:
		return d.stepCrawl(ctx), nil
	case PhaseHuman:
		return d.stepHuman(ctx), nil
	case PhaseAnalyze:
		return d.stepAnalyze(ctx), nil
	default:
		return Update{}, fmt.Errorf("no transition from phase %q", d.state.Phase)
	}
}

// stepInit seeds the frontier from the provided URLs or the start URL alone.
func (d *Driver) stepInit() Update {
	seeds := d.cfg.ProvidedURLs
	if len(seeds) == 0 {
		seeds = []string{d.cfg.StartURL}
	}
	for _, seed := range seeds {
		verdict, err := d.frontier.Enqueue(seed, frontier.SourceStart)
		if err != nil {
			d.logger.Warn("seed rejected", zap.String("url", seed), zap.Error(err))
			continue
		}
		if verdict != frontier.Accepted {
			d.logger.Warn("seed not admitted", zap.String("url", seed), zap.Stringer("verdict", verdict))
		}
	}
	d.emit(progress.StageRunStart, "", 0, "")
	return Update{Phase: PhaseDiscovery}
}

// stepDiscovery installs the robots policy and, for site scope, drains the
// sitemap candidates into the frontier.
func (d *Driver) stepDiscovery(ctx context.Context) Update {
	switch {
	case d.cfg.Policy != nil:
		d.policy = d.cfg.Policy
	case d.robots != nil:
		d.policy = d.robots.Fetch(ctx, d.cfg.StartURL)
	default:
		d.policy = robots.Permissive()
	}
	d.frontier.SetPolicy(d.policy)
	d.emit(progress.StageRobotsFetched, "", 0, d.policy.Summary())

	if d.cfg.Scope == crawler.ScopeSite {
		d.loadSitemaps(ctx)
	}
	return Update{Phase: PhaseCrawl}
}

func (d *Driver) loadSitemaps(ctx context.Context) {
	for _, candidate := range sitemap.Candidates(d.cfg.StartURL, d.policy) {
		if d.frontier.Remaining() == 0 {
			return
		}
		urls, err := d.visitor.FetchSitemapURLs(ctx, candidate)
		if err != nil {
			// A missing or broken sitemap never aborts the run.
			d.logger.Debug("sitemap unavailable", zap.String("sitemap", candidate), zap.Error(err))
			continue
		}
		admitted := 0
		for _, u := range urls {
			verdict, err := d.frontier.Enqueue(u, frontier.SitemapSource(candidate))
			if err == nil && verdict == frontier.Accepted {
				admitted++
			}
		}
		d.sitemapURLs = append(d.sitemapURLs, candidate)
		d.sitemapAdmitted += admitted
		d.emit(progress.StageSitemapLoaded, "", 0, fmt.Sprintf("%s: %d admitted", candidate, admitted))
	}
}

// stepCrawl dispatches one item and classifies the outcome.
func (d *Driver) stepCrawl(ctx context.Context) Update {
	item := d.state.Current
	if item == nil {
		popped, ok := d.frontier.Pop()
		if !ok {
			return Update{Phase: PhaseAnalyze}
		}
		item = &popped
	}

	if d.policy != nil && !d.policy.Allowed(item.URL) {
		d.emit(progress.StagePageBlocked, item.URL, 0, "blocked by robots.txt")
		return Update{
			Errors:     []report.CrawlError{{URL: item.URL, Message: "blocked by robots.txt", Blocked: true, At: time.Now().UTC()}},
			SetCurrent: true, Current: nil,
			SetRetries: true, Retries: 0,
		}
	}

	d.emit(progress.StagePageStart, item.URL, 0, "")
	data, err := d.visitor.Visit(ctx, item.URL)
	if err != nil {
		return d.classifyFailure(*item, err)
	}
	return d.recordPage(*item, data)
}

func (d *Driver) classifyFailure(item frontier.Item, err error) Update {
	switch fetch.Classify(err) {
	case fetch.KindBotChallenge:
		d.emit(progress.StagePageBlocked, item.URL, 0, err.Error())
		d.logger.Warn("bot challenge detected", zap.String("url", item.URL), zap.Error(err))
		return Update{
			Phase:            PhaseHuman,
			SetCurrent:       true,
			Current:          &item,
			SetAwaitingHuman: true,
			AwaitingHuman:    true,
		}
	case fetch.KindTransient:
		if d.state.Retries < d.cfg.MaxRetries {
			d.frontier.Requeue(item)
			d.emit(progress.StagePageRetry, item.URL, d.state.Retries+1, err.Error())
			return Update{
				SetCurrent: true, Current: nil,
				SetRetries: true, Retries: d.state.Retries + 1,
			}
		}
	}

	d.emit(progress.StagePageError, item.URL, 0, err.Error())
	return Update{
		Errors:     []report.CrawlError{{URL: item.URL, Message: err.Error(), At: time.Now().UTC()}},
		SetCurrent: true, Current: nil,
		SetRetries: true, Retries: 0,
	}
}

func (d *Driver) recordPage(item frontier.Item, data *fetch.PageData) Update {
	finalURL, dup := d.frontier.ResolveFinal(item.URL, data.FinalURL)
	clear := Update{
		SetCurrent: true, Current: nil,
		SetRetries: true, Retries: 0,
	}
	if dup {
		d.logger.Debug("redirect target already audited", zap.String("url", item.URL), zap.String("final", finalURL))
		return clear
	}

	if d.cfg.Scope == crawler.ScopeSite {
		admitted := 0
		for _, link := range data.Links {
			if admitted >= d.cfg.FanoutCap {
				break
			}
			verdict, err := d.frontier.Enqueue(link, item.URL)
			if err == nil && verdict == frontier.Accepted {
				admitted++
			}
		}
	}

	d.emitter.Emit(progress.Event{
		RunID:  d.cfg.RunID,
		TS:     time.Now().UTC(),
		Stage:  progress.StagePageDone,
		URL:    item.URL,
		Status: data.Status,
	})
	clear.Pages = []report.PageRecord{crawler.NewPageRecord(item.URL, finalURL, data)}
	return clear
}

// stepHuman waits for the operator to resolve a bot challenge. Unattended
// runs, operator timeouts, and cancellation all degrade to analyze with the
// page left unresolved.
func (d *Driver) stepHuman(ctx context.Context) Update {
	item := d.state.Current
	if item == nil {
		return Update{Phase: PhaseCrawl, SetAwaitingHuman: true, AwaitingHuman: false}
	}

	if !d.cfg.Attended {
		return d.degradeHuman(*item, "unattended run")
	}

	d.emit(progress.StageHumanWait, item.URL, 0, "waiting for operator")
	var timeout <-chan time.Time
	if d.cfg.HumanTimeout > 0 {
		timer := time.NewTimer(d.cfg.HumanTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-d.resume:
		d.logger.Info("operator resolved challenge", zap.String("url", item.URL))
		d.frontier.Requeue(*item)
		return Update{
			Phase:            PhaseCrawl,
			SetCurrent:       true,
			Current:          nil,
			SetRetries:       true,
			Retries:          0,
			SetAwaitingHuman: true,
			AwaitingHuman:    false,
		}
	case <-timeout:
		return d.degradeHuman(*item, "operator did not respond")
	case <-ctx.Done():
		return d.degradeHuman(*item, "run canceled during human wait")
	}
}

func (d *Driver) degradeHuman(item frontier.Item, reason string) Update {
	d.logger.Warn("bot challenge left unresolved", zap.String("url", item.URL), zap.String("reason", reason))
	return Update{
		Phase:            PhaseAnalyze,
		SetCurrent:       true,
		Current:          nil,
		SetRetries:       true,
		Retries:          0,
		SetAwaitingHuman: true,
		AwaitingHuman:    false,
		Unresolved:       []string{item.URL},
		Errors: []report.CrawlError{{
			URL:     item.URL,
			Message: "bot challenge unresolved: " + reason,
			At:      time.Now().UTC(),
		}},
	}
}

// stepAnalyze runs summarization over the collected pages and terminates
// the run. A summarizer failure is recorded, never fatal.
func (d *Driver) stepAnalyze(ctx context.Context) Update {
	summary, err := d.summarizer.Summarize(ctx, d.state.Pages)
	if err != nil {
		d.logger.Warn("summarization failed", zap.Error(err))
		d.emit(progress.StageRunError, "", 0, "summarization failed")
		return Update{
			Phase: PhaseDone,
			Errors: []report.CrawlError{{
				URL:     d.cfg.StartURL,
				Message: "summarization failed: " + err.Error(),
				At:      time.Now().UTC(),
			}},
		}
	}
	d.emit(progress.StageRunDone, "", 0, "")
	return Update{Phase: PhaseDone, Summary: summary}
}

func (d *Driver) emit(stage progress.Stage, url string, attempt int, note string) {
	d.emitter.Emit(progress.Event{
		RunID:   d.cfg.RunID,
		TS:      time.Now().UTC(),
		Stage:   stage,
		URL:     url,
		Attempt: attempt,
		Note:    note,
	})
}
