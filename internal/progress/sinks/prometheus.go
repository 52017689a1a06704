package sinks

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"webaudit/internal/progress"
)

// PrometheusSink exports progress events as prometheus counters.
type PrometheusSink struct {
	pagesDone    prometheus.Counter
	pageErrors   prometheus.Counter
	pageRetries  prometheus.Counter
	pagesBlocked prometheus.Counter
	runsDone     prometheus.Counter
}

// NewPrometheusSink registers the audit counters with the given registerer.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	s := &PrometheusSink{
		pagesDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webaudit_pages_total",
			Help: "Pages successfully visited and extracted.",
		}),
		pageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webaudit_page_errors_total",
			Help: "Pages that failed after exhausting retries.",
		}),
		pageRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webaudit_page_retries_total",
			Help: "Transient page failures that were retried.",
		}),
		pagesBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webaudit_pages_blocked_total",
			Help: "Pages skipped because robots.txt disallowed them or a bot challenge fired.",
		}),
		runsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webaudit_runs_total",
			Help: "Completed audit runs.",
		}),
	}
	for _, c := range []prometheus.Collector{
		s.pagesDone, s.pageErrors, s.pageRetries, s.pagesBlocked, s.runsDone,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Consume implements progress.Sink.
func (s *PrometheusSink) Consume(_ context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StagePageDone:
		s.pagesDone.Inc()
	case progress.StagePageError:
		s.pageErrors.Inc()
	case progress.StagePageRetry:
		s.pageRetries.Inc()
	case progress.StagePageBlocked:
		s.pagesBlocked.Inc()
	case progress.StageRunDone:
		s.runsDone.Inc()
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
