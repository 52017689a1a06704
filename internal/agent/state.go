// Package agent drives an audit run as an explicit state machine. Each
// transition computes a partial update and the driver merges it, so failure
// modes such as blocked pages or exhausted retries are phases rather than
// control flow accidents.
package agent

import (
	"webaudit/internal/frontier"
	"webaudit/internal/report"
)

// Phase tags the node of the state graph a run currently occupies.
type Phase string

const (
	PhaseInit      Phase = "init"
	PhaseDiscovery Phase = "discovery"
	PhaseCrawl     Phase = "crawl"
	PhaseHuman     Phase = "human"
	PhaseAnalyze   Phase = "analyze"
	PhaseDone      Phase = "done"
)

// State is the single mutable record threaded through transitions. Only the
// driver mutates it, and only through Apply.
type State struct {
	Phase Phase

	// Current is the item being crawled, nil between dispatches. It stays
	// set across the human pause; a priority retry instead requeues the item
	// at the front and clears it, with Retries carrying the attempt count to
	// the next dispatch.
	Current *frontier.Item
	// Retries counts failed attempts for Current.
	Retries int

	Pages  []report.PageRecord
	Errors []report.CrawlError

	// AwaitingHuman is set while the run is paused on a bot challenge.
	AwaitingHuman bool
	// Unresolved lists URLs abandoned because a human pause could not be
	// resolved.
	Unresolved []string

	// Summary holds the analyze-phase content rollup.
	Summary string
}

// Update is the partial result of one transition. Zero-valued fields leave
// the state untouched; slices always append.
type Update struct {
	Phase Phase

	SetCurrent bool
	Current    *frontier.Item

	SetRetries bool
	Retries    int

	Pages  []report.PageRecord
	Errors []report.CrawlError

	SetAwaitingHuman bool
	AwaitingHuman    bool

	Unresolved []string

	Summary string
}

// Apply merges an update into the state: replace for scalars, append for
// the accumulating lists.
func (s *State) Apply(u Update) {
	if u.Phase != "" {
		s.Phase = u.Phase
	}
	if u.SetCurrent {
		s.Current = u.Current
	}
	if u.SetRetries {
		s.Retries = u.Retries
	}
	s.Pages = append(s.Pages, u.Pages...)
	s.Errors = append(s.Errors, u.Errors...)
	if u.SetAwaitingHuman {
		s.AwaitingHuman = u.AwaitingHuman
	}
	s.Unresolved = append(s.Unresolved, u.Unresolved...)
	if u.Summary != "" {
		s.Summary = u.Summary
	}
}
