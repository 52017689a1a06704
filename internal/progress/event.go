// Package progress defines the event stream emitted while an audit runs and
// the hub that fans events out to sinks without ever blocking the crawl.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event reports.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRobotsFetched Stage = "ROBOTS_FETCHED"
	StageSitemapLoaded Stage = "SITEMAP_LOADED"
	StagePageStart     Stage = "PAGE_START"
	StagePageDone      Stage = "PAGE_DONE"
	StagePageRetry     Stage = "PAGE_RETRY"
	StagePageError     Stage = "PAGE_ERROR"
	StagePageBlocked   Stage = "PAGE_BLOCKED"
	StageHumanWait     Stage = "HUMAN_WAIT"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
)

// Event captures a single milestone of audit progress.
type Event struct {
	// RunID identifies the audit run the event belongs to.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// URL is the page the event concerns, empty for run-level stages.
	URL string
	// Status carries the HTTP status for PAGE_DONE events.
	Status int
	// Attempt is the retry ordinal for PAGE_RETRY events.
	Attempt int
	// Dur captures latency for page and run completions.
	Dur time.Duration
	// Note attaches low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRobotsFetched, StageSitemapLoaded, StageRunDone, StageRunError:
	case StagePageStart, StagePageDone, StagePageRetry, StagePageError, StagePageBlocked, StageHumanWait:
		if e.URL == "" {
			return fmt.Errorf("stage %s requires a url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
