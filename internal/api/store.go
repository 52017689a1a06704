package api

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunState tracks an audit submitted through the API.
type RunState string

const (
	RunStateRunning RunState = "running"
	RunStateDone    RunState = "done"
	RunStateFailed  RunState = "failed"
)

// Run is the API-visible record of one submitted audit.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	URL        string     `json:"url"`
	State      RunState   `json:"state"`
	ReportDir  string     `json:"report_dir,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// runStore keeps submitted runs in memory for the lifetime of the server.
type runStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]Run
}

func newRunStore() *runStore {
	return &runStore{runs: make(map[uuid.UUID]Run)}
}

func (s *runStore) put(run Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
}

func (s *runStore) get(id uuid.UUID) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	return run, ok
}

func (s *runStore) finish(id uuid.UUID, dir string, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	run.FinishedAt = &now
	if runErr != nil {
		run.State = RunStateFailed
		run.Error = runErr.Error()
	} else {
		run.State = RunStateDone
		run.ReportDir = dir
	}
	s.runs[id] = run
}

func (s *runStore) list() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}
