// Package frontier implements the crawl frontier: a FIFO queue of admitted
// URLs plus the pending/visited bookkeeping that guarantees each canonical
// URL is scheduled at most once and the page budget is never exceeded.
package frontier

import (
	"fmt"
	"net/url"
	"sync"

	"webaudit/internal/urlpolicy"
)

// SourceStart marks items seeded from the run's start URL.
const SourceStart = "start_url"

// SitemapSource records that an item came from the given sitemap document.
func SitemapSource(sitemapURL string) string {
	return "sitemap:" + sitemapURL
}

// Item is one unit of crawl work. URL is always in canonical form; Source
// records provenance. Items are never mutated after creation.
type Item struct {
	URL    string
	Source string
}

// Verdict reports the outcome of an enqueue attempt.
type Verdict int

// Enqueue verdicts, in gating order.
const (
	Accepted Verdict = iota
	RejectedScheme
	RejectedOrigin
	RejectedDuplicate
	RejectedBudget
	RejectedRobots
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case RejectedScheme:
		return "rejected_scheme"
	case RejectedOrigin:
		return "rejected_origin"
	case RejectedDuplicate:
		return "rejected_duplicate"
	case RejectedBudget:
		return "rejected_budget"
	case RejectedRobots:
		return "rejected_robots"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// AdmissionPolicy is the robots gate consulted last during enqueue.
type AdmissionPolicy interface {
	Allowed(rawURL string) bool
}

// Frontier owns the queue and the pending/visited sets. All methods are safe
// for concurrent use; a single mutex serializes every mutation so the budget
// check and the insert it guards are atomic.
type Frontier struct {
	mu       sync.Mutex
	origin   *url.URL
	maxPages int
	policy   AdmissionPolicy

	queue   []Item
	pending map[string]struct{}
	visited map[string]struct{}
	// alias maps a requested canonical URL to the canonical form of the URL
	// its redirect chain resolved to.
	alias map[string]string
}

// New builds a Frontier scoped to the seed's origin with a hard page budget.
func New(seedURL string, maxPages int) (*Frontier, error) {
	origin, err := urlpolicy.Parse(seedURL)
	if err != nil {
		return nil, fmt.Errorf("frontier seed: %w", err)
	}
	if maxPages <= 0 {
		return nil, fmt.Errorf("frontier budget must be > 0, got %d", maxPages)
	}
	return &Frontier{
		origin:   origin,
		maxPages: maxPages,
		pending:  make(map[string]struct{}),
		visited:  make(map[string]struct{}),
		alias:    make(map[string]string),
	}, nil
}

// SetPolicy installs the robots gate. Items already queued are unaffected;
// dispatchers re-check robots at dispatch time.
func (f *Frontier) SetPolicy(policy AdmissionPolicy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policy = policy
}

// Enqueue applies the admission gates in fixed order and, if every gate
// passes, marks the URL pending and appends it to the back of the queue
// (FIFO, so traversal is breadth-first). A non-nil error is returned only for
// URLs that cannot be canonicalized; every other rejection is a silent skip
// reported through the verdict.
func (f *Frontier) Enqueue(rawURL, source string) (Verdict, error) {
	parsed, err := urlpolicy.Parse(rawURL)
	if err != nil {
		return RejectedScheme, err
	}
	if !urlpolicy.IsFetchable(parsed) {
		return RejectedScheme, nil
	}
	if !urlpolicy.SameOrigin(parsed, f.origin) {
		return RejectedOrigin, nil
	}
	canonical := parsed.String()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.isKnownLocked(canonical) {
		return RejectedDuplicate, nil
	}
	if len(f.pending)+len(f.visited) >= f.maxPages {
		return RejectedBudget, nil
	}
	if f.policy != nil && !f.policy.Allowed(canonical) {
		return RejectedRobots, nil
	}

	f.pending[canonical] = struct{}{}
	f.queue = append(f.queue, Item{URL: canonical, Source: source})
	return Accepted, nil
}

// isKnownLocked reports whether the canonical URL is pending, visited, or
// already resolved through a redirect alias.
func (f *Frontier) isKnownLocked(canonical string) bool {
	if _, ok := f.pending[canonical]; ok {
		return true
	}
	if _, ok := f.visited[canonical]; ok {
		return true
	}
	if _, ok := f.alias[canonical]; ok {
		return true
	}
	return false
}

// Pop removes the head of the queue and moves its URL from pending to
// visited. The second return is false when the queue is empty.
func (f *Frontier) Pop() (Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.queue) > 0 {
		item := f.queue[0]
		f.queue = f.queue[1:]
		delete(f.pending, item.URL)
		if _, seen := f.visited[item.URL]; seen {
			// Raced with an alias resolution; the page is already accounted for.
			continue
		}
		f.visited[item.URL] = struct{}{}
		return item, true
	}
	return Item{}, false
}

// Requeue puts a popped item back at the front of the queue so the next
// worker probes it before fresh work. The URL moves from visited back to
// pending, keeping the two sets disjoint and their sum stable.
func (f *Frontier) Requeue(item Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.visited, item.URL)
	f.pending[item.URL] = struct{}{}
	f.queue = append([]Item{item}, f.queue...)
}

// ResolveFinal records that requestedURL's redirect chain landed on finalURL.
// It returns the canonical final URL and whether that page was already
// visited under its own identity, in which case the caller must not produce
// a second record for it. Future enqueues of either form are rejected as
// duplicates.
func (f *Frontier) ResolveFinal(requestedURL, finalURL string) (string, bool) {
	finalCanonical, err := urlpolicy.Canonical(finalURL)
	if err != nil || finalCanonical == requestedURL {
		return requestedURL, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.alias[requestedURL] = finalCanonical
	if _, seen := f.visited[finalCanonical]; seen {
		return finalCanonical, true
	}
	delete(f.pending, finalCanonical)
	f.queue = removeURL(f.queue, finalCanonical)
	f.visited[finalCanonical] = struct{}{}
	return finalCanonical, false
}

func removeURL(queue []Item, canonical string) []Item {
	kept := queue[:0]
	for _, item := range queue {
		if item.URL != canonical {
			kept = append(kept, item)
		}
	}
	return kept
}

// PendingCount returns the number of queued-but-undispatched URLs.
func (f *Frontier) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// VisitedCount returns the number of dequeued or skipped URLs.
func (f *Frontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}

// Remaining reports how much of the page budget is still unscheduled.
func (f *Frontier) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxPages - len(f.pending) - len(f.visited)
}

// Origin returns the origin URL the frontier is scoped to.
func (f *Frontier) Origin() *url.URL {
	return f.origin
}
