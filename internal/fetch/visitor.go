// Package fetch defines the visit collaborator contract consumed by the
// crawl engines and its headless-Chrome implementation. Failures carry an
// enumerated classification so callers decide retry versus human
// intervention without parsing message text.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a visit failure.
type Kind int

// Failure classifications.
const (
	// KindTransient covers network and timeout failures worth retrying.
	KindTransient Kind = iota
	// KindBotChallenge marks challenges (captcha, interstitial, 403/429
	// walls) that retrying cannot clear; these route to human intervention.
	KindBotChallenge
	// KindFatal marks failures that are neither retryable nor resolvable,
	// such as a definitive 404 or a cancelled run.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindBotChallenge:
		return "bot_challenge"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the typed failure returned by Visitor implementations.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("visit %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a classification.
func NewError(kind Kind, url string, err error) *Error {
	return &Error{Kind: kind, URL: url, Err: err}
}

// challengeMarkers are the legacy message patterns kept for errors that
// arrive from outside this package without a classification.
var challengeMarkers = []string{
	"captcha",
	"challenge",
	"just a moment",
	"attention required",
	"access denied",
	"bot detection",
	"blocked",
}

// Classify returns the failure kind for err. Typed errors carry their own
// kind; everything else falls back to context inspection and message
// patterns, defaulting to transient so unknown failures still get retried.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range challengeMarkers {
		if strings.Contains(msg, marker) {
			return KindBotChallenge
		}
	}
	return KindTransient
}

// PageData is the result of one successful visit: navigation outcome plus
// everything the in-page extraction produced.
type PageData struct {
	URL         string
	FinalURL    string
	Status      int
	Title       string
	Description string
	Canonical   string
	MetaRobots  string
	Author      string
	Keywords    string
	OpenGraph   map[string]string
	TwitterCard map[string]string
	JSONLD      []map[string]any
	Headings    map[string][]string
	Text        string
	Markdown    string
	Links       []string
	Images      []string
	Screenshot  []byte
	LoadTimeMS  int64
}

// Visitor is the browser-automation collaborator contract. Visit and
// FetchSitemapURLs must honor ctx cancellation; Close releases backend
// resources and is safe to call once per run regardless of outcome.
type Visitor interface {
	Visit(ctx context.Context, rawURL string) (*PageData, error)
	FetchSitemapURLs(ctx context.Context, sitemapURL string) ([]string, error)
	Close() error
}
