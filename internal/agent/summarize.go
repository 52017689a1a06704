package agent

import (
	"context"
	"fmt"
	"strings"

	"webaudit/internal/report"
)

// Summarizer produces the analyze-phase content rollup. A failure here is
// recorded as a crawl error and never blocks run completion.
type Summarizer interface {
	Summarize(ctx context.Context, pages []report.PageRecord) (string, error)
}

// NopSummarizer skips summarization entirely.
type NopSummarizer struct{}

func (NopSummarizer) Summarize(context.Context, []report.PageRecord) (string, error) {
	return "", nil
}

// StatsSummarizer writes a short plain-text digest from the collected page
// metadata. It is the default when no external summarization backend is
// configured.
type StatsSummarizer struct {
	// MaxTitles bounds how many page titles the digest lists.
	MaxTitles int
}

func (s StatsSummarizer) Summarize(_ context.Context, pages []report.PageRecord) (string, error) {
	if len(pages) == 0 {
		return "No pages were audited.", nil
	}
	maxTitles := s.MaxTitles
	if maxTitles <= 0 {
		maxTitles = 5
	}

	var words int
	var titles []string
	for _, p := range pages {
		words += p.WordCount
		if p.Title != "" && len(titles) < maxTitles {
			titles = append(titles, p.Title)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Audited %d page(s) totaling %d words.", len(pages), words)
	if len(titles) > 0 {
		fmt.Fprintf(&b, " Topics include: %s.", strings.Join(titles, "; "))
	}
	return b.String(), nil
}
