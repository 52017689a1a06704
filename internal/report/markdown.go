package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
)

// WriteMarkdown renders the combined report.md for a run.
func WriteMarkdown(w io.Writer, r *Report) error {
	md := markdown.NewMarkdown(w)

	md.H1("Website Audit Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Site", "`" + r.Site.Hostname + "`"},
			{"Start URL", r.Site.InputURL},
			{"Generated", r.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
			{"Run ID", "`" + r.RunID + "`"},
		},
	})
	md.PlainText("")

	writeSummarySection(md, r)
	writeRobotsSection(md, r)
	writePagesSection(md, r)
	writeErrorsSection(md, r)

	md.HorizontalRule()
	md.PlainTextf("*%d pages audited in %dms*", r.Summary.SuccessfulPages, r.Durations.TotalMS)

	return md.Build()
}

func writeSummarySection(md *markdown.Markdown, r *Report) {
	s := r.Summary
	md.H2("Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Total Pages", strconv.Itoa(s.TotalPages)},
			{"Successful", strconv.Itoa(s.SuccessfulPages)},
			{"Blocked by robots.txt", strconv.Itoa(s.BlockedPages)},
			{"Errors", strconv.Itoa(s.ErrorPages)},
			{"Pages With Title", strconv.Itoa(s.SEO.PagesWithTitle)},
			{"Pages With Description", strconv.Itoa(s.SEO.PagesWithDescription)},
			{"Pages With Canonical", strconv.Itoa(s.SEO.PagesWithCanonical)},
			{"Pages With H1", strconv.Itoa(s.SEO.PagesWithH1)},
			{"Pages With OpenGraph", strconv.Itoa(s.SEO.PagesWithOpenGraph)},
			{"Pages With Twitter Card", strconv.Itoa(s.SEO.PagesWithTwitterCard)},
			{"Pages With JSON-LD", strconv.Itoa(s.SEO.PagesWithJSONLD)},
			{"Internal Links", strconv.Itoa(s.Content.TotalInternalLinks)},
			{"External Links", strconv.Itoa(s.Content.TotalExternalLinks)},
			{"Avg Load Time", fmt.Sprintf("%dms", s.Performance.AvgLoadTimeMS)},
		},
	})
	md.PlainText("")

	if s.ErrorPages > 0 {
		md.Warningf("%d page(s) could not be audited. See the errors section.", s.ErrorPages)
	} else if s.SuccessfulPages > 0 {
		md.Tip("All dispatched pages were audited successfully.")
	}
	md.PlainText("")
}

func writeRobotsSection(md *markdown.Markdown, r *Report) {
	md.H2("Robots Policy")
	md.PlainText("")
	found := "not found (permissive default)"
	if r.Robots.Found {
		found = "found"
	}
	md.PlainTextf("robots.txt at `%s` was %s.", r.Robots.URL, found)
	md.PlainText("")
	if r.Robots.CrawlDelay > 0 {
		md.PlainTextf("Declared crawl delay: %.1fs.", r.Robots.CrawlDelay)
		md.PlainText("")
	}
	if len(r.Robots.Sitemaps) > 0 {
		md.PlainText("Declared sitemaps:")
		md.PlainText("")
		md.BulletList(r.Robots.Sitemaps...)
		md.PlainText("")
	}
}

func writePagesSection(md *markdown.Markdown, r *Report) {
	md.H2("Audited Pages")
	md.PlainText("")
	if len(r.Pages) == 0 {
		md.PlainText("No pages were audited.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(r.Pages))
	for i, p := range r.Pages {
		title := p.Title
		if title == "" {
			title = "-"
		}
		rows[i] = []string{
			truncate(p.FinalURL, 60),
			truncate(title, 40),
			strconv.Itoa(p.Status),
			strconv.Itoa(p.WordCount),
			fmt.Sprintf("%dms", p.LoadTimeMS),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Title", "Status", "Words", "Load"},
		Rows:   rows,
	})
	md.PlainText("")
}

func writeErrorsSection(md *markdown.Markdown, r *Report) {
	if len(r.Errors) == 0 {
		return
	}
	md.H2("Errors")
	md.PlainText("")
	rows := make([][]string, len(r.Errors))
	for i, e := range r.Errors {
		rows[i] = []string{truncate(e.URL, 60), truncate(e.Message, 70)}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Error"},
		Rows:   rows,
	})
	md.PlainText("")
}

// WritePageMarkdown renders the standalone per-page document stored under
// pages/ in the run directory.
func WritePageMarkdown(w io.Writer, p *PageRecord, index int) error {
	md := markdown.NewMarkdown(w)

	title := p.Title
	if title == "" {
		title = fmt.Sprintf("Page %d", index)
	}
	md.H1(title)
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"URL", p.FinalURL},
			{"Status", strconv.Itoa(p.Status)},
			{"Fetched", p.FetchedAt.Format("2006-01-02 15:04:05 MST")},
			{"Load Time", fmt.Sprintf("%dms", p.LoadTimeMS)},
			{"Words", strconv.Itoa(p.WordCount)},
		},
	})
	md.PlainText("")

	if p.Description != "" {
		md.PlainTextf("> %s", p.Description)
		md.PlainText("")
	}
	if err := md.Build(); err != nil {
		return err
	}

	// The converted page body is already markdown; append it verbatim.
	if p.Markdown != "" {
		if _, err := io.WriteString(w, "\n---\n\n"+strings.TrimSpace(p.Markdown)+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
