// Package sitemap produces sitemap candidate URLs and parses sitemap XML.
// Retrieval of sitemap documents belongs to the fetch collaborator; this
// package only decides where to look and how to read what came back.
package sitemap

import (
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"fmt"
	"io"

	"webaudit/internal/robots"
	"webaudit/internal/urlpolicy"
)

// Entry is one <url> element from a urlset document.
type Entry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

type urlSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []Entry  `xml:"url"`
}

type indexEntry struct {
	Loc string `xml:"loc"`
}

type sitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []indexEntry `xml:"sitemap"`
}

// Candidates returns the sitemap URLs to try for a run: every Sitemap:
// declaration from the robots policy plus the conventional
// <origin>/sitemap.xml guess, deduplicated, declaration order preserved.
func Candidates(startURL string, policy *robots.Policy) []string {
	var candidates []string
	seen := make(map[string]struct{})
	add := func(raw string) {
		if raw == "" {
			return
		}
		if _, dup := seen[raw]; dup {
			return
		}
		seen[raw] = struct{}{}
		candidates = append(candidates, raw)
	}

	if policy != nil {
		for _, declared := range policy.Sitemaps {
			add(declared)
		}
	}
	if parsed, err := urlpolicy.Parse(startURL); err == nil {
		add(urlpolicy.Origin(parsed) + "/sitemap.xml")
	}
	return candidates
}

// Parse reads a sitemap document and returns its page URLs and, for index
// documents, the nested sitemap URLs to process next. Gzip payloads are
// transparently decompressed.
func Parse(body []byte) (urls []Entry, nested []string, err error) {
	body, err = maybeGunzip(body)
	if err != nil {
		return nil, nil, fmt.Errorf("decompress sitemap: %w", err)
	}

	var index sitemapIndex
	if xml.Unmarshal(body, &index) == nil && len(index.Sitemaps) > 0 {
		for _, sm := range index.Sitemaps {
			if sm.Loc != "" {
				nested = append(nested, sm.Loc)
			}
		}
		return nil, nested, nil
	}

	var set urlSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, nil, fmt.Errorf("parse sitemap xml: %w", err)
	}
	for _, entry := range set.URLs {
		if entry.Loc != "" {
			urls = append(urls, entry)
		}
	}
	return urls, nil, nil
}

func maybeGunzip(body []byte) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()
	return io.ReadAll(zr)
}
