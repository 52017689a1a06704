package fetch

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

var headingLevels = []string{"h1", "h2", "h3", "h4", "h5", "h6"}

// extractPage parses the rendered DOM and fills the content fields of a
// PageData. Link and image URLs are resolved against the final URL and only
// absolute http(s) results are kept.
func extractPage(html, finalURL string) (*PageData, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse dom: %w", err)
	}
	base, err := url.Parse(finalURL)
	if err != nil {
		return nil, fmt.Errorf("parse final url: %w", err)
	}

	data := &PageData{
		FinalURL:    finalURL,
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: metaContent(doc, "description"),
		Canonical:   canonicalHref(doc),
		MetaRobots:  metaContent(doc, "robots"),
		Author:      metaContent(doc, "author"),
		Keywords:    metaContent(doc, "keywords"),
		OpenGraph:   prefixedMeta(doc, "property", "og:"),
		TwitterCard: twitterMeta(doc),
		JSONLD:      extractJSONLD(doc),
		Headings:    extractHeadings(doc),
		Text:        collapseWhitespace(doc.Find("body").Text()),
		Links:       resolveAttrs(doc, base, "a[href]", "href"),
		Images:      resolveAttrs(doc, base, "img[src]", "src"),
	}

	converter := md.NewConverter(base.Host, true, nil)
	if markdown, convErr := converter.ConvertString(html); convErr == nil {
		data.Markdown = markdown
	}
	return data, nil
}

func metaContent(doc *goquery.Document, name string) string {
	content, _ := doc.Find(fmt.Sprintf(`meta[name=%q]`, name)).First().Attr("content")
	return strings.TrimSpace(content)
}

func canonicalHref(doc *goquery.Document) string {
	href, _ := doc.Find(`link[rel="canonical"]`).First().Attr("href")
	return strings.TrimSpace(href)
}

// prefixedMeta collects meta tags whose attr value starts with prefix, keyed
// by the remainder. First occurrence wins; nil when nothing matched.
func prefixedMeta(doc *goquery.Document, attr, prefix string) map[string]string {
	var out map[string]string
	doc.Find("meta["+attr+"]").Each(func(_ int, sel *goquery.Selection) {
		key, _ := sel.Attr(attr)
		if !strings.HasPrefix(key, prefix) {
			return
		}
		name := strings.TrimPrefix(key, prefix)
		content := strings.TrimSpace(sel.AttrOr("content", ""))
		if name == "" || content == "" {
			return
		}
		if out == nil {
			out = make(map[string]string)
		}
		if _, dup := out[name]; !dup {
			out[name] = content
		}
	})
	return out
}

// twitterMeta reads Twitter card tags, which appear in the wild under both
// name= and property=.
func twitterMeta(doc *goquery.Document) map[string]string {
	out := prefixedMeta(doc, "name", "twitter:")
	for name, content := range prefixedMeta(doc, "property", "twitter:") {
		if out == nil {
			out = make(map[string]string)
		}
		if _, dup := out[name]; !dup {
			out[name] = content
		}
	}
	return out
}

// extractJSONLD decodes application/ld+json blocks, flattening top-level
// arrays and skipping malformed scripts.
func extractJSONLD(doc *goquery.Document) []map[string]any {
	var out []map[string]any
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return
		}
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return
		}
		switch v := decoded.(type) {
		case map[string]any:
			out = append(out, v)
		case []any:
			for _, entry := range v {
				if obj, ok := entry.(map[string]any); ok {
					out = append(out, obj)
				}
			}
		}
	})
	return out
}

func extractHeadings(doc *goquery.Document) map[string][]string {
	headings := make(map[string][]string)
	for _, level := range headingLevels {
		doc.Find(level).Each(func(_ int, sel *goquery.Selection) {
			text := collapseWhitespace(sel.Text())
			if text != "" {
				headings[level] = append(headings[level], text)
			}
		})
	}
	return headings
}

func resolveAttrs(doc *goquery.Document, base *url.URL, selector, attr string) []string {
	var out []string
	seen := make(map[string]struct{})
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		raw, ok := sel.Attr(attr)
		if !ok {
			return
		}
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			return
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		abs := resolved.String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})
	return out
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
