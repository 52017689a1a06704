package report

import (
	"strings"
	"time"
)

const (
	runIDTimeLayout = "2006-01-02T15-04-05"
	maxHostPart     = 80
)

// RunID names the output directory for a run: the sanitized hostname joined
// with a filesystem-safe timestamp, e.g. "example.com_2026-08-29T14-03-07".
func RunID(hostname string, now time.Time) string {
	host := sanitizeHost(hostname)
	if host == "" {
		host = "site"
	}
	return host + "_" + now.Format(runIDTimeLayout)
}

func sanitizeHost(hostname string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(hostname) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
		if b.Len() >= maxHostPart {
			break
		}
	}
	return strings.Trim(b.String(), "-.")
}

// SanitizeFilename makes an arbitrary string safe as a file name component.
func SanitizeFilename(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return -1
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, name)
	cleaned = strings.TrimSpace(cleaned)
	if len(cleaned) > 50 {
		cleaned = strings.TrimSpace(cleaned[:50])
	}
	if cleaned == "" {
		return "untitled"
	}
	return cleaned
}
