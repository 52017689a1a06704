// Package urlpolicy provides URL canonicalization and origin rules used as
// identity and admission primitives by the frontier and the crawl engines.
package urlpolicy

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrInvalidURL reports a string that cannot be used as an absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid url")

// Canonical normalizes a raw URL into the form used as the deduplication key.
// It lowercases the scheme and host, drops default ports, strips the fragment,
// and forces an empty path to "/". Canonical is idempotent: applying it to its
// own output yields the same string.
func Canonical(raw string) (string, error) {
	u, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Parse validates and normalizes a raw URL, returning the parsed form.
func Parse(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty string", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if host, port, splitErr := net.SplitHostPort(u.Host); splitErr == nil {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			u.Host = host
		}
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// SameOrigin reports whether two URLs share scheme, host, and port.
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Scheme == b.Scheme && strings.EqualFold(a.Host, b.Host)
}

// IsFetchable reports whether the URL uses a scheme the crawler can dispatch.
func IsFetchable(u *url.URL) bool {
	if u == nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Origin returns the scheme://host form of a URL.
func Origin(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
