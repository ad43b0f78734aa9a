package capture

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/chromedp/cdproto/har"
	"github.com/chromedp/cdproto/network"
)

// ParseHeaders parses "Name: value" strings into a header map. Entries
// without a colon or with an empty name are skipped; later entries win.
func ParseHeaders(lines []string) map[string]string {
	headers := make(map[string]string, len(lines))
	for _, kv := range lines {
		idx := strings.Index(kv, ":")
		if idx <= 0 {
			continue
		}
		name := strings.TrimSpace(kv[:idx])
		if name == "" {
			continue
		}
		headers[name] = strings.TrimSpace(kv[idx+1:])
	}
	return headers
}

// nameValues flattens headers into sorted HAR pairs. The browser joins
// repeated headers with newlines; each value becomes its own pair.
func nameValues(h network.Headers) []*har.NameValuePair {
	pairs := make([]*har.NameValuePair, 0, len(h))
	for name, v := range h {
		for _, value := range strings.Split(fmt.Sprint(v), "\n") {
			pairs = append(pairs, &har.NameValuePair{Name: name, Value: value})
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		a, b := strings.ToLower(pairs[i].Name), strings.ToLower(pairs[j].Name)
		if a != b {
			return a < b
		}
		if pairs[i].Name != pairs[j].Name {
			return pairs[i].Name < pairs[j].Name
		}
		return pairs[i].Value < pairs[j].Value
	})
	return pairs
}

func queryString(rawURL string) []*har.NameValuePair {
	pairs := []*har.NameValuePair{}
	u, err := url.Parse(rawURL)
	if err != nil {
		return pairs
	}
	query := u.Query()
	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range query[name] {
			pairs = append(pairs, &har.NameValuePair{Name: name, Value: value})
		}
	}
	return pairs
}

// headerValue looks a header up case-insensitively.
func headerValue(h network.Headers, name string) string {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// httpVersion maps the protocol reported by the browser to an HTTP version.
func httpVersion(protocol string) string {
	switch strings.ToLower(protocol) {
	case "":
		return ""
	case "h2", "http/2", "http/2.0":
		return "HTTP/2.0"
	case "h3", "http/3":
		return "HTTP/3"
	case "http/1.0":
		return "HTTP/1.0"
	case "http/1.1":
		return "HTTP/1.1"
	}
	return strings.ToUpper(protocol)
}

// Domain extracts the host of a URL for display, without a "www." prefix
// or port.
func Domain(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return strings.TrimPrefix(u.Hostname(), "www.")
	}

	// Remove protocol if present
	s := rawURL
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	s = strings.TrimPrefix(s, "www.")
	// Get domain part (stop at first slash)
	if idx := strings.Index(s, "/"); idx > 0 {
		s = s[:idx]
	}
	// Remove port if present
	if idx := strings.Index(s, ":"); idx > 0 {
		s = s[:idx]
	}
	return s
}
