package vault

import (
	"net"
	"net/url"
	"strings"
)

// secondLevel lists the labels that commonly sit between a country code and
// the registrable name, as in example.co.uk.
var secondLevel = map[string]bool{
	"co": true, "com": true, "net": true, "org": true, "gov": true, "ac": true, "edu": true,
}

func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func baseDomain(host string) string {
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	labels := strings.Split(host, ".")
	n := len(labels)
	if n <= 2 {
		return host
	}
	if len(labels[n-1]) == 2 && secondLevel[labels[n-2]] {
		return strings.Join(labels[n-3:], ".")
	}
	return strings.Join(labels[n-2:], ".")
}

// matchesURL reports whether any saved URI shares the page's base domain.
func matchesURL(uris []string, pageURL string) bool {
	pageHost := hostOf(pageURL)
	if pageHost == "" {
		return false
	}
	pageBase := baseDomain(pageHost)
	for _, uri := range uris {
		h := hostOf(uri)
		if h == "" {
			continue
		}
		if h == pageHost || baseDomain(h) == pageBase {
			return true
		}
	}
	return false
}
