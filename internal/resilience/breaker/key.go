package breaker

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// UnknownDomain is the key used when a URL has no parseable host.
const UnknownDomain = "unknown-domain"

// KeyFunc derives the breaker key from a URL. It must never fail.
type KeyFunc func(rawURL string) string

// HostKey keys the breaker by hostname.
func HostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return UnknownDomain
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return UnknownDomain
	}
	return host
}

// SiteKey keys the breaker by registrable domain, so news.example.co.uk and
// www.example.co.uk share a circuit. Hosts without a public suffix (IPs,
// localhost) fall back to the hostname.
func SiteKey(rawURL string) string {
	host := HostKey(rawURL)
	if host == UnknownDomain || net.ParseIP(host) != nil {
		return host
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return site
}

// KeyFuncByName resolves the config value ("host" or "site").
func KeyFuncByName(name string) (KeyFunc, bool) {
	switch name {
	case "", "host":
		return HostKey, true
	case "site":
		return SiteKey, true
	}
	return nil, false
}
