// Package ufnet contains utilities for URL, domain and hostname parsing that
// are fast enough to be used on the request evaluation path.
package ufnet

import (
	"strings"

	"github.com/AdguardTeam/golibs/netutil"
	"golang.org/x/net/publicsuffix"
)

// ExtractHostname quickly retrieves the hostname from the given URL.  The
// userinfo part and the port are stripped, IPv6 brackets are kept.  If s has
// no scheme separator, it is treated as a bare hostname, possibly with a port,
// which is how the document domain is passed by some callers.
//
// NOTE: ExtractHostname is an optimized, best-effort function.  The result is
// not guaranteed to be correct for some edge cases, which include
// non-hierarchical URLs.
func ExtractHostname(s string) (hostname string) {
	start := strings.Index(s, "//")
	switch {
	case start >= 0:
		start += len("//")
	case strings.ContainsAny(s, ":/?#"):
		colon := strings.IndexByte(s, ':')
		if colon <= 0 || strings.ContainsAny(s[:colon], "/?#") {
			return ""
		}

		if isPort(s[colon+1:]) {
			// Bare hostname with a port, e.g. "example.com:8080".
			return s[:colon]
		}

		// Non-hierarchical URL, e.g. "stun:example.com" or "about:blank".
		if strings.IndexByte(s[colon:], '/') != -1 {
			return ""
		}

		start = colon + 1
	default:
		return s
	}

	rest := s[start:]
	if end := strings.IndexAny(rest, "/?#"); end != -1 {
		rest = rest[:end]
	}

	if at := strings.LastIndexByte(rest, '@'); at != -1 {
		rest = rest[at+1:]
	}

	if strings.HasPrefix(rest, "[") {
		if end := strings.IndexByte(rest, ']'); end != -1 {
			return rest[:end+1]
		}

		return ""
	}

	if colon := strings.IndexByte(rest, ':'); colon != -1 {
		rest = rest[:colon]
	}

	return rest
}

// isPort returns true if s starts with a port number followed by the end of
// the string or a path, query, or fragment.
func isPort(s string) (ok bool) {
	if end := strings.IndexAny(s, "/?#"); end != -1 {
		s = s[:end]
	}

	if s == "" {
		return false
	}

	for _, c := range []byte(s) {
		if c < '0' || c > '9' {
			return false
		}
	}

	return true
}

// IsDomainName returns true if name is a valid domain name that can be used in
// a rule's domain restrictions.
func IsDomainName(name string) (ok bool) {
	return name != "" && netutil.ValidateHostname(name) == nil
}

// IsDomainOrSubdomainOfAny returns true if domain is one of domains or a
// subdomain of one of them.  Entries of domains ending with ".*" match the
// label sequence before the wildcard followed by any public suffix, so that
// "example.*" matches both "example.com" and "www.example.co.uk".
func IsDomainOrSubdomainOfAny(domain string, domains []string) (ok bool) {
	if domain == "" {
		return false
	}

	for _, d := range domains {
		if strings.HasSuffix(d, ".*") {
			if matchWildcardTLD(domain, d[:len(d)-1]) {
				return true
			}
		} else if IsSubdomainOrEqual(domain, d) {
			return true
		}
	}

	return false
}

// IsSubdomainOrEqual returns true if domain is parent or its subdomain.
func IsSubdomainOrEqual(domain, parent string) (ok bool) {
	if !strings.HasSuffix(domain, parent) {
		return false
	}

	return len(domain) == len(parent) || domain[len(domain)-len(parent)-1] == '.'
}

// matchWildcardTLD checks domain against a "name." prefix that must be
// followed by a public suffix.
func matchWildcardTLD(domain, prefix string) (ok bool) {
	tld, icann := publicsuffix.PublicSuffix(domain)
	if tld == "" || !icann || len(domain) <= len(tld) {
		return false
	}

	return IsSubdomainOrEqual(domain[:len(domain)-len(tld)], prefix)
}

// EffectiveTLDPlusOne is a faster version of publicsuffix.EffectiveTLDPlusOne
// that avoids using fmt.Errorf when the domain is less or equal the suffix.
// It returns an empty string if there is no such domain.
func EffectiveTLDPlusOne(hostname string) (domain string) {
	hostnameLen := len(hostname)
	if hostnameLen < 1 {
		return ""
	}

	if hostname[0] == '.' || hostname[hostnameLen-1] == '.' {
		return ""
	}

	suffix, _ := publicsuffix.PublicSuffix(hostname)

	i := hostnameLen - len(suffix) - 1
	if i < 0 || hostname[i] != '.' {
		return ""
	}

	return hostname[1+strings.LastIndex(hostname[:i], "."):]
}

// Subdomains calls f for hostname and each of its parent domains, starting
// with hostname itself.  It stops if f returns false.
func Subdomains(hostname string, f func(domain string) (cont bool)) {
	for hostname != "" {
		if !f(hostname) {
			return
		}

		dot := strings.IndexByte(hostname, '.')
		if dot == -1 {
			return
		}

		hostname = hostname[dot+1:]
	}
}
