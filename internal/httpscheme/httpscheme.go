// Package httpscheme decides which URL scheme (http/https) the VDR/VDG
// client and server use for a given host, per spec.md §6's "Scheme
// selection" rule: https by default, http allowed for localhost, with an
// optional per-host override table.
//
// Grounded on the teacher's internal/httputil/baseurl.go, which runs a
// similar "cascade of rules with a final fallback" to pick a scheme — but
// for the opposite direction (that code infers the scheme an *inbound*
// request arrived over, from proxy headers; this package decides the
// scheme to use for an *outbound* request to a named host, from
// configuration instead of headers).
package httpscheme

import (
	"fmt"
	"net"
	"strings"
)

// Table is a per-host scheme override, "host=scheme" pairs.
type Table map[string]string

// ParseTable parses a comma-separated "host=scheme,host2=scheme2" string,
// the external configuration form spec.md §6 allows ("comma-separated
// when configured externally").
func ParseTable(s string) (Table, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t := make(Table)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		host, scheme, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("httpscheme: malformed override %q, want host=scheme", pair)
		}
		host, scheme = strings.TrimSpace(host), strings.TrimSpace(scheme)
		if scheme != "http" && scheme != "https" {
			return nil, fmt.Errorf("httpscheme: unsupported scheme %q for host %q", scheme, host)
		}
		t[host] = scheme
	}
	return t, nil
}

// isLocalhost reports whether hostport names the local machine: bare
// "localhost", "127.0.0.1", or "::1", with or without a port suffix.
func isLocalhost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// SchemeFor returns the scheme to use for host, consulting overrides
// first, then the localhost allowance, defaulting to https.
func SchemeFor(host string, overrides Table) string {
	if overrides != nil {
		if s, ok := overrides[host]; ok {
			return s
		}
	}
	if isLocalhost(host) {
		return "http"
	}
	return "https"
}

// BaseURL builds "<scheme>://<host>" for host per SchemeFor.
func BaseURL(host string, overrides Table) string {
	return SchemeFor(host, overrides) + "://" + host
}
