// Package webplusuri parses and formats the did:webplus URI family
// described in spec.md §3/§6: the base DID, the DID-with-query, the fully
// qualified DID, and the key resource.
//
// "Parse, don't validate" (spec.md §9) is the intended shape here: the
// exported constructors (Parse, ParseQuery, ParseKeyResource) are the only
// way to obtain a value of these types, and every invariant is checked once,
// at construction. Go has no phantom types, so the approximation is a
// private field set plus constructor functions that are the sole producers
// of a valid value — the pattern spec.md §9 calls out explicitly.
//
// Error reporting follows the style learned from pascaldekloe/did's
// SyntaxError (an index into the original string plus an optional
// underlying cause) rather than the teacher's plain string errors, since
// nothing in the teacher repo parses a structured URI grammar.
package webplusuri

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stackdump/webplus/internal/selfhash"
)

const schemePrefix = "did:webplus:"

// SyntaxError reports a did:webplus URI that failed to parse.
type SyntaxError struct {
	S   string
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("invalid did:webplus URI %q at byte %d: %s", e.S, e.Pos, e.Msg)
	}
	return fmt.Sprintf("invalid did:webplus URI %q: %s", e.S, e.Msg)
}

func synErr(s, msg string, pos int) error {
	return &SyntaxError{S: s, Pos: pos, Msg: msg}
}

// DID is a parsed base did:webplus identifier:
// did:webplus:<host>[:<path-components>]:<root-self-hash>.
//
// The host slot doubles as the "host[:port]" ABNF production: per
// original_source's did_webplus_uri_components.rs, the host token runs up
// to the first unescaped ':', so a port is represented by percent-encoding
// its leading colon into that token (e.g. "localhost%3A8085") rather than
// by a sibling path segment — see DESIGN.md for why this implementation
// follows the original source over spec.md's stricter "no '%' in host"
// phrasing, which the spec's own §9 S4 example contradicts.
type DID struct {
	host         string
	path         []string
	rootSelfHash string
}

// Host returns the raw host token, which may contain a percent-encoded port.
func (d DID) Host() string { return d.host }

// HostPort splits Host into (hostname, port), percent-decoding the ':'
// that separates them. port is "" when no port is present.
func (d DID) HostPort() (hostname, port string) {
	decoded := strings.ReplaceAll(d.host, "%3A", ":")
	decoded = strings.ReplaceAll(decoded, "%3a", ":")
	if idx := strings.IndexByte(decoded, ':'); idx >= 0 {
		return decoded[:idx], decoded[idx+1:]
	}
	return decoded, ""
}

// Path returns the (possibly empty) sequence of path components between
// the host and the root self-hash.
func (d DID) Path() []string { return append([]string(nil), d.path...) }

// RootSelfHash returns the mb-hash token that both terminates the DID
// string and equals the self-hash of the root DID document.
func (d DID) RootSelfHash() string { return d.rootSelfHash }

// String formats the base DID.
func (d DID) String() string {
	var b strings.Builder
	b.WriteString(schemePrefix)
	b.WriteString(d.host)
	for _, p := range d.path {
		b.WriteByte(':')
		b.WriteString(p)
	}
	b.WriteByte(':')
	b.WriteString(d.rootSelfHash)
	return b.String()
}

// WithRootSelfHash returns a copy of d with its root self-hash slot
// overwritten. It is sound only when replacement has the same length as
// d.rootSelfHash, which holds whenever both are derivation-code tokens
// (internal/selfhash) for the same hash function (spec.md §4.1: "the hash
// output for a fixed hash function has a fixed string length, so the
// enclosing string length is invariant").
func (d DID) WithRootSelfHash(replacement string) (DID, error) {
	if len(replacement) != len(d.rootSelfHash) {
		return DID{}, fmt.Errorf("webplusuri: replacement self-hash length %d != placeholder length %d", len(replacement), len(d.rootSelfHash))
	}
	d.rootSelfHash = replacement
	return d, nil
}

// Query is a DID with an optional selfHash and/or versionId query parameter.
type Query struct {
	DID
	selfHash     string
	hasSelfHash  bool
	versionID    uint32
	hasVersionID bool
}

func (q Query) SelfHash() (string, bool)  { return q.selfHash, q.hasSelfHash }
func (q Query) VersionID() (uint32, bool) { return q.versionID, q.hasVersionID }

// FullyQualified reports whether both selfHash and versionId are present.
func (q Query) FullyQualified() bool { return q.hasSelfHash && q.hasVersionID }

func (q Query) String() string {
	s := q.DID.String()
	if !q.hasSelfHash && !q.hasVersionID {
		return s
	}
	var params []string
	if q.hasSelfHash {
		params = append(params, "selfHash="+q.selfHash)
	}
	if q.hasVersionID {
		params = append(params, "versionId="+strconv.FormatUint(uint64(q.versionID), 10))
	}
	return s + "?" + strings.Join(params, "&")
}

// KeyResource is a Query plus a fragment identifying one verification
// method.
type KeyResource struct {
	Query
	fragment string
}

func (k KeyResource) Fragment() string { return k.fragment }

func (k KeyResource) String() string {
	return k.Query.String() + "#" + k.fragment
}

// Parse parses a bare base DID (no query, no fragment).
func Parse(s string) (DID, error) {
	comp, rest, err := parsePrefix(s)
	if err != nil {
		return DID{}, err
	}
	if rest != "" {
		return DID{}, synErr(s, "unexpected trailing characters after root self-hash", len(s)-len(rest))
	}
	return comp, nil
}

// ParseQuery parses a base DID optionally followed by a query string
// (selfHash and/or versionId, in either order, no duplicates).
func ParseQuery(s string) (Query, error) {
	comp, rest, err := parsePrefix(s)
	if err != nil {
		return Query{}, err
	}
	q := Query{DID: comp}
	if rest == "" {
		return q, nil
	}
	if rest[0] != '?' {
		return Query{}, synErr(s, "expected '?' before query parameters", len(s)-len(rest))
	}
	if err := parseQueryParams(s, rest[1:], &q); err != nil {
		return Query{}, err
	}
	return q, nil
}

// ParseKeyResource parses a full key-resource URI: a DID, DID-with-query,
// or fully-qualified DID, followed by "#<fragment>".
func ParseKeyResource(s string) (KeyResource, error) {
	base, fragPart, found := cutLast(s, '#')
	if !found {
		return KeyResource{}, synErr(s, "key resource URI must contain a '#' fragment", -1)
	}
	if fragPart == "" {
		return KeyResource{}, synErr(s, "fragment must be non-empty", len(s))
	}
	if err := validateFragment(fragPart); err != nil {
		return KeyResource{}, synErr(s, err.Error(), strings.IndexByte(s, '#')+1)
	}
	q, err := ParseQuery(base)
	if err != nil {
		return KeyResource{}, err
	}
	return KeyResource{Query: q, fragment: fragPart}, nil
}

// cutLast splits s at the last occurrence of sep.
func cutLast(s string, sep byte) (before, after string, found bool) {
	idx := strings.LastIndexByte(s, sep)
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+1:], true
}

func parsePrefix(s string) (DID, string, error) {
	if !strings.HasPrefix(s, schemePrefix) {
		return DID{}, "", synErr(s, "must start with 'did:webplus:'", 0)
	}
	rest := s[len(schemePrefix):]

	host, rest, ok := cutFirst(rest, ':')
	if !ok {
		return DID{}, "", synErr(s, "expected a ':' after the host", len(s))
	}
	if host == "" {
		return DID{}, "", synErr(s, "host must not be empty", len(schemePrefix))
	}
	if strings.ContainsRune(host, '/') {
		return DID{}, "", synErr(s, "host must not contain '/'", len(schemePrefix))
	}

	// Split off query/fragment so we can validate the path in isolation.
	uriPath := rest
	tail := ""
	if idx := strings.IndexAny(rest, "?#"); idx >= 0 {
		uriPath, tail = rest[:idx], rest[idx:]
	}

	if strings.ContainsRune(uriPath, '/') || strings.ContainsRune(uriPath, '%') {
		return DID{}, "", synErr(s, "did:webplus path must not contain '/' or '%'", 0)
	}

	lastColon := strings.LastIndexByte(uriPath, ':')
	var pathComponents []string
	var rootSelfHash string
	if lastColon < 0 {
		rootSelfHash = uriPath
	} else {
		path := uriPath[:lastColon]
		rootSelfHash = uriPath[lastColon+1:]
		pathComponents = strings.Split(path, ":")
		for _, comp := range pathComponents {
			if comp == "" {
				return DID{}, "", synErr(s, "path must not contain empty components (no leading/trailing/doubled ':')", 0)
			}
		}
	}
	if rootSelfHash == "" {
		return DID{}, "", synErr(s, "root self-hash must not be empty", len(s))
	}
	if err := selfhash.ValidateToken(rootSelfHash); err != nil {
		return DID{}, "", synErr(s, "root self-hash is not a valid mb-hash token: "+err.Error(), 0)
	}

	return DID{host: host, path: pathComponents, rootSelfHash: rootSelfHash}, tail, nil
}

// cutFirst splits s at the first occurrence of sep.
func cutFirst(s string, sep byte) (before, after string, found bool) {
	idx := strings.IndexByte(s, sep)
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+1:], true
}

func parseQueryParams(full, query string, q *Query) error {
	if query == "" {
		return synErr(full, "empty query string", -1)
	}
	seen := map[string]bool{}
	for _, param := range strings.Split(query, "&") {
		key, value, ok := cutFirst(param, '=')
		if !ok {
			return synErr(full, "malformed query parameter (expected 'key=value'): "+param, -1)
		}
		if seen[key] {
			return synErr(full, "duplicate query parameter: "+key, -1)
		}
		seen[key] = true
		switch key {
		case "selfHash":
			if err := selfhash.ValidateToken(value); err != nil {
				return synErr(full, "selfHash query parameter is not a valid mb-hash token: "+err.Error(), -1)
			}
			q.selfHash = value
			q.hasSelfHash = true
		case "versionId":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return synErr(full, "versionId query parameter is not a valid non-negative integer: "+value, -1)
			}
			q.versionID = uint32(n)
			q.hasVersionID = true
		default:
			return synErr(full, "unknown query parameter (only selfHash and versionId are allowed): "+key, -1)
		}
	}
	return nil
}

func validateFragment(frag string) error {
	for i := 0; i < len(frag); i++ {
		c := frag[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '_' || c == '~' || c == '%':
		default:
			return fmt.Errorf("fragment contains non-URI-safe character %q", c)
		}
	}
	return nil
}
