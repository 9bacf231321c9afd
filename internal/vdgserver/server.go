// Package vdgserver implements the VDG HTTP interface of spec.md §6: the
// same read-only routes a VDR exposes, plus the gateway-specific
// "/webplus/v1/fetch/<did>/did-documents.jsonl" and
// "/1.0/identifiers/<query>" routes that place every consumer sharing this
// gateway into the same scope of agreement (spec.md's glossary entry for
// VDG).
//
// Repurposed from the teacher's cmd/edge/main.go: that binary's role — an
// aggregator process fronting an upstream source and caching what it reads
// — survives; its Postgres-specific ingestion body does not (spec.md §1
// places SQL backends out of scope). The aggregator here fronts VDRs
// instead of a JSON-LD file, and caches into pkg/docstore instead of
// Postgres tables, fetched on demand through pkg/resolver exactly the way
// a plain resolver would, using the same internal/vdrserver-style
// "hand-parsed r.URL.Path" dispatch for the routes it shares with a VDR.
package vdgserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/stackdump/webplus/internal/logger"
	"github.com/stackdump/webplus/internal/werrors"
	"github.com/stackdump/webplus/pkg/docstore"
	"github.com/stackdump/webplus/pkg/resolver"
)

// APIKeyHeader is the optional API-key header spec.md §6 names.
const APIKeyHeader = "x-api-key"

// Server implements http.Handler for a VDG: a caching aggregator in front
// of one or more VDRs.
type Server struct {
	store    *docstore.Store
	resolver *resolver.Resolver
	host     string
	apiKey   string
	logger   logger.Logger
}

// New returns a Server backed by store (the gateway's local cache) and res
// (used to fetch-through to the origin VDR of any DID this gateway hasn't
// cached yet). host is the authority this gateway's own VDR-shaped read
// routes are served under; it plays the same role vdrserver.Server's host
// does. apiKey, if non-empty, is required on every request via the
// x-api-key header; an empty apiKey disables authorization entirely,
// matching spec.md §6's "optional."
func New(store *docstore.Store, res *resolver.Resolver, host, apiKey string, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewTextLogger()
	}
	return &Server{store: store, resolver: res, host: host, apiKey: apiKey, logger: log}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.apiKey != "" && r.Header.Get(APIKeyHeader) != s.apiKey {
		http.Error(w, "invalid or missing x-api-key", http.StatusUnauthorized)
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/webplus/v1/fetch/") && strings.HasSuffix(r.URL.Path, "/did-documents.jsonl"):
		did := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/webplus/v1/fetch/"), "/did-documents.jsonl")
		s.handleFetch(w, r, did)

	case strings.HasPrefix(r.URL.Path, "/1.0/identifiers/"):
		query := strings.TrimPrefix(r.URL.Path, "/1.0/identifiers/")
		s.handleIdentifier(w, r, query)

	default:
		s.handleVDRStyleRead(w, r)
	}
}

// handleFetch ensures the local cache holds did's latest known state (by
// asking the resolver to fetch through to the origin VDR if needed), then
// serves the append-log honoring "Range: bytes=<n>-", mirroring
// internal/vdrserver's did-documents.jsonl route exactly. Every consumer
// fetching through the same gateway observes the same bytes at the same
// time — spec.md §6's "freshness contract with VDG."
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request, did string) {
	if _, err := s.resolver.Resolve(r.Context(), did, resolver.Options{}); err != nil && !werrors.Is(err, werrors.NotFound) {
		s.logger.LogError("vdg fetch-through failed", err)
	}

	offset := int64(0)
	if rng := r.Header.Get("Range"); rng != "" {
		var n int64
		if _, err := fmt.Sscanf(rng, "bytes=%d-", &n); err == nil {
			offset = n
		}
	}
	body, err := s.store.ReadLog(did, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	if offset > 0 {
		w.WriteHeader(http.StatusPartialContent)
	}
	w.Write(body)
}

// handleIdentifier resolves query (a did:webplus query string, optionally
// with ?selfHash=/?versionId=) and returns the resolved document as
// application/did+json, the universal-resolver-driver-compatible shape
// spec.md §6 names (the full didResolutionMetadata/didDocumentMetadata
// envelope is explicitly out of scope per spec.md §1's "universal-resolver-
// driver wrapping"; only the bare document is served).
func (s *Server) handleIdentifier(w http.ResponseWriter, r *http.Request, query string) {
	res, err := s.resolver.Resolve(r.Context(), query, resolver.Options{})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/did+json")
	w.Write(res.DocumentJCS)
}

// handleVDRStyleRead serves the same did.json / did/selfHash/<hash>.json /
// did/versionId/<n>.json / did-documents.jsonl routes a VDR exposes.
// The three document routes answer from this gateway's own local cache
// with no fetch-through (a plain cache hit or miss); the
// did-documents.jsonl route is handed to handleFetch, which fetches
// through to the origin VDR first.
func (s *Server) handleVDRStyleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	last := parts[len(parts)-1]

	var rec docstore.Record
	var err error
	switch {
	case last == "did.json":
		did := s.buildDID(parts[:len(parts)-2], parts[len(parts)-2])
		rec, err = s.store.Latest(did)

	case last == "did-documents.jsonl":
		did := s.buildDID(parts[:len(parts)-2], parts[len(parts)-2])
		s.handleFetch(w, r, did)
		return

	case len(parts) >= 4 && parts[len(parts)-3] == "did" && parts[len(parts)-2] == "selfHash" && strings.HasSuffix(last, ".json"):
		did := s.buildDID(parts[:len(parts)-4], parts[len(parts)-4])
		rec, err = s.store.GetBySelfHash(did, strings.TrimSuffix(last, ".json"))

	case len(parts) >= 4 && parts[len(parts)-3] == "did" && parts[len(parts)-2] == "versionId" && strings.HasSuffix(last, ".json"):
		did := s.buildDID(parts[:len(parts)-4], parts[len(parts)-4])
		var n uint32
		if _, scanErr := fmt.Sscanf(strings.TrimSuffix(last, ".json"), "%d", &n); scanErr != nil {
			http.NotFound(w, r)
			return
		}
		rec, err = s.store.GetByVersionID(did, n)

	default:
		http.NotFound(w, r)
		return
	}

	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/did+json")
	w.Write(rec.DocumentJCS)
}

func (s *Server) buildDID(pathSegs []string, rootSelfHash string) string {
	var b strings.Builder
	b.WriteString("did:webplus:")
	b.WriteString(s.host)
	for _, seg := range pathSegs {
		b.WriteByte(':')
		b.WriteString(seg)
	}
	b.WriteByte(':')
	b.WriteString(rootSelfHash)
	return b.String()
}

// writeError maps a werrors.Error's Kind to an HTTP status, identically to
// internal/vdrserver's writeError (a VDG only ever reads; there is no
// AlreadyExists/StaleLatest write-path case to add here).
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := werrors.Kind("")
	var we *werrors.Error
	if e, ok := err.(*werrors.Error); ok {
		we = e
		kind = e.Kind
	}
	status := http.StatusInternalServerError
	switch kind {
	case werrors.NotFound:
		status = http.StatusNotFound
	case werrors.Malformed, werrors.InvalidSelfHash, werrors.InvalidChainLink, werrors.UnauthorizedUpdate, werrors.Unsupported:
		status = http.StatusUnprocessableEntity
	case werrors.FetchFailed:
		status = http.StatusBadGateway
	case werrors.StaleLatest, werrors.AlreadyExists:
		status = http.StatusConflict
	case werrors.RecordCorruption:
		status = http.StatusInternalServerError
	}
	if we != nil {
		http.Error(w, we.Error(), status)
		return
	}
	http.Error(w, err.Error(), status)
}
