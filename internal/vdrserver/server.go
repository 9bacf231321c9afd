// Package vdrserver implements the VDR HTTP interface of spec.md §6: the
// endpoints a wallet submits root/successor documents to, and anyone
// resolves documents and the append-log from.
//
// Repurposed from the teacher's pkg/webserver/server.go: the same
// "ServeHTTP dispatches on a hand-parsed r.URL.Path" shape, the same
// http.Error/status-code conventions, the same "no router package" choice
// — but new routes (spec.md §6's did.json / did-documents.jsonl family)
// in place of the teacher's blog routes (/o/, /u/, /posts).
package vdrserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/stackdump/webplus/internal/logger"
	"github.com/stackdump/webplus/internal/selfhash"
	"github.com/stackdump/webplus/internal/werrors"
	"github.com/stackdump/webplus/pkg/diddoc"
	"github.com/stackdump/webplus/pkg/docstore"
	"github.com/stackdump/webplus/pkg/microledger"
)

// UpdateProofHeader carries one compact JWS proof of authorization per
// occurrence; repeat the header for documents requiring more than one.
const UpdateProofHeader = "X-Webplus-Update-Proof"

// Server implements http.Handler for a single did:webplus host's VDR.
type Server struct {
	store  *docstore.Store
	hash   selfhash.Function
	host   string
	logger logger.Logger
}

// New returns a Server rooted at store, authoritative for host (the
// "host[:port]" token that will appear in every DID it serves), using
// hash as the self-hash function new root documents are checked against.
func New(store *docstore.Store, host string, hash selfhash.Function, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewTextLogger()
	}
	return &Server{store: store, host: host, hash: hash, logger: log}
}

// route identifies what an incoming request's path is asking for, along
// with the reconstructed DID it names.
type route struct {
	did          string
	op           string // "doc", "byHash", "byVersion", "log"
	selfHash     string
	versionID    uint32
	hasVersionID bool
}

// ServeHTTP dispatches by route and method. Request logging is the
// caller's job — wrap a Server in logger.LoggingMiddleware, the way
// cmd/webplus-vdr does, rather than duplicating status-capture here.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.parseRoute(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case rt.op == "doc" && r.Method == http.MethodPost:
		s.handleSubmit(w, r, rt, false)
	case rt.op == "doc" && r.Method == http.MethodPut:
		s.handleSubmit(w, r, rt, true)
	case rt.op == "doc" && r.Method == http.MethodGet:
		s.handleGet(w, r, rt)
	case rt.op == "byHash" && r.Method == http.MethodGet:
		s.handleGet(w, r, rt)
	case rt.op == "byVersion" && r.Method == http.MethodGet:
		s.handleGet(w, r, rt)
	case rt.op == "log" && r.Method == http.MethodGet:
		s.handleLog(w, r, rt)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// parseRoute decomposes an incoming request path into a route, mirroring
// the teacher's strings.Split/strings.TrimPrefix path-parsing style rather
// than reaching for a router package. Path segments between the host and
// the terminal filename become the DID's path components (spec.md §6:
// "https://<host>[/<path>]/<root-self-hash>/did.json").
func (s *Server) parseRoute(path string) (route, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return route{}, false
	}
	last := parts[len(parts)-1]

	switch {
	case last == "did.json":
		rootSelfHash, pathSegs := parts[len(parts)-2], parts[:len(parts)-2]
		return route{did: s.buildDID(pathSegs, rootSelfHash), op: "doc"}, true

	case last == "did-documents.jsonl":
		rootSelfHash, pathSegs := parts[len(parts)-2], parts[:len(parts)-2]
		return route{did: s.buildDID(pathSegs, rootSelfHash), op: "log"}, true

	case len(parts) >= 4 && parts[len(parts)-3] == "did" && parts[len(parts)-2] == "selfHash" && strings.HasSuffix(last, ".json"):
		rootSelfHash, pathSegs := parts[len(parts)-4], parts[:len(parts)-4]
		return route{
			did:      s.buildDID(pathSegs, rootSelfHash),
			op:       "byHash",
			selfHash: strings.TrimSuffix(last, ".json"),
		}, true

	case len(parts) >= 4 && parts[len(parts)-3] == "did" && parts[len(parts)-2] == "versionId" && strings.HasSuffix(last, ".json"):
		rootSelfHash, pathSegs := parts[len(parts)-4], parts[:len(parts)-4]
		n, err := strconv.ParseUint(strings.TrimSuffix(last, ".json"), 10, 32)
		if err != nil {
			return route{}, false
		}
		return route{
			did:          s.buildDID(pathSegs, rootSelfHash),
			op:           "byVersion",
			versionID:    uint32(n),
			hasVersionID: true,
		}, true
	}
	return route{}, false
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

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, rt route) {
	var rec docstore.Record
	var err error
	switch rt.op {
	case "doc":
		rec, err = s.store.Latest(rt.did)
	case "byHash":
		rec, err = s.store.GetBySelfHash(rt.did, rt.selfHash)
	case "byVersion":
		rec, err = s.store.GetByVersionID(rt.did, rt.versionID)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/did+json")
	w.Write(rec.DocumentJCS)
}

// handleLog serves the append-log honoring "Range: bytes=<n>-", the
// incremental-fetch contract spec.md §6 and §4.6 both describe.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request, rt route) {
	offset := int64(0)
	if rng := r.Header.Get("Range"); rng != "" {
		var n int64
		if _, err := fmt.Sscanf(rng, "bytes=%d-", &n); err == nil {
			offset = n
		}
	}
	body, err := s.store.ReadLog(rt.did, offset)
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

// handleSubmit validates and stores a root (isUpdate=false) or successor
// (isUpdate=true) document. The request body is the raw JCS bytes spec.md
// §6 describes; per §6's wire-canonicalization rule, the parsed document
// is always re-canonicalized before it is hashed or stored, never trusted
// as sent.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, rt route, isUpdate bool) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	doc, err := documentFromJCS(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if doc.ID != rt.did {
		http.Error(w, fmt.Sprintf("document id %q does not match submission path", doc.ID), http.StatusUnprocessableEntity)
		return
	}

	ledger, err := s.ledgerFromStore(rt.did)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !isUpdate && ledger != nil {
		http.Error(w, fmt.Sprintf("did %q already exists", rt.did), http.StatusConflict)
		return
	}
	if ledger == nil {
		ledger = microledger.New(s.hash)
	}

	var proofs []string
	if isUpdate {
		proofs = r.Header.Values(UpdateProofHeader)
	}
	if err := ledger.Append(doc, proofs); err != nil {
		s.logger.LogError("rejected document submission", err)
		s.writeError(w, err)
		return
	}

	canonical, err := doc.CanonicalBytes()
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err := s.store.Put(docstore.Record{
		DID:         doc.ID,
		VersionID:   doc.VersionID,
		ValidFrom:   doc.ValidFrom,
		SelfHash:    doc.SelfHash,
		DocumentJCS: canonical,
	}); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ledgerFromStore rebuilds an in-memory microledger from every record the
// store holds for did. It returns (nil, nil) when nothing is stored yet —
// the expected state ahead of a root-document POST.
func (s *Server) ledgerFromStore(did string) (*microledger.Microledger, error) {
	const op = "vdrserver.ledgerFromStore"
	recs, err := s.store.Query(docstore.Filter{DID: did})
	if err != nil {
		return nil, werrors.E(op, werrors.FetchFailed, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].VersionID < recs[j].VersionID })

	hashFn, err := selfhash.DetectFunction(recs[0].SelfHash)
	if err != nil {
		return nil, werrors.E(op, werrors.Malformed, err)
	}
	ledger := microledger.New(hashFn)
	for _, rec := range recs {
		doc, err := documentFromJCS(rec.DocumentJCS)
		if err != nil {
			return nil, werrors.E(op, werrors.Malformed, err)
		}
		if err := ledger.Ingest(doc); err != nil {
			return nil, err
		}
	}
	return ledger, nil
}

// writeError maps a werrors.Error's Kind to the status codes spec.md §6
// names for the submission endpoints ("200 on success; 409 if DID exists;
// 422 if invalid") and extends the same mapping to every read endpoint.
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
	case werrors.AlreadyExists:
		status = http.StatusConflict
	case werrors.Malformed, werrors.InvalidSelfHash, werrors.InvalidChainLink, werrors.UnauthorizedUpdate, werrors.Unsupported:
		status = http.StatusUnprocessableEntity
	case werrors.RecordCorruption:
		status = http.StatusInternalServerError
	case werrors.FetchFailed:
		status = http.StatusBadGateway
	case werrors.StaleLatest:
		status = http.StatusConflict
	}
	if we != nil {
		http.Error(w, we.Error(), status)
		return
	}
	http.Error(w, err.Error(), status)
}

// documentFromJCS parses a document body into a diddoc.Document using
// encoding/json rather than internal/jcs's UseNumber-flavored decoder,
// matching pkg/resolver's documentFromJCS: diddoc.FromMap expects JSON
// numbers as plain float64.
func documentFromJCS(raw []byte) (diddoc.Document, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return diddoc.Document{}, fmt.Errorf("vdrserver: invalid JSON document: %w", err)
	}
	return diddoc.FromMap(m)
}
