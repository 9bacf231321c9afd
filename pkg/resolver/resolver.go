// Package resolver implements the resolution pipeline of spec.md §4.6:
// turning a did:webplus query into a verified document plus metadata,
// consulting the local Document Store first and extending the chain from
// a VDR or VDG only when the store cannot answer, or cannot prove the
// freshness a caller asked for, locally.
//
// Grounded on the teacher's pkg/activitypub/httpsig.go for the outbound
// HTTP idiom (a plain *http.Client with an explicit Timeout, manual
// header construction, no retry middleware); this package adds a
// context.Context parameter and a Range header neither of that file's
// fire-and-forget deliveries needed, and leans on internal/httpscheme for
// the scheme a VDR host resolves to.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/stackdump/webplus/internal/httpscheme"
	"github.com/stackdump/webplus/internal/selfhash"
	"github.com/stackdump/webplus/internal/werrors"
	"github.com/stackdump/webplus/pkg/diddoc"
	"github.com/stackdump/webplus/pkg/docstore"
	"github.com/stackdump/webplus/pkg/microledger"
	"github.com/stackdump/webplus/pkg/webplusuri"
)

// Config configures a Resolver.
type Config struct {
	Store *docstore.Store

	// HTTPClient is the client used for VDR/VDG fetches. Defaults to a
	// 30-second-timeout client, the same budget the teacher's
	// ActivityPub delivery client uses.
	HTTPClient *http.Client

	// SchemeOverrides picks http over https for specific hosts beyond
	// the built-in localhost allowance; see internal/httpscheme.
	SchemeOverrides httpscheme.Table

	// VDGBaseURL, if set, routes every fetch through a gateway's
	// "/webplus/v1/fetch/<did>/did-documents.jsonl" route instead of
	// the DID's own host, placing this resolver in that VDG's scope of
	// agreement.
	VDGBaseURL string

	// APIKey is sent as "x-api-key" on VDG requests, when set.
	APIKey string

	// LocalResolutionOnly disables network fetches for every Resolve
	// call; a call cannot lift it. Options.LocalOnly adds the same
	// restriction for a single call (a caller that needs a single offline
	// resolve uses it instead of a throwaway Resolver).
	LocalResolutionOnly bool
}

// Resolver resolves did:webplus queries per spec.md §4.6. A Resolver's
// Store is shared by reference (spec.md §5: "the document store is shared
// by reference; it is internally thread-safe"); the Resolver itself holds
// no long-lived microledger cache, only the in-flight fetch buffer for the
// call in progress — the chain used to validate it is rebuilt from the
// store on every call.
type Resolver struct {
	store      *docstore.Store
	client     *http.Client
	overrides  httpscheme.Table
	vdgBaseURL string
	apiKey     string
	localOnly  bool
}

// New returns a Resolver backed by cfg.
func New(cfg Config) *Resolver {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Resolver{
		store:      cfg.Store,
		client:     client,
		overrides:  cfg.SchemeOverrides,
		vdgBaseURL: strings.TrimSuffix(cfg.VDGBaseURL, "/"),
		apiKey:     cfg.APIKey,
		localOnly:  cfg.LocalResolutionOnly,
	}
}

// Options adjusts a single Resolve call.
type Options struct {
	// LocalOnly forces this call to never touch the network, regardless
	// of the Resolver's own default.
	LocalOnly bool

	// NeedFreshness requests the successor-dependent metadata fields
	// (latestUpdate, deactivated) be proven, not merely
	// read from whatever happens to be cached.
	NeedFreshness bool
}

// Result is the outcome of a successful Resolve.
type Result struct {
	Document    diddoc.Document
	DocumentJCS []byte

	// Metadata is populated only when Options.NeedFreshness was set.
	Metadata microledger.Metadata
}

// Resolve implements spec.md §4.6's algorithm: parse the query, answer
// from the store if possible, fetch the append-log tail on a miss or an
// unprovable freshness request, then answer again.
func (r *Resolver) Resolve(ctx context.Context, query string, opts Options) (Result, error) {
	const op = "resolver.Resolve"

	q, err := webplusuri.ParseQuery(query)
	if err != nil {
		return Result{}, werrors.E(op, werrors.Malformed, err)
	}
	did := q.DID.String()
	wantSelfHash, hasSelfHash := q.SelfHash()
	wantVersionID, hasVersionID := q.VersionID()

	rec, answerErr := r.lookupLocal(did, wantSelfHash, hasSelfHash, wantVersionID, hasVersionID)
	needsFetch := answerErr != nil || opts.NeedFreshness

	localOnly := opts.LocalOnly || r.localOnly
	fetchedLive := false
	var fetchErr error
	if needsFetch && !localOnly {
		fetchErr = r.fetchTail(ctx, did, q.DID)
		fetchedLive = fetchErr == nil
		rec, answerErr = r.lookupLocal(did, wantSelfHash, hasSelfHash, wantVersionID, hasVersionID)
	}

	// A fetched tail that fails validation fails this request even when
	// the store can still answer (the store keeps the validated prefix);
	// only transport failures fall back to the local answer.
	if fetchErr != nil && !werrors.Is(fetchErr, werrors.FetchFailed) {
		return Result{}, fetchErr
	}

	if answerErr != nil {
		if fetchErr != nil {
			return Result{}, fetchErr
		}
		return Result{}, answerErr
	}

	if hasSelfHash && rec.SelfHash != wantSelfHash {
		return Result{}, werrors.E(op, werrors.InvalidSelfHash,
			fmt.Errorf("resolved document self-hash %q does not match requested %q", rec.SelfHash, wantSelfHash))
	}

	doc, err := documentFromJCS(rec.DocumentJCS)
	if err != nil {
		return Result{}, werrors.E(op, werrors.Malformed, err)
	}

	result := Result{Document: doc, DocumentJCS: rec.DocumentJCS}
	if !opts.NeedFreshness {
		return result, nil
	}

	if fetchErr != nil {
		return Result{}, fetchErr
	}
	fresh := microledger.LocalOnly
	if fetchedLive {
		fresh = microledger.ProvenFresh
	}
	meta, err := r.metadataFor(did, fresh)
	if err != nil {
		return Result{}, err
	}
	result.Metadata = meta
	return result, nil
}

func (r *Resolver) lookupLocal(did, selfHash string, hasSelfHash bool, versionID uint32, hasVersionID bool) (docstore.Record, error) {
	switch {
	case hasSelfHash:
		return r.store.GetBySelfHash(did, selfHash)
	case hasVersionID:
		return r.store.GetByVersionID(did, versionID)
	default:
		return r.store.Latest(did)
	}
}

// fetchTail fetches the append-log tail for did from its VDR or,
// if configured, from the resolver's VDG, starting at the byte offset
// already on disk, and hands every validated document to the store.
func (r *Resolver) fetchTail(ctx context.Context, did string, uri webplusuri.DID) error {
	const op = "resolver.fetchTail"

	offset := int64(0)
	if latest, err := r.store.Latest(did); err == nil {
		offset = latest.JSONLOctetLength
	} else if !werrors.Is(err, werrors.NotFound) {
		return werrors.E(op, werrors.FetchFailed, err)
	}

	url, headers := r.fetchRequestTarget(did, uri)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return werrors.E(op, werrors.FetchFailed, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return werrors.E(op, werrors.FetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return werrors.E(op, werrors.FetchFailed, fmt.Errorf("fetch %s: remote error %d", url, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return werrors.E(op, werrors.FetchFailed, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return werrors.E(op, werrors.FetchFailed, err)
	}
	return r.ingestTail(did, body)
}

// fetchRequestTarget builds the URL and extra headers for fetching did's
// append-log tail, either from its own VDR host or, when configured, from
// the resolver's VDG (spec.md §6's "freshness contract with VDG").
func (r *Resolver) fetchRequestTarget(did string, uri webplusuri.DID) (url string, headers map[string]string) {
	if r.vdgBaseURL != "" {
		headers = map[string]string{}
		if r.apiKey != "" {
			headers["x-api-key"] = r.apiKey
		}
		return fmt.Sprintf("%s/webplus/v1/fetch/%s/did-documents.jsonl", r.vdgBaseURL, did), headers
	}

	hostname, port := uri.HostPort()
	host := hostname
	if port != "" {
		host += ":" + port
	}
	scheme := httpscheme.SchemeFor(host, r.overrides)

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	for _, seg := range uri.Path() {
		b.WriteByte('/')
		b.WriteString(seg)
	}
	b.WriteByte('/')
	b.WriteString(uri.RootSelfHash())
	b.WriteString("/did-documents.jsonl")
	return b.String(), nil
}

// ingestTail validates each JCS document in tail, in order, against the
// chain currently on disk, and Puts every document it admits before
// returning. A malformed or chain-broken record stops ingestion; the store
// keeps whatever prefix was already validated and Put (spec.md §4.6's
// partial-failure handling).
func (r *Resolver) ingestTail(did string, tail []byte) error {
	const op = "resolver.ingestTail"

	trimmed := strings.TrimSuffix(string(tail), "\n")
	if trimmed == "" {
		return nil
	}

	ledger, err := r.ledgerFromStore(did)
	if err != nil {
		return err
	}

	for _, line := range strings.Split(trimmed, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		doc, err := documentFromJCS([]byte(line))
		if err != nil {
			return werrors.E(op, werrors.Malformed, err)
		}
		if ledger == nil {
			hashFn, err := selfhash.DetectFunction(doc.SelfHash)
			if err != nil {
				return werrors.E(op, werrors.Malformed, err)
			}
			ledger = microledger.New(hashFn)
		}
		if err := ledger.Ingest(doc); err != nil {
			return err
		}
		canonical, err := doc.CanonicalBytes()
		if err != nil {
			return werrors.E(op, werrors.Malformed, err)
		}
		if err := r.store.Put(docstore.Record{
			DID:         doc.ID,
			VersionID:   doc.VersionID,
			ValidFrom:   doc.ValidFrom,
			SelfHash:    doc.SelfHash,
			DocumentJCS: canonical,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ledgerFromStore rebuilds an in-memory microledger from every record the
// store currently holds for did, re-running chain-link validation
// (diddoc.VerifyNonrecursive, via Microledger.Ingest) over the whole
// history. It returns (nil, nil) when the store has no history for did
// yet.
func (r *Resolver) ledgerFromStore(did string) (*microledger.Microledger, error) {
	const op = "resolver.ledgerFromStore"

	recs, err := r.store.Query(docstore.Filter{DID: did})
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

func (r *Resolver) metadataFor(did string, fresh microledger.FreshnessProof) (microledger.Metadata, error) {
	const op = "resolver.metadataFor"
	ledger, err := r.ledgerFromStore(did)
	if err != nil {
		return microledger.Metadata{}, err
	}
	if ledger == nil {
		return microledger.Metadata{}, werrors.E(op, werrors.NotFound, fmt.Errorf("no documents stored for %q", did))
	}
	return ledger.LatestMetadata(fresh)
}

// documentFromJCS parses a single canonical JSON document, the shape both
// the store and the wire use, back into a diddoc.Document. It uses
// encoding/json rather than internal/jcs's UseNumber-flavored decoder
// because diddoc.FromMap expects JSON numbers as plain float64, matching
// what json.Unmarshal into map[string]interface{} produces.
func documentFromJCS(raw []byte) (diddoc.Document, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return diddoc.Document{}, fmt.Errorf("resolver: invalid JSON document: %w", err)
	}
	return diddoc.FromMap(m)
}
