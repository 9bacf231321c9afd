package vdgserver

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stackdump/webplus/internal/selfhash"
	"github.com/stackdump/webplus/pkg/diddoc"
	"github.com/stackdump/webplus/pkg/docstore"
	"github.com/stackdump/webplus/pkg/resolver"
	"github.com/stackdump/webplus/pkg/wallet"
)

// buildChain mirrors pkg/resolver's test helper of the same name: a root
// document and a validly-chained successor, both self-hashed.
func buildChain(t *testing.T, host string) (root, v1 diddoc.Document) {
	t.Helper()
	w := wallet.New()
	key, err := w.Generate(wallet.Ed25519Key)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	jwk, err := key.JWK()
	if err != nil {
		t.Fatalf("JWK: %v", err)
	}
	placeholder, err := selfhash.Blake3.Placeholder()
	if err != nil {
		t.Fatalf("Placeholder: %v", err)
	}
	id := "did:webplus:" + host + ":" + placeholder
	fragment := "key-1"
	jwk["kid"] = id + "#" + fragment

	pkm := diddoc.PublicKeyMaterial{
		VerificationMethod: []diddoc.VerificationMethod{{
			ID:           id + "#" + fragment,
			Type:         string(wallet.Ed25519Key),
			Controller:   id,
			PublicKeyJWK: jwk,
		}},
		Authentication:       []string{fragment},
		AssertionMethod:      []string{fragment},
		KeyAgreement:         []string{fragment},
		CapabilityInvocation: []string{fragment},
		CapabilityDelegation: []string{fragment},
	}

	rootDoc := diddoc.Document{
		ID:                id,
		VersionID:         0,
		ValidFrom:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PublicKeyMaterial: pkm,
	}
	root, err = diddoc.ComputeSelfHash(rootDoc, selfhash.Blake3)
	if err != nil {
		t.Fatalf("ComputeSelfHash(root): %v", err)
	}

	v1Doc := diddoc.Document{
		ID:                      root.ID,
		VersionID:               1,
		PrevDIDDocumentSelfHash: root.SelfHash,
		ValidFrom:               time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		PublicKeyMaterial:       root.PublicKeyMaterial,
	}
	v1, err = diddoc.ComputeSelfHash(v1Doc, selfhash.Blake3)
	if err != nil {
		t.Fatalf("ComputeSelfHash(v1): %v", err)
	}
	return root, v1
}

func jsonlOf(t *testing.T, docs ...diddoc.Document) []byte {
	t.Helper()
	var b strings.Builder
	for _, d := range docs {
		raw, err := d.CanonicalBytes()
		if err != nil {
			t.Fatalf("CanonicalBytes: %v", err)
		}
		b.Write(raw)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// fakeVDR serves a single DID's append-log, honoring a Range request. It is
// the same shape as pkg/resolver's test double, reused here since
// vdgserver's fetch-through path delegates to the same *resolver.Resolver.
type fakeVDR struct {
	mu           sync.Mutex
	rootSelfHash string
	body         []byte
}

func (f *fakeVDR) setBody(rootSelfHash string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rootSelfHash = rootSelfHash
	f.body = body
}

func (f *fakeVDR) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	wantPath := "/" + f.rootSelfHash + "/did-documents.jsonl"
	body := f.body
	f.mu.Unlock()

	if r.URL.Path != wantPath {
		http.NotFound(w, r)
		return
	}
	offset := 0
	if rng := r.Header.Get("Range"); rng != "" {
		var n int
		if _, err := fmt.Sscanf(rng, "bytes=%d-", &n); err == nil {
			offset = n
		}
	}
	if offset > len(body) {
		offset = len(body)
	}
	w.WriteHeader(http.StatusPartialContent)
	w.Write(body[offset:])
}

func hostPercentEncoded(rawURL string) string {
	hostport := strings.TrimPrefix(rawURL, "http://")
	return strings.ReplaceAll(hostport, ":", "%3A")
}

func rootSelfHashOf(t *testing.T, did string) string {
	t.Helper()
	idx := strings.LastIndexByte(did, ':')
	if idx < 0 {
		t.Fatalf("malformed did %q", did)
	}
	return did[idx+1:]
}

func newTestServer(t *testing.T, client *http.Client, apiKey string) (*Server, *docstore.Store) {
	t.Helper()
	store := docstore.New(t.TempDir())
	res := resolver.New(resolver.Config{Store: store, HTTPClient: client})
	return New(store, res, "gateway.example", apiKey, nil), store
}

func TestFetchThroughPopulatesCacheAndServesRange(t *testing.T) {
	vdr := &fakeVDR{}
	srv := httptest.NewServer(vdr)
	defer srv.Close()

	root, v1 := buildChain(t, hostPercentEncoded(srv.URL))
	vdr.setBody(rootSelfHashOf(t, root.ID), jsonlOf(t, root, v1))

	gw, _ := newTestServer(t, srv.Client(), "")

	req := httptest.NewRequest(http.MethodGet, "/webplus/v1/fetch/"+root.ID+"/did-documents.jsonl", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch: status %d, body %s", rec.Code, rec.Body.String())
	}
	full := rec.Body.String()
	v1Canonical, _ := v1.CanonicalBytes()
	if !strings.Contains(full, string(v1Canonical)) {
		t.Fatalf("fetched append-log missing v1")
	}

	req = httptest.NewRequest(http.MethodGet, "/webplus/v1/fetch/"+root.ID+"/did-documents.jsonl", nil)
	req.Header.Set("Range", "bytes=2-")
	rec = httptest.NewRecorder()
	gw.ServeHTTP(rec, req)
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("ranged fetch: status %d", rec.Code)
	}
	if rec.Body.Len() != len(full)-2 {
		t.Errorf("ranged body length = %d, want %d", rec.Body.Len(), len(full)-2)
	}
}

func TestIdentifiersRouteResolvesLatest(t *testing.T) {
	vdr := &fakeVDR{}
	srv := httptest.NewServer(vdr)
	defer srv.Close()

	root, v1 := buildChain(t, hostPercentEncoded(srv.URL))
	vdr.setBody(rootSelfHashOf(t, root.ID), jsonlOf(t, root, v1))

	gw, _ := newTestServer(t, srv.Client(), "")

	req := httptest.NewRequest(http.MethodGet, "/1.0/identifiers/"+root.ID, nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("identifiers: status %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/did+json" {
		t.Errorf("Content-Type = %q, want application/did+json", got)
	}
	v1Canonical, _ := v1.CanonicalBytes()
	if strings.TrimSpace(rec.Body.String()) != string(v1Canonical) {
		t.Errorf("identifiers did not return the latest version")
	}
}

func TestAPIKeyRequiredWhenConfigured(t *testing.T) {
	gw, _ := newTestServer(t, nil, "secret-key")

	req := httptest.NewRequest(http.MethodGet, "/1.0/identifiers/did:webplus:example.com:zQmBogus", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing x-api-key: status %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	req.Header.Set(APIKeyHeader, "wrong")
	rec = httptest.NewRecorder()
	gw.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong x-api-key: status %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestVDRStyleReadServesCachedDocument(t *testing.T) {
	root, _ := buildChain(t, "localhost%3A1")
	store := docstore.New(t.TempDir())
	canonical, err := root.CanonicalBytes()
	if err != nil {
		t.Fatalf("CanonicalBytes: %v", err)
	}
	if err := store.Put(docstore.Record{
		DID: root.ID, VersionID: 0, ValidFrom: root.ValidFrom,
		SelfHash: root.SelfHash, DocumentJCS: canonical,
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	res := resolver.New(resolver.Config{Store: store})
	gw := New(store, res, "localhost%3A1", "", nil)

	req := httptest.NewRequest(http.MethodGet, "/"+root.SelfHash+"/did.json", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET did.json: status %d, body %s", rec.Code, rec.Body.String())
	}
	if strings.TrimSpace(rec.Body.String()) != string(canonical) {
		t.Errorf("GET did.json returned unexpected body")
	}
}

func TestVDRStyleReadMissingIs404(t *testing.T) {
	gw, _ := newTestServer(t, nil, "")
	req := httptest.NewRequest(http.MethodGet, "/zQmNotARealHashNotARealHashNotARealHash1/did.json", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET unknown did.json: status %d, want %d", rec.Code, http.StatusNotFound)
	}
}
