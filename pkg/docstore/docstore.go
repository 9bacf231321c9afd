// Package docstore implements the Document Store of spec.md §4.5: an
// idempotent, filesystem-backed index of a microledger's DID documents by
// (did, self_hash) and (did, version_id), plus the running append-log byte
// offset a resolver needs to fetch only what it is missing.
//
// Adapted from the teacher's internal/store.FSStore: the path-sanitization
// guard (sanitizeComponent, renamed from sanitizePathComponent) and the
// mutex-protected read-modify-write idiom around os.WriteFile are kept
// near-verbatim; the on-disk layout and record shape are new, built around
// the microledger's (did, version_id)/(did, self_hash) key space (spec.md
// §4.5's "logically a table... PRIMARY KEY (did, version_id), UNIQUE (did,
// self_hash)") instead of the teacher's CID/gist-slug object space.
package docstore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/stackdump/webplus/internal/werrors"
	"github.com/stackdump/webplus/pkg/diddoc"
)

// sanitizeComponent guards against path traversal in a DID or self-hash
// used as a filesystem path component.
func sanitizeComponent(component string) (string, error) {
	if component == "" {
		return "", fmt.Errorf("path component cannot be empty")
	}
	if strings.ContainsAny(component, "/\\") || strings.Contains(component, "..") || component == "." {
		return "", fmt.Errorf("invalid path component: %s", component)
	}
	cleaned := filepath.Clean(component)
	if cleaned != component {
		return "", fmt.Errorf("path component contains invalid characters: %s", component)
	}
	return cleaned, nil
}

// Record is one stored row: a DID document plus the store-assigned
// bookkeeping fields of spec.md §4.5.
type Record struct {
	DID              string
	VersionID        uint32
	ValidFrom        time.Time
	SelfHash         string
	DocumentJCS      []byte
	JSONLOctetLength int64
}

// diskRecord is Record's JSON-on-disk shape (DocumentJCS stored as a raw
// string so a hand inspection of the file shows the canonical document
// text directly).
type diskRecord struct {
	DID              string    `json:"did"`
	VersionID        uint32    `json:"versionId"`
	ValidFrom        time.Time `json:"validFrom"`
	SelfHash         string    `json:"selfHash"`
	DocumentJCS      string    `json:"didDocumentJCS"`
	JSONLOctetLength int64     `json:"didDocumentsJSONLOctetLength"`
}

// Store is a filesystem-backed document store.
//
// Layout under base:
//
//	{did}/by-hash/{self_hash}.json      -> diskRecord
//	{did}/by-version/{version_id}       -> self_hash (pointer)
//	{did}/latest                        -> self_hash of the highest stored version
//	{did}/did-documents.jsonl           -> append-only log, one JCS document per line
type Store struct {
	base string
	mu   sync.Mutex
}

// New returns a Store rooted at base. base is created on first write.
func New(base string) *Store {
	return &Store{base: base}
}

func (s *Store) didDir(did string) (string, error) {
	clean, err := sanitizeComponent(did)
	if err != nil {
		return "", fmt.Errorf("invalid did: %w", err)
	}
	return filepath.Join(s.base, clean), nil
}

func (s *Store) byHashPath(didDir, selfHash string) (string, error) {
	clean, err := sanitizeComponent(selfHash)
	if err != nil {
		return "", fmt.Errorf("invalid self-hash: %w", err)
	}
	return filepath.Join(didDir, "by-hash", clean+".json"), nil
}

func (s *Store) byVersionPath(didDir string, versionID uint32) string {
	return filepath.Join(didDir, "by-version", fmt.Sprintf("%d", versionID))
}

// Put writes rec, idempotent by (did, self_hash): re-insertion of a
// byte-identical record is a no-op success. A record with the same
// (did, self_hash) but different contents is RecordCorruption (the
// self-hash is supposed to be content-addressed, so this should never
// legitimately happen). A record at a (did, version_id) already occupied
// by a different self-hash is AlreadyExists (spec.md §5: "the other
// observes either success ... or AlreadyExists / RecordCorruption").
func (s *Store) Put(rec Record) error {
	const op = "docstore.Put"
	s.mu.Lock()
	defer s.mu.Unlock()

	didDir, err := s.didDir(rec.DID)
	if err != nil {
		return werrors.E(op, werrors.Malformed, err)
	}
	hashPath, err := s.byHashPath(didDir, rec.SelfHash)
	if err != nil {
		return werrors.E(op, werrors.Malformed, err)
	}

	if existing, err := readDiskRecord(hashPath); err == nil {
		if existing.VersionID == rec.VersionID && existing.DocumentJCS == string(rec.DocumentJCS) {
			return nil
		}
		return werrors.WithSelfHash(werrors.E(op, werrors.RecordCorruption,
			fmt.Errorf("stored record for self-hash %q disagrees with the one being inserted", rec.SelfHash)), rec.SelfHash)
	} else if !os.IsNotExist(err) {
		return werrors.E(op, werrors.FetchFailed, err)
	}

	versionPath := s.byVersionPath(didDir, rec.VersionID)
	if existingHash, err := os.ReadFile(versionPath); err == nil {
		if string(existingHash) != rec.SelfHash {
			return werrors.E(op, werrors.AlreadyExists,
				fmt.Errorf("version %d of %q is already recorded under self-hash %q", rec.VersionID, rec.DID, string(existingHash)))
		}
	} else if !os.IsNotExist(err) {
		return werrors.E(op, werrors.FetchFailed, err)
	}

	if err := os.MkdirAll(filepath.Join(didDir, "by-hash"), 0o755); err != nil {
		return werrors.E(op, werrors.FetchFailed, err)
	}
	if err := os.MkdirAll(filepath.Join(didDir, "by-version"), 0o755); err != nil {
		return werrors.E(op, werrors.FetchFailed, err)
	}

	logPath := filepath.Join(didDir, "did-documents.jsonl")
	offset, err := appendLog(logPath, rec.DocumentJCS)
	if err != nil {
		return werrors.E(op, werrors.FetchFailed, err)
	}
	rec.JSONLOctetLength = offset

	dr := diskRecord{
		DID:              rec.DID,
		VersionID:        rec.VersionID,
		ValidFrom:        rec.ValidFrom,
		SelfHash:         rec.SelfHash,
		DocumentJCS:      string(rec.DocumentJCS),
		JSONLOctetLength: rec.JSONLOctetLength,
	}
	raw, err := json.MarshalIndent(dr, "", "  ")
	if err != nil {
		return werrors.E(op, werrors.Malformed, err)
	}
	if err := os.WriteFile(hashPath, raw, 0o644); err != nil {
		return werrors.E(op, werrors.FetchFailed, err)
	}
	if err := os.WriteFile(versionPath, []byte(rec.SelfHash), 0o644); err != nil {
		return werrors.E(op, werrors.FetchFailed, err)
	}

	latestPath := filepath.Join(didDir, "latest")
	cur, err := os.ReadFile(latestPath)
	if err != nil && !os.IsNotExist(err) {
		return werrors.E(op, werrors.FetchFailed, err)
	}
	if err == nil {
		curRec, err := readDiskRecord(s.mustByHashPath(didDir, string(cur)))
		if err == nil && curRec.VersionID >= rec.VersionID {
			return nil
		}
	}
	return os.WriteFile(latestPath, []byte(rec.SelfHash), 0o644)
}

func (s *Store) mustByHashPath(didDir, selfHash string) string {
	p, err := s.byHashPath(didDir, selfHash)
	if err != nil {
		return ""
	}
	return p
}

// appendLog appends raw followed by a single "\n" to path, returning the
// file's total length after the write (the offset a resolver range-fetch
// should start its next request at).
func appendLog(path string, raw []byte) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if _, err := f.Write(raw); err != nil {
		return 0, err
	}
	if _, err := f.Write([]byte("\n")); err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func readDiskRecord(path string) (diskRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return diskRecord{}, err
	}
	var dr diskRecord
	if err := json.Unmarshal(data, &dr); err != nil {
		return diskRecord{}, err
	}
	return dr, nil
}

func toRecord(dr diskRecord) Record {
	return Record{
		DID:              dr.DID,
		VersionID:        dr.VersionID,
		ValidFrom:        dr.ValidFrom,
		SelfHash:         dr.SelfHash,
		DocumentJCS:      []byte(dr.DocumentJCS),
		JSONLOctetLength: dr.JSONLOctetLength,
	}
}

// GetBySelfHash retrieves the record for (did, selfHash).
func (s *Store) GetBySelfHash(did, selfHash string) (Record, error) {
	const op = "docstore.GetBySelfHash"
	didDir, err := s.didDir(did)
	if err != nil {
		return Record{}, werrors.E(op, werrors.Malformed, err)
	}
	hashPath, err := s.byHashPath(didDir, selfHash)
	if err != nil {
		return Record{}, werrors.E(op, werrors.Malformed, err)
	}
	dr, err := readDiskRecord(hashPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, werrors.E(op, werrors.NotFound, err)
		}
		return Record{}, werrors.E(op, werrors.FetchFailed, err)
	}
	return toRecord(dr), nil
}

// GetByVersionID retrieves the record stored for (did, versionID).
func (s *Store) GetByVersionID(did string, versionID uint32) (Record, error) {
	const op = "docstore.GetByVersionID"
	didDir, err := s.didDir(did)
	if err != nil {
		return Record{}, werrors.E(op, werrors.Malformed, err)
	}
	selfHash, err := os.ReadFile(s.byVersionPath(didDir, versionID))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, werrors.E(op, werrors.NotFound, err)
		}
		return Record{}, werrors.E(op, werrors.FetchFailed, err)
	}
	return s.GetBySelfHash(did, string(selfHash))
}

// Latest retrieves the highest stored version's record for did.
func (s *Store) Latest(did string) (Record, error) {
	const op = "docstore.Latest"
	didDir, err := s.didDir(did)
	if err != nil {
		return Record{}, werrors.E(op, werrors.Malformed, err)
	}
	selfHash, err := os.ReadFile(filepath.Join(didDir, "latest"))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, werrors.E(op, werrors.NotFound, err)
		}
		return Record{}, werrors.E(op, werrors.FetchFailed, err)
	}
	return s.GetBySelfHash(did, string(selfHash))
}

// ReadLog returns the append-log bytes for did starting at offset, the
// byte position a VDR's "did-documents.jsonl" route and a resolver's Range
// fetch both key off of (spec.md §6, §4.6).
func (s *Store) ReadLog(did string, offset int64) ([]byte, error) {
	const op = "docstore.ReadLog"
	didDir, err := s.didDir(did)
	if err != nil {
		return nil, werrors.E(op, werrors.Malformed, err)
	}
	f, err := os.Open(filepath.Join(didDir, "did-documents.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, werrors.E(op, werrors.NotFound, err)
		}
		return nil, werrors.E(op, werrors.FetchFailed, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, werrors.E(op, werrors.FetchFailed, err)
	}
	if offset < 0 || offset > info.Size() {
		offset = info.Size()
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return nil, werrors.E(op, werrors.FetchFailed, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, werrors.E(op, werrors.FetchFailed, err)
	}
	return data, nil
}

// Filter conjunctively restricts Query: zero-value fields are wildcards.
type Filter struct {
	DID       string
	SelfHash  string
	VersionID *uint32
}

// Query returns every record matching filter. DID must always be given
// (the store has no global index across DIDs); SelfHash and VersionID
// further narrow the single (did, self_hash)/(did, version_id) match.
func (s *Store) Query(filter Filter) ([]Record, error) {
	const op = "docstore.Query"
	if filter.DID == "" {
		return nil, werrors.E(op, werrors.Malformed, fmt.Errorf("filter.DID is required"))
	}
	if filter.SelfHash != "" {
		rec, err := s.GetBySelfHash(filter.DID, filter.SelfHash)
		if err != nil {
			if werrors.Is(err, werrors.NotFound) {
				return nil, nil
			}
			return nil, err
		}
		if filter.VersionID != nil && rec.VersionID != *filter.VersionID {
			return nil, nil
		}
		return []Record{rec}, nil
	}
	if filter.VersionID != nil {
		rec, err := s.GetByVersionID(filter.DID, *filter.VersionID)
		if err != nil {
			if werrors.Is(err, werrors.NotFound) {
				return nil, nil
			}
			return nil, err
		}
		return []Record{rec}, nil
	}

	didDir, err := s.didDir(filter.DID)
	if err != nil {
		return nil, werrors.E(op, werrors.Malformed, err)
	}
	entries, err := os.ReadDir(filepath.Join(didDir, "by-hash"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, werrors.E(op, werrors.FetchFailed, err)
	}
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		dr, err := readDiskRecord(filepath.Join(didDir, "by-hash", e.Name()))
		if err != nil {
			continue
		}
		out = append(out, toRecord(dr))
	}
	return out, nil
}

// ValidateConsistency re-derives doc from rec's stored JCS bytes and
// checks that every self-describing field agrees with rec's own columns,
// and that rec's octet length is large enough to have included the
// trailing newline (spec.md §4.5's validate_consistency). A mismatch is
// RecordCorruption, carrying rec's self-hash for diagnostics.
func ValidateConsistency(rec Record) error {
	const op = "docstore.ValidateConsistency"
	if int64(len(rec.DocumentJCS))+1 > rec.JSONLOctetLength {
		return werrors.WithSelfHash(werrors.E(op, werrors.RecordCorruption,
			fmt.Errorf("jsonl octet length %d is too small for a %d-byte document plus newline", rec.JSONLOctetLength, len(rec.DocumentJCS))), rec.SelfHash)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(rec.DocumentJCS, &m); err != nil {
		return werrors.WithSelfHash(werrors.E(op, werrors.RecordCorruption, err), rec.SelfHash)
	}
	doc, err := diddoc.FromMap(m)
	if err != nil {
		return werrors.WithSelfHash(werrors.E(op, werrors.RecordCorruption, err), rec.SelfHash)
	}
	if doc.ID != rec.DID || doc.SelfHash != rec.SelfHash || doc.VersionID != rec.VersionID || !doc.ValidFrom.Equal(rec.ValidFrom) {
		return werrors.WithSelfHash(werrors.E(op, werrors.RecordCorruption,
			fmt.Errorf("record columns disagree with the parsed document")), rec.SelfHash)
	}
	if err := diddoc.VerifySelfHash(doc); err != nil {
		return werrors.WithSelfHash(werrors.E(op, werrors.RecordCorruption, err), rec.SelfHash)
	}
	return nil
}
