// Package microledger implements the microledger engine of spec.md §4.4:
// atomic validation of a candidate document against local state, execution
// of update-authorization rules, version-indexed lookups, and derivation
// of creation/next-update/latest-update/deactivated metadata. There is no
// lookup by time: documents are found by versionId (At) or as the latest.
//
// Rule evaluation and single-document verification themselves live in
// pkg/diddoc; this package owns only sequencing — the state machine
// spec.md §4.4 describes as "(none) --create(root)--> [v=0] --update-->
// [v=k+1]". It is new: the teacher has no microledger analog, but its
// shape follows the teacher's composable-validation idiom (small,
// independently testable checks run in sequence, first failure wins) seen
// in cmd/webserver/validation_test.go.
package microledger

import (
	"fmt"

	"github.com/stackdump/webplus/internal/selfhash"
	"github.com/stackdump/webplus/internal/werrors"
	"github.com/stackdump/webplus/pkg/diddoc"
)

// Microledger holds the locally known, validated chain of DID documents
// for a single DID, keyed by versionId. Transitions are total functions of
// (prev, candidate): any failure leaves the chain unchanged (spec.md §4.4).
type Microledger struct {
	did      string
	versions []diddoc.Document // index i holds versionId i
	hash     selfhash.Function
}

// New starts an empty microledger whose first appended document is its v0.
// hash is the self-hash function later candidates are expected to agree
// with root's (a microledger does not change hash functions mid-chain).
func New(hash selfhash.Function) *Microledger {
	return &Microledger{hash: hash}
}

// Len reports how many versions are currently stored.
func (m *Microledger) Len() int { return len(m.versions) }

// DID returns the microledger's DID, or "" if no root has been appended
// yet.
func (m *Microledger) DID() string { return m.did }

// At returns the document for versionId v, if stored.
func (m *Microledger) At(v uint32) (diddoc.Document, bool) {
	if int(v) >= len(m.versions) {
		return diddoc.Document{}, false
	}
	return m.versions[v], true
}

// Latest returns the highest stored version.
func (m *Microledger) Latest() (diddoc.Document, bool) {
	if len(m.versions) == 0 {
		return diddoc.Document{}, false
	}
	return m.versions[len(m.versions)-1], true
}

// Append validates candidate against the current chain tip and, if valid,
// extends the microledger with it. proofs is the set of JWS-like proofs
// of authorization over candidate's self-hash (empty for a root document,
// which authorizes itself by construction — spec.md §4.3). Use Append on
// the write path, where a caller (wallet or VDR) holds proofs of
// authorization; use Ingest on the read path, where a resolver is
// replaying a VDR/VDG's append-log and has no proofs to offer.
//
// A validation failure leaves the microledger's stored state untouched.
func (m *Microledger) Append(candidate diddoc.Document, proofs []string) error {
	const op = "microledger.Append"

	prev, isUpdate, err := m.linkCandidate(op, candidate)
	if err != nil {
		return err
	}
	if !isUpdate {
		m.did = candidate.ID
		m.versions = append(m.versions, candidate)
		return nil
	}

	fragments, err := diddoc.VerifyProofs(proofs, prev, candidate.SelfHash)
	if err != nil {
		return err
	}
	if err := diddoc.VerifyAuthorization(candidate, prev, fragments, m.hash); err != nil {
		return err
	}

	m.versions = append(m.versions, candidate)
	return nil
}

// Ingest extends the microledger with candidate the way a resolver does
// when replaying bytes fetched from a VDR/VDG (spec.md §4.6 step 4): it
// re-derives self-hash and chain-link integrity exactly as Append does,
// but skips authorization-rule evaluation, since the append-log carries no
// proofs of authorization — those were already checked once, by the VDR,
// at write time. This is the sense in which "any resolver can independently
// re-derive [the self-certifying] guarantee from raw bytes": the guarantee
// re-derived is hash and chain integrity, not update authorization.
func (m *Microledger) Ingest(candidate diddoc.Document) error {
	const op = "microledger.Ingest"
	_, _, err := m.linkCandidate(op, candidate)
	if err != nil {
		return err
	}
	if len(m.versions) == 0 {
		m.did = candidate.ID
	}
	m.versions = append(m.versions, candidate)
	return nil
}

// linkCandidate runs the chain-link checks shared by Append and Ingest:
// root-or-successor shape, id continuity, deactivation, and
// VerifyNonrecursive against the current tip. It reports whether candidate
// is a successor (isUpdate) and, if so, the predecessor it was checked
// against.
func (m *Microledger) linkCandidate(op string, candidate diddoc.Document) (prev diddoc.Document, isUpdate bool, err error) {
	if len(m.versions) == 0 {
		if !candidate.IsRoot() {
			return diddoc.Document{}, false, werrors.E(op, werrors.InvalidChainLink, fmt.Errorf("first document appended must be a root document"))
		}
		if err := diddoc.VerifyNonrecursive(candidate, nil); err != nil {
			return diddoc.Document{}, false, err
		}
		return diddoc.Document{}, false, nil
	}

	prev, _ = m.Latest()
	if candidate.ID != m.did {
		return diddoc.Document{}, true, werrors.E(op, werrors.InvalidChainLink, fmt.Errorf("candidate id %q does not match microledger id %q", candidate.ID, m.did))
	}
	if _, disallowed := prev.UpdateRules.(diddoc.UpdatesDisallowed); disallowed {
		return diddoc.Document{}, true, werrors.E(op, werrors.InvalidChainLink, fmt.Errorf("microledger is deactivated, no further updates are authorized"))
	}
	if err := diddoc.VerifyNonrecursive(candidate, &prev); err != nil {
		return diddoc.Document{}, true, err
	}
	return prev, true, nil
}
