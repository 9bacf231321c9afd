package microledger

import (
	"time"

	"github.com/stackdump/webplus/internal/werrors"
	"github.com/stackdump/webplus/pkg/diddoc"
)

// Metadata is spec.md §4.4's "from the local chain alone" derivation:
// creation time, and — only when the engine can prove finality — the
// latest stored version's id/validFrom and whether it is deactivated.
type Metadata struct {
	Creation        time.Time
	LatestVersionID uint32
	LatestUpdate    time.Time
	Deactivated     bool
}

// FreshnessProof tells LatestMetadata whether the caller already knows, by
// some means outside the local chain (a VDR/VDG freshness check), that the
// locally stored latest version has no successor.
type FreshnessProof bool

const (
	// ProvenFresh means the caller has confirmed (e.g. via a VDR/VDG
	// check) that no successor to the local latest exists.
	ProvenFresh FreshnessProof = true
	// LocalOnly means the caller has only the locally cached chain, with
	// no independent confirmation that it is current.
	LocalOnly FreshnessProof = false
)

// Creation returns v0's validFrom.
func (m *Microledger) Creation() (time.Time, error) {
	const op = "microledger.Creation"
	root, ok := m.At(0)
	if !ok {
		return time.Time{}, werrors.E(op, werrors.NotFound, nil)
	}
	return root.ValidFrom, nil
}

// NextUpdate returns the validFrom of the document immediately following
// versionID, if it is stored locally.
func (m *Microledger) NextUpdate(versionID uint32) (time.Time, bool) {
	doc, ok := m.At(versionID + 1)
	if !ok {
		return time.Time{}, false
	}
	return doc.ValidFrom, true
}

// LatestMetadata derives the latestUpdate/deactivated facts of spec.md
// §4.4. fresh must be ProvenFresh unless the caller can otherwise be sure
// the locally stored latest version has no undiscovered successor; when
// fresh is LocalOnly, LatestMetadata always returns a StaleLatest error,
// since the local chain alone can never prove its own tip is final (a
// later version could exist upstream without having been fetched yet).
func (m *Microledger) LatestMetadata(fresh FreshnessProof) (Metadata, error) {
	const op = "microledger.LatestMetadata"
	root, ok := m.At(0)
	if !ok {
		return Metadata{}, werrors.E(op, werrors.NotFound, nil)
	}
	if !bool(fresh) {
		return Metadata{}, werrors.E(op, werrors.StaleLatest, nil)
	}
	latest, _ := m.Latest()
	return Metadata{
		Creation:        root.ValidFrom,
		LatestVersionID: latest.VersionID,
		LatestUpdate:    latest.ValidFrom,
		Deactivated:     isDeactivated(latest),
	}, nil
}

func isDeactivated(doc diddoc.Document) bool {
	_, disallowed := doc.UpdateRules.(diddoc.UpdatesDisallowed)
	return disallowed
}
