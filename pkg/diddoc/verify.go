package diddoc

import (
	"fmt"
	"time"

	"github.com/stackdump/webplus/internal/selfhash"
	"github.com/stackdump/webplus/internal/werrors"
	"github.com/stackdump/webplus/pkg/webplusuri"
)

// VerifyNonrecursive runs the single-document verification routine of
// spec.md §4.3: structural checks, self-hash verification, root/non-root
// chain-link checks, and public-key-material consistency. It does not
// evaluate update-authorization rules (that needs proofs, supplied by the
// caller — see VerifyAuthorization); the microledger engine calls both.
//
// prev is nil for a root document.
func VerifyNonrecursive(doc Document, prev *Document) error {
	const op = "diddoc.VerifyNonrecursive"

	if _, err := webplusuri.Parse(doc.ID); err != nil {
		return werrors.E(op, werrors.Malformed, fmt.Errorf("id is not a valid base DID: %w", err))
	}

	if err := VerifySelfHash(doc); err != nil {
		return err
	}

	if doc.IsRoot() {
		if prev != nil {
			return werrors.E(op, werrors.InvalidChainLink, fmt.Errorf("root document must not have a predecessor"))
		}
		did, err := webplusuri.Parse(doc.ID)
		if err != nil {
			return werrors.E(op, werrors.Malformed, err)
		}
		if doc.SelfHash != did.RootSelfHash() {
			return werrors.E(op, werrors.InvalidSelfHash, fmt.Errorf("root selfHash %q != id's root self-hash %q", doc.SelfHash, did.RootSelfHash()))
		}
	} else {
		if prev == nil {
			return werrors.E(op, werrors.InvalidChainLink, fmt.Errorf("non-root document requires a predecessor"))
		}
		if doc.VersionID != prev.VersionID+1 {
			return werrors.E(op, werrors.InvalidChainLink, fmt.Errorf("versionId %d is not prev.versionId+1 (%d)", doc.VersionID, prev.VersionID+1))
		}
		if doc.PrevDIDDocumentSelfHash != prev.SelfHash {
			return werrors.E(op, werrors.InvalidChainLink, fmt.Errorf("prevDIDDocumentSelfHash %q != prev.selfHash %q", doc.PrevDIDDocumentSelfHash, prev.SelfHash))
		}
		if !doc.ValidFrom.After(prev.ValidFrom) {
			return werrors.E(op, werrors.InvalidChainLink, fmt.Errorf("validFrom %s is not strictly after prev.validFrom %s", doc.ValidFrom, prev.ValidFrom))
		}
		if hasSubMillisecondPrecision(doc.ValidFrom) {
			return werrors.E(op, werrors.Malformed, fmt.Errorf("validFrom must be millisecond precision"))
		}
		if doc.ID != prev.ID {
			return werrors.E(op, werrors.InvalidChainLink, fmt.Errorf("id %q != prev.id %q", doc.ID, prev.ID))
		}
	}

	if err := checkPublicKeyMaterial(doc); err != nil {
		return werrors.E(op, werrors.Malformed, err)
	}
	return nil
}

func hasSubMillisecondPrecision(t time.Time) bool {
	return t.Nanosecond()%int(time.Millisecond) != 0
}

func checkPublicKeyMaterial(doc Document) error {
	seen := map[string]bool{}
	fragments := map[string]bool{}
	for _, vm := range doc.PublicKeyMaterial.VerificationMethod {
		f := vm.Fragment()
		if f == "" {
			return fmt.Errorf("verification method %q has no fragment", vm.ID)
		}
		if seen[f] {
			return fmt.Errorf("duplicate verification method fragment %q", f)
		}
		seen[f] = true
		fragments[f] = true
		if vm.Controller != doc.ID {
			return fmt.Errorf("verification method %q controller %q != document id %q", f, vm.Controller, doc.ID)
		}
	}
	for purpose, refs := range map[string][]string{
		"authentication":       doc.PublicKeyMaterial.Authentication,
		"assertionMethod":      doc.PublicKeyMaterial.AssertionMethod,
		"keyAgreement":         doc.PublicKeyMaterial.KeyAgreement,
		"capabilityInvocation": doc.PublicKeyMaterial.CapabilityInvocation,
		"capabilityDelegation": doc.PublicKeyMaterial.CapabilityDelegation,
	} {
		for _, ref := range refs {
			if !fragments[ref] {
				return fmt.Errorf("%s references unknown fragment %q", purpose, ref)
			}
		}
	}
	return nil
}

// VerifyAuthorization checks that proofs (JWS tokens over the candidate's
// self-hash, produced by wallet.SignProof) satisfy prev's updateRules
// (spec.md §4.4: rules govern authorization of the *next* document). For
// a root document there is nothing to authorize against; callers should
// skip this call entirely for roots.
func VerifyAuthorization(candidate Document, prev Document, proofFragments []string, f selfhash.Function) error {
	const op = "diddoc.VerifyAuthorization"
	satisfied := make(map[string]bool, len(proofFragments))
	for _, frag := range proofFragments {
		if _, ok := prev.PublicKeyMaterial.ByFragment(frag); !ok {
			return werrors.E(op, werrors.UnauthorizedUpdate, fmt.Errorf("proof fragment %q is not a key of prev", frag))
		}
		satisfied[frag] = true
	}

	rule := prev.UpdateRules
	ctx := EvalContext{SatisfiedFragments: satisfied, CandidatePKM: candidate.PublicKeyMaterial, HashFunction: f}

	if rule == nil {
		ctx.SatisfiedFragments = restrictTo(satisfied, prev.PublicKeyMaterial.CapabilityInvocation)
		if !DefaultRule().evaluate(ctx) {
			return werrors.E(op, werrors.UnauthorizedUpdate, fmt.Errorf("no capabilityInvocation key from prev authorized this update"))
		}
		return nil
	}
	if !Evaluate(rule, ctx) {
		return werrors.E(op, werrors.UnauthorizedUpdate, fmt.Errorf("update rules not satisfied by supplied proofs"))
	}
	return nil
}

func restrictTo(satisfied map[string]bool, allowed []string) map[string]bool {
	out := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		if satisfied[a] {
			out[a] = true
		}
	}
	return out
}
