// Package diddoc implements the DID Document component of spec.md §4.3:
// the per-version record of a microledger, its self-hash slot handling
// (including the root document's self-referential `id` field), and the
// single-document verification routine `verify_nonrecursive`.
//
// Grounded on the teacher's internal/seal (hash-then-stamp pipeline) and
// internal/ethsig (the secp256k1 verification path, now folded into
// pkg/wallet); the update-rule algebra is new, styled after the teacher's
// composable-validator idiom in its HTTP handlers (small, independently
// testable predicate functions combined by the caller).
package diddoc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stackdump/webplus/internal/jcs"
	"github.com/stackdump/webplus/internal/selfhash"
	"github.com/stackdump/webplus/internal/werrors"
	"github.com/stackdump/webplus/pkg/webplusuri"
)

// VerificationMethod is one key entry in a document's public key material.
type VerificationMethod struct {
	ID           string                 // fragment-qualified, e.g. "did:webplus:...#key-1"
	Type         string                 // e.g. "Ed25519VerificationKey2020"
	Controller   string                 // the owning DID
	PublicKeyJWK map[string]interface{} // RFC 7517 JWK, optionally carrying "kid"
}

// Fragment returns the "#..." suffix of ID.
func (vm VerificationMethod) Fragment() string {
	if i := strings.IndexByte(vm.ID, '#'); i >= 0 {
		return vm.ID[i+1:]
	}
	return ""
}

// PublicKeyMaterial is the document's key set plus per-purpose assignment.
type PublicKeyMaterial struct {
	VerificationMethod   []VerificationMethod
	Authentication       []string
	AssertionMethod      []string
	KeyAgreement         []string
	CapabilityInvocation []string
	CapabilityDelegation []string
}

// ByFragment looks up a verification method by its fragment ID.
func (pkm PublicKeyMaterial) ByFragment(fragment string) (VerificationMethod, bool) {
	for _, vm := range pkm.VerificationMethod {
		if vm.Fragment() == fragment {
			return vm, true
		}
	}
	return VerificationMethod{}, false
}

// Document is one entry of a microledger: spec.md §3's per-field table.
type Document struct {
	ID                      string
	SelfHash                string
	PrevDIDDocumentSelfHash string
	VersionID               uint32
	ValidFrom               time.Time
	PublicKeyMaterial       PublicKeyMaterial
	UpdateRules             Rule
}

// IsRoot reports whether d is a microledger's first document.
func (d Document) IsRoot() bool {
	return d.VersionID == 0 && d.PrevDIDDocumentSelfHash == ""
}

// toMap renders d to the generic JSON shape SelfHash/JCS operate over.
func (d Document) toMap() map[string]interface{} {
	rules := d.UpdateRules
	if rules == nil {
		rules = DefaultRule()
	}
	m := map[string]interface{}{
		"id":        d.ID,
		"selfHash":  d.SelfHash,
		"versionId": float64(d.VersionID),
		"validFrom": formatValidFrom(d.ValidFrom),
		"publicKeyMaterial": map[string]interface{}{
			"verificationMethod":   vmsToMaps(d.PublicKeyMaterial.VerificationMethod),
			"authentication":       stringsOrEmpty(d.PublicKeyMaterial.Authentication),
			"assertionMethod":      stringsOrEmpty(d.PublicKeyMaterial.AssertionMethod),
			"keyAgreement":         stringsOrEmpty(d.PublicKeyMaterial.KeyAgreement),
			"capabilityInvocation": stringsOrEmpty(d.PublicKeyMaterial.CapabilityInvocation),
			"capabilityDelegation": stringsOrEmpty(d.PublicKeyMaterial.CapabilityDelegation),
		},
		"updateRules": rules.toMap(),
	}
	if d.PrevDIDDocumentSelfHash != "" {
		m["prevDIDDocumentSelfHash"] = d.PrevDIDDocumentSelfHash
	}
	return m
}

func vmsToMaps(vms []VerificationMethod) []interface{} {
	out := make([]interface{}, len(vms))
	for i, vm := range vms {
		out[i] = map[string]interface{}{
			"id":           vm.ID,
			"type":         vm.Type,
			"controller":   vm.Controller,
			"publicKeyJwk": vm.PublicKeyJWK,
		}
	}
	return out
}

func stringsOrEmpty(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// formatValidFrom renders a UTC instant at exactly millisecond precision,
// per spec.md's boundary behavior ("a document whose validFrom has
// sub-millisecond precision is rejected") — this implementation always
// emits millisecond precision, so it can never itself produce a rejected
// value.
func formatValidFrom(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// FromMap parses the generic JSON shape produced by a VDR/store read back
// into a Document, rejecting unknown top-level fields per §4.3 step 1.
func FromMap(m map[string]interface{}) (Document, error) {
	const op = "diddoc.FromMap"
	allowed := map[string]bool{
		"id": true, "selfHash": true, "prevDIDDocumentSelfHash": true,
		"versionId": true, "validFrom": true, "publicKeyMaterial": true,
		"updateRules": true,
	}
	for k := range m {
		if !allowed[k] {
			return Document{}, werrors.E(op, werrors.Malformed, fmt.Errorf("unknown top-level field %q", k))
		}
	}

	id, _ := m["id"].(string)
	selfHash, _ := m["selfHash"].(string)
	prev, _ := m["prevDIDDocumentSelfHash"].(string)
	versionIDf, _ := m["versionId"].(float64)
	validFromStr, _ := m["validFrom"].(string)

	validFrom, err := time.Parse("2006-01-02T15:04:05.000Z", validFromStr)
	if err != nil {
		return Document{}, werrors.E(op, werrors.Malformed, fmt.Errorf("validFrom must be millisecond-precision UTC: %w", err))
	}

	pkmRaw, _ := m["publicKeyMaterial"].(map[string]interface{})
	pkm, err := parsePublicKeyMaterial(pkmRaw)
	if err != nil {
		return Document{}, werrors.E(op, werrors.Malformed, err)
	}

	var rule Rule
	if rulesRaw, ok := m["updateRules"]; ok {
		rule, err = ruleFromMap(rulesRaw)
		if err != nil {
			return Document{}, werrors.E(op, werrors.Malformed, fmt.Errorf("updateRules: %w", err))
		}
	} else {
		rule = nil
	}

	return Document{
		ID:                      id,
		SelfHash:                selfHash,
		PrevDIDDocumentSelfHash: prev,
		VersionID:               uint32(versionIDf),
		ValidFrom:               validFrom,
		PublicKeyMaterial:       pkm,
		UpdateRules:             rule,
	}, nil
}

func parsePublicKeyMaterial(m map[string]interface{}) (PublicKeyMaterial, error) {
	var pkm PublicKeyMaterial
	vmsRaw, _ := m["verificationMethod"].([]interface{})
	for _, raw := range vmsRaw {
		vmMap, ok := raw.(map[string]interface{})
		if !ok {
			return PublicKeyMaterial{}, fmt.Errorf("verificationMethod entry is not an object")
		}
		vm := VerificationMethod{}
		vm.ID, _ = vmMap["id"].(string)
		vm.Type, _ = vmMap["type"].(string)
		vm.Controller, _ = vmMap["controller"].(string)
		vm.PublicKeyJWK, _ = vmMap["publicKeyJwk"].(map[string]interface{})
		pkm.VerificationMethod = append(pkm.VerificationMethod, vm)
	}
	pkm.Authentication = toStrings(m["authentication"])
	pkm.AssertionMethod = toStrings(m["assertionMethod"])
	pkm.KeyAgreement = toStrings(m["keyAgreement"])
	pkm.CapabilityInvocation = toStrings(m["capabilityInvocation"])
	pkm.CapabilityDelegation = toStrings(m["capabilityDelegation"])
	return pkm, nil
}

func toStrings(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// CanonicalBytes returns the JCS form of d, the only byte form this method
// ever hashes or persists (spec.md §4.3: "the serializer is the one
// authority").
func (d Document) CanonicalBytes() ([]byte, error) {
	return jcs.Marshal(d.toMap())
}

// deepCopyMap clones a generic JSON value through a JCS round trip,
// decoding numbers as plain float64, the form FromMap reads.
func deepCopyMap(m map[string]interface{}) (map[string]interface{}, error) {
	raw, err := jcs.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// stampRootTokens rewrites every embedded occurrence of oldToken with
// newToken across the id field and every verification method's
// controller/id/publicKeyJwk.kid fields — the root document's self-hash
// slots beyond `selfHash` itself (spec.md §4.3 step 3).
func stampRootTokens(m map[string]interface{}, oldToken, newToken string) {
	if id, ok := m["id"].(string); ok {
		m["id"] = strings.ReplaceAll(id, oldToken, newToken)
	}
	pkm, ok := m["publicKeyMaterial"].(map[string]interface{})
	if !ok {
		return
	}
	vms, ok := pkm["verificationMethod"].([]interface{})
	if !ok {
		return
	}
	for _, raw := range vms {
		vm, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if s, ok := vm["controller"].(string); ok {
			vm["controller"] = strings.ReplaceAll(s, oldToken, newToken)
		}
		if s, ok := vm["id"].(string); ok {
			vm["id"] = strings.ReplaceAll(s, oldToken, newToken)
		}
		if jwk, ok := vm["publicKeyJwk"].(map[string]interface{}); ok {
			if kid, ok := jwk["kid"].(string); ok {
				jwk["kid"] = strings.ReplaceAll(kid, oldToken, newToken)
			}
		}
	}
}

// rootToken extracts the current root-self-hash token embedded in m's id
// field (a syntactically valid base DID).
func rootToken(m map[string]interface{}) (string, error) {
	idStr, _ := m["id"].(string)
	did, err := webplusuri.Parse(idStr)
	if err != nil {
		return "", fmt.Errorf("id is not a valid base DID: %w", err)
	}
	return did.RootSelfHash(), nil
}

// ComputeSelfHash produces the self-hashed JCS form of doc, per spec.md
// §4.2's algorithm specialized to §4.3 step 3's slot set: `selfHash`
// always, plus (for root documents) every embedded occurrence of the DID's
// root self-hash. It returns the updated Document with SelfHash (and, for
// roots, ID) populated.
func ComputeSelfHash(doc Document, f selfhash.Function) (Document, error) {
	const op = "diddoc.ComputeSelfHash"
	m, err := deepCopyMap(doc.toMap())
	if err != nil {
		return Document{}, werrors.E(op, werrors.Malformed, err)
	}

	placeholder, err := f.Placeholder()
	if err != nil {
		return Document{}, werrors.E(op, werrors.Unsupported, err)
	}

	if doc.IsRoot() {
		old, err := rootToken(m)
		if err != nil {
			return Document{}, werrors.E(op, werrors.Malformed, err)
		}
		stampRootTokens(m, old, placeholder)
	}
	m["selfHash"] = placeholder

	raw, err := jcs.Marshal(m)
	if err != nil {
		return Document{}, werrors.E(op, werrors.Malformed, err)
	}
	hash, err := f.Compute(raw)
	if err != nil {
		return Document{}, werrors.E(op, werrors.Unsupported, err)
	}

	if doc.IsRoot() {
		stampRootTokens(m, placeholder, hash)
	}
	m["selfHash"] = hash

	out, err := FromMap(m)
	if err != nil {
		return Document{}, werrors.E(op, werrors.Malformed, err)
	}
	return out, nil
}

// VerifySelfHash checks a document's self-hash (and, for roots, the
// consistency of every embedded root-hash occurrence) per spec.md §4.2
// step 2 / §4.3 step 4.
func VerifySelfHash(doc Document) error {
	const op = "diddoc.VerifySelfHash"
	if doc.SelfHash == "" {
		return werrors.E(op, werrors.InvalidSelfHash, fmt.Errorf("selfHash is empty"))
	}
	f, err := selfhash.DetectFunction(doc.SelfHash)
	if err != nil {
		return werrors.E(op, werrors.Unsupported, err)
	}

	m, err := deepCopyMap(doc.toMap())
	if err != nil {
		return werrors.E(op, werrors.Malformed, err)
	}
	placeholder, err := f.Placeholder()
	if err != nil {
		return werrors.E(op, werrors.Unsupported, err)
	}

	if doc.IsRoot() {
		old, err := rootToken(m)
		if err != nil {
			return werrors.E(op, werrors.Malformed, err)
		}
		if old != doc.SelfHash {
			return werrors.E(op, werrors.InvalidSelfHash, fmt.Errorf("id's root self-hash %q disagrees with selfHash %q", old, doc.SelfHash))
		}
		stampRootTokens(m, old, placeholder)
	}
	m["selfHash"] = placeholder

	raw, err := jcs.Marshal(m)
	if err != nil {
		return werrors.E(op, werrors.Malformed, err)
	}
	ok, err := selfhash.Verify(f, raw, doc.SelfHash)
	if err != nil {
		return werrors.E(op, werrors.Unsupported, err)
	}
	if !ok {
		return werrors.WithSelfHash(werrors.E(op, werrors.InvalidSelfHash, fmt.Errorf("self-hash does not verify")), doc.SelfHash)
	}
	return nil
}
