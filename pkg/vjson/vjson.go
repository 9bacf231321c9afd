// Package vjson implements the VJSON (Verifiable JSON) substrate of
// spec.md §4.2: self-hashable JSON values with declared self-hash and
// self-hash-URL slots, a bootstrap Default schema, and schema-driven
// validation.
//
// The hash-then-stamp pipeline is grounded on the teacher's
// internal/seal.SealJSONLD, generalized from "normalize as JSON-LD,
// hash the N-Quads, wrap in a CID" to "canonicalize as JCS, hash,
// encode as a derivation-code token (internal/selfhash)" — the substrate this spec calls for hashes JCS bytes
// directly, with no RDF normalization step.
package vjson

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stackdump/webplus/internal/jcs"
	"github.com/stackdump/webplus/internal/selfhash"
	"github.com/stackdump/webplus/internal/werrors"
)

// DefaultSelfHashSlots and DefaultSelfHashURLSlots are the slot sets used
// when a VJSON value doesn't declare its own. spec.md §3 describes the
// default slots as "$.selfHash and (for URLs) $.$id, $.$schema", but an
// ordinary document's $schema names a different, already-minted VJSON (the
// schema it validates against) rather than referring to itself — only a
// schema's own bootstrap has $schema pointing back at its own self-hash.
// Blanking $schema here for every document would make it part of what gets
// hashed, so no document could ever carry a stable reference to a schema
// computed independently of it. See SchemaSelfHashURLSlots and DESIGN.md.
var (
	DefaultSelfHashSlots    = []string{"$.selfHash"}
	DefaultSelfHashURLSlots = []string{"$.$id"}
)

// SchemaSelfHashURLSlots is the slot set a VJSON schema document uses for
// itself: both $id and $schema are self-referential (vjson-schema.rs's
// VJSONSchema declares both as selfhash::SelfHashURL), since a schema's
// $schema conventionally points back at its own defining schema.
var SchemaSelfHashURLSlots = []string{"$.$id", "$.$schema"}

// SchemaSlotSet returns the slot set used to self-hash and verify a VJSON
// schema document (as opposed to DefaultSlotSet, used for ordinary
// documents that merely reference a schema).
func SchemaSlotSet() SlotSet {
	ss := SlotSet{}
	for _, e := range DefaultSelfHashSlots {
		p, _ := ParseSlotPath(e)
		ss.SelfHashSlots = append(ss.SelfHashSlots, p)
	}
	for _, e := range SchemaSelfHashURLSlots {
		p, _ := ParseSlotPath(e)
		ss.SelfHashURLSlots = append(ss.SelfHashURLSlots, p)
	}
	return ss
}

// SlotPath is a parsed self-hash slot expression: a sequence of plain
// field names, e.g. "$.selfHash" -> ["selfHash"], "$.$id" -> ["$id"].
type SlotPath []string

// ParseSlotPath parses a slot expression. Only "$.<literal>[.<literal>]*"
// is accepted; wildcards and bracket-enclosed expressions are rejected
// per spec.md §4.2.
func ParseSlotPath(expr string) (SlotPath, error) {
	if !strings.HasPrefix(expr, "$.") {
		return nil, fmt.Errorf("vjson: slot expression %q must start with '$.'", expr)
	}
	rest := expr[2:]
	if rest == "" {
		return nil, fmt.Errorf("vjson: slot expression %q has no field name", expr)
	}
	parts := strings.Split(rest, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("vjson: slot expression %q has an empty path segment", expr)
		}
		if strings.ContainsAny(p, "[]*") {
			return nil, fmt.Errorf("vjson: slot expression %q must be a plain field path (no wildcards or brackets)", expr)
		}
	}
	return SlotPath(parts), nil
}

// get navigates obj along p, returning werrors.Malformed(SlotParentMissing)
// style failures when an intermediate segment is absent or not an object.
func (p SlotPath) get(obj map[string]interface{}) (interface{}, bool, error) {
	cur := interface{}(obj)
	for i, seg := range p {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false, fmt.Errorf("vjson: slot path %v: segment %d (%q) is not an object", []string(p), i, seg)
		}
		v, present := m[seg]
		if !present {
			if i == len(p)-1 {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("vjson: slot path %v: segment %d (%q) is missing", []string(p), i, seg)
		}
		cur = v
	}
	return cur, true, nil
}

func (p SlotPath) set(obj map[string]interface{}, value interface{}) error {
	cur := obj
	for i, seg := range p {
		if i == len(p)-1 {
			cur[seg] = value
			return nil
		}
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			return fmt.Errorf("vjson: slot path %v: segment %d (%q) is not an object", []string(p), i, seg)
		}
		cur = next
	}
	return nil
}

// SlotSet declares which self-hash and self-hash-URL slots a VJSON value
// uses. Self-hash-URL slots carry "vjson:///<hash>" rather than the bare
// hash.
type SlotSet struct {
	SelfHashSlots    []SlotPath
	SelfHashURLSlots []SlotPath
}

// DefaultSlotSet returns the parsed form of DefaultSelfHashSlots and
// DefaultSelfHashURLSlots.
func DefaultSlotSet() SlotSet {
	ss := SlotSet{}
	for _, e := range DefaultSelfHashSlots {
		p, _ := ParseSlotPath(e)
		ss.SelfHashSlots = append(ss.SelfHashSlots, p)
	}
	for _, e := range DefaultSelfHashURLSlots {
		p, _ := ParseSlotPath(e)
		ss.SelfHashURLSlots = append(ss.SelfHashURLSlots, p)
	}
	return ss
}

const urlSlotScheme = "vjson:///"

func wrapURL(hash string) string { return urlSlotScheme + hash }

func unwrapURL(s string) (string, error) {
	if !strings.HasPrefix(s, urlSlotScheme) {
		return "", fmt.Errorf("vjson: self-hash-URL slot value %q does not start with %q", s, urlSlotScheme)
	}
	return strings.TrimPrefix(s, urlSlotScheme), nil
}

func deepCopy(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := jcs.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SelfHash computes the self-hashed JCS form of v under the given slot set
// and hash function, per spec.md §4.2 algorithm: substitute placeholders,
// canonicalize, hash, substitute the hash, canonicalize again.
func SelfHash(v map[string]interface{}, ss SlotSet, f selfhash.Function) (map[string]interface{}, error) {
	clone, err := deepCopy(v)
	if err != nil {
		return nil, werrors.E("vjson.SelfHash", werrors.Malformed, err)
	}

	placeholder, err := f.Placeholder()
	if err != nil {
		return nil, werrors.E("vjson.SelfHash", werrors.Unsupported, err)
	}
	if err := stampSlots(clone, ss, placeholder); err != nil {
		return nil, werrors.E("vjson.SelfHash", werrors.Malformed, err)
	}

	placeholderBytes, err := jcs.Marshal(clone)
	if err != nil {
		return nil, werrors.E("vjson.SelfHash", werrors.Malformed, err)
	}
	hash, err := f.Compute(placeholderBytes)
	if err != nil {
		return nil, werrors.E("vjson.SelfHash", werrors.Unsupported, err)
	}

	if err := stampSlots(clone, ss, hash); err != nil {
		return nil, werrors.E("vjson.SelfHash", werrors.Malformed, err)
	}
	return clone, nil
}

func stampSlots(obj map[string]interface{}, ss SlotSet, hash string) error {
	for _, p := range ss.SelfHashSlots {
		if err := p.set(obj, hash); err != nil {
			return err
		}
	}
	for _, p := range ss.SelfHashURLSlots {
		if err := p.set(obj, wrapURL(hash)); err != nil {
			return err
		}
	}
	return nil
}

// VerifySelfHash checks that every declared slot in v agrees (spec.md
// §4.2: "they must all agree — else fail MalformedSelfHash"), then
// recomputes the self-hash from the placeholder-substituted form and
// compares. The hash function is recovered from the derivation code
// embedded in the agreed-upon slot value, so callers never need to know it
// in advance. It returns the agreed-upon hash on success.
func VerifySelfHash(v map[string]interface{}, ss SlotSet) (string, error) {
	var agreed string
	have := false

	check := func(raw interface{}, isURL bool) error {
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("vjson: self-hash slot value is not a string: %#v", raw)
		}
		if isURL {
			var err error
			s, err = unwrapURL(s)
			if err != nil {
				return err
			}
		}
		if !have {
			agreed = s
			have = true
			return nil
		}
		if s != agreed {
			return fmt.Errorf("vjson: self-hash slots disagree: %q vs %q", agreed, s)
		}
		return nil
	}

	for _, p := range ss.SelfHashSlots {
		raw, present, err := p.get(v)
		if err != nil {
			return "", werrors.E("vjson.VerifySelfHash", werrors.Malformed, err)
		}
		if !present {
			return "", werrors.E("vjson.VerifySelfHash", werrors.InvalidSelfHash, fmt.Errorf("missing self-hash slot %v", []string(p)))
		}
		if err := check(raw, false); err != nil {
			return "", werrors.E("vjson.VerifySelfHash", werrors.InvalidSelfHash, err)
		}
	}
	for _, p := range ss.SelfHashURLSlots {
		raw, present, err := p.get(v)
		if err != nil {
			return "", werrors.E("vjson.VerifySelfHash", werrors.Malformed, err)
		}
		if !present {
			continue
		}
		if err := check(raw, true); err != nil {
			return "", werrors.E("vjson.VerifySelfHash", werrors.InvalidSelfHash, err)
		}
	}
	if !have {
		return "", werrors.E("vjson.VerifySelfHash", werrors.InvalidSelfHash, fmt.Errorf("no self-hash slots present"))
	}

	f, err := selfhash.DetectFunction(agreed)
	if err != nil {
		return "", werrors.E("vjson.VerifySelfHash", werrors.Unsupported, err)
	}
	placeholder, err := f.Placeholder()
	if err != nil {
		return "", werrors.E("vjson.VerifySelfHash", werrors.Unsupported, err)
	}
	clone, err := deepCopy(v)
	if err != nil {
		return "", werrors.E("vjson.VerifySelfHash", werrors.Malformed, err)
	}
	if err := stampSlots(clone, ss, placeholder); err != nil {
		return "", werrors.E("vjson.VerifySelfHash", werrors.Malformed, err)
	}
	placeholderBytes, err := jcs.Marshal(clone)
	if err != nil {
		return "", werrors.E("vjson.VerifySelfHash", werrors.Malformed, err)
	}
	ok, err := selfhash.Verify(f, placeholderBytes, agreed)
	if err != nil {
		return "", werrors.E("vjson.VerifySelfHash", werrors.Unsupported, err)
	}
	if !ok {
		return "", werrors.E("vjson.VerifySelfHash", werrors.InvalidSelfHash, fmt.Errorf("self-hash does not verify"))
	}
	return agreed, nil
}
