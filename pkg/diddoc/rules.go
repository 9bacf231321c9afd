package diddoc

import (
	"fmt"

	"github.com/stackdump/webplus/internal/jcs"
	"github.com/stackdump/webplus/internal/selfhash"
)

// Rule is one node of the update-authorization rule tree (spec.md §4.4,
// §9 "Update rules are naturally a recursive algebraic sum"). Implemented
// as tagged variants evaluated by depth-first traversal with short-circuit
// for All/Any, matching the teacher's style of small composable predicate
// functions rather than a generic interpreter.
type Rule interface {
	evaluate(ctx EvalContext) bool
	toMap() interface{}
}

// EvalContext carries what Evaluate needs to judge a rule: which
// verification-method fragments produced a valid proof over the
// candidate document, plus the candidate's own public key material (for
// HashedUpdateKey's "revealed key" check) and the hash function key
// hashes are computed with.
type EvalContext struct {
	SatisfiedFragments map[string]bool
	CandidatePKM        PublicKeyMaterial
	HashFunction        selfhash.Function
}

// Evaluate judges whether ctx's satisfied proofs authorize an update under
// rule r.
func Evaluate(r Rule, ctx EvalContext) bool {
	if r == nil {
		return DefaultRule().evaluate(ctx)
	}
	return r.evaluate(ctx)
}

// DefaultRule is used when a predecessor declares no updateRules: "any
// capabilityInvocation key from prev suffices" (spec.md §4.4). Callers
// apply it against prev's capabilityInvocation set, not the candidate's.
func DefaultRule() Rule { return defaultRuleMarker{} }

type defaultRuleMarker struct{}

func (defaultRuleMarker) evaluate(ctx EvalContext) bool {
	for fragment := range ctx.SatisfiedFragments {
		if ctx.SatisfiedFragments[fragment] {
			return true
		}
	}
	return false
}
func (defaultRuleMarker) toMap() interface{} { return map[string]interface{}{"type": "Default"} }

// UpdateKey is satisfied iff the named fragment produced a valid proof.
type UpdateKey struct{ Fragment string }

func (r UpdateKey) evaluate(ctx EvalContext) bool { return ctx.SatisfiedFragments[r.Fragment] }
func (r UpdateKey) toMap() interface{} {
	return map[string]interface{}{"type": "UpdateKey", "fragment": r.Fragment}
}

// HashedUpdateKey is a pre-rotation commitment: satisfied iff a key whose
// JWK hash equals Hash both produced a proof and is present in the
// candidate's public key material (the key is "revealed" in this update).
type HashedUpdateKey struct{ Hash string }

func (r HashedUpdateKey) evaluate(ctx EvalContext) bool {
	for _, vm := range ctx.CandidatePKM.VerificationMethod {
		h, err := jwkHash(vm, ctx.HashFunction)
		if err != nil || h != r.Hash {
			continue
		}
		if ctx.SatisfiedFragments[vm.Fragment()] {
			return true
		}
	}
	return false
}
func (r HashedUpdateKey) toMap() interface{} {
	return map[string]interface{}{"type": "HashedUpdateKey", "hash": r.Hash}
}

func jwkHash(vm VerificationMethod, f selfhash.Function) (string, error) {
	raw, err := jcs.Marshal(vm.PublicKeyJWK)
	if err != nil {
		return "", err
	}
	return f.Compute(raw)
}

// All is satisfied iff every sub-rule is satisfied.
type All struct{ Rules []Rule }

func (r All) evaluate(ctx EvalContext) bool {
	for _, sub := range r.Rules {
		if !sub.evaluate(ctx) {
			return false
		}
	}
	return true
}
func (r All) toMap() interface{} {
	return map[string]interface{}{"type": "All", "rules": rulesToMaps(r.Rules)}
}

// Any is satisfied iff at least one sub-rule is satisfied.
type Any struct{ Rules []Rule }

func (r Any) evaluate(ctx EvalContext) bool {
	for _, sub := range r.Rules {
		if sub.evaluate(ctx) {
			return true
		}
	}
	return false
}
func (r Any) toMap() interface{} {
	return map[string]interface{}{"type": "Any", "rules": rulesToMaps(r.Rules)}
}

// Threshold is satisfied iff at least N of Rules are satisfied.
type Threshold struct {
	N     int
	Rules []Rule
}

func (r Threshold) evaluate(ctx EvalContext) bool {
	count := 0
	for _, sub := range r.Rules {
		if sub.evaluate(ctx) {
			count++
			if count >= r.N {
				return true
			}
		}
	}
	return false
}
func (r Threshold) toMap() interface{} {
	return map[string]interface{}{"type": "Threshold", "n": float64(r.N), "rules": rulesToMaps(r.Rules)}
}

// WeightedEntry pairs a sub-rule with its weight for Weighted.
type WeightedEntry struct {
	Rule   Rule
	Weight int
}

// Weighted is satisfied iff the sum of weights of satisfied entries meets
// Threshold.
type Weighted struct {
	Entries   []WeightedEntry
	Threshold int
}

func (r Weighted) evaluate(ctx EvalContext) bool {
	sum := 0
	for _, e := range r.Entries {
		if e.Rule.evaluate(ctx) {
			sum += e.Weight
			if sum >= r.Threshold {
				return true
			}
		}
	}
	return false
}
func (r Weighted) toMap() interface{} {
	entries := make([]interface{}, len(r.Entries))
	for i, e := range r.Entries {
		entries[i] = map[string]interface{}{"rule": e.Rule.toMap(), "weight": float64(e.Weight)}
	}
	return map[string]interface{}{"type": "Weighted", "entries": entries, "threshold": float64(r.Threshold)}
}

// UpdatesDisallowed marks a document as terminal: no successor is ever
// authorized (spec.md's model of deactivation).
type UpdatesDisallowed struct{}

func (UpdatesDisallowed) evaluate(EvalContext) bool { return false }
func (UpdatesDisallowed) toMap() interface{}        { return map[string]interface{}{"type": "UpdatesDisallowed"} }

func rulesToMaps(rs []Rule) []interface{} {
	out := make([]interface{}, len(rs))
	for i, r := range rs {
		out[i] = r.toMap()
	}
	return out
}

func ruleFromMap(raw interface{}) (Rule, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("rule is not an object")
	}
	t, _ := m["type"].(string)
	switch t {
	case "Default":
		return nil, nil
	case "UpdateKey":
		fragment, _ := m["fragment"].(string)
		return UpdateKey{Fragment: fragment}, nil
	case "HashedUpdateKey":
		hash, _ := m["hash"].(string)
		return HashedUpdateKey{Hash: hash}, nil
	case "All":
		subs, err := rulesFromSlice(m["rules"])
		if err != nil {
			return nil, err
		}
		return All{Rules: subs}, nil
	case "Any":
		subs, err := rulesFromSlice(m["rules"])
		if err != nil {
			return nil, err
		}
		return Any{Rules: subs}, nil
	case "Threshold":
		n, _ := m["n"].(float64)
		subs, err := rulesFromSlice(m["rules"])
		if err != nil {
			return nil, err
		}
		return Threshold{N: int(n), Rules: subs}, nil
	case "Weighted":
		threshold, _ := m["threshold"].(float64)
		entriesRaw, _ := m["entries"].([]interface{})
		entries := make([]WeightedEntry, 0, len(entriesRaw))
		for _, er := range entriesRaw {
			em, ok := er.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("weighted entry is not an object")
			}
			sub, err := ruleFromMap(em["rule"])
			if err != nil {
				return nil, err
			}
			weight, _ := em["weight"].(float64)
			entries = append(entries, WeightedEntry{Rule: sub, Weight: int(weight)})
		}
		return Weighted{Entries: entries, Threshold: int(threshold)}, nil
	case "UpdatesDisallowed":
		return UpdatesDisallowed{}, nil
	default:
		return nil, fmt.Errorf("unknown update rule type %q", t)
	}
}

func rulesFromSlice(raw interface{}) ([]Rule, error) {
	rs, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected an array of rules")
	}
	out := make([]Rule, 0, len(rs))
	for _, r := range rs {
		rule, err := ruleFromMap(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}
