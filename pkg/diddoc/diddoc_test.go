package diddoc

import (
	"testing"
	"time"

	"github.com/stackdump/webplus/internal/selfhash"
	"github.com/stackdump/webplus/pkg/wallet"
)

func buildRoot(t *testing.T, host string) (Document, *wallet.Wallet, *wallet.Key, string) {
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

	doc := Document{
		ID:        id,
		VersionID: 0,
		ValidFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PublicKeyMaterial: PublicKeyMaterial{
			VerificationMethod: []VerificationMethod{{
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
		},
	}
	stamped, err := ComputeSelfHash(doc, selfhash.Blake3)
	if err != nil {
		t.Fatalf("ComputeSelfHash: %v", err)
	}
	return stamped, w, key, fragment
}

func TestRootSelfHashRoundTrip(t *testing.T) {
	root, _, _, _ := buildRoot(t, "example.com")
	if root.SelfHash == "" {
		t.Fatal("expected a stamped selfHash")
	}
	if err := VerifySelfHash(root); err != nil {
		t.Fatalf("VerifySelfHash: %v", err)
	}
	vm := root.PublicKeyMaterial.VerificationMethod[0]
	if vm.Controller != root.ID {
		t.Errorf("controller %q != id %q after stamping", vm.Controller, root.ID)
	}
	if kid, _ := vm.PublicKeyJWK["kid"].(string); kid != vm.ID {
		t.Errorf("jwk kid %q != verification method id %q", kid, vm.ID)
	}
}

func TestVerifyNonrecursiveRoot(t *testing.T) {
	root, _, _, _ := buildRoot(t, "example.com")
	if err := VerifyNonrecursive(root, nil); err != nil {
		t.Fatalf("VerifyNonrecursive: %v", err)
	}
}

func TestVerifyNonrecursiveRejectsTamperedRoot(t *testing.T) {
	root, _, _, _ := buildRoot(t, "example.com")
	root.PublicKeyMaterial.VerificationMethod[0].Type = "SomethingElse"
	if err := VerifyNonrecursive(root, nil); err == nil {
		t.Error("expected tampering a stamped field to break self-hash verification")
	}
}

func TestUpdateChain(t *testing.T) {
	root, w, key, fragment := buildRoot(t, "example.com")

	newKey, err := w.Generate(wallet.Ed25519Key)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	newJWK, err := newKey.JWK()
	if err != nil {
		t.Fatalf("JWK: %v", err)
	}
	newFragment := "key-2"
	newJWK["kid"] = root.ID + "#" + newFragment

	successor := Document{
		ID:                      root.ID,
		PrevDIDDocumentSelfHash: root.SelfHash,
		VersionID:               1,
		ValidFrom:               root.ValidFrom.Add(24 * time.Hour),
		PublicKeyMaterial: PublicKeyMaterial{
			VerificationMethod: []VerificationMethod{{
				ID:           root.ID + "#" + newFragment,
				Type:         string(wallet.Ed25519Key),
				Controller:   root.ID,
				PublicKeyJWK: newJWK,
			}},
			Authentication:       []string{newFragment},
			AssertionMethod:      []string{newFragment},
			KeyAgreement:         []string{newFragment},
			CapabilityInvocation: []string{newFragment},
			CapabilityDelegation: []string{newFragment},
		},
	}
	stamped, err := ComputeSelfHash(successor, selfhash.Blake3)
	if err != nil {
		t.Fatalf("ComputeSelfHash: %v", err)
	}
	if err := VerifyNonrecursive(stamped, &root); err != nil {
		t.Fatalf("VerifyNonrecursive: %v", err)
	}

	proof, err := SignUpdateProof(w, key, fragment, stamped.SelfHash)
	if err != nil {
		t.Fatalf("SignUpdateProof: %v", err)
	}
	fragments, err := VerifyProofs([]string{proof}, root, stamped.SelfHash)
	if err != nil {
		t.Fatalf("VerifyProofs: %v", err)
	}
	if err := VerifyAuthorization(stamped, root, fragments, selfhash.Blake3); err != nil {
		t.Fatalf("VerifyAuthorization: %v", err)
	}
}

func TestVerifyAuthorizationRejectsUnknownSigner(t *testing.T) {
	root, _, _, _ := buildRoot(t, "example.com")
	outsider := wallet.New()
	rogueKey, err := outsider.Generate(wallet.Ed25519Key)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	rogueProof, err := SignUpdateProof(outsider, rogueKey, "not-a-real-fragment", "whatever")
	if err != nil {
		t.Fatalf("SignUpdateProof: %v", err)
	}
	if _, err := VerifyProofs([]string{rogueProof}, root, "whatever"); err == nil {
		t.Error("expected VerifyProofs to reject a proof whose signer is not a key of prev")
	}
	if _, err := VerifyProofs([]string{"garbage"}, root, "whatever"); err == nil {
		t.Error("expected VerifyProofs to reject a malformed token")
	}
}

func TestRuleEvaluation(t *testing.T) {
	ctx := EvalContext{SatisfiedFragments: map[string]bool{"key-1": true}}
	if !Evaluate(UpdateKey{Fragment: "key-1"}, ctx) {
		t.Error("UpdateKey should be satisfied")
	}
	if Evaluate(UpdateKey{Fragment: "key-2"}, ctx) {
		t.Error("UpdateKey for an unsatisfied fragment should not be satisfied")
	}
	if !Evaluate(Any{Rules: []Rule{UpdateKey{Fragment: "key-2"}, UpdateKey{Fragment: "key-1"}}}, ctx) {
		t.Error("Any should be satisfied when one sub-rule is")
	}
	if Evaluate(All{Rules: []Rule{UpdateKey{Fragment: "key-2"}, UpdateKey{Fragment: "key-1"}}}, ctx) {
		t.Error("All should fail when one sub-rule is unsatisfied")
	}
	if Evaluate(UpdatesDisallowed{}, ctx) {
		t.Error("UpdatesDisallowed must never be satisfied")
	}
}

func TestThresholdAndWeighted(t *testing.T) {
	ctx := EvalContext{SatisfiedFragments: map[string]bool{"a": true, "b": true}}
	th := Threshold{N: 2, Rules: []Rule{UpdateKey{Fragment: "a"}, UpdateKey{Fragment: "b"}, UpdateKey{Fragment: "c"}}}
	if !Evaluate(th, ctx) {
		t.Error("Threshold{2} should be satisfied by two matching sub-rules")
	}
	th3 := Threshold{N: 3, Rules: th.Rules}
	if Evaluate(th3, ctx) {
		t.Error("Threshold{3} should not be satisfied by only two matches")
	}

	w := Weighted{
		Entries: []WeightedEntry{
			{Rule: UpdateKey{Fragment: "a"}, Weight: 1},
			{Rule: UpdateKey{Fragment: "b"}, Weight: 2},
			{Rule: UpdateKey{Fragment: "c"}, Weight: 5},
		},
		Threshold: 3,
	}
	if !Evaluate(w, ctx) {
		t.Error("Weighted should be satisfied once weights a+b reach the threshold")
	}
}
