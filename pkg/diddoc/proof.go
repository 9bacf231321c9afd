package diddoc

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stackdump/webplus/internal/werrors"
	"github.com/stackdump/webplus/pkg/wallet"
)

// VerifyProofs checks a set of compact JWS proofs of authorization against
// prev's verification methods and returns the fragments that produced a
// valid signature over candidateSelfHash — the input VerifyAuthorization
// expects. An individual malformed or misattributed proof is fatal for the
// whole update (spec.md §7: "Validation errors are never swallowed").
func VerifyProofs(tokens []string, prev Document, candidateSelfHash string) ([]string, error) {
	const op = "diddoc.VerifyProofs"
	resolve := func(fragment string) (map[string]interface{}, wallet.KeyType, bool) {
		vm, ok := prev.PublicKeyMaterial.ByFragment(fragment)
		if !ok {
			return nil, "", false
		}
		return vm.PublicKeyJWK, wallet.KeyType(vm.Type), true
	}

	fragments := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		claims, fragment, err := wallet.VerifyProof(tok, resolve)
		if err != nil {
			return nil, werrors.E(op, werrors.UnauthorizedUpdate, err)
		}
		sh, _ := claims["docSelfHash"].(string)
		if sh != candidateSelfHash {
			return nil, werrors.E(op, werrors.UnauthorizedUpdate, fmt.Errorf("proof by %q signs selfHash %q, candidate is %q", fragment, sh, candidateSelfHash))
		}
		fragments = append(fragments, fragment)
	}
	return fragments, nil
}

// SignUpdateProof is the wallet-side counterpart: produce a proof of
// authorization for candidateSelfHash using key, claiming fragment.
func SignUpdateProof(w *wallet.Wallet, key *wallet.Key, fragment, candidateSelfHash string) (string, error) {
	return w.SignProof(key, fragment, jwt.MapClaims{"docSelfHash": candidateSelfHash})
}
