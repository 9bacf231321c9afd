package wallet

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Wallet holds a set of generated keys, indexed by the ID GenerateKey
// assigned them, and signs proofs of authorization on their behalf.
//
// It plays the role spec.md §3 assigns to "wallets": they own keys; the
// microledger engine only ever sees verifier handles (public JWKs plus the
// proofs a wallet produces), never a private key.
type Wallet struct {
	keys map[string]*Key
}

// New returns an empty wallet.
func New() *Wallet {
	return &Wallet{keys: make(map[string]*Key)}
}

// Generate creates a new key of the given type, stores it, and returns it.
func (w *Wallet) Generate(kt KeyType) (*Key, error) {
	k, err := GenerateKey(kt)
	if err != nil {
		return nil, err
	}
	w.keys[k.ID] = k
	return k, nil
}

// Key looks up a previously generated key by ID.
func (w *Wallet) Key(id string) (*Key, bool) {
	k, ok := w.keys[id]
	return k, ok
}

func signingMethodFor(kt KeyType) (jwt.SigningMethod, error) {
	switch kt {
	case Ed25519Key:
		return jwt.SigningMethodEdDSA, nil
	case Secp256k1Key:
		return SigningMethodES256K, nil
	case P256Key:
		return jwt.SigningMethodES256, nil
	default:
		return nil, fmt.Errorf("wallet: unsupported key type %q", kt)
	}
}

// SignProof builds a compact JWS over the given claims using key, with its
// "kid" header set to fragment — the verification-method fragment ID this
// signature claims to speak for. This is the "JWS-like signature over the
// canonical form of the candidate document" spec.md §4.4 calls a proof of
// authorization: callers set a "docSelfHash" claim to the candidate
// document's self-hash.
func (w *Wallet) SignProof(key *Key, fragment string, claims jwt.MapClaims) (string, error) {
	method, err := signingMethodFor(key.Type)
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = fragment
	signed, err := token.SignedString(key.PrivateKey())
	if err != nil {
		return "", fmt.Errorf("wallet: sign proof: %w", err)
	}
	return signed, nil
}

// KeyResolver resolves a verification-method fragment (the proof's "kid")
// to the public key and key type needed to verify it. Callers (such as
// pkg/diddoc's VerifyProofs) implement this over a DID document's
// publicKeyMaterial.
type KeyResolver func(fragment string) (jwk map[string]interface{}, kt KeyType, ok bool)

// VerifyProof verifies a compact JWS produced by SignProof, resolving the
// signing key via resolve, and returns the claims and the fragment ID that
// authorized them.
func VerifyProof(token string, resolve KeyResolver) (jwt.MapClaims, string, error) {
	var fragment string
	var kt KeyType
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("wallet: proof is missing a kid header")
		}
		fragment = kid
		jwk, keyType, ok := resolve(kid)
		if !ok {
			return nil, fmt.Errorf("wallet: no key known for kid %q", kid)
		}
		kt = keyType
		method, err := signingMethodFor(keyType)
		if err != nil {
			return nil, err
		}
		if t.Method.Alg() != method.Alg() {
			return nil, fmt.Errorf("wallet: proof alg %q does not match key type %q", t.Method.Alg(), keyType)
		}
		return PublicKeyFromJWK(kt, jwk)
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg(), SigningMethodES256K.Alg(), jwt.SigningMethodES256.Alg()}))
	if err != nil {
		return nil, "", fmt.Errorf("wallet: verify proof: %w", err)
	}
	if !parsed.Valid {
		return nil, "", fmt.Errorf("wallet: proof failed verification")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, "", fmt.Errorf("wallet: unexpected claims type")
	}
	return claims, fragment, nil
}
