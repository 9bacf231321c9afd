// Package wallet generates and holds the verification-method key material
// behind a did:webplus identifier: it produces JWK-encoded public keys for
// DID documents and signs proofs of authorization for microledger updates.
//
// Key generation and the secp256k1 signing path are adapted from the
// teacher's internal/ethsig (Ethereum-style secp256k1 signing built on
// go-ethereum's crypto package); Ed25519 and P-256 support is new, added
// because spec.md's verification-method set spans all three.
package wallet

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// KeyType names a verification-method key type from spec.md's key-type
// vocabulary (§1 Non-goals: "does not define a new signature scheme").
type KeyType string

const (
	Ed25519Key   KeyType = "Ed25519VerificationKey2020"
	Secp256k1Key KeyType = "EcdsaSecp256k1VerificationKey2019"
	P256Key      KeyType = "JsonWebKey2020"
)

// Key is one generated verification-method key pair. ID is a stable
// internal record identifier (independent of the DID document fragment it
// ends up assigned to, so a wallet can hold keys before they're bound to
// any document).
type Key struct {
	ID      string
	Type    KeyType
	priv    interface{} // ed25519.PrivateKey | *ecdsa.PrivateKey
	pub     interface{} // ed25519.PublicKey  | *ecdsa.PublicKey
}

// GenerateKey creates a new key pair of the given type.
func GenerateKey(kt KeyType) (*Key, error) {
	id := uuid.NewString()
	switch kt {
	case Ed25519Key:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("wallet: generate ed25519 key: %w", err)
		}
		return &Key{ID: id, Type: kt, priv: priv, pub: pub}, nil
	case Secp256k1Key:
		priv, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("wallet: generate secp256k1 key: %w", err)
		}
		return &Key{ID: id, Type: kt, priv: priv, pub: &priv.PublicKey}, nil
	case P256Key:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("wallet: generate P-256 key: %w", err)
		}
		return &Key{ID: id, Type: kt, priv: priv, pub: &priv.PublicKey}, nil
	default:
		return nil, fmt.Errorf("wallet: unsupported key type %q", kt)
	}
}

// PrivateKey returns the raw private key value suitable for a
// jwt.SigningMethod: ed25519.PrivateKey for Ed25519Key, *ecdsa.PrivateKey
// for Secp256k1Key and P256Key.
func (k *Key) PrivateKey() interface{} { return k.priv }

// LoadPrivateKeyHex reconstructs a Key from a hex-encoded private scalar of
// the given type, the counterpart to cmd/webplus-keygen's generated
// "privateKeyHex" field — the teacher's cmd/keygen loads a similarly
// hex-encoded secp256k1 key via internal/ethsig.LoadPrivateKeyFromHex;
// this generalizes that to all three key types rather than ethsig's
// Ethereum-only path.
func LoadPrivateKeyHex(kt KeyType, hexKey string) (*Key, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("wallet: decode private key hex: %w", err)
	}
	id := uuid.NewString()
	switch kt {
	case Ed25519Key:
		if len(raw) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("wallet: ed25519 private key has wrong length (%d)", len(raw))
		}
		priv := ed25519.PrivateKey(raw)
		return &Key{ID: id, Type: kt, priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
	case Secp256k1Key:
		priv, err := crypto.ToECDSA(leftPad(raw, 32))
		if err != nil {
			return nil, fmt.Errorf("wallet: decode secp256k1 private key: %w", err)
		}
		return &Key{ID: id, Type: kt, priv: priv, pub: &priv.PublicKey}, nil
	case P256Key:
		priv := new(ecdsa.PrivateKey)
		priv.Curve = elliptic.P256()
		priv.D = new(big.Int).SetBytes(raw)
		priv.PublicKey.X, priv.PublicKey.Y = priv.Curve.ScalarBaseMult(raw)
		return &Key{ID: id, Type: kt, priv: priv, pub: &priv.PublicKey}, nil
	default:
		return nil, fmt.Errorf("wallet: unsupported key type %q", kt)
	}
}

// PublicKey returns the raw public key value.
func (k *Key) PublicKey() interface{} { return k.pub }

func b64url(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

// JWK encodes the key's public half per RFC 7517/7518, the representation
// spec.md's `publicKeyJwk` field carries in a verification method.
func (k *Key) JWK() (map[string]interface{}, error) {
	switch k.Type {
	case Ed25519Key:
		pub := k.pub.(ed25519.PublicKey)
		return map[string]interface{}{
			"kty": "OKP",
			"crv": "Ed25519",
			"x":   b64url(pub),
		}, nil
	case Secp256k1Key:
		pub := k.pub.(*ecdsa.PublicKey)
		return map[string]interface{}{
			"kty": "EC",
			"crv": "secp256k1",
			"x":   b64url(pub.X.Bytes()),
			"y":   b64url(pub.Y.Bytes()),
		}, nil
	case P256Key:
		pub := k.pub.(*ecdsa.PublicKey)
		return map[string]interface{}{
			"kty": "EC",
			"crv": "P-256",
			"x":   b64url(leftPad(pub.X.Bytes(), 32)),
			"y":   b64url(leftPad(pub.Y.Bytes(), 32)),
		}, nil
	default:
		return nil, fmt.Errorf("wallet: unsupported key type %q", k.Type)
	}
}

func leftPad(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

// PublicKeyFromJWK decodes a publicKeyJwk map back into a public key value
// usable with a jwt.Keyfunc, based on the declared key type.
func PublicKeyFromJWK(kt KeyType, jwk map[string]interface{}) (interface{}, error) {
	x, err := decodeCoord(jwk, "x")
	if err != nil {
		return nil, err
	}
	switch kt {
	case Ed25519Key:
		if len(x) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("wallet: jwk %q has wrong length for Ed25519 (%d)", "x", len(x))
		}
		return ed25519.PublicKey(x), nil
	case Secp256k1Key:
		y, err := decodeCoord(jwk, "y")
		if err != nil {
			return nil, err
		}
		curve := crypto.S256()
		return &ecdsa.PublicKey{Curve: curve, X: new(big.Int).SetBytes(x), Y: new(big.Int).SetBytes(y)}, nil
	case P256Key:
		y, err := decodeCoord(jwk, "y")
		if err != nil {
			return nil, err
		}
		return &ecdsa.PublicKey{Curve: elliptic.P256(), X: new(big.Int).SetBytes(x), Y: new(big.Int).SetBytes(y)}, nil
	default:
		return nil, fmt.Errorf("wallet: unsupported key type %q", kt)
	}
}

func decodeCoord(jwk map[string]interface{}, field string) ([]byte, error) {
	s, ok := jwk[field].(string)
	if !ok {
		return nil, fmt.Errorf("wallet: jwk missing %q", field)
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("wallet: jwk %q is not valid base64url: %w", field, err)
	}
	return b, nil
}
