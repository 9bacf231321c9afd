// Package didkey implements the thin did:key adapter spec.md §1 allows as
// the one permitted integration with another DID method ("any integration
// with other DID methods beyond a thin did:key adapter" is out of scope —
// this package *is* that one exception). It supports Ed25519 and
// secp256k1 only; spec.md §9 calls other curves "unreachable branches" a
// reimplementation should error on rather than panic, which is exactly
// what Decode does for an unrecognized multicodec prefix.
package didkey

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"

	"github.com/stackdump/webplus/pkg/wallet"
)

// Multicodec prefixes (varint-encoded) for the two supported key types,
// per the did:key method's registered codec table.
var (
	ed25519Prefix   = []byte{0xed, 0x01}
	secp256k1Prefix = []byte{0xe7, 0x01}
)

// Encode renders pub (an ed25519.PublicKey or *ecdsa.PublicKey on the
// secp256k1 curve) as a did:key identifier.
func Encode(kt wallet.KeyType, pub interface{}) (string, error) {
	switch kt {
	case wallet.Ed25519Key:
		key, ok := pub.(ed25519.PublicKey)
		if !ok {
			return "", fmt.Errorf("didkey: Ed25519Key requires an ed25519.PublicKey")
		}
		return encode(ed25519Prefix, key), nil
	case wallet.Secp256k1Key:
		key, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return "", fmt.Errorf("didkey: Secp256k1Key requires an *ecdsa.PublicKey")
		}
		return encode(secp256k1Prefix, crypto.CompressPubkey(key)), nil
	default:
		return "", fmt.Errorf("didkey: unsupported key type %q", kt)
	}
}

func encode(prefix, key []byte) string {
	buf := make([]byte, 0, len(prefix)+len(key))
	buf = append(buf, prefix...)
	buf = append(buf, key...)
	return "did:key:z" + base58.Encode(buf)
}

// Decode parses a did:key identifier back into its key type and raw
// public key value.
func Decode(did string) (wallet.KeyType, interface{}, error) {
	const prefix = "did:key:z"
	if len(did) <= len(prefix) || did[:len(prefix)] != prefix {
		return "", nil, fmt.Errorf("didkey: %q is not a did:key identifier", did)
	}
	buf, err := base58.Decode(did[len(prefix):])
	if err != nil {
		return "", nil, fmt.Errorf("didkey: invalid base58btc encoding: %w", err)
	}
	if len(buf) < 2 {
		return "", nil, fmt.Errorf("didkey: key material too short")
	}

	switch {
	case buf[0] == ed25519Prefix[0] && buf[1] == ed25519Prefix[1]:
		raw := buf[2:]
		if len(raw) != ed25519.PublicKeySize {
			return "", nil, fmt.Errorf("didkey: wrong Ed25519 public key length %d", len(raw))
		}
		return wallet.Ed25519Key, ed25519.PublicKey(raw), nil
	case buf[0] == secp256k1Prefix[0] && buf[1] == secp256k1Prefix[1]:
		pub, err := crypto.DecompressPubkey(buf[2:])
		if err != nil {
			return "", nil, fmt.Errorf("didkey: invalid secp256k1 public key: %w", err)
		}
		return wallet.Secp256k1Key, pub, nil
	default:
		return "", nil, fmt.Errorf("didkey: unsupported multicodec prefix 0x%02x%02x", buf[0], buf[1])
	}
}
