// Command webplus-keygen generates a verification-method key pair for a
// did:webplus wallet and prints its JWK-encoded public half plus a
// hex-encoded private key, following the teacher's cmd/keygen in shape
// (a thin flag-driven key-generation CLI) but generalized to pkg/wallet's
// three verification-method key types instead of the teacher's single
// secp256k1/keystore-file path.
package main

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/stackdump/webplus/pkg/wallet"
)

func main() {
	keyType := flag.String("type", string(wallet.Ed25519Key), "Key type: Ed25519VerificationKey2020, EcdsaSecp256k1VerificationKey2019, or JsonWebKey2020")
	fragment := flag.String("fragment", "key-1", "Verification method fragment this key will be bound to")
	out := flag.String("out", "", "Output path for the generated key material (JSON); prints to stdout if unset")
	flag.Parse()

	kt := wallet.KeyType(*keyType)
	key, err := wallet.GenerateKey(kt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate key: %v\n", err)
		os.Exit(1)
	}

	jwk, err := key.JWK()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JWK: %v\n", err)
		os.Exit(1)
	}
	jwk["kid"] = "#" + *fragment

	privHex, err := privateKeyHex(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode private key: %v\n", err)
		os.Exit(1)
	}

	record := map[string]interface{}{
		"id":            key.ID,
		"type":          string(kt),
		"fragment":      *fragment,
		"publicKeyJwk":  jwk,
		"privateKeyHex": privHex,
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal key record: %v\n", err)
		os.Exit(1)
	}

	if *out == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(*out, data, 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("Key written to %s\n", *out)
}

// privateKeyHex hex-encodes the raw private scalar for key, the teacher's
// cmd/keygen convention (PrivateKeyToHex) generalized across key types:
// Ed25519's raw 64-byte seed+public encoding, or the ECDSA private scalar
// for secp256k1/P-256.
func privateKeyHex(key *wallet.Key) (string, error) {
	switch priv := key.PrivateKey().(type) {
	case ed25519.PrivateKey:
		return hex.EncodeToString(priv), nil
	case *ecdsa.PrivateKey:
		return hex.EncodeToString(priv.D.Bytes()), nil
	default:
		return "", fmt.Errorf("webplus-keygen: unsupported private key type %T", priv)
	}
}
