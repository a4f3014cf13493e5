package keys

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
)

// rawScalarLen is the private scalar size for P-384, the legacy (layout V1)
// private-key encoding: the bare scalar with nothing around it.
const rawScalarLen = 48

// DecodePrivate parses a stored private key. Two layouts exist in the wild:
// V2 is PKCS#8 and is what EncodePrivate writes; V1 is the bare 48-byte
// scalar written by early builds. Try V2 first, fall back to V1.
func DecodePrivate(der []byte) (*ecdh.PrivateKey, error) {
	if priv, err := decodePKCS8(der); err == nil {
		return priv, nil
	}
	if len(der) == rawScalarLen {
		priv, err := ecdh.P384().NewPrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("parse legacy private key: %w", err)
		}
		return priv, nil
	}
	return nil, fmt.Errorf("private key matches no known layout (%d bytes)", len(der))
}

func decodePKCS8(der []byte) (*ecdh.PrivateKey, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	switch k := parsed.(type) {
	case *ecdh.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k.ECDH()
	default:
		return nil, fmt.Errorf("unexpected private key type %T", parsed)
	}
}
