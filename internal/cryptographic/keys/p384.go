// Package keys generates and encodes the long-term identity key pairs.
// Identity keys are NIST P-384 and are used for key agreement only, never
// for signing.
package keys

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"fmt"
)

type KeyPair struct {
	Private *ecdh.PrivateKey
	Public  *ecdh.PublicKey
}

// NewIdentityKeyPair generates a fresh P-384 key pair.
func NewIdentityKeyPair() (*KeyPair, error) {
	priv, err := ecdh.P384().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	return &KeyPair{Private: priv, Public: priv.PublicKey()}, nil
}

// EncodePublic returns the SPKI (PKIX) encoding of the public key. Every
// platform the app runs on must produce these exact bytes for the same key,
// header and all.
func EncodePublic(pub *ecdh.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return der, nil
}

// DecodePublic parses an SPKI-encoded P-384 public key.
func DecodePublic(der []byte) (*ecdh.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	switch k := parsed.(type) {
	case *ecdh.PublicKey:
		return k, nil
	case *ecdsa.PublicKey:
		pub, err := k.ECDH()
		if err != nil {
			return nil, fmt.Errorf("convert public key: %w", err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unexpected public key type %T", parsed)
	}
}

// EncodePrivate returns the PKCS#8 encoding of the private key. The encoding
// embeds the public key, so a decoded pair needs no recomputation.
func EncodePrivate(priv *ecdh.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return der, nil
}
