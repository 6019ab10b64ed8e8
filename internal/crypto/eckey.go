// Package crypto holds the small set of key-material helpers the
// identity-assertion JWT flow needs: generating and parsing the ES256
// signing key an operator distributes out of band to a trusted proxy.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"fmt"
)

// GenerateECKey creates a fresh P-256 private key and its base64-DER
// encoding, suitable for storing in gateway.yaml.
func GenerateECKey() (*ecdsa.PrivateKey, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("generate ec key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, "", fmt.Errorf("marshal ec key: %w", err)
	}
	return key, base64.StdEncoding.EncodeToString(der), nil
}

// ParseECPrivateKeyDER decodes a base64-DER P-256 private key produced
// by GenerateECKey.
func ParseECPrivateKeyDER(encoded string) (*ecdsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode ec key: %w", err)
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse ec key: %w", err)
	}
	return key, nil
}

// MarshalECPublicKey renders pub as base64-DER for display (e.g. so an
// operator can hand it to a separate process that only needs to verify).
func MarshalECPublicKey(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal ec public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}
