package signer

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// GenerateKeyPair creates a new RSA signing key. bits of 0 selects the
// default size.
func GenerateKeyPair(bits int) (*rsa.PrivateKey, error) {
	if bits == 0 {
		bits = defaultKeyBits
	}
	if bits < minRSAKeyBits {
		return nil, fmt.Errorf("%w: key size %d below minimum %d", ErrKeyImport, bits, minRSAKeyBits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// EncodePrivateKeyPEM encodes key as a PKCS#8 PEM block.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal PKCS#8: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: blockPKCS8, Bytes: der}), nil
}

// EncodePublicKeyPEM encodes pub as a PKIX PEM block.
func EncodePublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: blockPublicKey, Bytes: der}), nil
}

// ConvertPKCS1ToPKCS8 rewraps a PKCS#1 "RSA PRIVATE KEY" PEM as PKCS#8.
// Keys that are already PKCS#8 are returned unchanged.
func ConvertPKCS1ToPKCS8(keyData []byte) ([]byte, error) {
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyImport)
	}

	switch block.Type {
	case blockPKCS8:
		if _, err := ParsePrivateKeyPEM(keyData); err != nil {
			return nil, err
		}
		return keyData, nil
	case blockPKCS1:
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse PKCS#1: %v", ErrKeyImport, err)
		}
		return EncodePrivateKeyPEM(key)
	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrKeyImport, block.Type)
	}
}

// WriteKeyPair writes a PKCS#8 private key and PKIX public key to disk.
func WriteKeyPair(key *rsa.PrivateKey, privPath, pubPath string) error {
	privPEM, err := EncodePrivateKeyPEM(key)
	if err != nil {
		return err
	}
	pubPEM, err := EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return err
	}

	for _, p := range []string{privPath, pubPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			return fmt.Errorf("create key directory: %w", err)
		}
	}
	if err := os.WriteFile(privPath, privPEM, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}
