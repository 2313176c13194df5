// Package signer handles RS256 signing of token signing inputs and the
// RSA key material behind it.
//
// Private keys must be PEM-encoded PKCS#8. PKCS#1 keys are rejected rather
// than reinterpreted; convert them offline with ConvertPKCS1ToPKCS8.
package signer

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/ssh"
)

// Errors
var (
	ErrKeyImport        = errors.New("signer: key import failed")
	ErrSigning          = errors.New("signer: signing failed")
	ErrSignatureInvalid = errors.New("signer: signature verification failed")
)

// PEM block types.
const (
	blockPKCS8     = "PRIVATE KEY"
	blockPKCS1     = "RSA PRIVATE KEY"
	blockPublicKey = "PUBLIC KEY"
	blockCert      = "CERTIFICATE"
)

const (
	minRSAKeyBits  = 2048
	defaultKeyBits = 2048
)

var method = jwt.SigningMethodRS256

// LoadPrivateKey reads a PKCS#8 PEM RSA private key from file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	return ParsePrivateKeyPEM(keyData)
}

// ParsePrivateKeyPEM parses a PEM-encoded PKCS#8 RSA private key.
func ParsePrivateKeyPEM(keyData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyImport)
	}

	switch block.Type {
	case blockPKCS8:
	case blockPKCS1:
		return nil, fmt.Errorf("%w: key is PKCS#1 (%q); convert it to PKCS#8 with `humansign convert-key`", ErrKeyImport, block.Type)
	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q, want %q", ErrKeyImport, block.Type, blockPKCS8)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse PKCS#8: %v", ErrKeyImport, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected RSA key, got %T", ErrKeyImport, parsed)
	}
	if key.N.BitLen() < minRSAKeyBits {
		return nil, fmt.Errorf("%w: RSA key is %d bits, need at least %d", ErrKeyImport, key.N.BitLen(), minRSAKeyBits)
	}
	return key, nil
}

// LoadPublicKey reads an RSA public key from file.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	return ParsePublicKeyPEM(keyData)
}

// ParsePublicKeyPEM parses a PKIX "PUBLIC KEY" block or an X.509
// certificate carrying an RSA key.
func ParsePublicKeyPEM(keyData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyImport)
	}

	var parsed any
	switch block.Type {
	case blockPublicKey:
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse public key: %v", ErrKeyImport, err)
		}
		parsed = pub
	case blockCert:
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse certificate: %v", ErrKeyImport, err)
		}
		parsed = cert.PublicKey
	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q, want %q", ErrKeyImport, block.Type, blockPublicKey)
	}

	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected RSA public key, got %T", ErrKeyImport, parsed)
	}
	return pub, nil
}

// Sign produces an RSASSA-PKCS1-v1_5 SHA-256 signature over signingInput.
func Sign(signingInput []byte, key *rsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: no private key", ErrSigning)
	}
	sig, err := method.Sign(string(signingInput), key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return sig, nil
}

// VerifySignature checks an RS256 signature over signingInput.
func VerifySignature(signingInput, signature []byte, pub *rsa.PublicKey) error {
	if pub == nil {
		return fmt.Errorf("%w: no public key", ErrSignatureInvalid)
	}
	if err := method.Verify(string(signingInput), signature, pub); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

// GetPublicKey extracts the public key from a private key.
func GetPublicKey(key *rsa.PrivateKey) *rsa.PublicKey {
	return &key.PublicKey
}

// Fingerprint returns the SSH-style SHA256 fingerprint of pub, suitable for
// showing which key a token was verified against.
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	sshKey, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return ssh.FingerprintSHA256(sshKey), nil
}
