// Package certs implements the wildcard certificate lifecycle: reuse,
// backup restore, ACME issuance, and self-signed fallback.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	// SelfSignedValidity is the validity window for self-signed
	// certificates. Fixed policy, not configurable per call.
	SelfSignedValidity = 365 * 24 * time.Hour

	rsaKeyBits = 2048
)

// KeyPair holds PEM-encoded certificate and private key material.
type KeyPair struct {
	CertPEM []byte
	KeyPEM  []byte
}

// GenerateSelfSigned creates a self-signed wildcard certificate for the
// domain: 2048-bit RSA, common name *.<domain>, subject alternative
// names covering both *.<domain> and the bare domain, valid for 365
// days.
func GenerateSelfSigned(domain string) (*KeyPair, error) {
	privKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate RSA private key")
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate serial number")
	}

	wildcard := "*." + domain
	now := time.Now()

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: wildcard,
		},
		DNSNames:              []string{wildcard, domain},
		NotBefore:             now.Add(-1 * time.Hour),
		NotAfter:              now.Add(SelfSignedValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privKey.PublicKey, privKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create certificate")
	}

	keyBytes, err := x509.MarshalPKCS8PrivateKey(privKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal private key")
	}

	return &KeyPair{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes}),
	}, nil
}
