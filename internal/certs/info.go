package certs

import (
	"crypto/x509"
	"encoding/pem"
	"time"

	"github.com/cockroachdb/errors"
)

// ReuseThreshold is the minimum remaining validity a certificate must
// have to be reused or restored instead of re-provisioned. Fixed
// policy, not configurable per call.
const ReuseThreshold = 7 * 24 * time.Hour

// ParseCertificatePEM decodes the first certificate from a PEM block.
func ParseCertificatePEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("no certificate PEM block found")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse certificate")
	}

	return cert, nil
}

// ValidLongEnough reports whether the certificate has at least
// ReuseThreshold of validity left at the given time. Exactly seven
// days remaining counts as valid.
func ValidLongEnough(cert *x509.Certificate, now time.Time) bool {
	return cert.NotAfter.Sub(now) >= ReuseThreshold
}

// Info summarizes a certificate for operator display.
type Info struct {
	Subject       string
	Issuer        string
	DNSNames      []string
	NotBefore     time.Time
	NotAfter      time.Time
	DaysRemaining int
	SelfSigned    bool
	Reusable      bool
}

// Describe builds an Info snapshot for the certificate as of now.
func Describe(cert *x509.Certificate, now time.Time) Info {
	return Info{
		Subject:       cert.Subject.CommonName,
		Issuer:        cert.Issuer.CommonName,
		DNSNames:      cert.DNSNames,
		NotBefore:     cert.NotBefore,
		NotAfter:      cert.NotAfter,
		DaysRemaining: int(cert.NotAfter.Sub(now).Hours() / 24),
		SelfSigned:    cert.Subject.String() == cert.Issuer.String(),
		Reusable:      ValidLongEnough(cert, now),
	}
}
