package certs

import "github.com/cockroachdb/errors"

// Fatal certificate provisioning errors. Each aborts the whole ensure
// operation; there is no further fallback once an issuance path has
// been chosen.
var (
	// ErrIssuerNotReady means the ACME issuer did not report ready
	// within its timeout.
	ErrIssuerNotReady = errors.New("issuer not ready before timeout")

	// ErrIssuanceTimeout means the certificate did not become ready
	// within its timeout.
	ErrIssuanceTimeout = errors.New("certificate issuance timed out")

	// ErrIssuerUnavailable means the issuer backend could not be
	// reached after the ACME path was selected.
	ErrIssuerUnavailable = errors.New("issuer backend unavailable")
)
