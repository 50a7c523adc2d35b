// Package revinfo provides revocation evidence handling: CRL and OCSP
// tokens bound to the certificate they attest to, the offline sources they
// are drawn from, and a status checker over those sources.
package revinfo

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/georgepadayatti/sigtrust/certvalidator"
)

// Common errors
var (
	ErrIssuerMismatch   = errors.New("issuer mismatch")
	ErrSerialMismatch   = errors.New("serial number mismatch")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrNilCertificate   = errors.New("certificate is nil")
	ErrUnknownOrigin    = errors.New("revocation token of unknown origin")
)

// RevocationReason represents the reason for certificate revocation.
type RevocationReason int

const (
	ReasonUnspecified          RevocationReason = 0
	ReasonKeyCompromise        RevocationReason = 1
	ReasonCACompromise         RevocationReason = 2
	ReasonAffiliationChanged   RevocationReason = 3
	ReasonSuperseded           RevocationReason = 4
	ReasonCessationOfOperation RevocationReason = 5
	ReasonCertificateHold      RevocationReason = 6
	ReasonRemoveFromCRL        RevocationReason = 8
	ReasonPrivilegeWithdrawn   RevocationReason = 9
	ReasonAACompromise         RevocationReason = 10
)

// String returns the string representation of a revocation reason.
func (r RevocationReason) String() string {
	switch r {
	case ReasonUnspecified:
		return "unspecified"
	case ReasonKeyCompromise:
		return "keyCompromise"
	case ReasonCACompromise:
		return "cACompromise"
	case ReasonAffiliationChanged:
		return "affiliationChanged"
	case ReasonSuperseded:
		return "superseded"
	case ReasonCessationOfOperation:
		return "cessationOfOperation"
	case ReasonCertificateHold:
		return "certificateHold"
	case ReasonRemoveFromCRL:
		return "removeFromCRL"
	case ReasonPrivilegeWithdrawn:
		return "privilegeWithdrawn"
	case ReasonAACompromise:
		return "aACompromise"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// RevocationStatus represents the revocation status of a certificate.
type RevocationStatus int

const (
	StatusUnknown RevocationStatus = iota
	StatusGood
	StatusRevoked
)

// String returns the string representation of a revocation status.
func (s RevocationStatus) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// RevocationOrigin tells which kind of evidence a token was built from.
type RevocationOrigin int

const (
	OriginUnknown RevocationOrigin = iota
	OriginCRL
	OriginOCSP
)

// String returns the string representation of an origin.
func (o RevocationOrigin) String() string {
	switch o {
	case OriginCRL:
		return "CRL"
	case OriginOCSP:
		return "OCSP"
	default:
		return "unknown"
	}
}

// TokenIdentifier is the composite identity of a revocation token. Two
// tokens with the same identifier are the same evidence about the same
// certificate, however many sources produced them.
type TokenIdentifier struct {
	TokenID        string
	CertificateID  string
	ProductionDate time.Time
}

// Key returns a string usable as a map key.
func (id TokenIdentifier) Key() string {
	return id.TokenID + "|" + id.CertificateID + "|" + id.ProductionDate.UTC().Format(time.RFC3339Nano)
}

// RevocationToken is revocation evidence for one certificate. The set of
// implementations is closed: *CRLToken and *OCSPToken.
type RevocationToken interface {
	Origin() RevocationOrigin
	// ProductionTime is thisUpdate for a CRL and producedAt for OCSP.
	ProductionTime() time.Time
	// RevocationTime is nil unless the certificate is revoked.
	RevocationTime() *time.Time
	Reason() RevocationReason
	Status() RevocationStatus
	Certificate() *certvalidator.CertificateToken
	Identifier() TokenIdentifier
}

// RevocationSummary is a flat projection of a token for reports.
type RevocationSummary struct {
	Origin         string     `json:"origin" yaml:"origin"`
	CertificateID  string     `json:"certificateId" yaml:"certificateId"`
	Status         string     `json:"status" yaml:"status"`
	ProductionDate time.Time  `json:"productionDate" yaml:"productionDate"`
	RevocationDate *time.Time `json:"revocationDate,omitempty" yaml:"revocationDate,omitempty"`
	Reason         string     `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Summarize builds the summary of tok.
func Summarize(tok RevocationToken) RevocationSummary {
	s := RevocationSummary{
		Origin:         tok.Origin().String(),
		Status:         tok.Status().String(),
		ProductionDate: tok.ProductionTime(),
		RevocationDate: tok.RevocationTime(),
	}
	if cert := tok.Certificate(); cert != nil {
		s.CertificateID = cert.ID()
	}
	if tok.Status() == StatusRevoked {
		s.Reason = tok.Reason().String()
	}
	return s
}

var (
	oidCRLNumber         = asn1.ObjectIdentifier{2, 5, 29, 20}
	oidDeltaCRLIndicator = asn1.ObjectIdentifier{2, 5, 29, 27}
)

// CRLNumber returns the CRL number extension value, or nil.
func CRLNumber(crl *x509.RevocationList) *big.Int {
	if crl.Number != nil {
		return crl.Number
	}
	for _, ext := range crl.Extensions {
		if ext.Id.Equal(oidCRLNumber) {
			var num big.Int
			if _, err := asn1.Unmarshal(ext.Value, &num); err == nil {
				return &num
			}
		}
	}
	return nil
}

// IsDeltaCRL checks if a CRL is a delta CRL.
func IsDeltaCRL(crl *x509.RevocationList) bool {
	for _, ext := range crl.Extensions {
		if ext.Id.Equal(oidDeltaCRLIndicator) {
			return true
		}
	}
	return false
}
