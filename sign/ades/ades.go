// Package ades evaluates which AdES baseline profile (B, T, LT or LTA) an
// advanced electronic signature satisfies, from the certificates,
// timestamps and revocation evidence embedded in or attached to it.
//
// Concrete signature containers plug in through SignatureFormat; the
// evaluator itself, AdvancedSignature, is container agnostic.
package ades

import (
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/georgepadayatti/sigtrust/certvalidator"
	"github.com/georgepadayatti/sigtrust/certvalidator/revinfo"
	"github.com/georgepadayatti/sigtrust/sign/timestamps"
)

// Common errors
var (
	ErrNilFormat             = errors.New("signature format is nil")
	ErrTimestampNotProcessed = errors.New("timestamp token must be validated first")
	ErrNotArchiveTimestamp   = errors.New("only archive timestamps can be added")
	ErrTimestampData         = errors.New("cannot compute timestamped data")
)

// Policy violations. They are wrapped in a *PolicyViolationError when the
// matching CertificateVerifier flag is set.
var (
	ErrInvalidTimestamp      = errors.New("broken timestamp detected")
	ErrMissingRevocationData = errors.New("revocation data is missing")
	ErrUncoveredPOE          = errors.New("a proof of existence is not covered by usable revocation data")
	ErrRevokedCertificate    = errors.New("revoked certificate detected")
)

// Names of the aggregate checks, as reported to logs and metrics.
const (
	CheckTimestamp          = "timestamp"
	CheckRevocationPresence = "revocation_presence"
	CheckPOECoverage        = "poe_coverage"
	CheckRevocationStatus   = "revocation_status"
)

// PolicyViolationError reports an aggregate check that failed while the
// verifier was configured to treat it as fatal.
type PolicyViolationError struct {
	Check string
	Err   error
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation (%s): %v", e.Check, e.Err)
}

func (e *PolicyViolationError) Unwrap() error {
	return e.Err
}

// SignatureLevel is an AdES baseline profile level.
type SignatureLevel int

const (
	LevelUnknown SignatureLevel = iota
	LevelB
	LevelT
	LevelLT
	LevelLTA
)

// String returns the string representation of the level.
func (l SignatureLevel) String() string {
	switch l {
	case LevelB:
		return "B"
	case LevelT:
		return "T"
	case LevelLT:
		return "LT"
	case LevelLTA:
		return "LTA"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l SignatureLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// SignatureFormat is what a concrete signature container has to provide
// for its signatures to be evaluated.
type SignatureFormat interface {
	// Certificates returns the certificates embedded in the signature.
	Certificates() []*x509.Certificate
	// Timestamps returns the embedded timestamps of one type.
	Timestamps(typ timestamps.TimestampType) []*timestamps.TimestampToken
	// CRLSource returns the CRLs embedded in the signature.
	CRLSource() revinfo.CRLSource
	// OCSPSource returns the OCSP responses embedded in the signature.
	OCSPSource() revinfo.OCSPSource
	// TimestampData returns the bytes ts must cover, according to its type.
	TimestampData(ts *timestamps.TimestampToken) ([]byte, error)
	// AnalyzeSigningCertificate ranks the signing certificate candidates
	// and checks the signature value. It is called at most once per
	// AdvancedSignature.
	AnalyzeSigningCertificate(pool *certvalidator.CertificatePool) (*SigningCertificateAnalysis, error)
}

// CertificateValidity is the assessment of one signing certificate
// candidate.
type CertificateValidity struct {
	Certificate *certvalidator.CertificateToken
	// DigestMatch reports whether the signed reference to the signing
	// certificate matches this candidate.
	DigestMatch bool
	// SignatureValid reports whether the signature value verifies with
	// the candidate's public key.
	SignatureValid bool
}

// IsValid reports whether the candidate is confirmed as the signing
// certificate.
func (v *CertificateValidity) IsValid() bool {
	return v != nil && v.Certificate != nil && v.DigestMatch && v.SignatureValid
}

// SignatureCryptographicVerification is the outcome of the signature
// integrity check.
type SignatureCryptographicVerification struct {
	ReferenceDataFound  bool   `json:"referenceDataFound" yaml:"referenceDataFound"`
	ReferenceDataIntact bool   `json:"referenceDataIntact" yaml:"referenceDataIntact"`
	SignatureIntact     bool   `json:"signatureIntact" yaml:"signatureIntact"`
	ErrorMessage        string `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
}

// IsSignatureValid reports whether the signed data was found intact and the
// signature value verified.
func (v SignatureCryptographicVerification) IsSignatureValid() bool {
	return v.ReferenceDataFound && v.ReferenceDataIntact && v.SignatureIntact
}

// SigningCertificateAnalysis is the result of signing certificate
// analysis. It is not modified after it is returned.
type SigningCertificateAnalysis struct {
	// Candidates are ranked best first.
	Candidates []*CertificateValidity
	// Selected is the candidate the signature was verified with, if any.
	Selected  *CertificateValidity
	Integrity SignatureCryptographicVerification
}

// BestCandidate returns the highest ranked candidate, or nil.
func (a *SigningCertificateAnalysis) BestCandidate() *CertificateValidity {
	if a == nil || len(a.Candidates) == 0 {
		return nil
	}
	return a.Candidates[0]
}
