package validation

import (
	"time"

	"github.com/georgepadayatti/sigtrust/certvalidator/revinfo"
)

// ValidationStatus represents the outcome for a single token.
type ValidationStatus int

const (
	StatusUnknown ValidationStatus = iota
	StatusValid
	StatusInvalid
	StatusWarning
)

// String returns the string representation of the status.
func (s ValidationStatus) String() string {
	switch s {
	case StatusValid:
		return "VALID"
	case StatusInvalid:
		return "INVALID"
	case StatusWarning:
		return "WARNING"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ValidationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CertificateResult is the outcome for one processed certificate.
type CertificateResult struct {
	ID                 string                      `json:"id" yaml:"id"`
	Subject            string                      `json:"subject" yaml:"subject"`
	Trusted            bool                        `json:"trusted" yaml:"trusted"`
	SelfSigned         bool                        `json:"selfSigned" yaml:"selfSigned"`
	RevocationRequired bool                        `json:"revocationRequired" yaml:"revocationRequired"`
	Status             ValidationStatus            `json:"status" yaml:"status"`
	Revocations        []revinfo.RevocationSummary `json:"revocations,omitempty" yaml:"revocations,omitempty"`
}

// TimestampResult is the outcome for one enqueued timestamp.
type TimestampResult struct {
	ID                   string           `json:"id" yaml:"id"`
	Type                 string           `json:"type" yaml:"type"`
	GenerationTime       time.Time        `json:"generationTime" yaml:"generationTime"`
	SignatureValid       bool             `json:"signatureValid" yaml:"signatureValid"`
	Processed            bool             `json:"processed" yaml:"processed"`
	MessageImprintIntact bool             `json:"messageImprintIntact" yaml:"messageImprintIntact"`
	Status               ValidationStatus `json:"status" yaml:"status"`
}

// AggregateResult is a snapshot of a validation context: the four aggregate
// predicates and the per-token outcomes behind them.
type AggregateResult struct {
	ContextID string `json:"contextId" yaml:"contextId"`
	Validated bool   `json:"validated" yaml:"validated"`

	AllCertificatesValid             bool `json:"allCertificatesValid" yaml:"allCertificatesValid"`
	AllTimestampsValid               bool `json:"allTimestampsValid" yaml:"allTimestampsValid"`
	AllRequiredRevocationDataPresent bool `json:"allRequiredRevocationDataPresent" yaml:"allRequiredRevocationDataPresent"`
	AllPOECoveredByRevocationData    bool `json:"allPoeCoveredByRevocationData" yaml:"allPoeCoveredByRevocationData"`

	Certificates []CertificateResult `json:"certificates" yaml:"certificates"`
	Timestamps   []TimestampResult   `json:"timestamps" yaml:"timestamps"`
	Revocations  int                 `json:"revocations" yaml:"revocations"`
}

// Passed reports whether the context was validated and all four
// predicates hold.
func (r AggregateResult) Passed() bool {
	return r.Validated &&
		r.AllCertificatesValid &&
		r.AllTimestampsValid &&
		r.AllRequiredRevocationDataPresent &&
		r.AllPOECoveredByRevocationData
}
