// AdES validation report functionality.
// Indications follow ETSI EN 319 102-1.

package ades

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/sigtrust/certvalidator"
	"github.com/georgepadayatti/sigtrust/sign/validation"
)

// Validation Indication values per ETSI EN 319 102-1
const (
	IndicationPassed        = "PASSED"
	IndicationFailed        = "FAILED"
	IndicationIndeterminate = "INDETERMINATE"
)

// Sub-indication values per ETSI EN 319 102-1
const (
	// FAILED sub-indications
	SubIndicationRevokedNoPoE     = "REVOKED_NO_POE"
	SubIndicationSigCryptoFailure = "SIG_CRYPTO_FAILURE"

	// INDETERMINATE sub-indications
	SubIndicationFormatFailure      = "FORMAT_FAILURE"
	SubIndicationSignedDataNotFound = "SIGNED_DATA_NOT_FOUND"
	SubIndicationNoValidTimestamp   = "NO_VALID_TIMESTAMP"
	SubIndicationNoSignerCertFound  = "NO_SIGNER_CERT_FOUND"
	SubIndicationTryLater           = "TRY_LATER"
	SubIndicationOutOfBoundsNoPoE   = "OUT_OF_BOUNDS_NO_POE"
)

// ValidationConclusion represents the overall validation conclusion.
type ValidationConclusion struct {
	Indication    string    `json:"indication" yaml:"indication"`
	SubIndication string    `json:"subIndication,omitempty" yaml:"subIndication,omitempty"`
	Errors        []Message `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings      []Message `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Message is a keyed report message.
type Message struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// NewValidationConclusion creates a new validation conclusion.
func NewValidationConclusion(indication string) *ValidationConclusion {
	return &ValidationConclusion{
		Indication: indication,
	}
}

// AddError adds an error to the conclusion.
func (c *ValidationConclusion) AddError(key, value string) {
	c.Errors = append(c.Errors, Message{Key: key, Value: value})
}

// AddWarning adds a warning to the conclusion.
func (c *ValidationConclusion) AddWarning(key, value string) {
	c.Warnings = append(c.Warnings, Message{Key: key, Value: value})
}

// IsPassed returns true if the indication is PASSED.
func (c *ValidationConclusion) IsPassed() bool {
	return c.Indication == IndicationPassed
}

// IsFailed returns true if the indication is FAILED.
func (c *ValidationConclusion) IsFailed() bool {
	return c.Indication == IndicationFailed
}

// IsIndeterminate returns true if the indication is INDETERMINATE.
func (c *ValidationConclusion) IsIndeterminate() bool {
	return c.Indication == IndicationIndeterminate
}

// CertificateInfo contains information about a certificate in the report.
type CertificateInfo struct {
	ID           string    `json:"id" yaml:"id"`
	Subject      string    `json:"subject" yaml:"subject"`
	Issuer       string    `json:"issuer" yaml:"issuer"`
	SerialNumber string    `json:"serialNumber" yaml:"serialNumber"`
	NotBefore    time.Time `json:"notBefore" yaml:"notBefore"`
	NotAfter     time.Time `json:"notAfter" yaml:"notAfter"`
	SelfSigned   bool      `json:"selfSigned" yaml:"selfSigned"`
	Trusted      bool      `json:"trusted" yaml:"trusted"`
}

// NewCertificateInfo creates certificate info from a pool token.
func NewCertificateInfo(tok *certvalidator.CertificateToken, pool *certvalidator.CertificatePool) *CertificateInfo {
	cert := tok.Certificate()
	return &CertificateInfo{
		ID:           tok.ID(),
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.String(),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		SelfSigned:   tok.IsSelfSigned(),
		Trusted:      pool != nil && pool.IsTrusted(tok),
	}
}

// ProfileInfo lists the profile levels whose data a signature carries.
type ProfileInfo struct {
	Timestamp          bool           `json:"timestamp" yaml:"timestamp"`
	LongTerm           bool           `json:"longTerm" yaml:"longTerm"`
	LongTermArchival   bool           `json:"longTermArchival" yaml:"longTermArchival"`
	DataFoundUpToLevel SignatureLevel `json:"dataFoundUpToLevel" yaml:"dataFoundUpToLevel"`
}

// InclusionInfo summarizes the validation data that would have to be
// embedded to extend the signature.
type InclusionInfo struct {
	Certificates []string `json:"certificates,omitempty" yaml:"certificates,omitempty"`
	CRLs         int      `json:"crls" yaml:"crls"`
	OCSPs        int      `json:"ocsps" yaml:"ocsps"`
}

// SignatureInfo contains the outcome for one signature.
type SignatureInfo struct {
	ID                string                              `json:"id" yaml:"id"`
	Filename          string                              `json:"filename,omitempty" yaml:"filename,omitempty"`
	DetachedContents  []string                            `json:"detachedContents,omitempty" yaml:"detachedContents,omitempty"`
	SignerCertificate *CertificateInfo                    `json:"signerCertificate,omitempty" yaml:"signerCertificate,omitempty"`
	Integrity         *SignatureCryptographicVerification `json:"integrity,omitempty" yaml:"integrity,omitempty"`
	Profile           ProfileInfo                         `json:"profile" yaml:"profile"`
	Validation        *validation.AggregateResult         `json:"validation,omitempty" yaml:"validation,omitempty"`
	Inclusion         *InclusionInfo                      `json:"inclusion,omitempty" yaml:"inclusion,omitempty"`
	RevocationDigests []string                            `json:"revocationDigests,omitempty" yaml:"revocationDigests,omitempty"`
	Conclusion        *ValidationConclusion               `json:"conclusion" yaml:"conclusion"`
}

// NewSignatureInfo summarizes an evaluation of sig. vc and evalErr are the
// values returned by Evaluate.
func NewSignatureInfo(sig *AdvancedSignature, vc validation.ValidationContext, evalErr error) *SignatureInfo {
	info := &SignatureInfo{
		ID:               sig.ID(),
		Filename:         sig.Filename(),
		DetachedContents: sig.DetachedContents(),
		Profile: ProfileInfo{
			Timestamp:          sig.HasTimestampProfile(),
			LongTerm:           sig.HasLongTermProfile(),
			LongTermArchival:   sig.HasLongTermArchivalProfile(),
			DataFoundUpToLevel: sig.DataFoundUpToLevel(),
		},
	}
	for _, ref := range sig.RevocationReferences() {
		info.RevocationDigests = append(info.RevocationDigests, ref.DigestValue)
	}

	signer, analysisErr := sig.ResolveSigningCertificate()
	if signer != nil {
		info.SignerCertificate = NewCertificateInfo(signer, sig.Pool())
	}
	analysis, _ := sig.SigningCertificateAnalysis()
	if analysis != nil {
		integrity := analysis.Integrity
		info.Integrity = &integrity
	}

	if vc != nil {
		result := vc.Results()
		info.Validation = &result

		inclusion := &InclusionInfo{}
		for _, tok := range sig.CertificatesForInclusion(vc) {
			inclusion.Certificates = append(inclusion.Certificates, tok.ID())
		}
		if data, err := sig.RevocationDataForInclusion(vc); err == nil {
			inclusion.CRLs = len(data.CRLTokens)
			inclusion.OCSPs = len(data.OCSPTokens)
		}
		info.Inclusion = inclusion
	}

	info.Conclusion = conclude(evalErr, analysisErr, signer, info)
	return info
}

func conclude(evalErr, analysisErr error, signer *certvalidator.CertificateToken, info *SignatureInfo) *ValidationConclusion {
	var pv *PolicyViolationError
	switch {
	case evalErr != nil && !errors.As(evalErr, &pv):
		c := NewValidationConclusion(IndicationIndeterminate)
		c.SubIndication = SubIndicationFormatFailure
		c.AddError("evaluation", evalErr.Error())
		return c
	case analysisErr != nil:
		c := NewValidationConclusion(IndicationIndeterminate)
		c.SubIndication = SubIndicationFormatFailure
		c.AddError("signing_certificate", analysisErr.Error())
		return c
	}

	var c *ValidationConclusion
	switch {
	case signer == nil:
		c = NewValidationConclusion(IndicationIndeterminate)
		c.SubIndication = SubIndicationNoSignerCertFound
	case info.Integrity != nil && !info.Integrity.IsSignatureValid():
		c = NewValidationConclusion(IndicationFailed)
		c.SubIndication = SubIndicationSigCryptoFailure
		if info.Integrity.ErrorMessage != "" {
			c.AddError("integrity", info.Integrity.ErrorMessage)
		}
	case pv != nil:
		c = NewValidationConclusion(IndicationIndeterminate)
		if pv.Check == CheckRevocationStatus {
			c.Indication = IndicationFailed
		}
		c.SubIndication = checkSubIndication(pv.Check)
		c.AddError(pv.Check, pv.Err.Error())
	default:
		c = NewValidationConclusion(IndicationPassed)
	}

	if v := info.Validation; v != nil {
		warn := func(ok bool, check string, err error) {
			if !ok && (pv == nil || pv.Check != check) {
				c.AddWarning(check, err.Error())
			}
		}
		warn(v.AllTimestampsValid, CheckTimestamp, ErrInvalidTimestamp)
		warn(v.AllRequiredRevocationDataPresent, CheckRevocationPresence, ErrMissingRevocationData)
		warn(v.AllPOECoveredByRevocationData, CheckPOECoverage, ErrUncoveredPOE)
		warn(v.AllCertificatesValid, CheckRevocationStatus, ErrRevokedCertificate)
	}
	return c
}

func checkSubIndication(check string) string {
	switch check {
	case CheckTimestamp:
		return SubIndicationNoValidTimestamp
	case CheckRevocationPresence:
		return SubIndicationTryLater
	case CheckPOECoverage:
		return SubIndicationOutOfBoundsNoPoE
	case CheckRevocationStatus:
		return SubIndicationRevokedNoPoE
	default:
		return ""
	}
}

// ValidationReport groups the outcomes for every signature of a document.
type ValidationReport struct {
	ID                  string                `json:"id" yaml:"id"`
	ValidationTime      time.Time             `json:"validationTime" yaml:"validationTime"`
	Policy              string                `json:"policy,omitempty" yaml:"policy,omitempty"`
	SignatureValidation []*SignatureInfo      `json:"signatures,omitempty" yaml:"signatures,omitempty"`
	Conclusion          *ValidationConclusion `json:"conclusion" yaml:"conclusion"`
}

// NewValidationReport creates a new validation report.
func NewValidationReport(id string) *ValidationReport {
	return &ValidationReport{
		ID:             id,
		ValidationTime: time.Now(),
		Conclusion:     NewValidationConclusion(IndicationIndeterminate),
	}
}

// AddSignature adds a signature validation result.
func (r *ValidationReport) AddSignature(sig *SignatureInfo) {
	r.SignatureValidation = append(r.SignatureValidation, sig)
}

// ComputeOverallConclusion computes the overall conclusion from all signatures.
func (r *ValidationReport) ComputeOverallConclusion() {
	if len(r.SignatureValidation) == 0 {
		r.Conclusion = NewValidationConclusion(IndicationIndeterminate)
		r.Conclusion.SubIndication = SubIndicationSignedDataNotFound
		return
	}

	// Overall is PASSED only if all signatures are PASSED
	allPassed := true
	hasFailed := false
	var firstSubInd string

	for _, sig := range r.SignatureValidation {
		if sig.Conclusion == nil {
			allPassed = false
			continue
		}
		if sig.Conclusion.IsFailed() && !hasFailed {
			hasFailed = true
			firstSubInd = sig.Conclusion.SubIndication
		}
		if !sig.Conclusion.IsPassed() {
			allPassed = false
			if firstSubInd == "" {
				firstSubInd = sig.Conclusion.SubIndication
			}
		}
	}

	switch {
	case allPassed:
		r.Conclusion = NewValidationConclusion(IndicationPassed)
	case hasFailed:
		r.Conclusion = NewValidationConclusion(IndicationFailed)
		r.Conclusion.SubIndication = firstSubInd
	default:
		r.Conclusion = NewValidationConclusion(IndicationIndeterminate)
		r.Conclusion.SubIndication = firstSubInd
	}
}

// SignatureCount returns the number of signatures.
func (r *ValidationReport) SignatureCount() int {
	return len(r.SignatureValidation)
}

// PassedCount returns the number of passed signatures.
func (r *ValidationReport) PassedCount() int {
	count := 0
	for _, sig := range r.SignatureValidation {
		if sig.Conclusion != nil && sig.Conclusion.IsPassed() {
			count++
		}
	}
	return count
}

// FailedCount returns the number of failed signatures.
func (r *ValidationReport) FailedCount() int {
	count := 0
	for _, sig := range r.SignatureValidation {
		if sig.Conclusion != nil && sig.Conclusion.IsFailed() {
			count++
		}
	}
	return count
}

// ToJSON serializes the report to JSON.
func (r *ValidationReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ToYAML serializes the report to YAML.
func (r *ValidationReport) ToYAML() ([]byte, error) {
	return yaml.Marshal(r)
}

// ToSimpleText generates a simple text report.
func (r *ValidationReport) ToSimpleText() string {
	var sb strings.Builder

	sb.WriteString("=== VALIDATION REPORT ===\n")
	sb.WriteString(fmt.Sprintf("Report ID: %s\n", r.ID))
	sb.WriteString(fmt.Sprintf("Validation Time: %s\n", r.ValidationTime.Format(time.RFC3339)))
	if r.Policy != "" {
		sb.WriteString(fmt.Sprintf("Policy: %s\n", r.Policy))
	}

	sb.WriteString(fmt.Sprintf("\nOverall Result: %s", r.Conclusion.Indication))
	if r.Conclusion.SubIndication != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", r.Conclusion.SubIndication))
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("\nSignatures: %d total, %d passed, %d failed\n",
		r.SignatureCount(), r.PassedCount(), r.FailedCount()))

	for i, sig := range r.SignatureValidation {
		sb.WriteString(fmt.Sprintf("\n--- Signature %d ---\n", i+1))
		sb.WriteString(fmt.Sprintf("ID: %s\n", sig.ID))
		if sig.Filename != "" {
			sb.WriteString(fmt.Sprintf("File: %s\n", sig.Filename))
		}
		sb.WriteString(fmt.Sprintf("Level: %s (T=%t LT=%t LTA=%t)\n",
			sig.Profile.DataFoundUpToLevel, sig.Profile.Timestamp, sig.Profile.LongTerm, sig.Profile.LongTermArchival))
		if sig.SignerCertificate != nil {
			sb.WriteString(fmt.Sprintf("Signer: %s\n", sig.SignerCertificate.Subject))
			sb.WriteString(fmt.Sprintf("Issuer: %s\n", sig.SignerCertificate.Issuer))
		}
		if v := sig.Validation; v != nil {
			sb.WriteString(fmt.Sprintf("Certificates: %d, Timestamps: %d, Revocations: %d\n",
				len(v.Certificates), len(v.Timestamps), v.Revocations))
		}

		if sig.Conclusion != nil {
			sb.WriteString(fmt.Sprintf("Result: %s", sig.Conclusion.Indication))
			if sig.Conclusion.SubIndication != "" {
				sb.WriteString(fmt.Sprintf(" (%s)", sig.Conclusion.SubIndication))
			}
			sb.WriteString("\n")
			for _, e := range sig.Conclusion.Errors {
				sb.WriteString(fmt.Sprintf("  Error: %s: %s\n", e.Key, e.Value))
			}
			for _, w := range sig.Conclusion.Warnings {
				sb.WriteString(fmt.Sprintf("  Warning: %s: %s\n", w.Key, w.Value))
			}
		}
	}

	return sb.String()
}
