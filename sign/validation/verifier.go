// Package validation collects the certificates, timestamps and revocation
// evidence of a signature, checks them, and reports four aggregate
// predicates over the outcome.
package validation

import (
	"log/slog"
	"time"

	"github.com/georgepadayatti/sigtrust/certvalidator"
	"github.com/georgepadayatti/sigtrust/certvalidator/revinfo"
)

// Recorder receives validation events. The metrics package provides a
// Prometheus implementation.
type Recorder interface {
	// ContextValidated is called at the end of every Validate run.
	ContextValidated(result AggregateResult, elapsed time.Duration)
	// PolicyViolation is called when an aggregate check fails. fatal
	// reports whether the failure was raised as an error.
	PolicyViolation(check string, fatal bool)
	// ProfileEvaluated is called with the highest profile a signature
	// reached.
	ProfileEvaluated(level string)
}

type nopRecorder struct{}

func (nopRecorder) ContextValidated(AggregateResult, time.Duration) {}
func (nopRecorder) PolicyViolation(string, bool)                    {}
func (nopRecorder) ProfileEvaluated(string)                         {}

// NopRecorder discards all events.
var NopRecorder Recorder = nopRecorder{}

// CertificateVerifier configures a validation run.
//
// # Policy flags
//
// Each Exception* flag decides whether the failure of one aggregate
// predicate aborts an evaluation with an error or is only logged:
//   - ExceptionOnInvalidTimestamp: a timestamp has a broken signature or
//     message imprint
//   - ExceptionOnMissingRevocationData: a certificate requiring revocation
//     evidence has none
//   - ExceptionOnUncoveredPOE: revocation evidence predates the proof of
//     existence of a certificate
//   - ExceptionOnRevokedCertificate: a certificate is revoked
//
// # Evidence sources
//
// The signature sources hold the CRLs and OCSP responses embedded in the
// signature being evaluated; the evaluator binds them per run with
// WithSignatureSources. The adjunct sources hold evidence supplied from
// elsewhere, for instance fetched by the caller ahead of time.
type CertificateVerifier struct {
	ExceptionOnInvalidTimestamp      bool
	ExceptionOnMissingRevocationData bool
	ExceptionOnUncoveredPOE          bool
	ExceptionOnRevokedCertificate    bool

	SignatureCRLSource  revinfo.CRLSource
	SignatureOCSPSource revinfo.OCSPSource

	AdjunctCRLSource  revinfo.CRLSource
	AdjunctOCSPSource revinfo.OCSPSource

	// StatusCacheSize is the per-checker status cache size. Zero means
	// revinfo.DefaultStatusCacheSize; a negative value disables caching.
	StatusCacheSize int

	// Logger receives diagnostics. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Metrics receives validation events. If nil, events are discarded.
	Metrics Recorder
}

// DefaultCertificateVerifier returns a verifier that fails on broken
// timestamps, missing revocation evidence and revoked certificates, and
// only warns about uncovered proofs of existence.
func DefaultCertificateVerifier() *CertificateVerifier {
	return &CertificateVerifier{
		ExceptionOnInvalidTimestamp:      true,
		ExceptionOnMissingRevocationData: true,
		ExceptionOnUncoveredPOE:          false,
		ExceptionOnRevokedCertificate:    true,
	}
}

// StrictCertificateVerifier returns a verifier that fails on every policy
// violation.
func StrictCertificateVerifier() *CertificateVerifier {
	return &CertificateVerifier{
		ExceptionOnInvalidTimestamp:      true,
		ExceptionOnMissingRevocationData: true,
		ExceptionOnUncoveredPOE:          true,
		ExceptionOnRevokedCertificate:    true,
	}
}

// LenientCertificateVerifier returns a verifier that only logs policy
// violations. Callers inspect the validation context for the outcome.
func LenientCertificateVerifier() *CertificateVerifier {
	return &CertificateVerifier{}
}

// WithSignatureSources returns a copy of v bound to the evidence embedded
// in one signature. v itself is not modified.
func (v *CertificateVerifier) WithSignatureSources(crls revinfo.CRLSource, ocsps revinfo.OCSPSource) *CertificateVerifier {
	c := *v
	c.SignatureCRLSource = crls
	c.SignatureOCSPSource = ocsps
	return &c
}

// Log returns the configured logger, or slog.Default().
func (v *CertificateVerifier) Log() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.Default()
}

// Recorder returns the configured recorder, or NopRecorder.
func (v *CertificateVerifier) Recorder() Recorder {
	if v.Metrics != nil {
		return v.Metrics
	}
	return NopRecorder
}

func (v *CertificateVerifier) checkerOptions() []revinfo.CheckerOption {
	opts := []revinfo.CheckerOption{revinfo.WithLogger(v.Log())}
	if v.StatusCacheSize != 0 {
		opts = append(opts, revinfo.WithCacheSize(v.StatusCacheSize))
	}
	return opts
}

// SignatureStatusChecker returns a status checker over the signature
// sources.
func (v *CertificateVerifier) SignatureStatusChecker(pool *certvalidator.CertificatePool) *revinfo.OCSPAndCRLChecker {
	return revinfo.NewOCSPAndCRLChecker(pool, v.SignatureCRLSource, v.SignatureOCSPSource, v.checkerOptions()...)
}

// AdjunctStatusChecker returns a status checker over the adjunct sources,
// or nil when none are configured.
func (v *CertificateVerifier) AdjunctStatusChecker(pool *certvalidator.CertificatePool) *revinfo.OCSPAndCRLChecker {
	if v.AdjunctCRLSource == nil && v.AdjunctOCSPSource == nil {
		return nil
	}
	return revinfo.NewOCSPAndCRLChecker(pool, v.AdjunctCRLSource, v.AdjunctOCSPSource, v.checkerOptions()...)
}
