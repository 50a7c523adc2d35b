package ades

import (
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/georgepadayatti/sigtrust/certvalidator"
	"github.com/georgepadayatti/sigtrust/certvalidator/revinfo"
	"github.com/georgepadayatti/sigtrust/sign/timestamps"
	"github.com/georgepadayatti/sigtrust/sign/validation"
)

// timestampOrder is the order timestamps are prepared and matched in.
var timestampOrder = []timestamps.TimestampType{
	timestamps.ContentTimestamp,
	timestamps.SignatureTimestamp,
	timestamps.SignAndRefsTimestamp,
	timestamps.RefsOnlyTimestamp,
	timestamps.ArchiveTimestamp,
}

// Option configures an AdvancedSignature.
type Option func(*AdvancedSignature)

// WithID overrides the generated signature identifier.
func WithID(id string) Option {
	return func(s *AdvancedSignature) {
		if id != "" {
			s.id = id
		}
	}
}

// WithFilename records the name of the file the signature was read from.
func WithFilename(name string) Option {
	return func(s *AdvancedSignature) {
		s.filename = name
	}
}

// WithDetachedContents records the names of the detached documents the
// signature covers.
func WithDetachedContents(names ...string) Option {
	return func(s *AdvancedSignature) {
		s.detachedContents = append(s.detachedContents, names...)
	}
}

// WithLogger sets the logger used for evaluation diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *AdvancedSignature) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// AdvancedSignature evaluates one signature read through a SignatureFormat.
//
// Apart from AddExternalTimestamp and ResolveSigningCertificate, which may
// be called concurrently, an AdvancedSignature is meant to be driven by a
// single goroutine.
type AdvancedSignature struct {
	format SignatureFormat
	pool   *certvalidator.CertificatePool
	logger *slog.Logger

	id               string
	filename         string
	detachedContents []string

	mu               sync.Mutex
	externalArchives []*timestamps.TimestampToken

	analysisOnce sync.Once
	analysis     *SigningCertificateAnalysis
	analysisErr  error

	digestMu    sync.Mutex
	usedDigests map[crypto.Hash]struct{}
}

// NewAdvancedSignature creates an evaluator for format. Certificates met
// during evaluation are registered in pool; a nil pool is replaced by an
// empty one.
func NewAdvancedSignature(format SignatureFormat, pool *certvalidator.CertificatePool, opts ...Option) (*AdvancedSignature, error) {
	if format == nil {
		return nil, ErrNilFormat
	}
	if pool == nil {
		pool = certvalidator.NewCertificatePool()
	}
	s := &AdvancedSignature{
		format:      format,
		pool:        pool,
		logger:      slog.Default(),
		id:          uuid.NewString(),
		usedDigests: make(map[crypto.Hash]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("signature", s.id)
	return s, nil
}

// ID returns the signature identifier.
func (s *AdvancedSignature) ID() string { return s.id }

// Filename returns the name of the file the signature was read from.
func (s *AdvancedSignature) Filename() string { return s.filename }

// DetachedContents returns the names of the detached documents.
func (s *AdvancedSignature) DetachedContents() []string {
	return append([]string(nil), s.detachedContents...)
}

// Pool returns the certificate pool.
func (s *AdvancedSignature) Pool() *certvalidator.CertificatePool { return s.pool }

// Certificates returns the certificates embedded in the signature as
// canonical pool tokens.
func (s *AdvancedSignature) Certificates() []*certvalidator.CertificateToken {
	var out []*certvalidator.CertificateToken
	for _, cert := range s.format.Certificates() {
		if cert != nil {
			out = append(out, s.pool.Add(cert))
		}
	}
	return out
}

// Timestamps returns the timestamps of type typ. Archive timestamps added
// with AddExternalTimestamp follow the embedded ones.
func (s *AdvancedSignature) Timestamps(typ timestamps.TimestampType) []*timestamps.TimestampToken {
	out := append([]*timestamps.TimestampToken(nil), s.format.Timestamps(typ)...)
	if typ == timestamps.ArchiveTimestamp {
		s.mu.Lock()
		out = append(out, s.externalArchives...)
		s.mu.Unlock()
	}
	return out
}

// AllTimestamps returns every timestamp, grouped by type in preparation
// order.
func (s *AdvancedSignature) AllTimestamps() []*timestamps.TimestampToken {
	var out []*timestamps.TimestampToken
	for _, typ := range timestampOrder {
		out = append(out, s.Timestamps(typ)...)
	}
	return out
}

// AddExternalTimestamp attaches an archive timestamp obtained outside the
// signature. The token must already have been matched against its data.
func (s *AdvancedSignature) AddExternalTimestamp(ts *timestamps.TimestampToken) error {
	if ts == nil || !ts.IsProcessed() {
		return ErrTimestampNotProcessed
	}
	if ts.Type() != timestamps.ArchiveTimestamp {
		return fmt.Errorf("%w: got %s", ErrNotArchiveTimestamp, ts.Type())
	}
	s.mu.Lock()
	s.externalArchives = append(s.externalArchives, ts)
	s.mu.Unlock()
	s.logger.Debug("external archive timestamp added", "timestamp", ts.String())
	return nil
}

// PrepareTimestamps enqueues every timestamp in vc: content, signature,
// sign-and-refs, refs-only, then archive timestamps.
func (s *AdvancedSignature) PrepareTimestamps(vc validation.ValidationContext) {
	for _, ts := range s.AllTimestamps() {
		vc.AddTimestampTokenForVerification(ts)
	}
}

// ValidateTimestamps matches every timestamp not yet processed against the
// data its type covers.
func (s *AdvancedSignature) ValidateTimestamps() error {
	for _, ts := range s.AllTimestamps() {
		if ts.IsProcessed() {
			continue
		}
		data, err := s.format.TimestampData(ts)
		if err != nil {
			return fmt.Errorf("%w for %s: %v", ErrTimestampData, ts, err)
		}
		if !ts.MatchData(data) {
			s.logger.Warn("timestamp message imprint mismatch", "timestamp", ts.String())
		}
	}
	return nil
}

// ResolveSigningCertificate returns the signing certificate: the selected
// candidate when it is confirmed, else the best ranked candidate, else nil.
// The format's analysis runs once; its outcome is reused afterwards.
func (s *AdvancedSignature) ResolveSigningCertificate() (*certvalidator.CertificateToken, error) {
	analysis, err := s.SigningCertificateAnalysis()
	if err != nil {
		return nil, err
	}
	if analysis.Selected.IsValid() {
		return s.pool.AddToken(analysis.Selected.Certificate), nil
	}
	if best := analysis.BestCandidate(); best != nil && best.Certificate != nil {
		return s.pool.AddToken(best.Certificate), nil
	}
	return nil, nil
}

// SigningCertificateAnalysis returns the memoized signing certificate
// analysis.
func (s *AdvancedSignature) SigningCertificateAnalysis() (*SigningCertificateAnalysis, error) {
	s.analysisOnce.Do(func() {
		s.analysis, s.analysisErr = s.format.AnalyzeSigningCertificate(s.pool)
		if s.analysisErr == nil && s.analysis == nil {
			s.analysis = &SigningCertificateAnalysis{}
		}
	})
	return s.analysis, s.analysisErr
}

// Evaluate validates the signature's certificates and timestamps against cv
// and applies cv's policy flags.
//
// Structural faults return a nil context and an error. Every policy check
// runs, in the order timestamp, revocation presence, POE coverage and
// revocation status, and each failure is logged and recorded. When a fatal
// check failed the populated context is returned together with a
// *PolicyViolationError for the first fatal one.
func (s *AdvancedSignature) Evaluate(cv *validation.CertificateVerifier) (validation.ValidationContext, error) {
	if cv == nil {
		return nil, validation.ErrNilVerifier
	}
	bound := cv.WithSignatureSources(
		revinfo.NewListCRLSource(s.format.CRLSource()),
		revinfo.NewListOCSPSource(s.format.OCSPSource()),
	)

	vc := validation.NewSignatureValidationContext(s.pool)
	if err := vc.Initialize(bound); err != nil {
		return nil, err
	}
	for _, tok := range s.Certificates() {
		vc.AddCertificateTokenForVerification(tok)
	}
	s.PrepareTimestamps(vc)
	if err := vc.Validate(); err != nil {
		return nil, fmt.Errorf("validate signature %s: %w", s.id, err)
	}
	if err := s.ValidateTimestamps(); err != nil {
		return nil, err
	}

	checks := []struct {
		name  string
		ok    bool
		fatal bool
		err   error
	}{
		{CheckTimestamp, vc.IsAllTimestampValid(), bound.ExceptionOnInvalidTimestamp, ErrInvalidTimestamp},
		{CheckRevocationPresence, vc.IsAllRequiredRevocationDataPresent(), bound.ExceptionOnMissingRevocationData, ErrMissingRevocationData},
		{CheckPOECoverage, vc.IsAllPOECoveredByRevocationData(), bound.ExceptionOnUncoveredPOE, ErrUncoveredPOE},
		{CheckRevocationStatus, vc.IsAllCertificateValid(), bound.ExceptionOnRevokedCertificate, ErrRevokedCertificate},
	}
	var violation *PolicyViolationError
	for _, check := range checks {
		if check.ok {
			continue
		}
		bound.Recorder().PolicyViolation(check.name, check.fatal)
		if !check.fatal {
			s.logger.Warn("policy violation", "check", check.name, "error", check.err)
			continue
		}
		s.logger.Error("policy violation", "check", check.name, "error", check.err)
		if violation == nil {
			violation = &PolicyViolationError{Check: check.name, Err: check.err}
		}
	}
	if violation != nil {
		return vc, violation
	}

	level := s.DataFoundUpToLevel()
	bound.Recorder().ProfileEvaluated(level.String())
	s.logger.Info("signature evaluated", "level", level.String())
	return vc, nil
}

// IsPolicyViolation reports whether err is a fatal policy check failure.
func IsPolicyViolation(err error) bool {
	var pv *PolicyViolationError
	return errors.As(err, &pv)
}
