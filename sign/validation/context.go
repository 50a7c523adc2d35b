package validation

import (
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/georgepadayatti/sigtrust/certvalidator"
	"github.com/georgepadayatti/sigtrust/certvalidator/revinfo"
	"github.com/georgepadayatti/sigtrust/sign/timestamps"
)

// Common validation errors
var (
	ErrNotInitialized = errors.New("validation context is not initialized")
	ErrNilVerifier    = errors.New("certificate verifier is nil")
)

// ValidationContext accumulates the certificates and timestamps of a
// signature, validates them, and answers aggregate questions about the
// outcome. A context belongs to a single evaluation and is not safe for
// concurrent use.
type ValidationContext interface {
	// Initialize binds the context to a verifier. It must be called before
	// Validate.
	Initialize(cv *CertificateVerifier) error
	// AddCertificateTokenForVerification enqueues a certificate. Enqueuing
	// the same certificate twice has no effect.
	AddCertificateTokenForVerification(tok *certvalidator.CertificateToken)
	// AddTimestampTokenForVerification enqueues a timestamp. Enqueuing the
	// same timestamp twice has no effect.
	AddTimestampTokenForVerification(ts *timestamps.TimestampToken)
	// Validate processes everything enqueued so far. It only fails on
	// structural faults; validation failures show in the predicates.
	Validate() error

	ProcessedCertificates() []*certvalidator.CertificateToken
	ProcessedRevocations() []revinfo.RevocationToken
	ProcessedTimestamps() []*timestamps.TimestampToken

	IsAllCertificateValid() bool
	IsAllTimestampValid() bool
	IsAllRequiredRevocationDataPresent() bool
	IsAllPOECoveredByRevocationData() bool

	// Results returns a snapshot of the predicates and per-token outcomes.
	Results() AggregateResult
}

// ContextOption configures a SignatureValidationContext.
type ContextOption func(*SignatureValidationContext)

// WithStatusChecker adds a status checker consulted after the verifier's
// signature and adjunct sources.
func WithStatusChecker(checker revinfo.StatusChecker) ContextOption {
	return func(c *SignatureValidationContext) {
		if checker != nil {
			c.extraCheckers = append(c.extraCheckers, checker)
		}
	}
}

// SignatureValidationContext is the ValidationContext used for a single
// signature.
//
// Validate works through a queue. Timestamps enqueue the certificates they
// embed. Each certificate enqueues its issuer from the pool and, when it
// requires revocation evidence, every status checker is asked for a token.
// OCSP responder and CRL issuer certificates are enqueued in turn.
type SignatureValidationContext struct {
	id          string
	pool        *certvalidator.CertificatePool
	requirement *certvalidator.RevocationRequirement

	cv            *CertificateVerifier
	logger        *slog.Logger
	checkers      []revinfo.StatusChecker
	extraCheckers []revinfo.StatusChecker

	enqueued          *ValidationObjectSet
	pendingCerts      []*certvalidator.CertificateToken
	pendingTimestamps []*timestamps.TimestampToken

	processed         *ValidationObjectSet
	revocationsByCert map[string][]revinfo.RevocationToken
	usageTime         map[string]time.Time
	validated         bool
}

var _ ValidationContext = (*SignatureValidationContext)(nil)

// NewSignatureValidationContext creates a context over pool. Every
// certificate the context sees is added to pool. A nil pool is replaced by
// an empty one.
func NewSignatureValidationContext(pool *certvalidator.CertificatePool, opts ...ContextOption) *SignatureValidationContext {
	if pool == nil {
		pool = certvalidator.NewCertificatePool()
	}
	c := &SignatureValidationContext{
		id:                uuid.NewString(),
		pool:              pool,
		requirement:       certvalidator.NewRevocationRequirement(pool),
		logger:            slog.Default(),
		enqueued:          NewValidationObjectSet(),
		processed:         NewValidationObjectSet(),
		revocationsByCert: make(map[string][]revinfo.RevocationToken),
		usageTime:         make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the identifier used for this context in logs and results.
func (c *SignatureValidationContext) ID() string { return c.id }

// Pool returns the certificate pool.
func (c *SignatureValidationContext) Pool() *certvalidator.CertificatePool { return c.pool }

// Initialize binds the context to cv and builds the status checkers.
func (c *SignatureValidationContext) Initialize(cv *CertificateVerifier) error {
	if cv == nil {
		return ErrNilVerifier
	}
	c.cv = cv
	c.logger = cv.Log().With("context", c.id)

	c.checkers = []revinfo.StatusChecker{cv.SignatureStatusChecker(c.pool)}
	if adjunct := cv.AdjunctStatusChecker(c.pool); adjunct != nil {
		c.checkers = append(c.checkers, adjunct)
	}
	c.checkers = append(c.checkers, c.extraCheckers...)
	return nil
}

// AddCertificateTokenForVerification enqueues tok.
func (c *SignatureValidationContext) AddCertificateTokenForVerification(tok *certvalidator.CertificateToken) {
	c.enqueueCertificate(tok)
}

func (c *SignatureValidationContext) enqueueCertificate(tok *certvalidator.CertificateToken) *certvalidator.CertificateToken {
	if tok == nil {
		return nil
	}
	tok = c.pool.AddToken(tok)
	if c.enqueued.Add(certificateObject(tok)) {
		c.pendingCerts = append(c.pendingCerts, tok)
	}
	return tok
}

// AddTimestampTokenForVerification enqueues ts.
func (c *SignatureValidationContext) AddTimestampTokenForVerification(ts *timestamps.TimestampToken) {
	if ts == nil {
		return
	}
	if c.enqueued.Add(timestampObject(ts)) {
		c.pendingTimestamps = append(c.pendingTimestamps, ts)
	}
}

// Validate processes the queue until it is empty.
func (c *SignatureValidationContext) Validate() error {
	if c.cv == nil {
		return ErrNotInitialized
	}
	start := time.Now()

	for len(c.pendingTimestamps) > 0 || len(c.pendingCerts) > 0 {
		if len(c.pendingTimestamps) > 0 {
			ts := c.pendingTimestamps[0]
			c.pendingTimestamps = c.pendingTimestamps[1:]
			if err := c.processTimestamp(ts); err != nil {
				return err
			}
			continue
		}
		tok := c.pendingCerts[0]
		c.pendingCerts = c.pendingCerts[1:]
		if err := c.processCertificate(tok); err != nil {
			return err
		}
	}
	c.validated = true

	result := c.Results()
	c.logger.Info("validation context validated",
		"certificates", len(result.Certificates),
		"timestamps", len(result.Timestamps),
		"revocations", result.Revocations,
		"passed", result.Passed())
	c.cv.Recorder().ContextValidated(result, time.Since(start))
	return nil
}

func (c *SignatureValidationContext) processTimestamp(ts *timestamps.TimestampToken) error {
	if !ts.Type().IsValid() {
		return fmt.Errorf("%w: %s", timestamps.ErrUnknownTimestampType, ts.Type())
	}
	c.processed.Add(timestampObject(ts))

	genTime := ts.GenerationTime()
	for _, cert := range ts.Certificates() {
		c.recordUsage(c.enqueueCertificate(cert), genTime)
	}
	if !ts.SignatureValid() && !ts.VerifySignature(c.poolCertificates()) {
		c.logger.Debug("timestamp signature not verified", "timestamp", ts.String())
	}
	if signer := ts.SigningCertificate(); signer != nil {
		c.recordUsage(c.enqueueCertificate(signer), genTime)
	}
	return nil
}

func (c *SignatureValidationContext) poolCertificates() []*x509.Certificate {
	all := c.pool.All()
	out := make([]*x509.Certificate, 0, len(all))
	for _, tok := range all {
		out = append(out, tok.Certificate())
	}
	return out
}

func (c *SignatureValidationContext) recordUsage(tok *certvalidator.CertificateToken, at time.Time) {
	if tok == nil {
		return
	}
	if prev, ok := c.usageTime[tok.ID()]; !ok || at.After(prev) {
		c.usageTime[tok.ID()] = at
	}
}

func (c *SignatureValidationContext) processCertificate(tok *certvalidator.CertificateToken) error {
	if !c.processed.Add(certificateObject(tok)) {
		return nil
	}

	if issuer := c.pool.FindIssuer(tok); issuer != nil && !issuer.Equal(tok) {
		c.enqueueCertificate(issuer)
	}

	if !c.requirement.IsRevocationRequired(tok) {
		c.logger.Debug("revocation not required", "certificate", tok.String())
		return nil
	}
	for _, checker := range c.checkers {
		rev := checker.Check(tok)
		if rev == nil {
			continue
		}
		if err := c.addRevocation(tok, rev); err != nil {
			return err
		}
	}
	return nil
}

func (c *SignatureValidationContext) addRevocation(tok *certvalidator.CertificateToken, rev revinfo.RevocationToken) error {
	obj, err := revocationObject(rev)
	if err != nil {
		return err
	}
	if !c.processed.Add(obj) {
		return nil
	}
	c.revocationsByCert[tok.ID()] = append(c.revocationsByCert[tok.ID()], rev)
	c.logger.Debug("revocation evidence found",
		"certificate", tok.String(),
		"origin", rev.Origin().String(),
		"status", rev.Status().String())

	switch r := rev.(type) {
	case *revinfo.OCSPToken:
		if responder := r.ResponderCertificate(); responder != nil {
			c.enqueueCertificate(certvalidator.NewCertificateToken(responder))
		}
	case *revinfo.CRLToken:
		c.enqueueCertificate(r.Issuer())
	}
	return nil
}

// ProcessedCertificates returns the processed certificates in processing
// order.
func (c *SignatureValidationContext) ProcessedCertificates() []*certvalidator.CertificateToken {
	var out []*certvalidator.CertificateToken
	for _, obj := range c.processed.OfType(ValidationObjectCertificate) {
		out = append(out, obj.Value.(*certvalidator.CertificateToken))
	}
	return out
}

// ProcessedRevocations returns the collected revocation tokens, one per
// composite identifier, in collection order.
func (c *SignatureValidationContext) ProcessedRevocations() []revinfo.RevocationToken {
	var out []revinfo.RevocationToken
	for _, obj := range c.processed.All() {
		if obj.ObjectType == ValidationObjectCRL || obj.ObjectType == ValidationObjectOCSP {
			out = append(out, obj.Value.(revinfo.RevocationToken))
		}
	}
	return out
}

// ProcessedTimestamps returns the processed timestamps in processing order.
func (c *SignatureValidationContext) ProcessedTimestamps() []*timestamps.TimestampToken {
	var out []*timestamps.TimestampToken
	for _, obj := range c.processed.OfType(ValidationObjectTimestamp) {
		out = append(out, obj.Value.(*timestamps.TimestampToken))
	}
	return out
}

// IsAllCertificateValid reports whether no collected revocation token
// declares its certificate revoked.
func (c *SignatureValidationContext) IsAllCertificateValid() bool {
	if !c.validated {
		return false
	}
	for _, rev := range c.ProcessedRevocations() {
		if rev.Status() == revinfo.StatusRevoked {
			return false
		}
	}
	return true
}

// IsAllTimestampValid reports whether every timestamp has a valid
// signature and, once its data was matched, an intact message imprint.
func (c *SignatureValidationContext) IsAllTimestampValid() bool {
	if !c.validated {
		return false
	}
	for _, ts := range c.ProcessedTimestamps() {
		if !ts.IsValid() {
			return false
		}
	}
	return true
}

// IsAllRequiredRevocationDataPresent reports whether every processed
// certificate that requires revocation evidence has some.
func (c *SignatureValidationContext) IsAllRequiredRevocationDataPresent() bool {
	if !c.validated {
		return false
	}
	for _, tok := range c.ProcessedCertificates() {
		if c.requirement.IsRevocationRequired(tok) && len(c.revocationsByCert[tok.ID()]) == 0 {
			return false
		}
	}
	return true
}

// IsAllPOECoveredByRevocationData reports whether, for every certificate
// with revocation evidence, some token was produced no earlier than the
// certificate's proof of existence. That is the latest generation time of
// the timestamps embedding the certificate, or else the earliest generation
// time of any timestamp. Without timestamps there is nothing to cover.
func (c *SignatureValidationContext) IsAllPOECoveredByRevocationData() bool {
	if !c.validated {
		return false
	}
	for _, tok := range c.ProcessedCertificates() {
		if !c.poeCovered(tok) {
			return false
		}
	}
	return true
}

func (c *SignatureValidationContext) earliestPOE() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, ts := range c.ProcessedTimestamps() {
		if !found || ts.GenerationTime().Before(earliest) {
			earliest = ts.GenerationTime()
			found = true
		}
	}
	return earliest, found
}

func (c *SignatureValidationContext) poeCovered(tok *certvalidator.CertificateToken) bool {
	revs := c.revocationsByCert[tok.ID()]
	if len(revs) == 0 {
		return true
	}
	poe, ok := c.usageTime[tok.ID()]
	if !ok {
		if poe, ok = c.earliestPOE(); !ok {
			return true
		}
	}
	for _, rev := range revs {
		if !rev.ProductionTime().Before(poe) {
			return true
		}
	}
	return false
}

// Results returns a snapshot of the context.
func (c *SignatureValidationContext) Results() AggregateResult {
	result := AggregateResult{
		ContextID:                        c.id,
		Validated:                        c.validated,
		AllCertificatesValid:             c.IsAllCertificateValid(),
		AllTimestampsValid:               c.IsAllTimestampValid(),
		AllRequiredRevocationDataPresent: c.IsAllRequiredRevocationDataPresent(),
		AllPOECoveredByRevocationData:    c.IsAllPOECoveredByRevocationData(),
		Revocations:                      len(c.ProcessedRevocations()),
	}

	for _, tok := range c.ProcessedCertificates() {
		cr := CertificateResult{
			ID:                 tok.ID(),
			Subject:            tok.String(),
			Trusted:            c.pool.IsTrusted(tok),
			SelfSigned:         tok.IsSelfSigned(),
			RevocationRequired: c.requirement.IsRevocationRequired(tok),
		}
		revoked := false
		for _, rev := range c.revocationsByCert[tok.ID()] {
			cr.Revocations = append(cr.Revocations, revinfo.Summarize(rev))
			if rev.Status() == revinfo.StatusRevoked {
				revoked = true
			}
		}
		switch {
		case revoked:
			cr.Status = StatusInvalid
		case cr.RevocationRequired && len(cr.Revocations) == 0:
			cr.Status = StatusUnknown
		case !c.poeCovered(tok):
			cr.Status = StatusWarning
		default:
			cr.Status = StatusValid
		}
		result.Certificates = append(result.Certificates, cr)
	}

	for _, ts := range c.ProcessedTimestamps() {
		tr := TimestampResult{
			ID:                   ts.ID(),
			Type:                 ts.Type().String(),
			GenerationTime:       ts.GenerationTime(),
			SignatureValid:       ts.SignatureValid(),
			Processed:            ts.IsProcessed(),
			MessageImprintIntact: ts.MessageImprintIntact(),
			Status:               StatusInvalid,
		}
		if ts.IsValid() {
			tr.Status = StatusValid
		}
		result.Timestamps = append(result.Timestamps, tr)
	}
	return result
}
