package revinfo

import (
	"errors"
	"log/slog"

	lru "github.com/hashicorp/golang-lru"

	"github.com/georgepadayatti/sigtrust/certvalidator"
)

// DefaultStatusCacheSize is the number of certificate statuses an
// OCSPAndCRLChecker remembers by default.
const DefaultStatusCacheSize = 1024

// StatusChecker finds revocation evidence for a certificate. Check returns
// nil when no evidence is available.
type StatusChecker interface {
	Check(cert *certvalidator.CertificateToken) RevocationToken
}

// OCSPAndCRLChecker looks for an OCSP response first and falls back to
// CRLs. Among several matching tokens of one kind the most recently
// produced wins. Found tokens are cached by certificate ID.
type OCSPAndCRLChecker struct {
	pool   *certvalidator.CertificatePool
	crls   CRLSource
	ocsps  OCSPSource
	cache  *lru.Cache
	logger *slog.Logger
}

// CheckerOption configures an OCSPAndCRLChecker.
type CheckerOption func(*OCSPAndCRLChecker)

// WithCacheSize sets the cache size. A size of zero or less disables the
// cache.
func WithCacheSize(size int) CheckerOption {
	return func(c *OCSPAndCRLChecker) {
		c.cache = nil
		if size > 0 {
			c.cache, _ = lru.New(size)
		}
	}
}

// WithLogger sets the logger used for skipped evidence.
func WithLogger(logger *slog.Logger) CheckerOption {
	return func(c *OCSPAndCRLChecker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewOCSPAndCRLChecker creates a checker over the given sources. Issuers are
// looked up in pool to verify evidence signatures; pool and either source
// may be nil.
func NewOCSPAndCRLChecker(pool *certvalidator.CertificatePool, crls CRLSource, ocsps OCSPSource, opts ...CheckerOption) *OCSPAndCRLChecker {
	c := &OCSPAndCRLChecker{
		pool:   pool,
		crls:   crls,
		ocsps:  ocsps,
		logger: slog.Default(),
	}
	c.cache, _ = lru.New(DefaultStatusCacheSize)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check returns the best revocation token for cert, or nil.
func (c *OCSPAndCRLChecker) Check(cert *certvalidator.CertificateToken) RevocationToken {
	if cert == nil {
		return nil
	}
	if c.cache != nil {
		if v, ok := c.cache.Get(cert.ID()); ok {
			return v.(RevocationToken)
		}
	}

	var issuer *certvalidator.CertificateToken
	if c.pool != nil {
		issuer = c.pool.FindIssuer(cert)
	}

	if tok := c.checkOCSP(cert, issuer); tok != nil {
		return c.remember(cert, tok)
	}
	if tok := c.checkCRL(cert, issuer); tok != nil {
		return c.remember(cert, tok)
	}
	c.logger.Debug("no revocation evidence", "certificate", cert.String())
	return nil
}

func (c *OCSPAndCRLChecker) remember(cert *certvalidator.CertificateToken, tok RevocationToken) RevocationToken {
	if c.cache != nil {
		c.cache.Add(cert.ID(), tok)
	}
	return tok
}

func (c *OCSPAndCRLChecker) checkOCSP(cert, issuer *certvalidator.CertificateToken) *OCSPToken {
	if c.ocsps == nil {
		return nil
	}
	var best *OCSPToken
	for _, resp := range c.ocsps.ContainedOCSPResponses() {
		tok, err := NewOCSPToken(resp, cert, issuer)
		if err != nil {
			if !errors.Is(err, ErrSerialMismatch) && !errors.Is(err, ErrIssuerMismatch) {
				c.logger.Debug("skipping OCSP response", "certificate", cert.String(), "error", err)
			}
			continue
		}
		if best == nil || tok.ProductionTime().After(best.ProductionTime()) {
			best = tok
		}
	}
	return best
}

func (c *OCSPAndCRLChecker) checkCRL(cert, issuer *certvalidator.CertificateToken) *CRLToken {
	if c.crls == nil {
		return nil
	}
	var best *CRLToken
	for _, raw := range c.crls.ContainedCRLs() {
		crl, err := ParseCRL(raw)
		if err != nil {
			c.logger.Debug("skipping CRL", "error", err)
			continue
		}
		tok, err := NewCRLToken(raw, crl, cert, issuer)
		if err != nil {
			if !errors.Is(err, ErrIssuerMismatch) {
				c.logger.Debug("skipping CRL", "certificate", cert.String(), "error", err)
			}
			continue
		}
		if best == nil || tok.ProductionTime().After(best.ProductionTime()) {
			best = tok
		}
	}
	return best
}
