package revinfo

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/georgepadayatti/sigtrust/certvalidator"
)

// CRLToken is the status of one certificate as stated by a CRL.
type CRLToken struct {
	raw    []byte
	crl    *x509.RevocationList
	cert   *certvalidator.CertificateToken
	issuer *certvalidator.CertificateToken
	id     string
	entry  *x509.RevocationListEntry
}

// ParseCRL parses a DER encoded CRL.
func ParseCRL(raw []byte) (*x509.RevocationList, error) {
	crl, err := x509.ParseRevocationList(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL: %w", err)
	}
	return crl, nil
}

// NewCRLToken binds a parsed CRL to cert. The CRL issuer must match the
// certificate issuer. When issuer is not nil the CRL signature is checked
// against it.
func NewCRLToken(raw []byte, crl *x509.RevocationList, cert, issuer *certvalidator.CertificateToken) (*CRLToken, error) {
	if cert == nil {
		return nil, ErrNilCertificate
	}
	if !bytes.Equal(crl.RawIssuer, cert.Certificate().RawIssuer) {
		return nil, ErrIssuerMismatch
	}
	if issuer != nil {
		if err := crl.CheckSignatureFrom(issuer.Certificate()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}

	sum := sha256.Sum256(raw)
	tok := &CRLToken{
		raw:    raw,
		crl:    crl,
		cert:   cert,
		issuer: issuer,
		id:     hex.EncodeToString(sum[:]),
	}
	for i := range crl.RevokedCertificateEntries {
		entry := &crl.RevokedCertificateEntries[i]
		if entry.SerialNumber.Cmp(cert.SerialNumber()) == 0 {
			tok.entry = entry
			break
		}
	}
	return tok, nil
}

// Origin returns OriginCRL.
func (t *CRLToken) Origin() RevocationOrigin { return OriginCRL }

// ProductionTime returns the CRL thisUpdate.
func (t *CRLToken) ProductionTime() time.Time { return t.crl.ThisUpdate }

// RevocationTime returns the revocation date of the entry, if listed.
func (t *CRLToken) RevocationTime() *time.Time {
	if t.entry == nil {
		return nil
	}
	at := t.entry.RevocationTime
	return &at
}

// Reason returns the entry reason code.
func (t *CRLToken) Reason() RevocationReason {
	if t.entry == nil {
		return ReasonUnspecified
	}
	return RevocationReason(t.entry.ReasonCode)
}

// Status returns StatusRevoked when the certificate is listed. A listing
// with reason removeFromCRL only appears in delta CRLs and means good.
func (t *CRLToken) Status() RevocationStatus {
	if t.entry == nil || RevocationReason(t.entry.ReasonCode) == ReasonRemoveFromCRL {
		return StatusGood
	}
	return StatusRevoked
}

// Certificate returns the certificate the token is about.
func (t *CRLToken) Certificate() *certvalidator.CertificateToken { return t.cert }

// Issuer returns the certificate the CRL signature was checked against, or
// nil if it was not checked.
func (t *CRLToken) Issuer() *certvalidator.CertificateToken { return t.issuer }

// Identifier returns the composite identity of the token.
func (t *CRLToken) Identifier() TokenIdentifier {
	return TokenIdentifier{
		TokenID:        t.id,
		CertificateID:  t.cert.ID(),
		ProductionDate: t.crl.ThisUpdate,
	}
}

// Raw returns the DER encoded CRL.
func (t *CRLToken) Raw() []byte { return t.raw }

// NextUpdate returns the CRL nextUpdate.
func (t *CRLToken) NextUpdate() time.Time { return t.crl.NextUpdate }

// Number returns the CRL number, or nil.
func (t *CRLToken) Number() *big.Int { return CRLNumber(t.crl) }

// IsDelta reports whether the CRL is a delta CRL.
func (t *CRLToken) IsDelta() bool { return IsDeltaCRL(t.crl) }
