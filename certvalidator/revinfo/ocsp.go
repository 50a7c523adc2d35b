package revinfo

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/sigtrust/certvalidator"
)

// OCSPToken is the status of one certificate as stated by an OCSP response.
type OCSPToken struct {
	resp   *ocsp.Response
	cert   *certvalidator.CertificateToken
	issuer *certvalidator.CertificateToken
	id     string
}

// ParseOCSPResponse parses a DER encoded OCSP response without checking
// its signature.
func ParseOCSPResponse(raw []byte) (*ocsp.Response, error) {
	resp, err := ocsp.ParseResponse(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OCSP response: %w", err)
	}
	return resp, nil
}

// NewOCSPToken binds an OCSP response to cert. The response serial must
// match. When issuer is not nil the response must be signed by the issuer
// itself or by a responder certificate the issuer signed. Without an issuer
// the response must embed a responder certificate that is, or was issued
// by, the certificate's issuer and that signed the response.
func NewOCSPToken(resp *ocsp.Response, cert, issuer *certvalidator.CertificateToken) (*OCSPToken, error) {
	if cert == nil {
		return nil, ErrNilCertificate
	}
	if resp.SerialNumber == nil || resp.SerialNumber.Cmp(cert.SerialNumber()) != 0 {
		return nil, ErrSerialMismatch
	}
	var err error
	switch {
	case issuer != nil:
		err = checkOCSPSignature(resp, issuer.Certificate())
	case !responderNamesIssuer(resp.Certificate, cert.Certificate()):
		return nil, ErrIssuerMismatch
	default:
		err = resp.CheckSignatureFrom(resp.Certificate)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	sum := sha256.Sum256(resp.Raw)
	return &OCSPToken{
		resp:   resp,
		cert:   cert,
		issuer: issuer,
		id:     hex.EncodeToString(sum[:]),
	}, nil
}

func checkOCSPSignature(resp *ocsp.Response, issuer *x509.Certificate) error {
	signer := issuer
	if resp.Certificate != nil && !resp.Certificate.Equal(issuer) {
		if err := resp.Certificate.CheckSignatureFrom(issuer); err != nil {
			return fmt.Errorf("responder certificate not issued by issuer: %w", err)
		}
		signer = resp.Certificate
	}
	return resp.CheckSignatureFrom(signer)
}

// responderNamesIssuer reports whether responder is the issuer of cert or a
// delegated responder issued by it, comparing names only.
func responderNamesIssuer(responder, cert *x509.Certificate) bool {
	if responder == nil {
		return false
	}
	return bytes.Equal(responder.RawSubject, cert.RawIssuer) ||
		bytes.Equal(responder.RawIssuer, cert.RawIssuer)
}

// Origin returns OriginOCSP.
func (t *OCSPToken) Origin() RevocationOrigin { return OriginOCSP }

// ProductionTime returns the response producedAt.
func (t *OCSPToken) ProductionTime() time.Time { return t.resp.ProducedAt }

// RevocationTime returns revokedAt for a revoked status.
func (t *OCSPToken) RevocationTime() *time.Time {
	if t.resp.Status != ocsp.Revoked {
		return nil
	}
	at := t.resp.RevokedAt
	return &at
}

// Reason returns the revocation reason.
func (t *OCSPToken) Reason() RevocationReason {
	if t.resp.Status != ocsp.Revoked {
		return ReasonUnspecified
	}
	return RevocationReason(t.resp.RevocationReason)
}

// Status maps the OCSP certificate status.
func (t *OCSPToken) Status() RevocationStatus {
	switch t.resp.Status {
	case ocsp.Good:
		return StatusGood
	case ocsp.Revoked:
		return StatusRevoked
	default:
		return StatusUnknown
	}
}

// Certificate returns the certificate the token is about.
func (t *OCSPToken) Certificate() *certvalidator.CertificateToken { return t.cert }

// Issuer returns the certificate the response was checked against, or nil.
func (t *OCSPToken) Issuer() *certvalidator.CertificateToken { return t.issuer }

// ResponderCertificate returns the certificate embedded in the response,
// or nil when the issuer signed it directly.
func (t *OCSPToken) ResponderCertificate() *x509.Certificate { return t.resp.Certificate }

// Identifier returns the composite identity of the token.
func (t *OCSPToken) Identifier() TokenIdentifier {
	return TokenIdentifier{
		TokenID:        t.id,
		CertificateID:  t.cert.ID(),
		ProductionDate: t.resp.ProducedAt,
	}
}

// Response returns the parsed OCSP response.
func (t *OCSPToken) Response() *ocsp.Response { return t.resp }

// ThisUpdate returns the response thisUpdate.
func (t *OCSPToken) ThisUpdate() time.Time { return t.resp.ThisUpdate }
