// Package certvalidator provides the certificate side of signature trust
// evaluation: immutable certificate tokens, the shared certificate pool,
// chain reordering and the revocation requirement policy.
package certvalidator

import (
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"math/big"
)

// OIDOCSPNoCheck is the OID for the id-pkix-ocsp-nocheck extension.
var OIDOCSPNoCheck = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 5}

// CertificateToken is an immutable view over an X.509 certificate with a
// stable content-derived identifier.
type CertificateToken struct {
	cert       *x509.Certificate
	id         string
	selfSigned bool
	noCheck    bool
}

// NewCertificateToken wraps a parsed certificate.
// Returns nil if cert is nil.
func NewCertificateToken(cert *x509.Certificate) *CertificateToken {
	if cert == nil {
		return nil
	}
	sum := sha256.Sum256(cert.Raw)
	tok := &CertificateToken{
		cert: cert,
		id:   hex.EncodeToString(sum[:]),
	}
	tok.selfSigned = namesEqual(cert.Issuer, cert.Subject) && signedBy(cert, cert)
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(OIDOCSPNoCheck) {
			tok.noCheck = true
			break
		}
	}
	return tok
}

// ParseCertificateToken parses a DER certificate into a token.
func ParseCertificateToken(der []byte) (*CertificateToken, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return NewCertificateToken(cert), nil
}

// ID returns the hex encoded SHA-256 digest of the DER encoding.
func (t *CertificateToken) ID() string {
	return t.id
}

// Certificate returns the underlying certificate.
func (t *CertificateToken) Certificate() *x509.Certificate {
	return t.cert
}

// Subject returns the subject distinguished name.
func (t *CertificateToken) Subject() pkix.Name {
	return t.cert.Subject
}

// Issuer returns the issuer distinguished name.
func (t *CertificateToken) Issuer() pkix.Name {
	return t.cert.Issuer
}

// SerialNumber returns the certificate serial number.
func (t *CertificateToken) SerialNumber() *big.Int {
	return t.cert.SerialNumber
}

// PublicKey returns the subject public key.
func (t *CertificateToken) PublicKey() crypto.PublicKey {
	return t.cert.PublicKey
}

// Raw returns the DER encoding.
func (t *CertificateToken) Raw() []byte {
	return t.cert.Raw
}

// IsSelfSigned reports whether the certificate names itself as issuer and
// its signature verifies under its own key.
func (t *CertificateToken) IsSelfSigned() bool {
	return t.selfSigned
}

// HasOCSPNoCheck reports whether the certificate carries the ocsp-nocheck
// extension.
func (t *CertificateToken) HasOCSPNoCheck() bool {
	return t.noCheck
}

// IsSignedBy reports whether issuer is the subject's issuer by name and its
// key verifies the certificate signature.
func (t *CertificateToken) IsSignedBy(issuer *CertificateToken) bool {
	if issuer == nil {
		return false
	}
	return namesEqual(t.cert.Issuer, issuer.cert.Subject) && signedBy(t.cert, issuer.cert)
}

// Equal compares tokens by identifier.
func (t *CertificateToken) Equal(other *CertificateToken) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.id == other.id
}

// String returns a short human readable form.
func (t *CertificateToken) String() string {
	return t.cert.Subject.String() + " [" + t.id[:16] + "]"
}

// signedBy checks the signature of cert with parent's public key.
// Basic constraints and key usage of parent are not looked at.
func signedBy(cert, parent *x509.Certificate) bool {
	return parent.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature) == nil
}

// Tokens wraps a slice of certificates, skipping nil entries.
func Tokens(certs []*x509.Certificate) []*CertificateToken {
	out := make([]*CertificateToken, 0, len(certs))
	for _, c := range certs {
		if c != nil {
			out = append(out, NewCertificateToken(c))
		}
	}
	return out
}
