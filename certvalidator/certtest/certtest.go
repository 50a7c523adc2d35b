// Package certtest generates throwaway PKI material for tests: CA and leaf
// certificates, CRLs and OCSP responses.
package certtest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"
)

var serial atomic.Int64

// Issued is a certificate together with its private key.
type Issued struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// Option customises a generated certificate template.
type Option func(*x509.Certificate)

// WithOCSPNoCheck adds the id-pkix-ocsp-nocheck extension.
func WithOCSPNoCheck() Option {
	return func(tmpl *x509.Certificate) {
		tmpl.ExtraExtensions = append(tmpl.ExtraExtensions, pkix.Extension{
			Id:    asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 5},
			Value: []byte{0x05, 0x00},
		})
	}
}

// WithCA marks the certificate as a CA.
func WithCA() Option {
	return func(tmpl *x509.Certificate) {
		tmpl.IsCA = true
		tmpl.BasicConstraintsValid = true
		tmpl.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	}
}

// WithTimestamping sets the time stamping extended key usage.
func WithTimestamping() Option {
	return func(tmpl *x509.Certificate) {
		tmpl.ExtKeyUsage = append(tmpl.ExtKeyUsage, x509.ExtKeyUsageTimeStamping)
	}
}

// WithValidity overrides the validity window.
func WithValidity(notBefore, notAfter time.Time) Option {
	return func(tmpl *x509.Certificate) {
		tmpl.NotBefore = notBefore
		tmpl.NotAfter = notAfter
	}
}

// WithKey issues the certificate for an existing key pair.
func WithKey(key *ecdsa.PrivateKey) Option {
	return func(tmpl *x509.Certificate) {
		tmpl.PublicKey = &key.PublicKey
	}
}

// NewKey generates a P-256 key.
func NewKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return key
}

// NewRoot creates a self-signed CA certificate.
func NewRoot(t testing.TB, commonName string, opts ...Option) *Issued {
	t.Helper()
	return issue(t, commonName, nil, append([]Option{WithCA()}, opts...))
}

// NewIssued creates a certificate signed by parent.
func NewIssued(t testing.TB, parent *Issued, commonName string, opts ...Option) *Issued {
	t.Helper()
	return issue(t, commonName, parent, opts)
}

func issue(t testing.TB, commonName string, parent *Issued, opts []Option) *Issued {
	t.Helper()

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial.Add(1)),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   commonName,
		},
		NotBefore:             time.Now().Add(-24 * time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	for _, opt := range opts {
		opt(tmpl)
	}

	key, _ := tmpl.PublicKey.(*ecdsa.PublicKey)
	var priv *ecdsa.PrivateKey
	if key == nil {
		priv = NewKey(t)
		key = &priv.PublicKey
	}
	tmpl.PublicKey = nil

	signerCert, signerKey := tmpl, priv
	if parent != nil {
		signerCert, signerKey = parent.Cert, parent.Key
	}
	if signerKey == nil {
		t.Fatalf("self-signed certificate %q needs its own private key", commonName)
	}
	tmpl.SubjectKeyId = keyID(key)

	der, err := x509.CreateCertificate(rand.Reader, tmpl, signerCert, key, signerKey)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return &Issued{Cert: cert, Key: priv}
}

// NewCrossCertificate issues a certificate for subject's name and key signed
// by parent. The returned Issued shares subject's private key.
func NewCrossCertificate(t testing.TB, parent, subject *Issued) *Issued {
	t.Helper()

	issued := issue(t, subject.Cert.Subject.CommonName, parent, []Option{WithCA(), WithKey(subject.Key)})
	issued.Key = subject.Key
	return issued
}

// NewCRL creates a DER CRL issued by issuer listing revoked.
func NewCRL(t testing.TB, issuer *Issued, thisUpdate time.Time, revoked ...*x509.Certificate) []byte {
	t.Helper()

	var entries []x509.RevocationListEntry
	for _, cert := range revoked {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   cert.SerialNumber,
			RevocationTime: thisUpdate.Add(-time.Hour),
			ReasonCode:     1,
		})
	}
	tmpl := &x509.RevocationList{
		Number:                    big.NewInt(serial.Add(1)),
		ThisUpdate:                thisUpdate,
		NextUpdate:                thisUpdate.Add(7 * 24 * time.Hour),
		RevokedCertificateEntries: entries,
	}
	der, err := x509.CreateRevocationList(rand.Reader, tmpl, issuer.Cert, issuer.Key)
	if err != nil {
		t.Fatalf("Failed to create CRL: %v", err)
	}
	return der
}

// NewOCSPResponse creates a DER OCSP response for cert signed by issuer.
// status is one of ocsp.Good, ocsp.Revoked or ocsp.Unknown.
func NewOCSPResponse(t testing.TB, issuer *Issued, cert *x509.Certificate, status int) []byte {
	t.Helper()
	return newOCSPResponse(t, issuer, cert, status, false)
}

// NewOCSPResponseWithCert is like NewOCSPResponse but embeds the signer
// certificate in the response.
func NewOCSPResponseWithCert(t testing.TB, signer *Issued, cert *x509.Certificate, status int) []byte {
	t.Helper()
	return newOCSPResponse(t, signer, cert, status, true)
}

func newOCSPResponse(t testing.TB, issuer *Issued, cert *x509.Certificate, status int, embed bool) []byte {
	t.Helper()

	now := time.Now()
	tmpl := ocsp.Response{
		Status:       status,
		SerialNumber: cert.SerialNumber,
		ThisUpdate:   now.Add(-time.Minute),
		NextUpdate:   now.Add(24 * time.Hour),
	}
	if status == ocsp.Revoked {
		tmpl.RevokedAt = now.Add(-time.Hour)
		tmpl.RevocationReason = ocsp.KeyCompromise
	}
	if embed {
		tmpl.Certificate = issuer.Cert
	}
	der, err := ocsp.CreateResponse(issuer.Cert, issuer.Cert, tmpl, issuer.Key)
	if err != nil {
		t.Fatalf("Failed to create OCSP response: %v", err)
	}
	return der
}

// ParseOCSPResponse parses der without signature verification.
func ParseOCSPResponse(t testing.TB, der []byte) *ocsp.Response {
	t.Helper()

	resp, err := ocsp.ParseResponse(der, nil)
	if err != nil {
		t.Fatalf("Failed to parse OCSP response: %v", err)
	}
	return resp
}

func keyID(pub *ecdsa.PublicKey) []byte {
	raw, _ := x509.MarshalPKIXPublicKey(pub)
	sum := sha1.Sum(raw)
	return sum[:]
}
