package timestamps

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"time"

	"github.com/digitorus/timestamp"
)

// DummyTimeStamper acts as its own TSA for testing purposes.
// It accepts all requests and signs them using the provided certificate.
type DummyTimeStamper struct {
	// TSACert is the TSA signing certificate.
	TSACert *x509.Certificate

	// TSAKey is the TSA private key.
	TSAKey crypto.Signer

	// CertsToEmbed are additional certificates to include in the token.
	CertsToEmbed []*x509.Certificate

	// FixedTime is a fixed time to use instead of current time.
	// If nil, current time is used.
	FixedTime *time.Time

	// HashAlgorithm is the message imprint algorithm. Defaults to SHA-256.
	HashAlgorithm crypto.Hash

	// OmitTSACert leaves the TSA certificate out of the token.
	OmitTSACert bool

	// Policy is the TSA policy OID.
	Policy asn1.ObjectIdentifier
}

// NewDummyTimeStamper creates a new dummy timestamper.
func NewDummyTimeStamper(cert *x509.Certificate, key crypto.Signer) *DummyTimeStamper {
	return &DummyTimeStamper{
		TSACert:       cert,
		TSAKey:        key,
		HashAlgorithm: crypto.SHA256,
		// Default TSA policy OID
		Policy: asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 4146, 2, 2},
	}
}

// WithCertsToEmbed adds certificates to embed in tokens.
func (d *DummyTimeStamper) WithCertsToEmbed(certs []*x509.Certificate) *DummyTimeStamper {
	d.CertsToEmbed = certs
	return d
}

// WithFixedTime sets a fixed timestamp time.
func (d *DummyTimeStamper) WithFixedTime(t time.Time) *DummyTimeStamper {
	d.FixedTime = &t
	return d
}

// WithoutTSACert leaves the TSA certificate out of the token.
func (d *DummyTimeStamper) WithoutTSACert() *DummyTimeStamper {
	d.OmitTSACert = true
	return d
}

// Timestamp returns a DER timestamp token over data.
func (d *DummyTimeStamper) Timestamp(data []byte) ([]byte, error) {
	resp, err := d.TimestampResponse(data)
	if err != nil {
		return nil, err
	}
	return TokenFromResponse(resp)
}

// TimestampResponse returns a DER TimeStampResp over data.
func (d *DummyTimeStamper) TimestampResponse(data []byte) ([]byte, error) {
	if d.TSACert == nil || d.TSAKey == nil {
		return nil, errors.New("TSA certificate and key are required")
	}
	hash := d.HashAlgorithm
	if hash == 0 {
		hash = crypto.SHA256
	}
	if !hash.Available() {
		return nil, fmt.Errorf("hash algorithm %v not available", hash)
	}
	h := hash.New()
	h.Write(data)

	genTime := time.Now()
	if d.FixedTime != nil {
		genTime = *d.FixedTime
	}

	ts := timestamp.Timestamp{
		HashAlgorithm:     hash,
		HashedMessage:     h.Sum(nil),
		Time:              genTime,
		Policy:            d.Policy,
		Certificates:      d.CertsToEmbed,
		AddTSACertificate: !d.OmitTSACert,
	}
	resp, err := ts.CreateResponseWithOpts(d.TSACert, d.TSAKey, crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to create timestamp response: %w", err)
	}
	return resp, nil
}

// Token timestamps data and parses the result as a token of type typ.
func (d *DummyTimeStamper) Token(typ TimestampType, data []byte) (*TimestampToken, error) {
	der, err := d.Timestamp(data)
	if err != nil {
		return nil, err
	}
	return ParseTimestampToken(typ, der)
}
