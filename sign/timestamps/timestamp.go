// Package timestamps provides RFC 3161 timestamp tokens as they appear in
// advanced electronic signatures, and their message imprint check.
package timestamps

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
	"github.com/google/uuid"

	"github.com/georgepadayatti/sigtrust/certvalidator"
)

// Common errors
var (
	ErrInvalidTimestamp     = errors.New("invalid timestamp")
	ErrTimestampRejected    = errors.New("timestamp request rejected")
	ErrUnknownTimestampType = errors.New("unknown timestamp type")
)

// TimestampType is the role a timestamp plays in a signature.
type TimestampType int

const (
	TypeUnknown TimestampType = iota
	// ContentTimestamp covers the signed content.
	ContentTimestamp
	// SignatureTimestamp covers the signature value.
	SignatureTimestamp
	// SignAndRefsTimestamp covers the signature and the validation data
	// references.
	SignAndRefsTimestamp
	// RefsOnlyTimestamp covers the validation data references only.
	RefsOnlyTimestamp
	// ArchiveTimestamp covers the signature and all validation data.
	ArchiveTimestamp
)

var typeNames = map[TimestampType]string{
	ContentTimestamp:     "content-timestamp",
	SignatureTimestamp:   "signature-timestamp",
	SignAndRefsTimestamp: "sign-and-refs-timestamp",
	RefsOnlyTimestamp:    "refs-only-timestamp",
	ArchiveTimestamp:     "archive-timestamp",
}

// String returns the name of the type.
func (t TimestampType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// IsValid reports whether t is one of the known types.
func (t TimestampType) IsValid() bool {
	_, ok := typeNames[t]
	return ok
}

// ParseTimestampType parses a type name. The "-timestamp" suffix is
// optional.
func ParseTimestampType(s string) (TimestampType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if !strings.HasSuffix(name, "-timestamp") {
		name += "-timestamp"
	}
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("%w: %q", ErrUnknownTimestampType, s)
}

// TokenParams describes a timestamp token built from already decoded data.
type TokenParams struct {
	Type           TimestampType
	GenerationTime time.Time
	HashAlgorithm  crypto.Hash
	HashedMessage  []byte
	Certificates   []*x509.Certificate
	Signer         *x509.Certificate
	SignatureValid bool
	Raw            []byte
}

// TimestampToken is a timestamp of a given type. Its message imprint is
// checked at most once.
type TimestampToken struct {
	typ           TimestampType
	id            string
	raw           []byte
	genTime       time.Time
	hash          crypto.Hash
	hashedMessage []byte
	certs         []*certvalidator.CertificateToken

	mu             sync.Mutex
	signer         *certvalidator.CertificateToken
	signatureValid bool
	processed      bool
	imprintIntact  bool
}

// NewTimestampToken creates a token from decoded parameters.
func NewTimestampToken(p TokenParams) *TimestampToken {
	tok := &TimestampToken{
		typ:            p.Type,
		raw:            p.Raw,
		genTime:        p.GenerationTime,
		hash:           p.HashAlgorithm,
		hashedMessage:  append([]byte(nil), p.HashedMessage...),
		certs:          certvalidator.Tokens(p.Certificates),
		signer:         certvalidator.NewCertificateToken(p.Signer),
		signatureValid: p.SignatureValid,
	}
	if len(p.Raw) > 0 {
		sum := sha256.Sum256(p.Raw)
		tok.id = hex.EncodeToString(sum[:])
	} else {
		tok.id = uuid.NewString()
	}
	return tok
}

// ParseTimestampToken decodes a DER timestamp token (a CMS SignedData
// holding a TSTInfo). When the token embeds certificates its signature is
// verified against them and SignatureValid reports the outcome. A token
// whose signature does not verify is still returned; VerifySignature can
// retry with certificates found elsewhere.
func ParseTimestampToken(typ TimestampType, der []byte) (*TimestampToken, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}

	ts, err := timestamp.Parse(der)
	if err == nil {
		return fromParsed(typ, der, ts, p7, len(p7.Certificates) > 0), nil
	}
	if len(p7.Certificates) == 0 || p7.Verify() == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}

	ts, derr := decodeUnverified(p7)
	if derr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, derr)
	}
	return fromParsed(typ, der, ts, p7, false), nil
}

func fromParsed(typ TimestampType, der []byte, ts *timestamp.Timestamp, p7 *pkcs7.PKCS7, verified bool) *TimestampToken {
	certs := ts.Certificates
	if certs == nil {
		certs = p7.Certificates
	}
	var signer *x509.Certificate
	if len(p7.Certificates) > 0 {
		signer = p7.GetOnlySigner()
	}
	return NewTimestampToken(TokenParams{
		Type:           typ,
		GenerationTime: ts.Time,
		HashAlgorithm:  ts.HashAlgorithm,
		HashedMessage:  ts.HashedMessage,
		Certificates:   certs,
		Signer:         signer,
		SignatureValid: verified,
		Raw:            der,
	})
}

// ID returns the token identifier: the hex SHA-256 of its encoding, or a
// random UUID for tokens built without one.
func (t *TimestampToken) ID() string { return t.id }

// Type returns the timestamp type.
func (t *TimestampToken) Type() TimestampType { return t.typ }

// Raw returns the DER encoding, if known.
func (t *TimestampToken) Raw() []byte { return t.raw }

// GenerationTime returns the TSTInfo genTime.
func (t *TimestampToken) GenerationTime() time.Time { return t.genTime }

// HashAlgorithm returns the message imprint hash algorithm.
func (t *TimestampToken) HashAlgorithm() crypto.Hash { return t.hash }

// Certificates returns the certificates embedded in the token.
func (t *TimestampToken) Certificates() []*certvalidator.CertificateToken {
	return append([]*certvalidator.CertificateToken(nil), t.certs...)
}

// SigningCertificate returns the TSA certificate, or nil if unknown.
func (t *TimestampToken) SigningCertificate() *certvalidator.CertificateToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signer
}

// SignatureValid reports whether the token signature was verified.
func (t *TimestampToken) SignatureValid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signatureValid
}

// VerifySignature verifies the token signature, looking the TSA
// certificate up among the embedded certificates and candidates. It is
// meant for tokens that do not embed their TSA certificate. On success the
// token records a valid signature and its signing certificate.
func (t *TimestampToken) VerifySignature(candidates []*x509.Certificate) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.signatureValid {
		return true
	}
	if len(t.raw) == 0 || len(candidates) == 0 {
		return false
	}
	p7, err := pkcs7.Parse(t.raw)
	if err != nil {
		return false
	}
	p7.Certificates = append(p7.Certificates, candidates...)
	if err := p7.Verify(); err != nil {
		return false
	}
	t.signatureValid = true
	if signer := p7.GetOnlySigner(); signer != nil {
		t.signer = certvalidator.NewCertificateToken(signer)
	}
	return true
}

// MatchData checks the message imprint against data. Only the first call
// does the check; later calls return the recorded outcome.
func (t *TimestampToken) MatchData(data []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.processed {
		return t.imprintIntact
	}
	t.processed = true
	if !t.hash.Available() {
		return false
	}
	h := t.hash.New()
	h.Write(data)
	t.imprintIntact = bytes.Equal(h.Sum(nil), t.hashedMessage)
	return t.imprintIntact
}

// IsProcessed reports whether MatchData has run.
func (t *TimestampToken) IsProcessed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processed
}

// MessageImprintIntact reports whether the processed token matched its data.
func (t *TimestampToken) MessageImprintIntact() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.imprintIntact
}

// IsValid reports whether the signature is valid and, once processed, the
// message imprint matched.
func (t *TimestampToken) IsValid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signatureValid && (!t.processed || t.imprintIntact)
}

// String returns a short human readable form.
func (t *TimestampToken) String() string {
	return fmt.Sprintf("%s@%s", t.typ, t.genTime.UTC().Format(time.RFC3339))
}

// SortByGenerationTime returns a copy of tokens in ascending generation
// time. Tokens with equal times keep their relative order.
func SortByGenerationTime(tokens []*TimestampToken) []*TimestampToken {
	out := append([]*TimestampToken(nil), tokens...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].genTime.Before(out[j].genTime)
	})
	return out
}
