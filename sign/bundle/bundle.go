package bundle

import (
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/georgepadayatti/sigtrust/certvalidator"
	"github.com/georgepadayatti/sigtrust/certvalidator/revinfo"
	"github.com/georgepadayatti/sigtrust/keys"
	"github.com/georgepadayatti/sigtrust/sign/ades"
	"github.com/georgepadayatti/sigtrust/sign/timestamps"
)

// Bundle is a loaded evidence bundle. It is immutable once loaded.
type Bundle struct {
	manifest Manifest
	path     string

	signedData     []byte
	signatureValue []byte
	algorithm      x509.SignatureAlgorithm
	certDigest     []byte
	dataDigest     []byte

	certs      []*x509.Certificate
	crlDERs    [][]byte
	ocspDERs   [][]byte
	crls       *revinfo.OfflineCRLSource
	ocsps      *revinfo.OfflineOCSPSource
	timestamps []*timestamps.TimestampToken
	covers     map[string][]byte
}

var _ ades.SignatureFormat = (*Bundle)(nil)

// Load reads the manifest at path and every file it names.
func Load(path string) (*Bundle, error) {
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	b, err := New(m, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	b.path = path
	return b, nil
}

// New loads the files named by m, resolving relative names against dir.
func New(m *Manifest, dir string) (*Bundle, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	b := &Bundle{manifest: *m, covers: make(map[string][]byte)}
	read := func(name string) ([]byte, error) {
		if !filepath.IsAbs(name) {
			name = filepath.Join(dir, name)
		}
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		return data, nil
	}
	resolve := func(names []string) []string {
		out := make([]string, len(names))
		for i, name := range names {
			if !filepath.IsAbs(name) {
				name = filepath.Join(dir, name)
			}
			out[i] = name
		}
		return out
	}

	var err error
	if b.signedData, err = read(m.SignedData); err != nil {
		return nil, err
	}
	if b.signatureValue, err = read(m.SignatureValue); err != nil {
		return nil, err
	}
	if m.SignatureAlgorithm != "" {
		if b.algorithm, err = ParseSignatureAlgorithm(m.SignatureAlgorithm); err != nil {
			return nil, err
		}
	}
	if m.SigningCertificateDigest != "" {
		if b.certDigest, err = base64.StdEncoding.DecodeString(m.SigningCertificateDigest); err != nil {
			return nil, fmt.Errorf("%w: signing-certificate-digest: %v", ErrInvalidManifest, err)
		}
	}
	if m.SignedDataDigest != "" {
		if b.dataDigest, err = base64.StdEncoding.DecodeString(m.SignedDataDigest); err != nil {
			return nil, fmt.Errorf("%w: signed-data-digest: %v", ErrInvalidManifest, err)
		}
	}

	if len(m.Certificates) > 0 {
		if b.certs, err = keys.LoadCertsFromPemDerFiles(resolve(m.Certificates)); err != nil {
			return nil, err
		}
	}
	for _, name := range resolve(m.CRLs) {
		crls, err := keys.LoadCRLsFromPemDer(name)
		if err != nil {
			return nil, err
		}
		b.crlDERs = append(b.crlDERs, crls...)
	}
	for _, name := range resolve(m.OCSPResponses) {
		responses, err := keys.LoadOCSPResponsesFromPemDer(name)
		if err != nil {
			return nil, err
		}
		b.ocspDERs = append(b.ocspDERs, responses...)
	}
	b.crls = revinfo.NewOfflineCRLSource(b.crlDERs...)
	if b.ocsps, err = revinfo.ParseOfflineOCSPSource(b.ocspDERs...); err != nil {
		return nil, fmt.Errorf("failed to parse OCSP responses: %w", err)
	}

	for i, entry := range m.Timestamps {
		typ, err := timestamps.ParseTimestampType(entry.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamps[%d]: %v", ErrInvalidManifest, i, err)
		}
		der, err := read(entry.File)
		if err != nil {
			return nil, err
		}
		ts, err := parseTimestamp(typ, der)
		if err != nil {
			return nil, fmt.Errorf("timestamps[%d]: %w", i, err)
		}
		if entry.Covers != "" {
			covered, err := read(entry.Covers)
			if err != nil {
				return nil, err
			}
			b.covers[ts.ID()] = covered
		}
		b.timestamps = append(b.timestamps, ts)
	}
	return b, nil
}

// parseTimestamp accepts either a timestamp token or a full TimeStampResp.
func parseTimestamp(typ timestamps.TimestampType, der []byte) (*timestamps.TimestampToken, error) {
	ts, err := timestamps.ParseTimestampToken(typ, der)
	if err == nil {
		return ts, nil
	}
	token, rerr := timestamps.TokenFromResponse(der)
	if rerr != nil {
		return nil, err
	}
	return timestamps.ParseTimestampToken(typ, token)
}

// Manifest returns a copy of the manifest the bundle was loaded from.
func (b *Bundle) Manifest() Manifest { return b.manifest }

// Path returns the manifest path, or "" for bundles built with New.
func (b *Bundle) Path() string { return b.path }

// SignedData returns the signed bytes.
func (b *Bundle) SignedData() []byte { return append([]byte(nil), b.signedData...) }

// SignatureValue returns the raw signature value.
func (b *Bundle) SignatureValue() []byte { return append([]byte(nil), b.signatureValue...) }

// Certificates implements ades.SignatureFormat.
func (b *Bundle) Certificates() []*x509.Certificate {
	return append([]*x509.Certificate(nil), b.certs...)
}

// Timestamps implements ades.SignatureFormat. Tokens keep manifest order.
func (b *Bundle) Timestamps(typ timestamps.TimestampType) []*timestamps.TimestampToken {
	var out []*timestamps.TimestampToken
	for _, ts := range b.timestamps {
		if ts.Type() == typ {
			out = append(out, ts)
		}
	}
	return out
}

// CRLSource implements ades.SignatureFormat.
func (b *Bundle) CRLSource() revinfo.CRLSource { return b.crls }

// OCSPSource implements ades.SignatureFormat. The source keeps the DER
// encoding of each response.
func (b *Bundle) OCSPSource() revinfo.OCSPSource { return b.ocsps }

// Signature wraps the bundle in an AdvancedSignature carrying the manifest
// metadata. Options given by the caller are applied afterwards.
func (b *Bundle) Signature(pool *certvalidator.CertificatePool, opts ...ades.Option) (*ades.AdvancedSignature, error) {
	base := []ades.Option{ades.WithDetachedContents(b.manifest.DetachedContents...)}
	if b.manifest.ID != "" {
		base = append(base, ades.WithID(b.manifest.ID))
	}
	if b.path != "" {
		base = append(base, ades.WithFilename(b.path))
	}
	return ades.NewAdvancedSignature(b, pool, append(base, opts...)...)
}
