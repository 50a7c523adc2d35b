// Package bundle implements an evidence bundle: a YAML manifest that names
// the signed data, the signature value and the certificates, revocation data
// and timestamps collected for one signature. A loaded bundle implements
// ades.SignatureFormat.
package bundle

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/sigtrust/sign/timestamps"
)

// Common errors
var (
	ErrInvalidManifest      = errors.New("invalid bundle manifest")
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
	ErrUnknownTimestamp     = errors.New("timestamp does not belong to the bundle")
	ErrNoTimestampData      = errors.New("no data to check the timestamp against")
)

// Manifest is the YAML description of a bundle. File names are relative to
// the directory holding the manifest.
type Manifest struct {
	// ID identifies the signature in reports.
	ID string `yaml:"id" json:"id,omitempty"`

	// SignedData is the file holding the signed bytes.
	SignedData string `yaml:"signed-data" json:"signed_data"`

	// SignatureValue is the file holding the raw signature value.
	SignatureValue string `yaml:"signature-value" json:"signature_value"`

	// SignatureAlgorithm names the signature algorithm, e.g. "ECDSA-SHA256".
	// When empty it is derived from each candidate's public key.
	SignatureAlgorithm string `yaml:"signature-algorithm" json:"signature_algorithm,omitempty"`

	// SigningCertificateDigest is the base64 SHA-256 digest of the signing
	// certificate, as referenced by the signature.
	SigningCertificateDigest string `yaml:"signing-certificate-digest" json:"signing_certificate_digest,omitempty"`

	// SignedDataDigest is the base64 SHA-256 digest the signed data is
	// expected to have.
	SignedDataDigest string `yaml:"signed-data-digest" json:"signed_data_digest,omitempty"`

	// Certificates are PEM or DER certificate files embedded in the
	// signature.
	Certificates []string `yaml:"certificates" json:"certificates,omitempty"`

	// CRLs are PEM or DER CRL files embedded in the signature.
	CRLs []string `yaml:"crls" json:"crls,omitempty"`

	// OCSPResponses are PEM or DER OCSP response files embedded in the
	// signature.
	OCSPResponses []string `yaml:"ocsp-responses" json:"ocsp_responses,omitempty"`

	// Timestamps are the timestamps embedded in the signature.
	Timestamps []TimestampEntry `yaml:"timestamps" json:"timestamps,omitempty"`

	// DetachedContents names the detached documents the signature covers.
	DetachedContents []string `yaml:"detached-contents" json:"detached_contents,omitempty"`
}

// TimestampEntry describes one embedded timestamp.
type TimestampEntry struct {
	// Type is the timestamp type, e.g. "signature" or "archive-timestamp".
	Type string `yaml:"type" json:"type"`

	// File holds the DER timestamp token or TimeStampResp.
	File string `yaml:"file" json:"file"`

	// Covers optionally names the file holding the exact bytes the
	// timestamp was computed over.
	Covers string `yaml:"covers" json:"covers,omitempty"`
}

// Validate checks that the manifest is complete.
func (m *Manifest) Validate() error {
	if m.SignedData == "" {
		return fmt.Errorf("%w: signed-data is required", ErrInvalidManifest)
	}
	if m.SignatureValue == "" {
		return fmt.Errorf("%w: signature-value is required", ErrInvalidManifest)
	}
	if m.SignatureAlgorithm != "" {
		if _, err := ParseSignatureAlgorithm(m.SignatureAlgorithm); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
	}
	for i, entry := range m.Timestamps {
		if entry.File == "" {
			return fmt.Errorf("%w: timestamps[%d]: file is required", ErrInvalidManifest, i)
		}
		if _, err := timestamps.ParseTimestampType(entry.Type); err != nil {
			return fmt.Errorf("%w: timestamps[%d]: %v", ErrInvalidManifest, i, err)
		}
	}
	return nil
}

// LoadManifest reads a manifest from a YAML file.
func LoadManifest(filename string) (*Manifest, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses and validates a manifest from YAML data.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
