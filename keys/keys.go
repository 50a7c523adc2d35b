// Package keys provides utilities for loading certificates and revocation
// data from PEM and DER encoded files.
package keys

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ocsp"
)

// Common errors
var (
	ErrNoCertFound       = errors.New("no certificate found in data")
	ErrNoCRLFound        = errors.New("no CRL found in data")
	ErrNoOCSPFound       = errors.New("no OCSP response found in data")
	ErrMultipleCerts     = errors.New("expected exactly one certificate")
	ErrUnsupportedFormat = errors.New("unsupported PEM block type")
)

// PEM block types accepted for revocation data.
const (
	pemCertificate  = "CERTIFICATE"
	pemCRL          = "X509 CRL"
	pemOCSPResponse = "OCSP RESPONSE"
)

// LoadCertFromPemDer loads a single certificate from a PEM or DER encoded file.
func LoadCertFromPemDer(filename string) (*x509.Certificate, error) {
	certs, err := LoadCertsFromPemDer(filename)
	if err != nil {
		return nil, err
	}
	if len(certs) != 1 {
		return nil, fmt.Errorf("%w: found %d certificates in %s", ErrMultipleCerts, len(certs), filename)
	}
	return certs[0], nil
}

// LoadCertsFromPemDer loads certificates from a PEM or DER encoded file.
func LoadCertsFromPemDer(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadCertsFromPemDerData(data)
}

// LoadCertsFromPemDerData loads certificates from PEM or DER encoded data.
func LoadCertsFromPemDerData(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	if isPEM(data) {
		blocks, err := decodeBlocks(data, pemCertificate)
		if err != nil {
			return nil, err
		}
		for _, der := range blocks {
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	} else {
		// A single certificate or several concatenated DER certificates
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		certs = parsed
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadCertsFromPemDerFiles loads certificates from multiple files.
func LoadCertsFromPemDerFiles(filenames []string) ([]*x509.Certificate, error) {
	var allCerts []*x509.Certificate
	for _, filename := range filenames {
		certs, err := LoadCertsFromPemDer(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load certs from %s: %w", filename, err)
		}
		allCerts = append(allCerts, certs...)
	}
	return allCerts, nil
}

// LoadCRLsFromPemDer loads the CRLs in a PEM or DER encoded file. The CRLs
// are returned DER encoded, after checking that they parse.
func LoadCRLsFromPemDer(filename string) ([][]byte, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadCRLsFromPemDerData(data)
}

// LoadCRLsFromPemDerData loads CRLs from PEM or DER encoded data.
func LoadCRLsFromPemDerData(data []byte) ([][]byte, error) {
	ders := [][]byte{data}
	if isPEM(data) {
		var err error
		if ders, err = decodeBlocks(data, pemCRL); err != nil {
			return nil, err
		}
	}
	if len(ders) == 0 {
		return nil, ErrNoCRLFound
	}
	for i, der := range ders {
		if _, err := x509.ParseRevocationList(der); err != nil {
			return nil, fmt.Errorf("failed to parse CRL %d: %w", i, err)
		}
	}
	return ders, nil
}

// LoadOCSPResponsesFromPemDer loads the OCSP responses in a PEM or DER
// encoded file. The responses are returned DER encoded, after checking that
// they parse.
func LoadOCSPResponsesFromPemDer(filename string) ([][]byte, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadOCSPResponsesFromPemDerData(data)
}

// LoadOCSPResponsesFromPemDerData loads OCSP responses from PEM or DER
// encoded data.
func LoadOCSPResponsesFromPemDerData(data []byte) ([][]byte, error) {
	ders := [][]byte{data}
	if isPEM(data) {
		var err error
		if ders, err = decodeBlocks(data, pemOCSPResponse); err != nil {
			return nil, err
		}
	}
	if len(ders) == 0 {
		return nil, ErrNoOCSPFound
	}
	for i, der := range ders {
		if _, err := ocsp.ParseResponse(der, nil); err != nil {
			return nil, fmt.Errorf("failed to parse OCSP response %d: %w", i, err)
		}
	}
	return ders, nil
}

// decodeBlocks returns the bytes of every PEM block of type want. Blocks of
// other types are skipped. Data without any PEM block is an error.
func decodeBlocks(data []byte, want string) ([][]byte, error) {
	var out [][]byte
	rest := data
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == want {
			out = append(out, block.Bytes)
		}
	}
	if len(out) == 0 && len(rest) == len(data) {
		return nil, fmt.Errorf("%w: no %s block", ErrUnsupportedFormat, want)
	}
	return out, nil
}

// isPEM checks if the data appears to be PEM encoded.
func isPEM(data []byte) bool {
	return len(data) > 10 && string(data[:5]) == "-----"
}
