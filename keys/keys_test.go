package keys

import (
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/sigtrust/certvalidator/certtest"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestIsPEM(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{"PEM data", []byte("-----BEGIN CERTIFICATE-----\ndata\n-----END CERTIFICATE-----"), true},
		{"DER data", []byte{0x30, 0x82, 0x01, 0x22}, false},
		{"Empty", []byte{}, false},
		{"Short data", []byte("----"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isPEM(tt.data)
			if result != tt.expected {
				t.Errorf("isPEM() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestLoadCertsFromPemDerData_PEM(t *testing.T) {
	root := certtest.NewRoot(t, "Test Cert")
	pemData := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Cert.Raw})

	certs, err := LoadCertsFromPemDerData(pemData)
	if err != nil {
		t.Fatalf("LoadCertsFromPemDerData failed: %v", err)
	}
	if len(certs) != 1 {
		t.Fatalf("Expected 1 cert, got %d", len(certs))
	}
	if certs[0].Subject.CommonName != "Test Cert" {
		t.Errorf("Expected CommonName 'Test Cert', got '%s'", certs[0].Subject.CommonName)
	}
}

func TestLoadCertsFromPemDerData_DER(t *testing.T) {
	root := certtest.NewRoot(t, "DER Test Cert")
	leaf := certtest.NewIssued(t, root, "DER Leaf")

	certs, err := LoadCertsFromPemDerData(leaf.Cert.Raw)
	if err != nil {
		t.Fatalf("LoadCertsFromPemDerData failed: %v", err)
	}
	if len(certs) != 1 || certs[0].Subject.CommonName != "DER Leaf" {
		t.Errorf("Unexpected certs: %v", certs)
	}

	concatenated := append(append([]byte(nil), leaf.Cert.Raw...), root.Cert.Raw...)
	certs, err = LoadCertsFromPemDerData(concatenated)
	if err != nil {
		t.Fatalf("LoadCertsFromPemDerData failed: %v", err)
	}
	if len(certs) != 2 {
		t.Errorf("Expected 2 certs, got %d", len(certs))
	}
}

func TestLoadCertsFromPemDerData_MultipleCerts(t *testing.T) {
	var pemData []byte
	for i := 0; i < 3; i++ {
		root := certtest.NewRoot(t, "Cert "+string(rune('A'+i)))
		pemData = append(pemData, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Cert.Raw})...)
	}
	// Blocks of other types are skipped
	pemData = append(pemData, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1, 2, 3}})...)

	certs, err := LoadCertsFromPemDerData(pemData)
	if err != nil {
		t.Fatalf("LoadCertsFromPemDerData failed: %v", err)
	}
	if len(certs) != 3 {
		t.Errorf("Expected 3 certs, got %d", len(certs))
	}
}

func TestLoadCertsFromPemDerData_NoCert(t *testing.T) {
	if _, err := LoadCertsFromPemDerData([]byte{}); !errors.Is(err, ErrNoCertFound) {
		t.Errorf("Expected ErrNoCertFound for empty data, got %v", err)
	}

	keyOnly := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1, 2, 3}})
	if _, err := LoadCertsFromPemDerData(keyOnly); !errors.Is(err, ErrNoCertFound) {
		t.Errorf("Expected ErrNoCertFound for key only PEM, got %v", err)
	}

	garbage := []byte("-----BEGIN garbage without end")
	if _, err := LoadCertsFromPemDerData(garbage); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestLoadCertFromPemDer(t *testing.T) {
	root := certtest.NewRoot(t, "Single Cert Test")
	certFile := writeFile(t, "single.crt", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Cert.Raw}))

	cert, err := LoadCertFromPemDer(certFile)
	if err != nil {
		t.Fatalf("LoadCertFromPemDer failed: %v", err)
	}
	if cert.Subject.CommonName != "Single Cert Test" {
		t.Errorf("Expected CommonName 'Single Cert Test', got '%s'", cert.Subject.CommonName)
	}
}

func TestLoadCertFromPemDer_MultipleCertsError(t *testing.T) {
	var pemData []byte
	for i := 0; i < 2; i++ {
		root := certtest.NewRoot(t, "Cert")
		pemData = append(pemData, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Cert.Raw})...)
	}
	certFile := writeFile(t, "multiple.crt", pemData)

	_, err := LoadCertFromPemDer(certFile)
	if !errors.Is(err, ErrMultipleCerts) {
		t.Errorf("Expected ErrMultipleCerts, got %v", err)
	}
}

func TestLoadCertsFromPemDerFiles(t *testing.T) {
	root := certtest.NewRoot(t, "Root")
	leaf := certtest.NewIssued(t, root, "Leaf")
	files := []string{
		writeFile(t, "root.der", root.Cert.Raw),
		writeFile(t, "leaf.pem", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leaf.Cert.Raw})),
	}

	certs, err := LoadCertsFromPemDerFiles(files)
	if err != nil {
		t.Fatalf("LoadCertsFromPemDerFiles failed: %v", err)
	}
	if len(certs) != 2 {
		t.Errorf("Expected 2 certs, got %d", len(certs))
	}

	if _, err := LoadCertsFromPemDerFiles([]string{"/nonexistent/cert.pem"}); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadCRLs(t *testing.T) {
	root := certtest.NewRoot(t, "CRL Issuer")
	der := certtest.NewCRL(t, root, time.Now())

	crls, err := LoadCRLsFromPemDer(writeFile(t, "root.crl", der))
	if err != nil {
		t.Fatalf("LoadCRLsFromPemDer failed: %v", err)
	}
	if len(crls) != 1 || string(crls[0]) != string(der) {
		t.Error("DER CRL not returned unchanged")
	}

	pemData := pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: der})
	pemData = append(pemData, pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: der})...)
	crls, err = LoadCRLsFromPemDerData(pemData)
	if err != nil {
		t.Fatalf("LoadCRLsFromPemDerData failed: %v", err)
	}
	if len(crls) != 2 {
		t.Errorf("Expected 2 CRLs, got %d", len(crls))
	}

	if _, err := LoadCRLsFromPemDerData([]byte{0x30, 0x00}); err == nil {
		t.Error("Expected error for malformed CRL")
	}
	certOnly := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Cert.Raw})
	if _, err := LoadCRLsFromPemDerData(certOnly); !errors.Is(err, ErrNoCRLFound) {
		t.Errorf("Expected ErrNoCRLFound, got %v", err)
	}
}

func TestLoadOCSPResponses(t *testing.T) {
	root := certtest.NewRoot(t, "OCSP Issuer")
	leaf := certtest.NewIssued(t, root, "Leaf")
	der := certtest.NewOCSPResponse(t, root, leaf.Cert, ocsp.Good)

	responses, err := LoadOCSPResponsesFromPemDer(writeFile(t, "leaf.ocsp", der))
	if err != nil {
		t.Fatalf("LoadOCSPResponsesFromPemDer failed: %v", err)
	}
	if len(responses) != 1 || string(responses[0]) != string(der) {
		t.Error("DER response not returned unchanged")
	}

	pemData := pem.EncodeToMemory(&pem.Block{Type: "OCSP RESPONSE", Bytes: der})
	responses, err = LoadOCSPResponsesFromPemDerData(pemData)
	if err != nil {
		t.Fatalf("LoadOCSPResponsesFromPemDerData failed: %v", err)
	}
	if len(responses) != 1 {
		t.Errorf("Expected 1 response, got %d", len(responses))
	}

	if _, err := LoadOCSPResponsesFromPemDerData([]byte("not a response")); err == nil {
		t.Error("Expected error for malformed response")
	}
}

func TestLoadFileNotFound(t *testing.T) {
	if _, err := LoadCertsFromPemDer("/nonexistent/cert.pem"); err == nil {
		t.Error("Expected error for nonexistent certificate file")
	}
	if _, err := LoadCRLsFromPemDer("/nonexistent/root.crl"); err == nil {
		t.Error("Expected error for nonexistent CRL file")
	}
	if _, err := LoadOCSPResponsesFromPemDer("/nonexistent/leaf.ocsp"); err == nil {
		t.Error("Expected error for nonexistent OCSP file")
	}
}
