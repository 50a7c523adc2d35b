package bundle

import (
	"bytes"
	"crypto/sha256"
	"sort"

	"github.com/georgepadayatti/sigtrust/certvalidator"
	"github.com/georgepadayatti/sigtrust/sign/ades"
)

// AnalyzeSigningCertificate implements ades.SignatureFormat.
//
// Every embedded certificate is a candidate. A candidate's digest matches
// when its SHA-256 equals the signing-certificate-digest of the manifest,
// and its signature is valid when the signature value verifies over the
// signed data with its key. Candidates matching both come first, then
// those matching the digest only, then those with a valid signature only.
func (b *Bundle) AnalyzeSigningCertificate(pool *certvalidator.CertificatePool) (*ades.SigningCertificateAnalysis, error) {
	analysis := &ades.SigningCertificateAnalysis{}
	for _, cert := range b.certs {
		var tok *certvalidator.CertificateToken
		if pool != nil {
			tok = pool.Add(cert)
		} else {
			tok = certvalidator.NewCertificateToken(cert)
		}
		sum := sha256.Sum256(cert.Raw)
		analysis.Candidates = append(analysis.Candidates, &ades.CertificateValidity{
			Certificate:    tok,
			DigestMatch:    len(b.certDigest) > 0 && bytes.Equal(sum[:], b.certDigest),
			SignatureValid: verifySignature(cert, b.algorithm, b.signedData, b.signatureValue) == nil,
		})
	}
	sort.SliceStable(analysis.Candidates, func(i, j int) bool {
		return rank(analysis.Candidates[i]) > rank(analysis.Candidates[j])
	})

	for _, c := range analysis.Candidates {
		if c.SignatureValid {
			analysis.Selected = c
			break
		}
	}

	integrity := &analysis.Integrity
	integrity.ReferenceDataFound = len(b.signedData) > 0
	integrity.ReferenceDataIntact = integrity.ReferenceDataFound && b.signedDataIntact()
	integrity.SignatureIntact = analysis.Selected != nil
	switch {
	case !integrity.ReferenceDataFound:
		integrity.ErrorMessage = "signed data is empty"
	case !integrity.ReferenceDataIntact:
		integrity.ErrorMessage = "signed data does not match its digest"
	case len(analysis.Candidates) == 0:
		integrity.ErrorMessage = "no signing certificate candidate"
	case !integrity.SignatureIntact:
		integrity.ErrorMessage = "signature value does not verify with any candidate"
	}
	return analysis, nil
}

func rank(c *ades.CertificateValidity) int {
	r := 0
	if c.DigestMatch {
		r += 2
	}
	if c.SignatureValid {
		r++
	}
	return r
}
