package ades

import (
	"crypto"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/georgepadayatti/sigtrust/certvalidator"
	"github.com/georgepadayatti/sigtrust/certvalidator/revinfo"
	"github.com/georgepadayatti/sigtrust/sign/validation"
)

// RevocationDataForInclusion is the revocation evidence a validation run
// collected, split by origin.
type RevocationDataForInclusion struct {
	CRLTokens  []*revinfo.CRLToken
	OCSPTokens []*revinfo.OCSPToken
}

// IsEmpty reports whether there is nothing to include.
func (r *RevocationDataForInclusion) IsEmpty() bool {
	return r == nil || (len(r.CRLTokens) == 0 && len(r.OCSPTokens) == 0)
}

// RevocationDataForInclusion returns vc's processed revocation tokens,
// deduplicated by composite identifier and split into CRL and OCSP tokens.
func (s *AdvancedSignature) RevocationDataForInclusion(vc validation.ValidationContext) (*RevocationDataForInclusion, error) {
	out := &RevocationDataForInclusion{}
	seen := make(map[string]bool)
	for _, tok := range vc.ProcessedRevocations() {
		key := tok.Identifier().Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		switch t := tok.(type) {
		case *revinfo.CRLToken:
			out.CRLTokens = append(out.CRLTokens, t)
		case *revinfo.OCSPToken:
			out.OCSPTokens = append(out.OCSPTokens, t)
		default:
			return nil, fmt.Errorf("%w: %T", revinfo.ErrUnknownOrigin, tok)
		}
	}
	return out, nil
}

// CertificatesForInclusion returns the certificates vc processed that are
// neither in the signature nor in any of its timestamps.
func (s *AdvancedSignature) CertificatesForInclusion(vc validation.ValidationContext) []*certvalidator.CertificateToken {
	embedded := make(map[string]bool)
	for _, tok := range s.AllCertificatesWithinSignatureAndTimestamps() {
		embedded[tok.ID()] = true
	}
	var out []*certvalidator.CertificateToken
	for _, tok := range vc.ProcessedCertificates() {
		if !embedded[tok.ID()] {
			embedded[tok.ID()] = true
			out = append(out, tok)
		}
	}
	return out
}

// TimestampReference is a digest of an object covered by a timestamp.
type TimestampReference struct {
	DigestAlgorithm crypto.Hash
	// DigestValue is base64 encoded.
	DigestValue string
}

// RevocationReferences returns a SHA-1 reference for every embedded CRL and
// OCSP response, CRLs first. OCSP responses are digested in their full DER
// encoding when the source keeps it, else the response data alone.
func (s *AdvancedSignature) RevocationReferences() []TimestampReference {
	var refs []TimestampReference
	add := func(der []byte) {
		sum := sha1.Sum(der)
		refs = append(refs, TimestampReference{
			DigestAlgorithm: crypto.SHA1,
			DigestValue:     base64.StdEncoding.EncodeToString(sum[:]),
		})
	}

	if crls := s.format.CRLSource(); crls != nil {
		for _, der := range crls.ContainedCRLs() {
			add(der)
		}
	}
	if ocsps := s.format.OCSPSource(); ocsps != nil {
		if enc, ok := ocsps.(revinfo.EncodedOCSPSource); ok && enc.ContainedOCSPResponsesDER() != nil {
			for _, der := range enc.ContainedOCSPResponsesDER() {
				add(der)
			}
		} else {
			for _, resp := range ocsps.ContainedOCSPResponses() {
				add(resp.Raw)
			}
		}
	}

	if len(refs) > 0 {
		s.digestMu.Lock()
		s.usedDigests[crypto.SHA1] = struct{}{}
		s.digestMu.Unlock()
	}
	return refs
}

// UsedCertificatesDigestAlgorithms returns the digest algorithms used for
// references so far, in ascending order.
func (s *AdvancedSignature) UsedCertificatesDigestAlgorithms() []crypto.Hash {
	s.digestMu.Lock()
	defer s.digestMu.Unlock()
	out := make([]crypto.Hash, 0, len(s.usedDigests))
	for h := range s.usedDigests {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
