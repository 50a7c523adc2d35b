package ades

import (
	"strconv"

	"github.com/georgepadayatti/sigtrust/certvalidator"
	"github.com/georgepadayatti/sigtrust/certvalidator/revinfo"
	"github.com/georgepadayatti/sigtrust/sign/timestamps"
)

// groupOrder is the order timestamp certificate groups are keyed in.
var groupOrder = []timestamps.TimestampType{
	timestamps.ContentTimestamp,
	timestamps.SignAndRefsTimestamp,
	timestamps.RefsOnlyTimestamp,
	timestamps.SignatureTimestamp,
	timestamps.ArchiveTimestamp,
}

const signatureGroup = "signature"

type certificateGroup struct {
	key   string
	certs []*certvalidator.CertificateToken
}

// certificateGroups lists the signature's certificates, when there are
// any, followed by one group per timestamp. Timestamp groups are keyed by type name and a
// counter shared by all types. With skipLastArchive the archive timestamp
// with the latest generation time is left out, even when it is the only
// one.
func (s *AdvancedSignature) certificateGroups(skipLastArchive bool) []certificateGroup {
	var groups []certificateGroup
	if certs := s.Certificates(); len(certs) > 0 {
		groups = append(groups, certificateGroup{key: signatureGroup, certs: certs})
	}

	counter := 0
	for _, typ := range groupOrder {
		tokens := s.Timestamps(typ)
		if typ == timestamps.ArchiveTimestamp && skipLastArchive && len(tokens) > 0 {
			tokens = timestamps.SortByGenerationTime(tokens)
			tokens = tokens[:len(tokens)-1]
		}
		for _, ts := range tokens {
			certs := make([]*certvalidator.CertificateToken, 0, len(ts.Certificates()))
			for _, tok := range ts.Certificates() {
				certs = append(certs, s.pool.AddToken(tok))
			}
			groups = append(groups, certificateGroup{
				key:   typ.String() + strconv.Itoa(counter),
				certs: certs,
			})
			counter++
		}
	}
	return groups
}

// CertificatesWithinSignatureAndTimestamps returns the signature's
// certificates under "signature", if any, and each timestamp's certificates under
// its type name followed by a counter.
func (s *AdvancedSignature) CertificatesWithinSignatureAndTimestamps(skipLastArchive bool) map[string][]*certvalidator.CertificateToken {
	groups := s.certificateGroups(skipLastArchive)
	out := make(map[string][]*certvalidator.CertificateToken, len(groups))
	for _, g := range groups {
		out[g.key] = g.certs
	}
	return out
}

// AllCertificatesWithinSignatureAndTimestamps returns every certificate of
// the signature and all its timestamps, without duplicates.
func (s *AdvancedSignature) AllCertificatesWithinSignatureAndTimestamps() []*certvalidator.CertificateToken {
	var out []*certvalidator.CertificateToken
	seen := make(map[string]bool)
	for _, g := range s.certificateGroups(false) {
		for _, tok := range g.certs {
			if !seen[tok.ID()] {
				seen[tok.ID()] = true
				out = append(out, tok)
			}
		}
	}
	return out
}

// HasTimestampProfile reports whether the signature carries a signature
// timestamp.
func (s *AdvancedSignature) HasTimestampProfile() bool {
	return len(s.Timestamps(timestamps.SignatureTimestamp)) > 0
}

// HasLongTermProfile reports whether the embedded revocation data covers
// every certificate that needs it.
//
// Each certificate group, leaving out the latest archive timestamp, is
// ordered into chains. Every certificate requiring revocation must be
// matched by the embedded CRLs or OCSP responses; the walk up a chain stops
// at the first certificate that does not require revocation. A signature
// whose groups are all a single self-signed certificate additionally needs
// some embedded CRL or OCSP response.
func (s *AdvancedSignature) HasLongTermProfile() bool {
	groups := s.certificateGroups(true)
	noOCSP := s.format.OCSPSource() == nil || len(s.format.OCSPSource().ContainedOCSPResponses()) == 0
	noCRL := s.format.CRLSource() == nil || len(s.format.CRLSource().ContainedCRLs()) == 0

	if len(groups) == 0 && (noOCSP || noCRL) {
		return false
	}

	checker := revinfo.NewOCSPAndCRLChecker(s.pool, s.format.CRLSource(), s.format.OCSPSource(),
		revinfo.WithLogger(s.logger))
	requirement := certvalidator.NewRevocationRequirement(s.pool)
	for _, g := range groups {
		for _, chain := range certvalidator.OrderChains(g.certs, s.pool) {
			covered := requirement.Walk(chain, func(tok *certvalidator.CertificateToken) bool {
				if checker.Check(tok) != nil {
					return true
				}
				s.logger.Debug("no embedded revocation data", "group", g.key, "certificate", tok.String())
				return false
			})
			if !covered {
				return false
			}
		}
	}

	if allSelfSigned(groups) && noOCSP && noCRL {
		return false
	}
	return true
}

// allSelfSigned reports whether every group holds exactly one certificate
// and that certificate is self-signed.
func allSelfSigned(groups []certificateGroup) bool {
	for _, g := range groups {
		if len(g.certs) != 1 || !g.certs[0].IsSelfSigned() {
			return false
		}
	}
	return true
}

// HasLongTermArchivalProfile reports whether the signature carries an
// archive timestamp, embedded or external.
func (s *AdvancedSignature) HasLongTermArchivalProfile() bool {
	return len(s.Timestamps(timestamps.ArchiveTimestamp)) > 0
}

// DataFoundUpToLevel returns the highest level whose data is present. A
// level only counts when the levels below it do.
func (s *AdvancedSignature) DataFoundUpToLevel() SignatureLevel {
	if !s.HasTimestampProfile() {
		return LevelB
	}
	if !s.HasLongTermProfile() {
		return LevelT
	}
	if !s.HasLongTermArchivalProfile() {
		return LevelLT
	}
	return LevelLTA
}
