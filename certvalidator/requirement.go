package certvalidator

// RevocationRequirement decides whether revocation evidence is mandatory for
// a certificate.
type RevocationRequirement struct {
	pool *CertificatePool
}

// NewRevocationRequirement creates a policy backed by the pool's trust
// anchors. pool may be nil, in which case nothing is trusted.
func NewRevocationRequirement(pool *CertificatePool) *RevocationRequirement {
	return &RevocationRequirement{pool: pool}
}

// IsRevocationRequired returns false for trust anchors, self-signed
// certificates and certificates carrying ocsp-nocheck.
func (r *RevocationRequirement) IsRevocationRequired(tok *CertificateToken) bool {
	if tok == nil {
		return false
	}
	if (r.pool != nil && r.pool.IsTrusted(tok)) || tok.IsSelfSigned() {
		return false
	}
	return !tok.HasOCSPNoCheck()
}

// Walk visits the chain leaf first and stops at the first certificate that
// does not require revocation, even when issuers remain above it. fn is
// called for each certificate that does require revocation; Walk returns
// false as soon as fn does.
func (r *RevocationRequirement) Walk(chain *CertificateChain, fn func(*CertificateToken) bool) bool {
	for _, tok := range chain.Certificates {
		if !r.IsRevocationRequired(tok) {
			break
		}
		if !fn(tok) {
			return false
		}
	}
	return true
}
