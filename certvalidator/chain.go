package certvalidator

// CertificateChain is an ordered certificate chain, leaf first.
type CertificateChain struct {
	Certificates []*CertificateToken
}

// Leaf returns the first certificate of the chain.
func (c *CertificateChain) Leaf() *CertificateToken {
	if len(c.Certificates) == 0 {
		return nil
	}
	return c.Certificates[0]
}

// Top returns the topmost available issuer.
func (c *CertificateChain) Top() *CertificateToken {
	if len(c.Certificates) == 0 {
		return nil
	}
	return c.Certificates[len(c.Certificates)-1]
}

// Len returns the number of certificates in the chain.
func (c *CertificateChain) Len() int {
	return len(c.Certificates)
}

// OrderChains reconstructs issuer to subject chains from an unordered set of
// certificates. One chain is returned per leaf, in input order of leaves.
//
// A certificate's issuer is looked up in certs only. When several
// certificates qualify, a trust anchor registered in pool wins, otherwise
// the first in input order. A chain stops at a self-signed certificate, at a
// certificate whose issuer is not in certs, or before revisiting a
// certificate. Certificates that are only reachable through issuer cycles
// start a chain of their own, so every input certificate appears in at least
// one chain. pool may be nil.
func OrderChains(certs []*CertificateToken, pool *CertificatePool) []*CertificateChain {
	var uniq []*CertificateToken
	seen := make(map[string]bool, len(certs))
	for _, c := range certs {
		if c == nil || seen[c.ID()] {
			continue
		}
		seen[c.ID()] = true
		uniq = append(uniq, c)
	}

	issuerOf := make(map[string]*CertificateToken, len(uniq))
	isIssuer := make(map[string]bool, len(uniq))
	for _, c := range uniq {
		if issuer := selectIssuer(c, uniq, pool); issuer != nil {
			issuerOf[c.ID()] = issuer
			isIssuer[issuer.ID()] = true
		}
	}

	covered := make(map[string]bool, len(uniq))
	build := func(start *CertificateToken) *CertificateChain {
		chain := &CertificateChain{Certificates: []*CertificateToken{start}}
		inChain := map[string]bool{start.ID(): true}
		covered[start.ID()] = true
		for cur := start; ; {
			next := issuerOf[cur.ID()]
			if next == nil || inChain[next.ID()] {
				break
			}
			chain.Certificates = append(chain.Certificates, next)
			inChain[next.ID()] = true
			covered[next.ID()] = true
			cur = next
		}
		return chain
	}

	var chains []*CertificateChain
	for _, c := range uniq {
		if !isIssuer[c.ID()] {
			chains = append(chains, build(c))
		}
	}
	for _, c := range uniq {
		if !covered[c.ID()] {
			chains = append(chains, build(c))
		}
	}
	return chains
}

// ChainsByLeaf is OrderChains keyed by leaf token ID.
func ChainsByLeaf(certs []*CertificateToken, pool *CertificatePool) map[string]*CertificateChain {
	chains := OrderChains(certs, pool)
	out := make(map[string]*CertificateChain, len(chains))
	for _, chain := range chains {
		out[chain.Leaf().ID()] = chain
	}
	return out
}

func selectIssuer(c *CertificateToken, candidates []*CertificateToken, pool *CertificatePool) *CertificateToken {
	if c.IsSelfSigned() {
		return nil
	}
	var first *CertificateToken
	for _, candidate := range candidates {
		if candidate.ID() == c.ID() || !c.IsSignedBy(candidate) {
			continue
		}
		if pool != nil && pool.IsTrusted(candidate) {
			return candidate
		}
		if first == nil {
			first = candidate
		}
	}
	return first
}
