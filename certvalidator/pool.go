package certvalidator

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"sync"
)

// CertificatePool is the shared registry of every certificate token seen
// during a validation run: signature certificates, timestamp certificates
// and trust anchors. It is append-only and safe for concurrent use.
type CertificatePool struct {
	mu sync.RWMutex

	// Main storage keyed by token ID, in insertion order
	certs map[string]*CertificateToken
	order []*CertificateToken

	// Index by subject name hash for issuer lookups
	subjectMap map[string][]*CertificateToken

	// Trust anchors by token ID
	anchors map[string]*CertificateToken
}

// NewCertificatePool creates an empty pool.
func NewCertificatePool() *CertificatePool {
	return &CertificatePool{
		certs:      make(map[string]*CertificateToken),
		subjectMap: make(map[string][]*CertificateToken),
		anchors:    make(map[string]*CertificateToken),
	}
}

// BuildCertificatePool creates a pool with the given trust anchors.
func BuildCertificatePool(anchors []*x509.Certificate) *CertificatePool {
	pool := NewCertificatePool()
	for _, cert := range anchors {
		pool.AddTrustAnchor(cert)
	}
	return pool
}

// Add registers a certificate and returns the canonical token for it.
// Adding a certificate that is already known is a no-op.
func (p *CertificatePool) Add(cert *x509.Certificate) *CertificateToken {
	if cert == nil {
		return nil
	}
	return p.AddToken(NewCertificateToken(cert))
}

// AddToken registers a token and returns the canonical instance, which is
// the previously registered one when the identifier is already known.
func (p *CertificatePool) AddToken(tok *CertificateToken) *CertificateToken {
	if tok == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.addLocked(tok)
}

func (p *CertificatePool) addLocked(tok *CertificateToken) *CertificateToken {
	if existing, ok := p.certs[tok.ID()]; ok {
		return existing
	}
	p.certs[tok.ID()] = tok
	p.order = append(p.order, tok)

	subjectKey := subjectHashKey(tok.Subject())
	p.subjectMap[subjectKey] = append(p.subjectMap[subjectKey], tok)
	return tok
}

// AddTrustAnchor registers a certificate as a configured trust anchor.
func (p *CertificatePool) AddTrustAnchor(cert *x509.Certificate) *CertificateToken {
	if cert == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tok := p.addLocked(NewCertificateToken(cert))
	p.anchors[tok.ID()] = tok
	return tok
}

// IsTrusted reports whether the token is a configured trust anchor.
func (p *CertificatePool) IsTrusted(tok *CertificateToken) bool {
	if tok == nil {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	_, ok := p.anchors[tok.ID()]
	return ok
}

// Get returns the token with the given identifier, or nil.
func (p *CertificatePool) Get(id string) *CertificateToken {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.certs[id]
}

// Contains reports whether the token is registered.
func (p *CertificatePool) Contains(tok *CertificateToken) bool {
	return tok != nil && p.Get(tok.ID()) != nil
}

// BySubject returns the tokens whose subject matches name.
func (p *CertificatePool) BySubject(name pkix.Name) []*CertificateToken {
	p.mu.RLock()
	defer p.mu.RUnlock()

	found := p.subjectMap[subjectHashKey(name)]
	out := make([]*CertificateToken, len(found))
	copy(out, found)
	return out
}

// FindIssuers returns registered tokens that issued tok, trust anchors
// first and otherwise in registration order.
func (p *CertificatePool) FindIssuers(tok *CertificateToken) []*CertificateToken {
	if tok == nil || tok.IsSelfSigned() {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	var anchors, others []*CertificateToken
	for _, candidate := range p.subjectMap[subjectHashKey(tok.Issuer())] {
		if candidate.ID() == tok.ID() || !tok.IsSignedBy(candidate) {
			continue
		}
		if _, ok := p.anchors[candidate.ID()]; ok {
			anchors = append(anchors, candidate)
		} else {
			others = append(others, candidate)
		}
	}
	return append(anchors, others...)
}

// FindIssuer returns the preferred issuer of tok, or nil.
func (p *CertificatePool) FindIssuer(tok *CertificateToken) *CertificateToken {
	issuers := p.FindIssuers(tok)
	if len(issuers) == 0 {
		return nil
	}
	return issuers[0]
}

// All returns every registered token in registration order.
func (p *CertificatePool) All() []*CertificateToken {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*CertificateToken, len(p.order))
	copy(out, p.order)
	return out
}

// TrustAnchors returns the configured trust anchors in registration order.
func (p *CertificatePool) TrustAnchors() []*CertificateToken {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*CertificateToken
	for _, tok := range p.order {
		if _, ok := p.anchors[tok.ID()]; ok {
			out = append(out, tok)
		}
	}
	return out
}

// Count returns the number of registered tokens.
func (p *CertificatePool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.certs)
}
