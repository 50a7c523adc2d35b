package ades

import (
	"crypto"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/sigtrust/certvalidator"
	"github.com/georgepadayatti/sigtrust/certvalidator/certtest"
	"github.com/georgepadayatti/sigtrust/certvalidator/revinfo"
	"github.com/georgepadayatti/sigtrust/sign/timestamps"
	"github.com/georgepadayatti/sigtrust/sign/validation"
)

var signatureValue = []byte("signature value")

type fakeFormat struct {
	certs      []*x509.Certificate
	timestamps map[timestamps.TimestampType][]*timestamps.TimestampToken
	crls       revinfo.CRLSource
	ocsps      revinfo.OCSPSource

	data      []byte
	dataErr   error
	dataCalls atomic.Int32

	analysis     *SigningCertificateAnalysis
	analysisErr  error
	analyzeCalls atomic.Int32
}

func (f *fakeFormat) Certificates() []*x509.Certificate { return f.certs }

func (f *fakeFormat) Timestamps(typ timestamps.TimestampType) []*timestamps.TimestampToken {
	return f.timestamps[typ]
}

func (f *fakeFormat) CRLSource() revinfo.CRLSource { return f.crls }

func (f *fakeFormat) OCSPSource() revinfo.OCSPSource { return f.ocsps }

func (f *fakeFormat) TimestampData(*timestamps.TimestampToken) ([]byte, error) {
	f.dataCalls.Add(1)
	if f.dataErr != nil {
		return nil, f.dataErr
	}
	if f.data != nil {
		return f.data, nil
	}
	return signatureValue, nil
}

func (f *fakeFormat) AnalyzeSigningCertificate(*certvalidator.CertificatePool) (*SigningCertificateAnalysis, error) {
	f.analyzeCalls.Add(1)
	return f.analysis, f.analysisErr
}

func (f *fakeFormat) add(ts ...*timestamps.TimestampToken) *fakeFormat {
	if f.timestamps == nil {
		f.timestamps = make(map[timestamps.TimestampType][]*timestamps.TimestampToken)
	}
	for _, tok := range ts {
		f.timestamps[tok.Type()] = append(f.timestamps[tok.Type()], tok)
	}
	return f
}

type pki struct {
	root *certtest.Issued
	leaf *certtest.Issued
	pool *certvalidator.CertificatePool
}

func newPKI(t *testing.T) *pki {
	t.Helper()

	root := certtest.NewRoot(t, "Test Root")
	return &pki{
		root: root,
		leaf: certtest.NewIssued(t, root, "Signer"),
		pool: certvalidator.BuildCertificatePool([]*x509.Certificate{root.Cert}),
	}
}

func (p *pki) ocspDER(t *testing.T, cert *x509.Certificate, status int) []byte {
	t.Helper()
	return certtest.NewOCSPResponse(t, p.root, cert, status)
}

func (p *pki) ocspSource(t *testing.T, cert *x509.Certificate, status int) *revinfo.OfflineOCSPSource {
	t.Helper()

	src, err := revinfo.ParseOfflineOCSPSource(p.ocspDER(t, cert, status))
	require.NoError(t, err)
	return src
}

func newToken(typ timestamps.TimestampType, genTime time.Time, certs ...*x509.Certificate) *timestamps.TimestampToken {
	sum := sha256.Sum256(signatureValue)
	return timestamps.NewTimestampToken(timestamps.TokenParams{
		Type:           typ,
		GenerationTime: genTime,
		HashAlgorithm:  crypto.SHA256,
		HashedMessage:  sum[:],
		Certificates:   certs,
		SignatureValid: true,
	})
}

func newSignature(t *testing.T, format SignatureFormat, pool *certvalidator.CertificatePool) *AdvancedSignature {
	t.Helper()

	sig, err := NewAdvancedSignature(format, pool)
	require.NoError(t, err)
	return sig
}

type fakeRecorder struct {
	mu         sync.Mutex
	violations []string
	levels     []string
}

func (r *fakeRecorder) ContextValidated(validation.AggregateResult, time.Duration) {}

func (r *fakeRecorder) PolicyViolation(check string, fatal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, check)
}

func (r *fakeRecorder) ProfileEvaluated(level string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, level)
}

func TestNewAdvancedSignatureRequiresFormat(t *testing.T) {
	_, err := NewAdvancedSignature(nil, nil)
	assert.ErrorIs(t, err, ErrNilFormat)
}

func TestSignatureLevelString(t *testing.T) {
	tests := []struct {
		level    SignatureLevel
		expected string
	}{
		{LevelB, "B"},
		{LevelT, "T"},
		{LevelLT, "LT"},
		{LevelLTA, "LTA"},
		{LevelUnknown, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.level.String())
	}
}

func TestHasTimestampProfile(t *testing.T) {
	p := newPKI(t)
	now := time.Now()

	tests := []struct {
		name     string
		types    []timestamps.TimestampType
		expected bool
	}{
		{"none", nil, false},
		{"signature timestamp", []timestamps.TimestampType{timestamps.SignatureTimestamp}, true},
		{"content and archive only", []timestamps.TimestampType{timestamps.ContentTimestamp, timestamps.ArchiveTimestamp}, false},
		{"refs only", []timestamps.TimestampType{timestamps.RefsOnlyTimestamp}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format := &fakeFormat{certs: []*x509.Certificate{p.leaf.Cert}}
			for _, typ := range tt.types {
				format.add(newToken(typ, now))
			}
			assert.Equal(t, tt.expected, newSignature(t, format, p.pool).HasTimestampProfile())
		})
	}
}

func TestHasLongTermProfile(t *testing.T) {
	p := newPKI(t)
	selfSigned := certtest.NewRoot(t, "Self Signed")
	otherSelfSigned := certtest.NewRoot(t, "Other Self Signed")
	unknownCA := certtest.NewRoot(t, "Unknown CA")
	foreignCA := certtest.NewRoot(t, "Foreign CA")
	partialLeaf := certtest.NewIssued(t, unknownCA, "Partial Chain Signer")
	ocspWithCert := func(signer *certtest.Issued) *revinfo.OfflineOCSPSource {
		src, err := revinfo.ParseOfflineOCSPSource(certtest.NewOCSPResponseWithCert(t, signer, partialLeaf.Cert, ocsp.Good))
		require.NoError(t, err)
		return src
	}

	tests := []struct {
		name     string
		format   func() *fakeFormat
		expected bool
	}{
		{
			name: "only self-signed certificate and no evidence",
			format: func() *fakeFormat {
				return &fakeFormat{certs: []*x509.Certificate{selfSigned.Cert}}
			},
			expected: false,
		},
		{
			name: "only self-signed certificate with a CRL",
			format: func() *fakeFormat {
				return &fakeFormat{
					certs: []*x509.Certificate{selfSigned.Cert},
					crls:  revinfo.NewOfflineCRLSource(certtest.NewCRL(t, selfSigned, time.Now())),
				}
			},
			expected: true,
		},
		{
			name: "two self-signed certificates in one group",
			format: func() *fakeFormat {
				return &fakeFormat{certs: []*x509.Certificate{selfSigned.Cert, otherSelfSigned.Cert}}
			},
			expected: true,
		},
		{
			name: "leaf with evidence under trust anchor",
			format: func() *fakeFormat {
				return &fakeFormat{
					certs: []*x509.Certificate{p.leaf.Cert, p.root.Cert},
					ocsps: p.ocspSource(t, p.leaf.Cert, ocsp.Good),
				}
			},
			expected: true,
		},
		{
			name: "leaf without evidence",
			format: func() *fakeFormat {
				return &fakeFormat{certs: []*x509.Certificate{p.leaf.Cert, p.root.Cert}}
			},
			expected: false,
		},
		{
			name: "leaf with evidence for another certificate",
			format: func() *fakeFormat {
				other := certtest.NewIssued(t, p.root, "Other")
				return &fakeFormat{
					certs: []*x509.Certificate{p.leaf.Cert, p.root.Cert},
					ocsps: p.ocspSource(t, other.Cert, ocsp.Good),
				}
			},
			expected: false,
		},
		{
			name: "partial chain with a foreign CA response for the same serial",
			format: func() *fakeFormat {
				return &fakeFormat{
					certs: []*x509.Certificate{partialLeaf.Cert},
					ocsps: ocspWithCert(foreignCA),
				}
			},
			expected: false,
		},
		{
			name: "partial chain with a response from the named issuer",
			format: func() *fakeFormat {
				return &fakeFormat{
					certs: []*x509.Certificate{partialLeaf.Cert},
					ocsps: ocspWithCert(unknownCA),
				}
			},
			expected: true,
		},
		{
			name: "no certificates and no evidence",
			format: func() *fakeFormat {
				return &fakeFormat{}
			},
			expected: false,
		},
		{
			name: "timestamp certificate without evidence",
			format: func() *fakeFormat {
				tsa := certtest.NewIssued(t, p.root, "TSA", certtest.WithTimestamping())
				return (&fakeFormat{
					certs: []*x509.Certificate{p.leaf.Cert},
					ocsps: p.ocspSource(t, p.leaf.Cert, ocsp.Good),
				}).add(newToken(timestamps.SignatureTimestamp, time.Now(), tsa.Cert))
			},
			expected: false,
		},
		{
			name: "timestamp certificate with ocsp-nocheck",
			format: func() *fakeFormat {
				tsa := certtest.NewIssued(t, p.root, "TSA", certtest.WithTimestamping(), certtest.WithOCSPNoCheck())
				return (&fakeFormat{
					certs: []*x509.Certificate{p.leaf.Cert},
					ocsps: p.ocspSource(t, p.leaf.Cert, ocsp.Good),
				}).add(newToken(timestamps.SignatureTimestamp, time.Now(), tsa.Cert))
			},
			expected: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := newSignature(t, tt.format(), p.pool)
			assert.Equal(t, tt.expected, sig.HasLongTermProfile())
		})
	}
}

func TestHasLongTermProfileSkipsLatestArchiveTimestamp(t *testing.T) {
	p := newPKI(t)
	tsa := certtest.NewIssued(t, p.root, "Archive TSA", certtest.WithTimestamping())

	format := (&fakeFormat{
		certs: []*x509.Certificate{p.leaf.Cert},
		ocsps: p.ocspSource(t, p.leaf.Cert, ocsp.Good),
	}).add(newToken(timestamps.ArchiveTimestamp, time.Now(), tsa.Cert))

	sig := newSignature(t, format, p.pool)
	assert.True(t, sig.HasLongTermProfile())
	assert.True(t, sig.HasLongTermArchivalProfile())
}

func TestCertificatesWithinSignatureAndTimestampsKeys(t *testing.T) {
	p := newPKI(t)
	now := time.Now()
	format := (&fakeFormat{certs: []*x509.Certificate{p.leaf.Cert}}).add(
		newToken(timestamps.ArchiveTimestamp, now),
		newToken(timestamps.SignatureTimestamp, now),
		newToken(timestamps.ContentTimestamp, now),
		newToken(timestamps.RefsOnlyTimestamp, now),
	)

	groups := newSignature(t, format, p.pool).CertificatesWithinSignatureAndTimestamps(false)

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	assert.ElementsMatch(t, []string{
		"signature",
		"content-timestamp0",
		"refs-only-timestamp1",
		"signature-timestamp2",
		"archive-timestamp3",
	}, keys)
	require.Len(t, groups["signature"], 1)
	assert.Equal(t, p.leaf.Cert.Raw, groups["signature"][0].Raw())
}

func TestCertificatesWithinSignatureAndTimestampsWithoutSignatureCertificates(t *testing.T) {
	format := (&fakeFormat{}).add(newToken(timestamps.SignatureTimestamp, time.Now()))

	groups := newSignature(t, format, nil).CertificatesWithinSignatureAndTimestamps(false)

	assert.NotContains(t, groups, "signature")
	assert.Contains(t, groups, "signature-timestamp0")
}

func TestArchiveTimestampExclusion(t *testing.T) {
	p := newPKI(t)
	base := time.Now().Add(-72 * time.Hour)
	first := certtest.NewRoot(t, "First TSA")
	second := certtest.NewRoot(t, "Second TSA")
	latest := certtest.NewRoot(t, "Latest TSA")

	format := (&fakeFormat{certs: []*x509.Certificate{p.leaf.Cert}}).add(
		newToken(timestamps.ArchiveTimestamp, base.Add(time.Hour), second.Cert),
		newToken(timestamps.ArchiveTimestamp, base.Add(2*time.Hour), latest.Cert),
		newToken(timestamps.ArchiveTimestamp, base, first.Cert),
	)
	sig := newSignature(t, format, p.pool)

	collect := func(groups map[string][]*certvalidator.CertificateToken) map[string]bool {
		out := make(map[string]bool)
		for _, certs := range groups {
			for _, tok := range certs {
				out[tok.ID()] = true
			}
		}
		return out
	}

	skipped := collect(sig.CertificatesWithinSignatureAndTimestamps(true))
	assert.True(t, skipped[certvalidator.NewCertificateToken(first.Cert).ID()])
	assert.True(t, skipped[certvalidator.NewCertificateToken(second.Cert).ID()])
	assert.False(t, skipped[certvalidator.NewCertificateToken(latest.Cert).ID()])
	assert.Len(t, sig.CertificatesWithinSignatureAndTimestamps(true), 3)

	all := collect(sig.CertificatesWithinSignatureAndTimestamps(false))
	assert.True(t, all[certvalidator.NewCertificateToken(latest.Cert).ID()])
	assert.Len(t, sig.CertificatesWithinSignatureAndTimestamps(false), 4)
}

func TestArchiveTimestampExclusionSingleTimestamp(t *testing.T) {
	tsa := certtest.NewRoot(t, "Only TSA")
	format := (&fakeFormat{}).add(newToken(timestamps.ArchiveTimestamp, time.Now(), tsa.Cert))
	sig := newSignature(t, format, nil)

	assert.Empty(t, sig.CertificatesWithinSignatureAndTimestamps(true))
	assert.Len(t, sig.CertificatesWithinSignatureAndTimestamps(false), 1)
}

func TestAllCertificatesWithinSignatureAndTimestamps(t *testing.T) {
	p := newPKI(t)
	tsa := certtest.NewIssued(t, p.root, "TSA", certtest.WithTimestamping())
	format := (&fakeFormat{certs: []*x509.Certificate{p.leaf.Cert, p.root.Cert}}).add(
		newToken(timestamps.SignatureTimestamp, time.Now(), tsa.Cert, p.root.Cert),
	)

	all := newSignature(t, format, p.pool).AllCertificatesWithinSignatureAndTimestamps()

	require.Len(t, all, 3)
	assert.Equal(t, p.leaf.Cert.Raw, all[0].Raw())
	assert.Equal(t, p.root.Cert.Raw, all[1].Raw())
	assert.Equal(t, tsa.Cert.Raw, all[2].Raw())
}

func TestAddExternalTimestamp(t *testing.T) {
	p := newPKI(t)
	format := &fakeFormat{certs: []*x509.Certificate{p.leaf.Cert}}
	sig := newSignature(t, format, p.pool)

	unprocessed := newToken(timestamps.ArchiveTimestamp, time.Now())
	assert.ErrorIs(t, sig.AddExternalTimestamp(unprocessed), ErrTimestampNotProcessed)
	assert.ErrorIs(t, sig.AddExternalTimestamp(nil), ErrTimestampNotProcessed)
	assert.False(t, sig.HasLongTermArchivalProfile())

	content := newToken(timestamps.ContentTimestamp, time.Now())
	require.True(t, content.MatchData(signatureValue))
	assert.ErrorIs(t, sig.AddExternalTimestamp(content), ErrNotArchiveTimestamp)
	assert.False(t, sig.HasLongTermArchivalProfile())
	assert.Empty(t, sig.Timestamps(timestamps.ContentTimestamp))

	archive := newToken(timestamps.ArchiveTimestamp, time.Now())
	require.True(t, archive.MatchData(signatureValue))
	require.NoError(t, sig.AddExternalTimestamp(archive))
	assert.True(t, sig.HasLongTermArchivalProfile())
	assert.Equal(t, []*timestamps.TimestampToken{archive}, sig.Timestamps(timestamps.ArchiveTimestamp))

	require.NoError(t, sig.ValidateTimestamps())
	assert.Zero(t, format.dataCalls.Load())
}

func TestAddExternalTimestampConcurrent(t *testing.T) {
	sig := newSignature(t, &fakeFormat{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := newToken(timestamps.ArchiveTimestamp, time.Now())
			ts.MatchData(signatureValue)
			assert.NoError(t, sig.AddExternalTimestamp(ts))
		}()
	}
	wg.Wait()

	assert.Len(t, sig.Timestamps(timestamps.ArchiveTimestamp), 16)
}

func TestValidateTimestampsIsIdempotent(t *testing.T) {
	format := (&fakeFormat{}).add(
		newToken(timestamps.ContentTimestamp, time.Now()),
		newToken(timestamps.SignatureTimestamp, time.Now()),
	)
	sig := newSignature(t, format, nil)

	require.NoError(t, sig.ValidateTimestamps())
	assert.EqualValues(t, 2, format.dataCalls.Load())
	for _, ts := range sig.AllTimestamps() {
		assert.True(t, ts.IsProcessed())
		assert.True(t, ts.MessageImprintIntact())
	}

	require.NoError(t, sig.ValidateTimestamps())
	assert.EqualValues(t, 2, format.dataCalls.Load())
}

func TestValidateTimestampsMismatch(t *testing.T) {
	format := (&fakeFormat{data: []byte("other bytes")}).add(newToken(timestamps.SignatureTimestamp, time.Now()))
	sig := newSignature(t, format, nil)

	require.NoError(t, sig.ValidateTimestamps())
	ts := sig.Timestamps(timestamps.SignatureTimestamp)[0]
	assert.True(t, ts.IsProcessed())
	assert.False(t, ts.IsValid())
}

func TestValidateTimestampsDataError(t *testing.T) {
	format := (&fakeFormat{dataErr: errors.New("missing file")}).add(newToken(timestamps.SignatureTimestamp, time.Now()))
	sig := newSignature(t, format, nil)

	err := sig.ValidateTimestamps()
	assert.ErrorIs(t, err, ErrTimestampData)
}

func TestResolveSigningCertificate(t *testing.T) {
	p := newPKI(t)
	leaf := certvalidator.NewCertificateToken(p.leaf.Cert)
	other := certvalidator.NewCertificateToken(certtest.NewIssued(t, p.root, "Other").Cert)

	tests := []struct {
		name     string
		analysis *SigningCertificateAnalysis
		expected *certvalidator.CertificateToken
	}{
		{
			name: "confirmed selection",
			analysis: &SigningCertificateAnalysis{
				Candidates: []*CertificateValidity{{Certificate: other}, {Certificate: leaf, DigestMatch: true, SignatureValid: true}},
				Selected:   &CertificateValidity{Certificate: leaf, DigestMatch: true, SignatureValid: true},
			},
			expected: leaf,
		},
		{
			name: "unconfirmed selection falls back to best candidate",
			analysis: &SigningCertificateAnalysis{
				Candidates: []*CertificateValidity{{Certificate: other, DigestMatch: true}, {Certificate: leaf}},
				Selected:   &CertificateValidity{Certificate: leaf, DigestMatch: true},
			},
			expected: other,
		},
		{
			name:     "no candidates",
			analysis: &SigningCertificateAnalysis{},
		},
		{
			name: "nil analysis",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := newSignature(t, &fakeFormat{analysis: tt.analysis}, p.pool)
			got, err := sig.ResolveSigningCertificate()
			require.NoError(t, err)
			if tt.expected == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.expected.ID(), got.ID())
		})
	}
}

func TestResolveSigningCertificateAnalyzesOnce(t *testing.T) {
	p := newPKI(t)
	leaf := certvalidator.NewCertificateToken(p.leaf.Cert)
	format := &fakeFormat{analysis: &SigningCertificateAnalysis{
		Candidates: []*CertificateValidity{{Certificate: leaf}},
	}}
	sig := newSignature(t, format, p.pool)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := sig.ResolveSigningCertificate()
			assert.NoError(t, err)
			assert.NotNil(t, got)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, format.analyzeCalls.Load())
}

func TestResolveSigningCertificateError(t *testing.T) {
	boom := errors.New("malformed signer info")
	format := &fakeFormat{analysisErr: boom}
	sig := newSignature(t, format, nil)

	_, err := sig.ResolveSigningCertificate()
	assert.ErrorIs(t, err, boom)
	_, err = sig.ResolveSigningCertificate()
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, format.analyzeCalls.Load())
}

// stubContext serves fixed processed tokens.
type stubContext struct {
	validation.ValidationContext
	certs       []*certvalidator.CertificateToken
	revocations []revinfo.RevocationToken
}

func (c *stubContext) ProcessedCertificates() []*certvalidator.CertificateToken { return c.certs }

func (c *stubContext) ProcessedRevocations() []revinfo.RevocationToken { return c.revocations }

type foreignToken struct{ revinfo.RevocationToken }

func (foreignToken) Identifier() revinfo.TokenIdentifier {
	return revinfo.TokenIdentifier{TokenID: "foreign"}
}

func TestRevocationDataForInclusionDeduplicates(t *testing.T) {
	p := newPKI(t)
	leaf := certvalidator.NewCertificateToken(p.leaf.Cert)
	root := certvalidator.NewCertificateToken(p.root.Cert)
	der := p.ocspDER(t, p.leaf.Cert, ocsp.Good)

	first, err := revinfo.NewOCSPToken(certtest.ParseOCSPResponse(t, der), leaf, root)
	require.NoError(t, err)
	second, err := revinfo.NewOCSPToken(certtest.ParseOCSPResponse(t, der), leaf, root)
	require.NoError(t, err)
	crlDER := certtest.NewCRL(t, p.root, time.Now())
	crl, err := revinfo.ParseCRL(crlDER)
	require.NoError(t, err)
	crlTok, err := revinfo.NewCRLToken(crlDER, crl, leaf, root)
	require.NoError(t, err)

	sig := newSignature(t, &fakeFormat{}, p.pool)
	data, err := sig.RevocationDataForInclusion(&stubContext{
		revocations: []revinfo.RevocationToken{first, crlTok, second},
	})
	require.NoError(t, err)
	assert.Len(t, data.OCSPTokens, 1)
	assert.Len(t, data.CRLTokens, 1)
	assert.False(t, data.IsEmpty())

	empty, err := sig.RevocationDataForInclusion(&stubContext{})
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
}

func TestRevocationDataForInclusionUnknownOrigin(t *testing.T) {
	sig := newSignature(t, &fakeFormat{}, nil)

	_, err := sig.RevocationDataForInclusion(&stubContext{
		revocations: []revinfo.RevocationToken{foreignToken{}},
	})
	assert.ErrorIs(t, err, revinfo.ErrUnknownOrigin)
}

func TestCertificatesForInclusion(t *testing.T) {
	p := newPKI(t)
	leaf := p.pool.Add(p.leaf.Cert)
	root := p.pool.Add(p.root.Cert)
	responder := p.pool.Add(certtest.NewIssued(t, p.root, "Responder").Cert)

	sig := newSignature(t, &fakeFormat{certs: []*x509.Certificate{p.leaf.Cert}}, p.pool)
	got := sig.CertificatesForInclusion(&stubContext{
		certs: []*certvalidator.CertificateToken{leaf, root, responder, root},
	})

	assert.Equal(t, []*certvalidator.CertificateToken{root, responder}, got)
}

func TestRevocationReferences(t *testing.T) {
	p := newPKI(t)
	crlDER := certtest.NewCRL(t, p.root, time.Now())
	ocspDER := p.ocspDER(t, p.leaf.Cert, ocsp.Good)
	ocsps, err := revinfo.ParseOfflineOCSPSource(ocspDER)
	require.NoError(t, err)

	sig := newSignature(t, &fakeFormat{
		crls:  revinfo.NewOfflineCRLSource(crlDER),
		ocsps: ocsps,
	}, p.pool)
	assert.Empty(t, sig.UsedCertificatesDigestAlgorithms())

	digest := func(b []byte) string {
		sum := sha1.Sum(b)
		return base64.StdEncoding.EncodeToString(sum[:])
	}
	refs := sig.RevocationReferences()
	assert.Equal(t, []TimestampReference{
		{DigestAlgorithm: crypto.SHA1, DigestValue: digest(crlDER)},
		{DigestAlgorithm: crypto.SHA1, DigestValue: digest(ocspDER)},
	}, refs)
	assert.Equal(t, []crypto.Hash{crypto.SHA1}, sig.UsedCertificatesDigestAlgorithms())
}

func TestRevocationReferencesParsedResponses(t *testing.T) {
	p := newPKI(t)
	resp := certtest.ParseOCSPResponse(t, p.ocspDER(t, p.leaf.Cert, ocsp.Good))
	sig := newSignature(t, &fakeFormat{ocsps: revinfo.NewOfflineOCSPSource(resp)}, p.pool)

	sum := sha1.Sum(resp.Raw)
	refs := sig.RevocationReferences()
	require.Len(t, refs, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), refs[0].DigestValue)
}

func TestRevocationReferencesEmpty(t *testing.T) {
	sig := newSignature(t, &fakeFormat{}, nil)

	assert.Empty(t, sig.RevocationReferences())
	assert.Empty(t, sig.UsedCertificatesDigestAlgorithms())
}

func TestDataFoundUpToLevel(t *testing.T) {
	p := newPKI(t)
	now := time.Now()

	tests := []struct {
		name     string
		format   func() *fakeFormat
		expected SignatureLevel
	}{
		{
			name: "bare signature",
			format: func() *fakeFormat {
				return &fakeFormat{certs: []*x509.Certificate{p.leaf.Cert}}
			},
			expected: LevelB,
		},
		{
			name: "signature timestamp without evidence",
			format: func() *fakeFormat {
				return (&fakeFormat{certs: []*x509.Certificate{p.leaf.Cert}}).
					add(newToken(timestamps.SignatureTimestamp, now))
			},
			expected: LevelT,
		},
		{
			name: "signature timestamp with evidence",
			format: func() *fakeFormat {
				return (&fakeFormat{
					certs: []*x509.Certificate{p.leaf.Cert},
					ocsps: p.ocspSource(t, p.leaf.Cert, ocsp.Good),
				}).add(newToken(timestamps.SignatureTimestamp, now))
			},
			expected: LevelLT,
		},
		{
			name: "archive timestamp",
			format: func() *fakeFormat {
				return (&fakeFormat{
					certs: []*x509.Certificate{p.leaf.Cert},
					ocsps: p.ocspSource(t, p.leaf.Cert, ocsp.Good),
				}).add(
					newToken(timestamps.SignatureTimestamp, now),
					newToken(timestamps.ArchiveTimestamp, now),
				)
			},
			expected: LevelLTA,
		},
		{
			name: "archive timestamp without signature timestamp",
			format: func() *fakeFormat {
				return (&fakeFormat{certs: []*x509.Certificate{p.leaf.Cert}}).
					add(newToken(timestamps.ArchiveTimestamp, now))
			},
			expected: LevelB,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, newSignature(t, tt.format(), p.pool).DataFoundUpToLevel())
		})
	}
}

func TestEvaluateRequiresVerifier(t *testing.T) {
	sig := newSignature(t, &fakeFormat{}, nil)

	vc, err := sig.Evaluate(nil)
	assert.ErrorIs(t, err, validation.ErrNilVerifier)
	assert.Nil(t, vc)
}

func TestEvaluateSelfSignedOnly(t *testing.T) {
	selfSigned := certtest.NewRoot(t, "Self Signed")
	sig := newSignature(t, &fakeFormat{certs: []*x509.Certificate{selfSigned.Cert}}, nil)

	vc, err := sig.Evaluate(validation.DefaultCertificateVerifier())
	require.NoError(t, err)
	assert.True(t, vc.Results().Passed())

	assert.False(t, sig.HasTimestampProfile())
	assert.False(t, sig.HasLongTermProfile())
	assert.False(t, sig.HasLongTermArchivalProfile())
	assert.Equal(t, LevelB, sig.DataFoundUpToLevel())
}

func TestEvaluateTimestampedLongTermSignature(t *testing.T) {
	p := newPKI(t)
	tsa := certtest.NewIssued(t, p.root, "TSA", certtest.WithTimestamping(), certtest.WithOCSPNoCheck())
	ts, err := timestamps.NewDummyTimeStamper(tsa.Cert, tsa.Key).
		WithFixedTime(time.Now().Add(-time.Hour)).
		Token(timestamps.SignatureTimestamp, signatureValue)
	require.NoError(t, err)

	format := (&fakeFormat{
		certs: []*x509.Certificate{p.leaf.Cert, p.root.Cert},
		ocsps: p.ocspSource(t, p.leaf.Cert, ocsp.Good),
	}).add(ts)
	sig := newSignature(t, format, p.pool)

	rec := &fakeRecorder{}
	cv := validation.StrictCertificateVerifier()
	cv.Metrics = rec

	vc, err := sig.Evaluate(cv)
	require.NoError(t, err)
	require.NotNil(t, vc)

	assert.True(t, vc.IsAllTimestampValid())
	assert.True(t, vc.IsAllRequiredRevocationDataPresent())
	assert.True(t, vc.IsAllPOECoveredByRevocationData())
	assert.True(t, vc.IsAllCertificateValid())
	assert.True(t, ts.IsProcessed())
	assert.Len(t, vc.ProcessedTimestamps(), 1)
	assert.Len(t, vc.ProcessedRevocations(), 1)

	assert.True(t, sig.HasTimestampProfile())
	assert.True(t, sig.HasLongTermProfile())
	assert.False(t, sig.HasLongTermArchivalProfile())
	assert.Equal(t, LevelLT, sig.DataFoundUpToLevel())

	assert.Empty(t, rec.violations)
	assert.Equal(t, []string{"LT"}, rec.levels)
}

func TestEvaluatePolicyFlags(t *testing.T) {
	p := newPKI(t)

	tests := []struct {
		name     string
		format   func() *fakeFormat
		check    string
		sentinel error
	}{
		{
			name: "broken timestamp",
			format: func() *fakeFormat {
				return (&fakeFormat{
					certs: []*x509.Certificate{p.leaf.Cert},
					ocsps: p.ocspSource(t, p.leaf.Cert, ocsp.Good),
					data:  []byte("tampered"),
				}).add(newToken(timestamps.SignatureTimestamp, time.Now().Add(-time.Hour)))
			},
			check:    CheckTimestamp,
			sentinel: ErrInvalidTimestamp,
		},
		{
			name: "missing revocation data",
			format: func() *fakeFormat {
				return &fakeFormat{certs: []*x509.Certificate{p.leaf.Cert}}
			},
			check:    CheckRevocationPresence,
			sentinel: ErrMissingRevocationData,
		},
		{
			name: "uncovered proof of existence",
			format: func() *fakeFormat {
				return (&fakeFormat{
					certs: []*x509.Certificate{p.leaf.Cert},
					ocsps: p.ocspSource(t, p.leaf.Cert, ocsp.Good),
				}).add(newToken(timestamps.SignatureTimestamp, time.Now().Add(2*time.Hour)))
			},
			check:    CheckPOECoverage,
			sentinel: ErrUncoveredPOE,
		},
		{
			name: "revoked certificate",
			format: func() *fakeFormat {
				return &fakeFormat{
					certs: []*x509.Certificate{p.leaf.Cert},
					ocsps: p.ocspSource(t, p.leaf.Cert, ocsp.Revoked),
				}
			},
			check:    CheckRevocationStatus,
			sentinel: ErrRevokedCertificate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/strict", func(t *testing.T) {
			rec := &fakeRecorder{}
			cv := validation.StrictCertificateVerifier()
			cv.Metrics = rec

			vc, err := newSignature(t, tt.format(), p.pool).Evaluate(cv)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.True(t, IsPolicyViolation(err))

			var pv *PolicyViolationError
			require.ErrorAs(t, err, &pv)
			assert.Equal(t, tt.check, pv.Check)
			assert.NotNil(t, vc)
			require.NotEmpty(t, rec.violations)
			assert.Equal(t, tt.check, rec.violations[0])
			assert.Empty(t, rec.levels)
		})
		t.Run(tt.name+"/lenient", func(t *testing.T) {
			rec := &fakeRecorder{}
			cv := validation.LenientCertificateVerifier()
			cv.Metrics = rec

			vc, err := newSignature(t, tt.format(), p.pool).Evaluate(cv)
			require.NoError(t, err)
			assert.False(t, vc.Results().Passed())
			assert.Contains(t, rec.violations, tt.check)
			assert.Len(t, rec.levels, 1)
		})
	}
}

func TestEvaluateRecordsEveryViolation(t *testing.T) {
	p := newPKI(t)
	format := (&fakeFormat{
		certs: []*x509.Certificate{p.leaf.Cert},
		data:  []byte("tampered"),
	}).add(newToken(timestamps.SignatureTimestamp, time.Now().Add(-time.Hour)))

	rec := &fakeRecorder{}
	cv := validation.StrictCertificateVerifier()
	cv.Metrics = rec

	vc, err := newSignature(t, format, p.pool).Evaluate(cv)
	var pv *PolicyViolationError
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, CheckTimestamp, pv.Check)
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
	require.NotNil(t, vc)

	require.GreaterOrEqual(t, len(rec.violations), 2)
	assert.Equal(t, []string{CheckTimestamp, CheckRevocationPresence}, rec.violations[:2])
	assert.Empty(t, rec.levels)
}

func TestEvaluateDefaultVerifierToleratesUncoveredPOE(t *testing.T) {
	p := newPKI(t)
	format := (&fakeFormat{
		certs: []*x509.Certificate{p.leaf.Cert},
		ocsps: p.ocspSource(t, p.leaf.Cert, ocsp.Good),
	}).add(newToken(timestamps.SignatureTimestamp, time.Now().Add(2*time.Hour)))

	vc, err := newSignature(t, format, p.pool).Evaluate(validation.DefaultCertificateVerifier())
	require.NoError(t, err)
	assert.False(t, vc.IsAllPOECoveredByRevocationData())
}

func TestEvaluateStructuralError(t *testing.T) {
	p := newPKI(t)
	bogus := timestamps.NewTimestampToken(timestamps.TokenParams{Type: timestamps.TypeUnknown, SignatureValid: true})
	format := &fakeFormat{
		certs: []*x509.Certificate{p.leaf.Cert},
		timestamps: map[timestamps.TimestampType][]*timestamps.TimestampToken{
			timestamps.SignatureTimestamp: {bogus},
		},
	}

	vc, err := newSignature(t, format, p.pool).Evaluate(validation.LenientCertificateVerifier())
	assert.ErrorIs(t, err, timestamps.ErrUnknownTimestampType)
	assert.Nil(t, vc)
}

func TestEvaluateUsesAdjunctSources(t *testing.T) {
	p := newPKI(t)
	cv := validation.StrictCertificateVerifier()
	cv.AdjunctOCSPSource = p.ocspSource(t, p.leaf.Cert, ocsp.Good)

	sig := newSignature(t, &fakeFormat{certs: []*x509.Certificate{p.leaf.Cert}}, p.pool)
	vc, err := sig.Evaluate(cv)
	require.NoError(t, err)
	assert.Len(t, vc.ProcessedRevocations(), 1)

	data, err := sig.RevocationDataForInclusion(vc)
	require.NoError(t, err)
	assert.Len(t, data.OCSPTokens, 1)

	// Adjunct evidence does not count as embedded.
	assert.False(t, sig.HasLongTermProfile())
}
