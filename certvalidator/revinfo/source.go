package revinfo

import (
	"fmt"

	"golang.org/x/crypto/ocsp"
)

// CRLSource supplies raw CRLs. Implementations must return the same
// content on every call.
type CRLSource interface {
	ContainedCRLs() [][]byte
}

// OCSPSource supplies parsed OCSP responses. Implementations must return
// the same content on every call.
type OCSPSource interface {
	ContainedOCSPResponses() []*ocsp.Response
}

// EncodedOCSPSource is an OCSPSource that also keeps the DER encoding of
// its responses, index aligned with ContainedOCSPResponses.
type EncodedOCSPSource interface {
	OCSPSource
	ContainedOCSPResponsesDER() [][]byte
}

// OfflineCRLSource holds CRLs that were already fetched, typically those
// embedded in a signature.
type OfflineCRLSource struct {
	crls [][]byte
}

// NewOfflineCRLSource creates a source over the given DER CRLs.
func NewOfflineCRLSource(crls ...[]byte) *OfflineCRLSource {
	return &OfflineCRLSource{crls: append([][]byte(nil), crls...)}
}

// ContainedCRLs returns the CRLs in insertion order.
func (s *OfflineCRLSource) ContainedCRLs() [][]byte {
	if s == nil {
		return nil
	}
	return append([][]byte(nil), s.crls...)
}

// OfflineOCSPSource holds OCSP responses that were already fetched.
type OfflineOCSPSource struct {
	responses []*ocsp.Response
	ders      [][]byte
}

// NewOfflineOCSPSource creates a source over parsed responses.
func NewOfflineOCSPSource(responses ...*ocsp.Response) *OfflineOCSPSource {
	return &OfflineOCSPSource{responses: append([]*ocsp.Response(nil), responses...)}
}

// ParseOfflineOCSPSource parses DER responses into a source.
func ParseOfflineOCSPSource(ders ...[]byte) (*OfflineOCSPSource, error) {
	responses := make([]*ocsp.Response, 0, len(ders))
	for i, der := range ders {
		resp, err := ParseOCSPResponse(der)
		if err != nil {
			return nil, fmt.Errorf("response %d: %w", i, err)
		}
		responses = append(responses, resp)
	}
	return &OfflineOCSPSource{
		responses: responses,
		ders:      append([][]byte(nil), ders...),
	}, nil
}

// ContainedOCSPResponses returns the responses in insertion order.
func (s *OfflineOCSPSource) ContainedOCSPResponses() []*ocsp.Response {
	if s == nil {
		return nil
	}
	return append([]*ocsp.Response(nil), s.responses...)
}

// ContainedOCSPResponsesDER returns the DER responses the source was parsed
// from, or nil when it was built from parsed responses.
func (s *OfflineOCSPSource) ContainedOCSPResponsesDER() [][]byte {
	if s == nil || len(s.ders) != len(s.responses) {
		return nil
	}
	return append([][]byte(nil), s.ders...)
}

// ListCRLSource concatenates several CRL sources. Duplicates are kept.
type ListCRLSource struct {
	sources []CRLSource
}

// NewListCRLSource creates a source over sources; nil entries are ignored.
func NewListCRLSource(sources ...CRLSource) *ListCRLSource {
	l := &ListCRLSource{}
	for _, src := range sources {
		if src != nil {
			l.sources = append(l.sources, src)
		}
	}
	return l
}

// ContainedCRLs returns the CRLs of every source in order.
func (l *ListCRLSource) ContainedCRLs() [][]byte {
	var out [][]byte
	for _, src := range l.sources {
		out = append(out, src.ContainedCRLs()...)
	}
	return out
}

// ListOCSPSource concatenates several OCSP sources. Duplicates are kept.
type ListOCSPSource struct {
	sources []OCSPSource
}

// NewListOCSPSource creates a source over sources; nil entries are ignored.
func NewListOCSPSource(sources ...OCSPSource) *ListOCSPSource {
	l := &ListOCSPSource{}
	for _, src := range sources {
		if src != nil {
			l.sources = append(l.sources, src)
		}
	}
	return l
}

// ContainedOCSPResponses returns the responses of every source in order.
func (l *ListOCSPSource) ContainedOCSPResponses() []*ocsp.Response {
	var out []*ocsp.Response
	for _, src := range l.sources {
		out = append(out, src.ContainedOCSPResponses()...)
	}
	return out
}
