package bundle

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/georgepadayatti/sigtrust/sign/timestamps"
)

// TimestampData implements ades.SignatureFormat.
//
// A timestamp with a covers file is checked against that file. Otherwise the
// data is rebuilt from the bundle according to the timestamp type:
//
//   - content: the signed data
//   - signature: the signature value
//   - sign-and-refs: the signature value, the signature timestamps, then
//     the validation data references
//   - refs-only: the validation data references
//   - archive: everything above plus every archive timestamp generated
//     before this one
//
// The validation data references are the certificates, CRLs and OCSP
// responses in manifest order. Archive timestamps that are not part of the
// bundle, such as externally added ones, are rebuilt the same way.
func (b *Bundle) TimestampData(ts *timestamps.TimestampToken) ([]byte, error) {
	if ts == nil {
		return nil, fmt.Errorf("%w: nil timestamp", ErrUnknownTimestamp)
	}
	if covered, ok := b.covers[ts.ID()]; ok {
		return covered, nil
	}
	if ts.Type() != timestamps.ArchiveTimestamp && !b.contains(ts) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTimestamp, ts)
	}

	var buf bytes.Buffer
	switch ts.Type() {
	case timestamps.ContentTimestamp:
		buf.Write(b.signedData)
	case timestamps.SignatureTimestamp:
		buf.Write(b.signatureValue)
	case timestamps.SignAndRefsTimestamp:
		buf.Write(b.signatureValue)
		b.writeTimestamps(&buf, timestamps.SignatureTimestamp)
		b.writeReferences(&buf)
	case timestamps.RefsOnlyTimestamp:
		b.writeReferences(&buf)
	case timestamps.ArchiveTimestamp:
		b.writeArchiveData(&buf, func(earlier *timestamps.TimestampToken) bool {
			return earlier.ID() != ts.ID() && earlier.GenerationTime().Before(ts.GenerationTime())
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoTimestampData, ts)
	}
	return buf.Bytes(), nil
}

func (b *Bundle) contains(ts *timestamps.TimestampToken) bool {
	for _, own := range b.timestamps {
		if own == ts || own.ID() == ts.ID() {
			return true
		}
	}
	return false
}

func (b *Bundle) writeTimestamps(buf *bytes.Buffer, typ timestamps.TimestampType) {
	for _, ts := range b.Timestamps(typ) {
		buf.Write(ts.Raw())
	}
}

func (b *Bundle) writeReferences(buf *bytes.Buffer) {
	for _, cert := range b.certs {
		buf.Write(cert.Raw)
	}
	for _, crl := range b.crlDERs {
		buf.Write(crl)
	}
	for _, resp := range b.ocspDERs {
		buf.Write(resp)
	}
}

// writeArchiveData writes the bundle content followed by the archive
// timestamps accepted by include, oldest first.
func (b *Bundle) writeArchiveData(buf *bytes.Buffer, include func(*timestamps.TimestampToken) bool) {
	buf.Write(b.signedData)
	buf.Write(b.signatureValue)
	for _, typ := range []timestamps.TimestampType{
		timestamps.ContentTimestamp,
		timestamps.SignatureTimestamp,
		timestamps.SignAndRefsTimestamp,
		timestamps.RefsOnlyTimestamp,
	} {
		b.writeTimestamps(buf, typ)
	}
	b.writeReferences(buf)
	for _, ts := range timestamps.SortByGenerationTime(b.Timestamps(timestamps.ArchiveTimestamp)) {
		if include(ts) {
			buf.Write(ts.Raw())
		}
	}
}

// ArchiveData returns the bytes a new archive timestamp would have to
// cover: the full bundle content including every archive timestamp it
// holds.
func (b *Bundle) ArchiveData() []byte {
	var buf bytes.Buffer
	b.writeArchiveData(&buf, func(*timestamps.TimestampToken) bool { return true })
	return buf.Bytes()
}

// signedDataIntact reports whether the signed data matches the digest the
// manifest expects, if any.
func (b *Bundle) signedDataIntact() bool {
	if len(b.dataDigest) == 0 {
		return true
	}
	sum := sha256.Sum256(b.signedData)
	return bytes.Equal(sum[:], b.dataDigest)
}
