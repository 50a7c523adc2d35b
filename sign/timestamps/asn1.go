package timestamps

import (
	"crypto"
	_ "crypto/sha1" // registers crypto.SHA1 for imprint checks
	_ "crypto/sha512"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
)

// Hash algorithm OIDs
var (
	OIDSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

// AlgorithmIdentifier represents an algorithm with parameters.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// MessageImprint represents the hash of the timestamped data.
type MessageImprint struct {
	HashAlgorithm AlgorithmIdentifier
	HashedMessage []byte
}

// TimeStampResp represents a timestamp response (RFC 3161).
type TimeStampResp struct {
	Status         PKIStatusInfo
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

// PKIStatusInfo represents the status of a PKI operation.
type PKIStatusInfo struct {
	Status       int
	StatusString []string       `asn1:"optional"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

// TSTInfo represents the timestamp token info.
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time     `asn1:"generalized"`
	Accuracy       Accuracy      `asn1:"optional"`
	Ordering       bool          `asn1:"optional,default:false"`
	Nonce          *big.Int      `asn1:"optional"`
	TSA            asn1.RawValue `asn1:"optional,explicit,tag:0"`
	Extensions     []Extension   `asn1:"optional,implicit,tag:1"`
}

// Accuracy represents timestamp accuracy.
type Accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,implicit,tag:0"`
	Micros  int `asn1:"optional,implicit,tag:1"`
}

// Extension represents an X.509 extension.
type Extension struct {
	ExtnID    asn1.ObjectIdentifier
	Critical  bool `asn1:"optional,default:false"`
	ExtnValue []byte
}

// TokenFromResponse extracts the timestamp token from a DER TimeStampResp.
func TokenFromResponse(resp []byte) ([]byte, error) {
	var r TimeStampResp
	if _, err := asn1.Unmarshal(resp, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}
	// 0 granted, 1 granted with modifications
	if r.Status.Status > 1 {
		return nil, fmt.Errorf("%w: status %d", ErrTimestampRejected, r.Status.Status)
	}
	if len(r.TimeStampToken.FullBytes) == 0 {
		return nil, fmt.Errorf("%w: response carries no token", ErrInvalidTimestamp)
	}
	return r.TimeStampToken.FullBytes, nil
}

// decodeUnverified reads the TSTInfo of a token whose signature did not
// verify.
func decodeUnverified(p7 *pkcs7.PKCS7) (*timestamp.Timestamp, error) {
	var info TSTInfo
	if _, err := asn1.Unmarshal(p7.Content, &info); err != nil {
		return nil, fmt.Errorf("failed to parse TSTInfo: %w", err)
	}
	hash, ok := hashFromOID(info.MessageImprint.HashAlgorithm.Algorithm)
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm %v", info.MessageImprint.HashAlgorithm.Algorithm)
	}
	return &timestamp.Timestamp{
		HashAlgorithm: hash,
		HashedMessage: info.MessageImprint.HashedMessage,
		Time:          info.GenTime,
		SerialNumber:  info.SerialNumber,
		Policy:        info.Policy,
		Certificates:  p7.Certificates,
	}, nil
}

func hashFromOID(oid asn1.ObjectIdentifier) (crypto.Hash, bool) {
	switch {
	case oid.Equal(OIDSHA1):
		return crypto.SHA1, true
	case oid.Equal(OIDSHA256):
		return crypto.SHA256, true
	case oid.Equal(OIDSHA384):
		return crypto.SHA384, true
	case oid.Equal(OIDSHA512):
		return crypto.SHA512, true
	default:
		return 0, false
	}
}
