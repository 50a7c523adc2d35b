package bundle

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"strings"
)

// supportedAlgorithms lists the algorithms a bundle signature may use.
var supportedAlgorithms = []x509.SignatureAlgorithm{
	x509.SHA256WithRSA,
	x509.SHA384WithRSA,
	x509.SHA512WithRSA,
	x509.SHA256WithRSAPSS,
	x509.SHA384WithRSAPSS,
	x509.SHA512WithRSAPSS,
	x509.ECDSAWithSHA256,
	x509.ECDSAWithSHA384,
	x509.ECDSAWithSHA512,
	x509.PureEd25519,
}

// ParseSignatureAlgorithm parses an algorithm name as printed by
// x509.SignatureAlgorithm, e.g. "ECDSA-SHA256" or "SHA256-RSAPSS". Names are
// case insensitive.
func ParseSignatureAlgorithm(name string) (x509.SignatureAlgorithm, error) {
	name = strings.TrimSpace(name)
	for _, alg := range supportedAlgorithms {
		if strings.EqualFold(alg.String(), name) {
			return alg, nil
		}
	}
	return x509.UnknownSignatureAlgorithm, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
}

// defaultAlgorithm returns the algorithm assumed for a public key when the
// manifest names none.
func defaultAlgorithm(pub any) (x509.SignatureAlgorithm, bool) {
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		switch key.Curve {
		case elliptic.P384():
			return x509.ECDSAWithSHA384, true
		case elliptic.P521():
			return x509.ECDSAWithSHA512, true
		default:
			return x509.ECDSAWithSHA256, true
		}
	case *rsa.PublicKey:
		return x509.SHA256WithRSA, true
	case ed25519.PublicKey:
		return x509.PureEd25519, true
	default:
		return x509.UnknownSignatureAlgorithm, false
	}
}

// verifySignature checks that signature is a signature of data by the key
// of cert.
func verifySignature(cert *x509.Certificate, alg x509.SignatureAlgorithm, data, signature []byte) error {
	if alg == x509.UnknownSignatureAlgorithm {
		var ok bool
		if alg, ok = defaultAlgorithm(cert.PublicKey); !ok {
			return fmt.Errorf("%w: key type %T", ErrUnsupportedAlgorithm, cert.PublicKey)
		}
	}
	return cert.CheckSignature(alg, data, signature)
}
