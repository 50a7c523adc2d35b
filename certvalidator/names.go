package certvalidator

import (
	"crypto/sha256"
	"crypto/x509/pkix"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// canonicalNameString renders a distinguished name with each attribute value
// NFKC normalised, whitespace collapsed and case folded.
func canonicalNameString(name pkix.Name) string {
	atvs := name.Names
	if len(atvs) == 0 {
		for _, rdn := range name.ToRDNSequence() {
			atvs = append(atvs, rdn...)
		}
	}

	parts := make([]string, 0, len(atvs))
	for _, atv := range atvs {
		parts = append(parts, fmt.Sprintf("%s=%s", atv.Type.String(), normalizeRDNValue(atv.Value)))
	}
	return strings.Join(parts, ",")
}

func normalizeRDNValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return normalizeDNString(v)
	default:
		return fmt.Sprint(v)
	}
}

func normalizeDNString(value string) string {
	trimmed := strings.TrimSpace(norm.NFKC.String(value))
	if trimmed == "" {
		return ""
	}
	return cases.Fold().String(strings.Join(strings.Fields(trimmed), " "))
}

// namesEqual compares two names after canonicalisation.
func namesEqual(a, b pkix.Name) bool {
	return canonicalNameString(a) == canonicalNameString(b)
}

// subjectHashKey creates a map key from a name.
func subjectHashKey(name pkix.Name) string {
	h := sha256.Sum256([]byte(canonicalNameString(name)))
	return string(h[:])
}
