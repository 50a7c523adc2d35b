package validation

import (
	"fmt"

	"github.com/georgepadayatti/sigtrust/certvalidator"
	"github.com/georgepadayatti/sigtrust/certvalidator/revinfo"
	"github.com/georgepadayatti/sigtrust/sign/timestamps"
)

// ValidationObjectType represents the type of a validation object.
type ValidationObjectType int

const (
	ValidationObjectCertificate ValidationObjectType = iota
	ValidationObjectCRL
	ValidationObjectOCSP
	ValidationObjectTimestamp
)

// String returns the string representation.
func (t ValidationObjectType) String() string {
	switch t {
	case ValidationObjectCertificate:
		return "certificate"
	case ValidationObjectCRL:
		return "crl"
	case ValidationObjectOCSP:
		return "ocsp"
	case ValidationObjectTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// ValidationObject is a token taking part in a validation run.
type ValidationObject struct {
	ObjectType ValidationObjectType
	Identifier string
	Value      interface{}
}

// ValidationObjectSet is an insertion ordered set of validation objects,
// keyed by type and identifier.
type ValidationObjectSet struct {
	order   []string
	objects map[string]*ValidationObject
}

// NewValidationObjectSet creates a new validation object set.
func NewValidationObjectSet() *ValidationObjectSet {
	return &ValidationObjectSet{
		objects: make(map[string]*ValidationObject),
	}
}

func objectKey(t ValidationObjectType, id string) string {
	return t.String() + "/" + id
}

// Add adds obj unless an object of the same type and identifier is already
// present. It reports whether obj was added.
func (s *ValidationObjectSet) Add(obj *ValidationObject) bool {
	if obj == nil || obj.Identifier == "" {
		return false
	}
	key := objectKey(obj.ObjectType, obj.Identifier)
	if _, ok := s.objects[key]; ok {
		return false
	}
	s.objects[key] = obj
	s.order = append(s.order, key)
	return true
}

// Get returns a validation object by type and identifier.
func (s *ValidationObjectSet) Get(t ValidationObjectType, identifier string) (*ValidationObject, bool) {
	obj, ok := s.objects[objectKey(t, identifier)]
	return obj, ok
}

// All returns all validation objects in insertion order.
func (s *ValidationObjectSet) All() []*ValidationObject {
	result := make([]*ValidationObject, 0, len(s.order))
	for _, key := range s.order {
		result = append(result, s.objects[key])
	}
	return result
}

// OfType returns the objects of type t in insertion order.
func (s *ValidationObjectSet) OfType(t ValidationObjectType) []*ValidationObject {
	var result []*ValidationObject
	for _, key := range s.order {
		if obj := s.objects[key]; obj.ObjectType == t {
			result = append(result, obj)
		}
	}
	return result
}

// Count returns the number of objects.
func (s *ValidationObjectSet) Count() int {
	return len(s.order)
}

func certificateObject(tok *certvalidator.CertificateToken) *ValidationObject {
	return &ValidationObject{
		ObjectType: ValidationObjectCertificate,
		Identifier: tok.ID(),
		Value:      tok,
	}
}

func timestampObject(ts *timestamps.TimestampToken) *ValidationObject {
	return &ValidationObject{
		ObjectType: ValidationObjectTimestamp,
		Identifier: ts.ID(),
		Value:      ts,
	}
}

// revocationObject wraps tok. Revocation objects are keyed by the composite
// token identifier so that evidence reached through several sources is kept
// once.
func revocationObject(tok revinfo.RevocationToken) (*ValidationObject, error) {
	var t ValidationObjectType
	switch tok.Origin() {
	case revinfo.OriginCRL:
		t = ValidationObjectCRL
	case revinfo.OriginOCSP:
		t = ValidationObjectOCSP
	default:
		return nil, fmt.Errorf("%w: %v", revinfo.ErrUnknownOrigin, tok.Origin())
	}
	return &ValidationObject{
		ObjectType: t,
		Identifier: tok.Identifier().Key(),
		Value:      tok,
	}, nil
}
