// Package descriptor is the boundary to metadata document parsing and
// signature validation. The refresh pipeline only sees the Parser and
// Descriptor interfaces; SAMLParser is the bundled implementation.
package descriptor

import (
	"crypto/x509"
	"errors"

	"github.com/metarefresh/metarefresh/internal/models"
)

// ErrParse marks a malformed metadata document.
var ErrParse = errors.New("malformed metadata document")

// Descriptor is one parsed entity with its per-type projections. A
// projection returns nil when the entity has no such role.
type Descriptor interface {
	EntityID() string
	IdP() models.Record
	SP() models.Record
	AttributeAuthority() models.Record
	// VerifySignature reports whether the entity is signed by one of certs.
	VerifySignature(certs []*x509.Certificate) bool
}

// Parser turns a metadata document into descriptors. Errors wrap ErrParse.
type Parser interface {
	Parse(data []byte) ([]Descriptor, error)
}

// Project returns the record for an entity type, or nil.
func Project(d Descriptor, entityType string) models.Record {
	switch entityType {
	case models.TypeIdP:
		return d.IdP()
	case models.TypeSP:
		return d.SP()
	case models.TypeAttributeAuthority:
		return d.AttributeAuthority()
	}
	return nil
}
