package descriptor

import (
	"crypto/sha256"
	"crypto/x509"
	"sync"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/russellhaering/goxmldsig/etreeutils"
)

const nsDSig = "http://www.w3.org/2000/09/xmldsig#"

// signedElement is an EntitiesDescriptor or EntityDescriptor carrying an
// enveloped ds:Signature. Every entity below a signed group asks about the
// same element, so outcomes are memoized per certificate set.
type signedElement struct {
	el *etree.Element

	mu       sync.Mutex
	verified map[string]bool
}

func newSignedElement(el *etree.Element) *signedElement {
	return &signedElement{el: el, verified: map[string]bool{}}
}

// hasSignature reports whether el has a ds:Signature child.
func hasSignature(el *etree.Element) bool {
	if el == nil {
		return false
	}
	for _, c := range el.ChildElements() {
		if c.Tag == "Signature" && c.NamespaceURI() == nsDSig {
			return true
		}
	}
	return false
}

func (s *signedElement) verify(certs []*x509.Certificate) bool {
	key := certSetKey(certs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ok, seen := s.verified[key]; seen {
		return ok
	}
	ok := validateEnveloped(s.el, certs)
	s.verified[key] = ok
	return ok
}

func certSetKey(certs []*x509.Certificate) string {
	h := sha256.New()
	for _, c := range certs {
		if c != nil {
			h.Write(c.Raw)
		}
	}
	return string(h.Sum(nil))
}

// validateEnveloped checks the signature on el against each certificate
// in turn. Configured certificates are pinned trust anchors, so their
// validity period is not enforced.
func validateEnveloped(el *etree.Element, certs []*x509.Certificate) bool {
	// A nested element relies on prefixes declared by its ancestors.
	nsctx, err := etreeutils.NSBuildParentContext(el)
	if err != nil {
		return false
	}
	detached, err := etreeutils.NSDetatch(nsctx, el)
	if err != nil {
		return false
	}

	for _, cert := range certs {
		if cert == nil {
			continue
		}
		vc := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
			Roots: []*x509.Certificate{cert},
		})
		vc.Clock = dsig.NewFakeClockAt(cert.NotBefore)
		if _, err := vc.Validate(detached); err == nil {
			return true
		}
	}
	return false
}

// childElements returns the direct children of el with the given local name.
func childElements(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}
