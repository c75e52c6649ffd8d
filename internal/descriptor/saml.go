package descriptor

import (
	"bytes"
	"crypto/x509"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/metarefresh/metarefresh/internal/models"
)

const (
	nsMetadata  = "urn:oasis:names:tc:SAML:2.0:metadata"
	protocolV20 = "urn:oasis:names:tc:SAML:2.0:protocol"
)

// SAMLParser projects SAML 2.0 metadata (EntitiesDescriptor or a single
// EntityDescriptor) into flat records.
//
// An entity counts as signed when an enveloped XML signature on the entity
// itself or on an enclosing EntitiesDescriptor validates against one of
// the configured certificates.
type SAMLParser struct{}

// NewSAMLParser constructor
func NewSAMLParser() *SAMLParser {
	return &SAMLParser{}
}

type xmlEntities struct {
	ValidUntil string        `xml:"validUntil,attr"`
	Entities   []xmlEntity   `xml:"EntityDescriptor"`
	Nested     []xmlEntities `xml:"EntitiesDescriptor"`
}

type xmlEntity struct {
	EntityID     string           `xml:"entityID,attr"`
	ValidUntil   string           `xml:"validUntil,attr"`
	Extensions   *xmlExtensions   `xml:"Extensions"`
	IDPs         []xmlRole        `xml:"IDPSSODescriptor"`
	SPs          []xmlRole        `xml:"SPSSODescriptor"`
	AAs          []xmlRole        `xml:"AttributeAuthorityDescriptor"`
	Organization *xmlOrganization `xml:"Organization"`
	Contacts     []xmlContact     `xml:"ContactPerson"`
}

type xmlExtensions struct {
	RegistrationInfo *struct {
		Authority string `xml:"registrationAuthority,attr"`
		Instant   string `xml:"registrationInstant,attr"`
	} `xml:"RegistrationInfo"`
	EntityAttributes *struct {
		Attributes []xmlAttribute `xml:"Attribute"`
	} `xml:"EntityAttributes"`
}

type xmlAttribute struct {
	Name   string   `xml:"Name,attr"`
	Values []string `xml:"AttributeValue"`
}

type xmlLocalized struct {
	Lang  string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
	Value string `xml:",chardata"`
}

type xmlRoleExtensions struct {
	Scopes []string `xml:"Scope"`
	UIInfo *struct {
		DisplayNames []xmlLocalized `xml:"DisplayName"`
		Descriptions []xmlLocalized `xml:"Description"`
	} `xml:"UIInfo"`
}

type xmlEndpoint struct {
	Binding          string `xml:"Binding,attr"`
	Location         string `xml:"Location,attr"`
	ResponseLocation string `xml:"ResponseLocation,attr"`
	Index            string `xml:"index,attr"`
	IsDefault        string `xml:"isDefault,attr"`
}

type xmlKey struct {
	Use          string   `xml:"use,attr"`
	Certificates []string `xml:"KeyInfo>X509Data>X509Certificate"`
}

type xmlRequestedAttribute struct {
	Name       string `xml:"Name,attr"`
	NameFormat string `xml:"NameFormat,attr"`
	IsRequired string `xml:"isRequired,attr"`
}

type xmlAttributeConsumingService struct {
	Requested []xmlRequestedAttribute `xml:"RequestedAttribute"`
}

type xmlRole struct {
	ProtocolSupport         string                         `xml:"protocolSupportEnumeration,attr"`
	WantAuthnRequestsSigned string                         `xml:"WantAuthnRequestsSigned,attr"`
	AuthnRequestsSigned     string                         `xml:"AuthnRequestsSigned,attr"`
	WantAssertionsSigned    string                         `xml:"WantAssertionsSigned,attr"`
	Extensions              *xmlRoleExtensions             `xml:"Extensions"`
	Keys                    []xmlKey                       `xml:"KeyDescriptor"`
	NameIDFormats           []string                       `xml:"NameIDFormat"`
	SSO                     []xmlEndpoint                  `xml:"SingleSignOnService"`
	SLO                     []xmlEndpoint                  `xml:"SingleLogoutService"`
	ACS                     []xmlEndpoint                  `xml:"AssertionConsumerService"`
	ArtifactResolution      []xmlEndpoint                  `xml:"ArtifactResolutionService"`
	AttributeService        []xmlEndpoint                  `xml:"AttributeService"`
	AttributeConsuming      []xmlAttributeConsumingService `xml:"AttributeConsumingService"`
}

type xmlOrganization struct {
	Names        []xmlLocalized `xml:"OrganizationName"`
	DisplayNames []xmlLocalized `xml:"OrganizationDisplayName"`
	URLs         []xmlLocalized `xml:"OrganizationURL"`
}

type xmlContact struct {
	Type      string   `xml:"contactType,attr"`
	Company   string   `xml:"Company"`
	GivenName string   `xml:"GivenName"`
	SurName   string   `xml:"SurName"`
	Emails    []string `xml:"EmailAddress"`
	Phones    []string `xml:"TelephoneNumber"`
}

// Parse a metadata document.
func (p *SAMLParser) Parse(data []byte) ([]Descriptor, error) {
	// The tree keeps the exact signed content for signature validation.
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	rootEl := doc.Root()
	if rootEl == nil {
		return nil, fmt.Errorf("%w: no root element", ErrParse)
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: no root element", ErrParse)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Space != nsMetadata {
			return nil, fmt.Errorf("%w: unexpected root element {%s}%s", ErrParse, start.Name.Space, start.Name.Local)
		}

		switch start.Name.Local {
		case "EntitiesDescriptor":
			var root xmlEntities
			if err := dec.DecodeElement(&root, &start); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrParse, err)
			}
			var out []Descriptor
			if err := collect(&out, root, rootEl, chain{}); err != nil {
				return nil, err
			}
			return out, nil
		case "EntityDescriptor":
			var e xmlEntity
			if err := dec.DecodeElement(&e, &start); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrParse, err)
			}
			d, err := newEntity(e, rootEl, chain{})
			if err != nil {
				return nil, err
			}
			return []Descriptor{d}, nil
		default:
			return nil, fmt.Errorf("%w: unexpected root element %s", ErrParse, start.Name.Local)
		}
	}
}

// chain carries what enclosing EntitiesDescriptors contribute.
type chain struct {
	expire int64
	signed []*signedElement
}

func (c chain) with(validUntil string, el *etree.Element) (chain, error) {
	next := chain{expire: c.expire, signed: c.signed}
	if validUntil != "" {
		ts, err := parseValidUntil(validUntil)
		if err != nil {
			return next, err
		}
		if next.expire == 0 || ts < next.expire {
			next.expire = ts
		}
	}
	if hasSignature(el) {
		next.signed = append(append([]*signedElement(nil), c.signed...), newSignedElement(el))
	}
	return next, nil
}

func collect(out *[]Descriptor, group xmlEntities, el *etree.Element, parent chain) error {
	c, err := parent.with(group.ValidUntil, el)
	if err != nil {
		return err
	}
	entityEls := childElements(el, "EntityDescriptor")
	nestedEls := childElements(el, "EntitiesDescriptor")
	if len(entityEls) != len(group.Entities) || len(nestedEls) != len(group.Nested) {
		return fmt.Errorf("%w: inconsistent EntitiesDescriptor structure", ErrParse)
	}
	for i, e := range group.Entities {
		d, err := newEntity(e, entityEls[i], c)
		if err != nil {
			return err
		}
		*out = append(*out, d)
	}
	for i, nested := range group.Nested {
		if err := collect(out, nested, nestedEls[i], c); err != nil {
			return err
		}
	}
	return nil
}

func parseValidUntil(s string) (int64, error) {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid validUntil %q", ErrParse, s)
	}
	return ts.Unix(), nil
}

// compact strips whitespace from base64 content.
func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}

type samlEntity struct {
	id      string
	idp     models.Record
	sp      models.Record
	aa      models.Record
	// outermost first
	signed []*signedElement
}

func (e *samlEntity) EntityID() string                  { return e.id }
func (e *samlEntity) IdP() models.Record                { return e.idp }
func (e *samlEntity) SP() models.Record                 { return e.sp }
func (e *samlEntity) AttributeAuthority() models.Record { return e.aa }

func (e *samlEntity) VerifySignature(certs []*x509.Certificate) bool {
	for i := len(e.signed) - 1; i >= 0; i-- {
		if e.signed[i].verify(certs) {
			return true
		}
	}
	return false
}

func newEntity(e xmlEntity, el *etree.Element, parent chain) (*samlEntity, error) {
	if strings.TrimSpace(e.EntityID) == "" {
		return nil, fmt.Errorf("%w: EntityDescriptor without entityID", ErrParse)
	}
	c, err := parent.with(e.ValidUntil, el)
	if err != nil {
		return nil, err
	}

	out := &samlEntity{id: e.EntityID, signed: c.signed}
	if role := firstSAML2(e.IDPs); role != nil {
		out.idp = idpRecord(e, *role, c.expire)
	}
	if role := firstSAML2(e.SPs); role != nil {
		out.sp = spRecord(e, *role, c.expire)
	}
	if len(e.AAs) > 0 {
		out.aa = aaRecord(e, e.AAs[0], c.expire)
	}
	return out, nil
}

func firstSAML2(roles []xmlRole) *xmlRole {
	for i := range roles {
		if strings.Contains(roles[i].ProtocolSupport, protocolV20) {
			return &roles[i]
		}
	}
	return nil
}

func baseRecord(e xmlEntity, role xmlRole, set string, expire int64) models.Record {
	r := models.Record{
		models.KeyEntityID: e.EntityID,
		"metadata-set":     set,
	}
	if expire > 0 {
		r[models.KeyExpire] = expire
	}
	if keys := keyList(role.Keys); len(keys) > 0 {
		r["keys"] = keys
	}
	if len(role.NameIDFormats) > 0 {
		r["NameIDFormats"] = trimmedList(role.NameIDFormats)
	}

	if e.Organization != nil {
		if m := localized(e.Organization.Names); m != nil {
			r["OrganizationName"] = m
		}
		if m := localized(e.Organization.DisplayNames); m != nil {
			r["OrganizationDisplayName"] = m
			r["name"] = m
		}
		if m := localized(e.Organization.URLs); m != nil {
			r["OrganizationURL"] = m
		}
	}
	if ext := role.Extensions; ext != nil {
		if len(ext.Scopes) > 0 {
			r["scope"] = trimmedList(ext.Scopes)
		}
		if ext.UIInfo != nil {
			if m := localized(ext.UIInfo.DisplayNames); m != nil {
				r["name"] = m
				r["UIInfo"] = map[string]any{"DisplayName": m}
			}
			if m := localized(ext.UIInfo.Descriptions); m != nil {
				r["description"] = m
			}
		}
	}
	if ext := e.Extensions; ext != nil {
		if ri := ext.RegistrationInfo; ri != nil && ri.Authority != "" {
			info := map[string]any{"registrationAuthority": ri.Authority}
			if ri.Instant != "" {
				info["registrationInstant"] = ri.Instant
			}
			r["RegistrationInfo"] = info
		}
		if ea := ext.EntityAttributes; ea != nil && len(ea.Attributes) > 0 {
			attrs := make(map[string]any, len(ea.Attributes))
			for _, a := range ea.Attributes {
				vals, _ := attrs[a.Name].([]any)
				for _, v := range a.Values {
					vals = append(vals, strings.TrimSpace(v))
				}
				attrs[a.Name] = vals
			}
			r["EntityAttributes"] = attrs
		}
	}
	if contacts := contactList(e.Contacts); len(contacts) > 0 {
		r["contacts"] = contacts
	}
	return r
}

func idpRecord(e xmlEntity, role xmlRole, expire int64) models.Record {
	r := baseRecord(e, role, models.TypeIdP, expire)
	r["SingleSignOnService"] = endpoints(role.SSO, false)
	r["SingleLogoutService"] = endpoints(role.SLO, false)
	if len(role.ArtifactResolution) > 0 {
		r["ArtifactResolutionService"] = endpoints(role.ArtifactResolution, true)
	}
	if role.WantAuthnRequestsSigned == "true" {
		r["sign.authnrequest"] = true
	}
	return r
}

func spRecord(e xmlEntity, role xmlRole, expire int64) models.Record {
	r := baseRecord(e, role, models.TypeSP, expire)
	r["AssertionConsumerService"] = endpoints(role.ACS, true)
	r["SingleLogoutService"] = endpoints(role.SLO, false)
	if role.AuthnRequestsSigned == "true" {
		r["validate.authnrequest"] = true
	}
	if role.WantAssertionsSigned == "true" {
		r["saml20.sign.assertion"] = true
	}
	if len(role.AttributeConsuming) > 0 {
		var names, required []any
		nameFormat := ""
		for _, ra := range role.AttributeConsuming[0].Requested {
			names = append(names, ra.Name)
			if ra.IsRequired == "true" || ra.IsRequired == "1" {
				required = append(required, ra.Name)
			}
			if nameFormat == "" {
				nameFormat = ra.NameFormat
			}
		}
		if len(names) > 0 {
			r["attributes"] = names
		}
		if len(required) > 0 {
			r["attributes.required"] = required
		}
		if nameFormat != "" {
			r["attributes.NameFormat"] = nameFormat
		}
	}
	return r
}

func aaRecord(e xmlEntity, role xmlRole, expire int64) models.Record {
	r := baseRecord(e, role, models.TypeAttributeAuthority, expire)
	r["AttributeService"] = endpoints(role.AttributeService, false)
	r["protocols"] = stringList(strings.Fields(role.ProtocolSupport))
	return r
}

func endpoints(eps []xmlEndpoint, indexed bool) []any {
	out := make([]any, 0, len(eps))
	for _, ep := range eps {
		m := map[string]any{
			"Binding":  ep.Binding,
			"Location": ep.Location,
		}
		if ep.ResponseLocation != "" {
			m["ResponseLocation"] = ep.ResponseLocation
		}
		if indexed && ep.Index != "" {
			m["index"] = ep.Index
		}
		if ep.IsDefault == "true" {
			m["isDefault"] = true
		}
		out = append(out, m)
	}
	return out
}

func keyList(keys []xmlKey) []any {
	var out []any
	for _, k := range keys {
		for _, c := range k.Certificates {
			out = append(out, map[string]any{
				"encryption":      k.Use == "" || k.Use == "encryption",
				"signing":         k.Use == "" || k.Use == "signing",
				"type":            "X509Certificate",
				"X509Certificate": compact(c),
			})
		}
	}
	return out
}

func localized(values []xmlLocalized) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for _, v := range values {
		lang := v.Lang
		if lang == "" {
			lang = "en"
		}
		out[lang] = strings.TrimSpace(v.Value)
	}
	return out
}

func contactList(contacts []xmlContact) []any {
	out := make([]any, 0, len(contacts))
	for _, c := range contacts {
		m := map[string]any{"contactType": c.Type}
		if c.Company != "" {
			m["company"] = strings.TrimSpace(c.Company)
		}
		if c.GivenName != "" {
			m["givenName"] = strings.TrimSpace(c.GivenName)
		}
		if c.SurName != "" {
			m["surName"] = strings.TrimSpace(c.SurName)
		}
		if len(c.Emails) > 0 {
			m["emailAddress"] = trimmedList(c.Emails)
		}
		if len(c.Phones) > 0 {
			m["telephoneNumber"] = trimmedList(c.Phones)
		}
		out = append(out, m)
	}
	return out
}

func trimmedList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func stringList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
