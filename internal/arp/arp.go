// Package arp renders a Shibboleth attribute filter policy group
// releasing to each service provider the attributes it requests.
package arp

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/metarefresh/metarefresh/internal/generated"
	"github.com/metarefresh/metarefresh/internal/models"
)

// DefaultGroupID of the policy group element
const DefaultGroupID = "urn:metarefresh:arp"

const (
	nsAFP   = "urn:mace:shibboleth:2.0:afp"
	nsBasic = "urn:mace:shibboleth:2.0:afp:mf:basic"
	nsSAML  = "urn:mace:shibboleth:2.0:afp:mf:saml"
	nsXSI   = "http://www.w3.org/2001/XMLSchema-instance"

	schemaLocation = "urn:mace:shibboleth:2.0:afp classpath:/schema/shibboleth-2.0-afp.xsd " +
		"urn:mace:shibboleth:2.0:afp:mf:basic classpath:/schema/shibboleth-2.0-afp-mf-basic.xsd " +
		"urn:mace:shibboleth:2.0:afp:mf:saml classpath:/schema/shibboleth-2.0-afp-mf-saml.xsd"
)

type policyGroup struct {
	XMLName        xml.Name `xml:"AttributeFilterPolicyGroup"`
	ID             string   `xml:"id,attr"`
	Xmlns          string   `xml:"xmlns,attr"`
	XmlnsBasic     string   `xml:"xmlns:basic,attr"`
	XmlnsSAML      string   `xml:"xmlns:saml,attr"`
	XmlnsXSI       string   `xml:"xmlns:xsi,attr"`
	SchemaLocation string   `xml:"xsi:schemaLocation,attr"`
	Policies       []policy `xml:"AttributeFilterPolicy"`
}

type policy struct {
	ID          string          `xml:"id,attr"`
	Requirement typedValue      `xml:"PolicyRequirementRule"`
	Rules       []attributeRule `xml:"AttributeRule"`
}

type typedValue struct {
	Type  string `xml:"xsi:type,attr"`
	Value string `xml:"value,attr,omitempty"`
}

type attributeRule struct {
	AttributeID string     `xml:"attributeID,attr"`
	Permit      typedValue `xml:"PermitValueRule"`
}

// Generator builds the policy document.
type Generator struct {
	// AttributeMap renames attributes before prefix and suffix apply.
	// Unmapped names pass through.
	AttributeMap map[string]string
	Prefix       string
	Suffix       string
	GroupID      string
}

// AttributeID maps and wraps one attribute name.
func (g Generator) AttributeID(name string) string {
	if mapped, ok := g.AttributeMap[name]; ok {
		name = mapped
	}
	return g.Prefix + name + g.Suffix
}

// Generate renders one policy per record, in order.
func (g Generator) Generate(records []models.Record) ([]byte, error) {
	groupID := g.GroupID
	if groupID == "" {
		groupID = DefaultGroupID
	}
	doc := policyGroup{
		ID:             groupID,
		Xmlns:          nsAFP,
		XmlnsBasic:     nsBasic,
		XmlnsSAML:      nsSAML,
		XmlnsXSI:       nsXSI,
		SchemaLocation: schemaLocation,
	}
	for _, rec := range records {
		id := rec.EntityID()
		p := policy{
			ID:          id,
			Requirement: typedValue{Type: "basic:AttributeRequesterString", Value: id},
		}
		for _, name := range requestedAttributes(rec) {
			p.Rules = append(p.Rules, attributeRule{
				AttributeID: g.AttributeID(name),
				Permit:      typedValue{Type: "basic:ANY"},
			})
		}
		doc.Policies = append(doc.Policies, p)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode attribute filter policy: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func requestedAttributes(rec models.Record) []string {
	switch attrs := rec["attributes"].(type) {
	case []string:
		return attrs
	case []any:
		out := make([]string, 0, len(attrs))
		for _, a := range attrs {
			if s, ok := a.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// LoadAttributeMap reads a YAML mapping of attribute name to id.
func LoadAttributeMap(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attribute map: %w", err)
	}
	var m map[string]string
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse attribute map %s: %w", path, err)
	}
	return m, nil
}

// FromConfig builds a generator, resolving a relative attribute map
// path against baseDir.
func FromConfig(cfg models.ARPConfig, baseDir string) (Generator, error) {
	g := Generator{Prefix: cfg.Prefix, Suffix: cfg.Suffix}
	if cfg.AttributeMap == "" {
		return g, nil
	}
	path := cfg.AttributeMap
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}
	m, err := LoadAttributeMap(path)
	if err != nil {
		return g, err
	}
	g.AttributeMap = m
	return g, nil
}

// Types selects the entity types fed to the generator; service
// providers by default.
func Types(cfg models.ARPConfig) []string {
	if len(cfg.Types) == 0 {
		return []string{models.TypeSP}
	}
	return cfg.Types
}

// WriteFile generates and atomically writes the policy document.
func (g Generator) WriteFile(path string, records []models.Record) error {
	data, err := g.Generate(records)
	if err != nil {
		return err
	}
	return generated.WriteFile(path, data, 0644)
}
