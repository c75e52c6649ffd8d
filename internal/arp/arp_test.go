package arp

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/metarefresh/metarefresh/internal/models"
)

type parsedGroup struct {
	ID       string `xml:"id,attr"`
	Policies []struct {
		ID          string `xml:"id,attr"`
		Requirement struct {
			Value string `xml:"value,attr"`
		} `xml:"PolicyRequirementRule"`
		Rules []struct {
			AttributeID string `xml:"attributeID,attr"`
		} `xml:"AttributeRule"`
	} `xml:"AttributeFilterPolicy"`
}

func parse(t *testing.T, data []byte) parsedGroup {
	t.Helper()
	var g parsedGroup
	if err := xml.Unmarshal(data, &g); err != nil {
		t.Fatalf("generated document is not valid XML: %v\n%s", err, data)
	}
	return g
}

func TestGenerate(t *testing.T) {
	g := Generator{
		AttributeMap: map[string]string{"urn:oid:2.5.4.42": "givenName"},
		Prefix:       "pre-",
		Suffix:       "-suf",
	}
	records := []models.Record{
		{"entityid": "https://sp1.example/?a=1&b=2", "attributes": []any{"urn:oid:2.5.4.42", "mail"}},
		{"entityid": "https://sp2.example", "attributes": []string{"eduPersonPrincipalName"}},
		{"entityid": "https://sp3.example"},
	}

	data, err := g.Generate(records)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.HasPrefix(string(data), "<?xml") {
		t.Error("missing XML declaration")
	}
	if !strings.Contains(string(data), "&amp;") {
		t.Error("entity ids should be escaped")
	}

	doc := parse(t, data)
	if doc.ID != DefaultGroupID {
		t.Errorf("group id = %q", doc.ID)
	}
	if len(doc.Policies) != 3 {
		t.Fatalf("expected 3 policies, got %d", len(doc.Policies))
	}

	first := doc.Policies[0]
	if first.ID != "https://sp1.example/?a=1&b=2" || first.Requirement.Value != first.ID {
		t.Errorf("policy id = %q, requirement = %q", first.ID, first.Requirement.Value)
	}
	var ids []string
	for _, r := range first.Rules {
		ids = append(ids, r.AttributeID)
	}
	if strings.Join(ids, ",") != "pre-givenName-suf,pre-mail-suf" {
		t.Errorf("attribute ids = %v", ids)
	}
	if len(doc.Policies[1].Rules) != 1 || len(doc.Policies[2].Rules) != 0 {
		t.Errorf("unexpected rules: %+v", doc.Policies)
	}
}

func TestGenerate_Empty(t *testing.T) {
	data, err := Generator{GroupID: "urn:test"}.Generate(nil)
	if err != nil {
		t.Fatal(err)
	}
	doc := parse(t, data)
	if doc.ID != "urn:test" || len(doc.Policies) != 0 {
		t.Errorf("unexpected document: %+v", doc)
	}
}

func TestAttributeID(t *testing.T) {
	tests := []struct {
		name string
		gen  Generator
		in   string
		want string
	}{
		{name: "passthrough", in: "mail", want: "mail"},
		{name: "mapped", gen: Generator{AttributeMap: map[string]string{"mail": "email"}}, in: "mail", want: "email"},
		{name: "unmapped with map", gen: Generator{AttributeMap: map[string]string{"cn": "commonName"}}, in: "mail", want: "mail"},
		{name: "prefix only", gen: Generator{Prefix: "p:"}, in: "mail", want: "p:mail"},
		{name: "suffix only", gen: Generator{Suffix: ":s"}, in: "mail", want: "mail:s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.gen.AttributeID(tt.in); got != tt.want {
				t.Errorf("AttributeID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "oid2name.yaml"), []byte("urn:oid:0.9.2342.19200300.100.1.3: mail\n"), 0644); err != nil {
		t.Fatal(err)
	}

	g, err := FromConfig(models.ARPConfig{AttributeMap: "oid2name.yaml", Prefix: "x"}, dir)
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if got := g.AttributeID("urn:oid:0.9.2342.19200300.100.1.3"); got != "xmail" {
		t.Errorf("AttributeID = %q", got)
	}

	if _, err := FromConfig(models.ARPConfig{AttributeMap: "missing.yaml"}, dir); err == nil {
		t.Error("expected error for missing attribute map")
	}
}

func TestTypes(t *testing.T) {
	if got := Types(models.ARPConfig{}); len(got) != 1 || got[0] != models.TypeSP {
		t.Errorf("default types = %v", got)
	}
	custom := []string{models.TypeIdP, models.TypeSP}
	if got := Types(models.ARPConfig{Types: custom}); len(got) != 2 {
		t.Errorf("types = %v", got)
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arp.xml")
	if err := (Generator{}).WriteFile(path, []models.Record{{"entityid": "urn:sp"}}); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if doc := parse(t, data); len(doc.Policies) != 1 {
		t.Errorf("policies = %d", len(doc.Policies))
	}
}
