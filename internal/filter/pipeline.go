// Package filter decides which parsed entities of a source are kept and
// which template applies to each of them.
package filter

import (
	"crypto/x509"
	"fmt"

	"github.com/metarefresh/metarefresh/internal/descriptor"
	"github.com/metarefresh/metarefresh/internal/matcher"
	"github.com/metarefresh/metarefresh/internal/models"
)

// Gate identifies the check that dropped an entity.
type Gate string

const (
	GateNone               Gate = ""
	GateBlacklist          Gate = "blacklist"
	GateWhitelist          Gate = "whitelist"
	GateAttributeWhitelist Gate = "attributewhitelist"
	GateSignature          Gate = "signature"
)

// Rules are the effective (already inherited) options of one source.
type Rules struct {
	Blacklist          []string
	Whitelist          []string
	AttributeWhitelist []*matcher.Predicate
	Certificates       []*x509.Certificate
	Template           models.Record
	RegexTemplates     models.RegexTemplates
}

// Verdict of Check
type Verdict struct {
	Keep   bool
	Gate   Gate
	Reason string
}

var keep = Verdict{Keep: true}

func drop(g Gate, format string, args ...any) Verdict {
	return Verdict{Gate: g, Reason: fmt.Sprintf(format, args...)}
}

type Pipeline struct {
	rules     Rules
	blacklist map[string]struct{}
	whitelist map[string]struct{}
}

func New(rules Rules) *Pipeline {
	return &Pipeline{
		rules:     rules,
		blacklist: toSet(rules.Blacklist),
		whitelist: toSet(rules.Whitelist),
	}
}

func toSet(list []string) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, s := range list {
		out[s] = struct{}{}
	}
	return out
}

// Check applies the gates in order: blacklist, whitelist, attribute
// whitelist, signature. The first gate that drops wins.
func (p *Pipeline) Check(d descriptor.Descriptor) Verdict {
	id := d.EntityID()

	if _, ok := p.blacklist[id]; ok {
		return drop(GateBlacklist, "skipping %q - blacklisted", id)
	}

	if len(p.whitelist) > 0 {
		if _, ok := p.whitelist[id]; !ok {
			return drop(GateWhitelist, "skipping %q - not in the whitelist", id)
		}
	}

	// Only IdP metadata is curated by attribute; other roles never pass.
	if len(p.rules.AttributeWhitelist) > 0 {
		idp := d.IdP()
		if idp == nil {
			return drop(GateAttributeWhitelist, "skipping %q - not an identity provider", id)
		}
		if !matcher.AnyMatches(p.rules.AttributeWhitelist, map[string]any(idp)) {
			return drop(GateAttributeWhitelist, "skipping %q - no attribute whitelist entry matched", id)
		}
	}

	if len(p.rules.Certificates) > 0 && !d.VerifySignature(p.rules.Certificates) {
		return drop(GateSignature, "skipping %q - could not verify signature using certificate(s)", id)
	}

	return keep
}

// Template resolves the template for an entity: the flat template first,
// then every matching regex template in configured order. Later rules
// overwrite earlier keys. Nil when nothing applies.
func (p *Pipeline) Template(entityID string) models.Record {
	var out models.Record
	if len(p.rules.Template) > 0 {
		out = p.rules.Template.Clone()
	}
	for _, rt := range p.rules.RegexTemplates {
		if !rt.Matches(entityID) {
			continue
		}
		if out == nil {
			out = models.Record{}
		}
		for k, v := range rt.Template {
			out[k] = v
		}
	}
	return out
}
