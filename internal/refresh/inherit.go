package refresh

import (
	"github.com/metarefresh/metarefresh/internal/matcher"
	"github.com/metarefresh/metarefresh/internal/models"
)

// union keeps first occurrence order and drops duplicates.
func union(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, l := range lists {
		for _, s := range l {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func concatPredicates(lists ...[]*matcher.Predicate) []*matcher.Predicate {
	var out []*matcher.Predicate
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// firstSet returns the most specific explicit flag.
func firstSet(flags ...*bool) *bool {
	for _, f := range flags {
		if f != nil {
			return f
		}
	}
	return nil
}

// setTypes are the types a set manages by default: its own list, else
// the global list, else all types.
func setTypes(cfg *models.Config, set models.Set) []string {
	switch {
	case len(set.Types) > 0:
		return set.Types
	case len(cfg.Types) > 0:
		return cfg.Types
	}
	return models.AllTypes
}

// sourceTypes lets a source narrow or widen the set's types.
func sourceTypes(cfg *models.Config, set models.Set, src models.Source) []string {
	if len(src.Types) > 0 {
		return src.Types
	}
	return setTypes(cfg, set)
}

// managedTypes are the output artifacts a set owns: its types plus any
// type a source asks for, in canonical order.
func managedTypes(cfg *models.Config, set models.Set) []string {
	want := map[string]bool{}
	for _, t := range setTypes(cfg, set) {
		want[t] = true
	}
	for _, src := range set.Sources {
		for _, t := range src.Types {
			want[t] = true
		}
	}
	var out []string
	for _, t := range models.AllTypes {
		if want[t] {
			out = append(out, t)
		}
	}
	return out
}

// effective merges global, set and source options. Lists are unions;
// conditionalGET is the most specific explicit value, default off.
type effective struct {
	Blacklist          []string
	Whitelist          []string
	AttributeWhitelist []*matcher.Predicate
	ConditionalGET     bool
	Types              []string
}

func inherit(cfg *models.Config, set models.Set, src models.Source) effective {
	return effective{
		Blacklist:          union(cfg.Blacklist, set.Blacklist, src.Blacklist),
		Whitelist:          union(cfg.Whitelist, set.Whitelist, src.Whitelist),
		AttributeWhitelist: concatPredicates(cfg.AttributeWhitelist, set.AttributeWhitelist, src.AttributeWhitelist),
		ConditionalGET:     models.BoolValue(firstSet(src.ConditionalGET, set.ConditionalGET, cfg.ConditionalGET), false),
		Types:              sourceTypes(cfg, set, src),
	}
}
