// Package matcher evaluates attribute-whitelist predicate trees against
// entity metadata.
//
// A predicate is either a scalar pattern, matched against the string form
// of a candidate value, or a keyed node whose branches must each find a
// matching counterpart in the candidate. Branch keys are positional
// (non-negative integers) or patterns matched against candidate key names.
// Candidate ordering never affects the result.
package matcher

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
)

// KeyKind discriminates branch keys
type KeyKind int

const (
	// Positional keys require the index to exist among the candidate keys;
	// the value may match at any position.
	Positional KeyKind = iota
	// PatternKey keys select candidate keys whose names match a regex.
	PatternKey
)

// Key of a keyed predicate branch
type Key struct {
	Kind    KeyKind
	Index   int
	Pattern *regexp.Regexp
}

func (k Key) String() string {
	if k.Kind == Positional {
		return strconv.Itoa(k.Index)
	}
	return k.Pattern.String()
}

// Branch is one key/value pair of a keyed predicate.
type Branch struct {
	Key   Key
	Value *Predicate
}

// Predicate = Scalar(pattern) | Keyed(branches)
type Predicate struct {
	scalar   *regexp.Regexp
	branches []Branch
}

// Scalar builds a leaf predicate from a pattern.
func Scalar(pattern string) (*Predicate, error) {
	re, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	return &Predicate{scalar: re}, nil
}

// MustScalar is Scalar for static patterns; it panics on a bad pattern.
func MustScalar(pattern string) *Predicate {
	p, err := Scalar(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Keyed builds a composite predicate.
func Keyed(branches ...Branch) *Predicate {
	if branches == nil {
		branches = []Branch{}
	}
	return &Predicate{branches: branches}
}

// At is a positional branch.
func At(index int, value *Predicate) Branch {
	return Branch{Key: Key{Kind: Positional, Index: index}, Value: value}
}

// Field is a pattern-keyed branch.
func Field(pattern string, value *Predicate) (Branch, error) {
	re, err := CompilePattern(pattern)
	if err != nil {
		return Branch{}, err
	}
	return Branch{Key: Key{Kind: PatternKey, Pattern: re}, Value: value}, nil
}

// IsScalar reports whether p is a leaf.
func (p *Predicate) IsScalar() bool {
	return p.scalar != nil
}

// Branches of a keyed predicate; nil for scalars.
func (p *Predicate) Branches() []Branch {
	return p.branches
}

// Matches reports whether candidate structurally contains p.
func Matches(p *Predicate, candidate any) bool {
	if p == nil {
		return true
	}
	if p.IsScalar() {
		return p.scalar.MatchString(Stringify(candidate))
	}

	entries, ok := entriesOf(candidate)
	if !ok {
		return false
	}

	for _, b := range p.branches {
		if !branchMatches(b, entries) {
			return false
		}
	}
	return true
}

// AnyMatches is the OR across alternatives. An empty list never matches;
// callers treat "no alternatives configured" as a disabled gate.
func AnyMatches(alternatives []*Predicate, candidate any) bool {
	for _, p := range alternatives {
		if Matches(p, candidate) {
			return true
		}
	}
	return false
}

func branchMatches(b Branch, entries []entry) bool {
	switch b.Key.Kind {
	case Positional:
		want := strconv.Itoa(b.Key.Index)
		present := false
		for _, e := range entries {
			if e.key == want {
				present = true
				break
			}
		}
		if !present {
			return false
		}
		// position is not required to align
		for _, e := range entries {
			if Matches(b.Value, e.value) {
				return true
			}
		}
		return false
	default:
		for _, e := range entries {
			if b.Key.Pattern.MatchString(e.key) && Matches(b.Value, e.value) {
				return true
			}
		}
		return false
	}
}

type entry struct {
	key   string
	value any
}

func entriesOf(v any) ([]entry, bool) {
	switch c := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		out := make([]entry, 0, len(c))
		for k, val := range c {
			out = append(out, entry{key: k, value: val})
		}
		return out, true
	case []any:
		out := make([]entry, len(c))
		for i, val := range c {
			out[i] = entry{key: strconv.Itoa(i), value: val}
		}
		return out, true
	case []string:
		out := make([]entry, len(c))
		for i, val := range c {
			out[i] = entry{key: strconv.Itoa(i), value: val}
		}
		return out, true
	case []byte:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		out := make([]entry, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out = append(out, entry{key: Stringify(iter.Key().Interface()), value: iter.Value().Interface()})
		}
		return out, true
	case reflect.Slice, reflect.Array:
		out := make([]entry, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = entry{key: strconv.Itoa(i), value: rv.Index(i).Interface()}
		}
		return out, true
	}
	return nil, false
}

// Stringify renders a candidate value the way scalar patterns see it.
// Booleans follow the "1"/"" convention of the metadata tooling.
func Stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		if s {
			return "1"
		}
		return ""
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case int32:
		return strconv.FormatInt(int64(s), 10)
	case uint64:
		return strconv.FormatUint(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32)
	case []byte:
		return string(s)
	case fmt.Stringer:
		return s.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return "Array"
	}
	return fmt.Sprint(v)
}

// String renders p in a stable, YAML-like form for logs.
func (p *Predicate) String() string {
	if p == nil {
		return "<nil>"
	}
	if p.IsScalar() {
		return strconv.Quote(p.scalar.String())
	}
	parts := make([]string, len(p.branches))
	for i, b := range p.branches {
		parts[i] = b.Key.String() + ": " + b.Value.String()
	}
	sort.Strings(parts)
	out := "{"
	for i, s := range parts {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out + "}"
}
