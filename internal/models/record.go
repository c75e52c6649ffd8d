package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Entity types (metadata sets)
const (
	TypeIdP                = "saml20-idp-remote"
	TypeSP                 = "saml20-sp-remote"
	TypeAttributeAuthority = "attributeauthority-remote"
)

// AllTypes in canonical output order
var AllTypes = []string{TypeIdP, TypeSP, TypeAttributeAuthority}

// IsValidType check
func IsValidType(t string) bool {
	for _, v := range AllTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Well-known record keys
const (
	KeyEntityID = "entityid"
	// KeySource is the provenance tag: the source a record was loaded from.
	KeySource = "metarefresh:src"
	KeyExpire = "expire"
)

// Record is one entity's metadata for one type.
type Record map[string]any

// EntityID of the record
func (r Record) EntityID() string {
	s, _ := r[KeyEntityID].(string)
	return s
}

// Source provenance tag
func (r Record) Source() string {
	s, _ := r[KeySource].(string)
	return s
}

// Expire returns the expiry as unix seconds.
func (r Record) Expire() (int64, bool) {
	v, ok := r[KeyExpire]
	if !ok {
		return 0, false
	}
	return ToUnix(v)
}

// Clone is shallow: nested values are shared.
func (r Record) Clone() Record {
	out := make(Record, len(r)+2)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge overwrites keys of r with those of overlay (shallow).
func (r Record) Merge(overlay Record) Record {
	out := r.Clone()
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// ToUnix converts a decoded numeric value to unix seconds.
func ToUnix(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// Entry is an accumulated record with the source that produced it.
type Entry struct {
	Source string
	Record Record
}

// Normalize converts decoded YAML values into JSON-compatible shapes:
// map[any]any becomes map[string]any, recursively.
func Normalize(v any) any {
	switch c := v.(type) {
	case Record:
		return map[string]any(NormalizeRecord(c))
	case map[string]any:
		out := make(map[string]any, len(c))
		for k, val := range c {
			out[k] = Normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(c))
		for k, val := range c {
			out[fmt.Sprint(k)] = Normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(c))
		for i, val := range c {
			out[i] = Normalize(val)
		}
		return out
	}
	return v
}

// NormalizeRecord applies Normalize to every value.
func NormalizeRecord(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = Normalize(v)
	}
	return out
}
