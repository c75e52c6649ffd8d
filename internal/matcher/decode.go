package matcher

import (
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML builds a predicate from configuration. Sequences and
// integer-keyed mappings produce positional branches; every other mapping
// key is a pattern over candidate key names.
func (p *Predicate) UnmarshalYAML(node *yaml.Node) error {
	built, err := fromNode(node)
	if err != nil {
		return err
	}
	*p = *built
	return nil
}

func fromNode(node *yaml.Node) (*Predicate, error) {
	switch node.Kind {
	case yaml.AliasNode:
		return fromNode(node.Alias)
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return Keyed(), nil
		}
		return fromNode(node.Content[0])
	case yaml.ScalarNode:
		return Scalar(node.Value)
	case yaml.SequenceNode:
		branches := make([]Branch, 0, len(node.Content))
		for i, child := range node.Content {
			v, err := fromNode(child)
			if err != nil {
				return nil, err
			}
			branches = append(branches, At(i, v))
		}
		return Keyed(branches...), nil
	case yaml.MappingNode:
		branches := make([]Branch, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			keyNode, valueNode := node.Content[i], node.Content[i+1]
			v, err := fromNode(valueNode)
			if err != nil {
				return nil, err
			}
			if keyNode.Tag == "!!int" {
				if idx, err := strconv.Atoi(keyNode.Value); err == nil && idx >= 0 {
					branches = append(branches, At(idx, v))
					continue
				}
			}
			b, err := Field(keyNode.Value, v)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", keyNode.Line, err)
			}
			branches = append(branches, b)
		}
		return Keyed(branches...), nil
	}
	return nil, fmt.Errorf("unsupported predicate node kind %d", node.Kind)
}

// FromValue builds a predicate from an already decoded Go value
// (string, []any, map[string]any, map[int]any, map[any]any).
func FromValue(v any) (*Predicate, error) {
	switch c := v.(type) {
	case string:
		return Scalar(c)
	case []any:
		branches := make([]Branch, 0, len(c))
		for i, child := range c {
			p, err := FromValue(child)
			if err != nil {
				return nil, err
			}
			branches = append(branches, At(i, p))
		}
		return Keyed(branches...), nil
	case []string:
		branches := make([]Branch, 0, len(c))
		for i, child := range c {
			p, err := Scalar(child)
			if err != nil {
				return nil, err
			}
			branches = append(branches, At(i, p))
		}
		return Keyed(branches...), nil
	case map[string]any:
		keys := make([]string, 0, len(c))
		for k := range c {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		branches := make([]Branch, 0, len(c))
		for _, k := range keys {
			p, err := FromValue(c[k])
			if err != nil {
				return nil, err
			}
			b, err := Field(k, p)
			if err != nil {
				return nil, err
			}
			branches = append(branches, b)
		}
		return Keyed(branches...), nil
	case map[int]any:
		idx := make([]int, 0, len(c))
		for k := range c {
			idx = append(idx, k)
		}
		sort.Ints(idx)
		branches := make([]Branch, 0, len(c))
		for _, k := range idx {
			if k < 0 {
				return nil, fmt.Errorf("negative positional key %d", k)
			}
			p, err := FromValue(c[k])
			if err != nil {
				return nil, err
			}
			branches = append(branches, At(k, p))
		}
		return Keyed(branches...), nil
	case map[any]any:
		branches := make([]Branch, 0, len(c))
		for k, child := range c {
			p, err := FromValue(child)
			if err != nil {
				return nil, err
			}
			if idx, ok := k.(int); ok && idx >= 0 {
				branches = append(branches, At(idx, p))
				continue
			}
			b, err := Field(Stringify(k), p)
			if err != nil {
				return nil, err
			}
			branches = append(branches, b)
		}
		return Keyed(branches...), nil
	case nil:
		return Keyed(), nil
	}
	return Scalar(Stringify(v))
}
