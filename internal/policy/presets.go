// Package policy evaluates CEL guard rules over the metadata accumulated
// for a set, before anything is written.
package policy

import (
	"embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/metarefresh/metarefresh/internal/models"
)

//go:embed presets/*.yaml
var presetFS embed.FS

var presetFiles = map[string]string{
	"baseline": "presets/baseline.yaml",
	"strict":   "presets/strict.yaml",
}

type presetFile struct {
	Rules []models.PolicyRule `yaml:"rules"`
}

// Preset returns the rules of a built-in preset.
func Preset(name string) ([]models.PolicyRule, error) {
	path, ok := presetFiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown policy preset %q", name)
	}
	data, err := presetFS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preset %q: %w", name, err)
	}
	var p presetFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse preset %q: %w", name, err)
	}
	return p.Rules, nil
}

// PresetNames in sorted order
func PresetNames() []string {
	names := make([]string, 0, len(presetFiles))
	for name := range presetFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rules resolves a set's guard: the preset rules, if any, followed by
// the set's own rules.
func Rules(set models.Set) ([]models.PolicyRule, error) {
	var rules []models.PolicyRule
	if set.PolicyPreset != "" {
		preset, err := Preset(set.PolicyPreset)
		if err != nil {
			return nil, err
		}
		rules = append(rules, preset...)
	}
	return append(rules, set.Policy...), nil
}
