package models

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/metarefresh/metarefresh/internal/matcher"
	"gopkg.in/yaml.v3"
)

// Output formats
const (
	FormatFlatfile  = "flatfile"
	FormatSerialize = "serialize"
	FormatPDO       = "pdo"
)

// DefaultStateFileName inside the data directory
const DefaultStateFileName = "metarefresh-state.yaml"

// Config is the module configuration file.
type Config struct {
	Blacklist          []string             `yaml:"blacklist"`
	Whitelist          []string             `yaml:"whitelist"`
	AttributeWhitelist []*matcher.Predicate `yaml:"attributewhitelist"`
	ConditionalGET     *bool                `yaml:"conditionalGET"`
	Types              []string             `yaml:"types"`

	DataDir   string `yaml:"datadir"`
	StateFile string `yaml:"stateFile"`
	CertDir   string `yaml:"certdir"`

	TechnicalContact Contact       `yaml:"technicalcontact"`
	Timeout          time.Duration `yaml:"timeout"`
	Parallelism      int           `yaml:"parallelism"`
	PDO              *PDOConfig    `yaml:"pdo"`

	Sets SetList `yaml:"sets"`
}

// Contact announced in the User-Agent header
type Contact struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// Set is a named refresh set.
type Set struct {
	Name         string   `yaml:"-"`
	Cron         []string `yaml:"cron"`
	Sources      []Source `yaml:"sources"`
	ExpireAfter  *int64   `yaml:"expireAfter"`
	OutputDir    string   `yaml:"outputDir"`
	OutputFormat string   `yaml:"outputFormat"`
	Types        []string `yaml:"types"`

	Blacklist          []string             `yaml:"blacklist"`
	Whitelist          []string             `yaml:"whitelist"`
	AttributeWhitelist []*matcher.Predicate `yaml:"attributewhitelist"`
	ConditionalGET     *bool                `yaml:"conditionalGET"`

	PDO          *PDOConfig   `yaml:"pdo"`
	ARP          *ARPConfig   `yaml:"arp"`
	Policy       []PolicyRule `yaml:"policy"`
	PolicyPreset string       `yaml:"policyPreset"`
}

// Format with default
func (s Set) Format() string {
	if s.OutputFormat == "" {
		return FormatFlatfile
	}
	return s.OutputFormat
}

// AllowsCron reports whether the set runs for tag. An empty tag runs all sets.
func (s Set) AllowsCron(tag string) bool {
	if tag == "" {
		return true
	}
	for _, c := range s.Cron {
		if c == tag {
			return true
		}
	}
	return false
}

// Source describes one metadata source.
type Source struct {
	Src                string               `yaml:"src"`
	Certificates       []string             `yaml:"certificates"`
	Types              []string             `yaml:"types"`
	Blacklist          []string             `yaml:"blacklist"`
	Whitelist          []string             `yaml:"whitelist"`
	AttributeWhitelist []*matcher.Predicate `yaml:"attributewhitelist"`
	Template           Record               `yaml:"template"`
	RegexTemplates     RegexTemplates       `yaml:"regex-template"`
	ConditionalGET     *bool                `yaml:"conditionalGET"`
}

// PDOConfig for the SQL upsert store
type PDOConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
}

// ARPConfig for attribute release policy output
type ARPConfig struct {
	File         string   `yaml:"arpfile"`
	AttributeMap string   `yaml:"attributemap"`
	Prefix       string   `yaml:"prefix"`
	Suffix       string   `yaml:"suffix"`
	Types        []string `yaml:"types"`
}

// BoolValue dereferences an optional flag.
func BoolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// SetList keeps the configured order of sets.
type SetList []Set

// UnmarshalYAML reads a mapping of set name to set, in document order.
func (l *SetList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: sets must be a mapping of name to set", node.Line)
	}
	out := make(SetList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var s Set
		if err := node.Content[i+1].Decode(&s); err != nil {
			return fmt.Errorf("set %q: %w", node.Content[i].Value, err)
		}
		s.Name = node.Content[i].Value
		out = append(out, s)
	}
	*l = out
	return nil
}

// RegexTemplate merges Template into entities whose id matches Pattern.
type RegexTemplate struct {
	Pattern  string `yaml:"pattern"`
	Template Record `yaml:"template"`

	re *regexp.Regexp
}

// Matches entity id
func (rt RegexTemplate) Matches(entityID string) bool {
	if rt.re == nil {
		re, err := matcher.CompilePattern(rt.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(entityID)
	}
	return rt.re.MatchString(entityID)
}

// Compile the pattern ahead of matching.
func (rt *RegexTemplate) Compile() error {
	re, err := matcher.CompilePattern(rt.Pattern)
	if err != nil {
		return err
	}
	rt.re = re
	return nil
}

// RegexTemplates is applied in configured order.
type RegexTemplates []RegexTemplate

// UnmarshalYAML accepts a mapping of pattern to template or a list of
// {pattern, template}.
func (rts *RegexTemplates) UnmarshalYAML(node *yaml.Node) error {
	var out RegexTemplates
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			var tmpl Record
			if err := node.Content[i+1].Decode(&tmpl); err != nil {
				return fmt.Errorf("regex-template %q: %w", node.Content[i].Value, err)
			}
			out = append(out, RegexTemplate{Pattern: node.Content[i].Value, Template: tmpl})
		}
	case yaml.SequenceNode:
		var list []RegexTemplate
		if err := node.Decode(&list); err != nil {
			return err
		}
		out = list
	default:
		return fmt.Errorf("line %d: regex-template must be a mapping or a list", node.Line)
	}

	for i := range out {
		if err := out[i].Compile(); err != nil {
			return err
		}
		out[i].Template = NormalizeRecord(out[i].Template)
	}
	*rts = out
	return nil
}

// LoadConfig reads and validates a configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses configuration YAML.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := checkTypes(cfg.Types); err != nil {
		return nil, err
	}
	for i := range cfg.Sets {
		set := &cfg.Sets[i]
		if err := checkTypes(set.Types); err != nil {
			return nil, fmt.Errorf("set %q: %w", set.Name, err)
		}
		for j := range set.Sources {
			src := &set.Sources[j]
			if err := checkTypes(src.Types); err != nil {
				return nil, fmt.Errorf("set %q source %q: %w", set.Name, src.Src, err)
			}
			src.Template = NormalizeRecord(src.Template)
		}
	}
	return &cfg, nil
}

func checkTypes(types []string) error {
	for _, t := range types {
		if !IsValidType(t) {
			return fmt.Errorf("unknown entity type %q", t)
		}
	}
	return nil
}
