package style

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config holds the classification rules for each geometry kind
type Config struct {
	// POI rules classify nodes
	POI []Rule `yaml:"poi,omitempty"`
	// Streets rules classify open ways; spawns are ignored
	Streets []Rule `yaml:"streets,omitempty"`
	// Areas rules classify closed ways and multipolygon relations
	Areas []Rule `yaml:"areas,omitempty"`
}

// Parse decodes rules from YAML or JSON bytes. Keys other than poi, streets
// and areas are ignored.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	cfg.normalize()

	return &cfg, nil
}

// DefaultConfig returns a configuration without rules: nothing is classified
func DefaultConfig() *Config {
	return &Config{}
}

// UnmarshalYAML decodes a rule and rejects entries without a type code.
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Type      *int32              `yaml:"type"`
		Spawns    []int32             `yaml:"spawns"`
		Required  map[string][]string `yaml:"required"`
		Forbidden map[string][]string `yaml:"forbidden"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Type == nil {
		return fmt.Errorf("line %d: rule has no type", value.Line)
	}
	*r = Rule{
		Type:      *raw.Type,
		Spawns:    raw.Spawns,
		Required:  raw.Required,
		Forbidden: raw.Forbidden,
	}
	return nil
}

func (c *Config) normalize() {
	for i := range c.Streets {
		c.Streets[i].Spawns = nil
	}
}

// Matchers builds one matcher per geometry kind.
func (c *Config) Matchers() (poi, streets, areas *Matcher) {
	return NewMatcher(c.POI), NewMatcher(c.Streets), NewMatcher(c.Areas)
}

// HasRules returns true if any kind has at least one rule
func (c *Config) HasRules() bool {
	return len(c.POI) > 0 || len(c.Streets) > 0 || len(c.Areas) > 0
}
