package style

// Tags is the key/value tag set of a map object.
type Tags map[string]string

// Rule maps a tag predicate to a type code. Required keys must all be present
// (an empty value list accepts any value). Forbidden keys must be absent, or
// carry none of the listed values.
type Rule struct {
	Type      int32               `yaml:"type" json:"type"`
	Spawns    []int32             `yaml:"spawns,omitempty" json:"spawns,omitempty"`
	Required  map[string][]string `yaml:"required,omitempty" json:"required,omitempty"`
	Forbidden map[string][]string `yaml:"forbidden,omitempty" json:"forbidden,omitempty"`
}

// Match is the outcome of a successful classification.
type Match struct {
	Type   int32
	Spawns []int32
}

// Matcher classifies tag sets against an ordered rule list; the first
// matching rule wins.
type Matcher struct {
	rules []Rule
}

// NewMatcher creates a matcher over rules. The slice is not copied and must
// not be modified afterwards.
func NewMatcher(rules []Rule) *Matcher {
	return &Matcher{rules: rules}
}

// Len returns the number of rules.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}

// Match returns the first rule matching tags.
func (m *Matcher) Match(tags Tags) (Match, bool) {
	if m == nil {
		return Match{}, false
	}
	return MatchRules(tags, m.rules)
}

// MatchRules evaluates rules in order and returns the first match.
func MatchRules(tags Tags, rules []Rule) (Match, bool) {
	for i := range rules {
		r := &rules[i]
		if r.matches(tags) {
			return Match{Type: r.Type, Spawns: r.Spawns}, true
		}
	}
	return Match{}, false
}

func (r *Rule) matches(tags Tags) bool {
	// A rule without predicates never matches.
	if len(r.Required) == 0 && len(r.Forbidden) == 0 {
		return false
	}

	for key, values := range r.Forbidden {
		v, ok := tags[key]
		if !ok {
			continue
		}
		if len(values) == 0 || contains(values, v) {
			return false
		}
	}

	for key, values := range r.Required {
		v, ok := tags[key]
		if !ok {
			return false
		}
		if len(values) > 0 && !contains(values, v) {
			return false
		}
	}
	return true
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
