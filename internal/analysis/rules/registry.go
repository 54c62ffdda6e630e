package rules

import (
	"fmt"
	"sort"

	"github.com/xkilldash9x/sinkscan/internal/analysis/static/javascript"
)

// Registry is the immutable set of rules known to the engine. It is built once at
// startup and only read afterwards, so it is safe for concurrent use.
type Registry struct {
	rules []Rule
	byID  map[string]Rule
}

// NewRegistry builds a registry from rules. Duplicate ids are rejected.
func NewRegistry(rules ...Rule) (*Registry, error) {
	r := &Registry{byID: make(map[string]Rule, len(rules))}
	for _, rule := range rules {
		if rule == nil {
			return nil, fmt.Errorf("nil rule in registry")
		}
		id := rule.ID()
		if _, exists := r.byID[id]; exists {
			return nil, fmt.Errorf("duplicate rule id %q", id)
		}
		r.byID[id] = rule
		r.rules = append(r.rules, rule)
	}
	sort.SliceStable(r.rules, func(i, j int) bool { return r.rules[i].ID() < r.rules[j].ID() })
	return r, nil
}

// Default returns the registry with every built-in rule. sanitizers configures which
// calls URLParamSinkRule treats as cleaning a value; the zero set recognises none.
func Default(sanitizers javascript.SanitizerSet) *Registry {
	r, err := NewRegistry(
		NewDomSinkRule(),
		NewPrototypePollutionRule(),
		NewURLParamSinkRule(sanitizers),
		NewDynamicEvalRule(),
		NewDocumentWriteRule(),
		NewStringTimerRule(),
		NewFunctionConstructorRule(),
		NewInsecureStorageRule(),
	)
	if err != nil {
		// Built-in ids are distinct constants.
		panic(err)
	}
	return r
}

// All returns every rule ordered by id.
func (r *Registry) All() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Lookup finds a rule by id.
func (r *Registry) Lookup(id string) (Rule, bool) {
	rule, ok := r.byID[id]
	return rule, ok
}

// Len returns the number of registered rules.
func (r *Registry) Len() int { return len(r.rules) }

// Active returns the rules enabled by the given map. A rule is active unless the map
// explicitly disables it.
func (r *Registry) Active(enabled map[string]bool) []Rule {
	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		if on, set := enabled[rule.ID()]; set && !on {
			continue
		}
		out = append(out, rule)
	}
	return out
}

// Unknown returns the ids in names that no registered rule carries.
func (r *Registry) Unknown(names []string) []string {
	var out []string
	for _, name := range names {
		if _, ok := r.byID[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// Catalog returns the metadata of the given rules, in order.
func Catalog(rules []Rule) []Metadata {
	out := make([]Metadata, len(rules))
	for i, rule := range rules {
		out[i] = rule.Metadata()
	}
	return out
}
