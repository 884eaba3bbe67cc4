// Package filter decides which resources are protected from deletion
// and which are old enough to be deletion candidates.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/yairfalse/sweep/pkg/resource"
)

// ErrMalformedRule is returned when an exclusion rule cannot be parsed.
var ErrMalformedRule = errors.New("malformed exclusion rule")

// RuleType is the variant of an exclusion rule.
type RuleType int

const (
	// RuleTagKey matches when the tag key is present, whatever its value.
	RuleTagKey RuleType = iota
	// RuleTagValue matches when the tag key carries exactly the value.
	RuleTagValue
	// RuleTagPattern matches when the tag value matches a glob pattern.
	RuleTagPattern
	// RuleID matches a single resource ID.
	RuleID
)

func (t RuleType) String() string {
	switch t {
	case RuleTagKey:
		return "tag-key"
	case RuleTagValue:
		return "tag-value"
	case RuleTagPattern:
		return "tag-pattern"
	case RuleID:
		return "id"
	default:
		return "unknown"
	}
}

// Rule protects resources from deletion.
type Rule struct {
	Type  RuleType
	Key   string
	Value string
	ID    string

	pattern glob.Glob
}

// TagKey builds a rule matching any resource tagged with key.
func TagKey(key string) Rule {
	return Rule{Type: RuleTagKey, Key: key}
}

// TagKeyValue builds a rule matching resources where tags[key] == value.
func TagKeyValue(key, value string) Rule {
	return Rule{Type: RuleTagValue, Key: key, Value: value}
}

// TagKeyPattern builds a rule matching resources whose tag value matches a glob.
func TagKeyPattern(key, pattern string) (Rule, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: pattern %q: %v", ErrMalformedRule, pattern, err)
	}
	return Rule{Type: RuleTagPattern, Key: key, Value: pattern, pattern: g}, nil
}

// ExplicitID builds a rule matching exactly one resource ID.
func ExplicitID(id string) Rule {
	return Rule{Type: RuleID, ID: id}
}

// Matches reports whether the rule protects r.
func (r Rule) Matches(rec resource.Record) bool {
	switch r.Type {
	case RuleTagKey:
		_, ok := rec.Tag(r.Key)
		return ok
	case RuleTagValue:
		v, ok := rec.Tag(r.Key)
		return ok && v == r.Value
	case RuleTagPattern:
		v, ok := rec.Tag(r.Key)
		return ok && r.pattern != nil && r.pattern.Match(v)
	case RuleID:
		return rec.ID == r.ID
	default:
		return false
	}
}

func (r Rule) String() string {
	switch r.Type {
	case RuleTagKey:
		return r.Key
	case RuleTagValue:
		return r.Key + "=" + r.Value
	case RuleTagPattern:
		return r.Key + "~" + r.Value
	case RuleID:
		return "id:" + r.ID
	default:
		return "unknown"
	}
}

// RuleSet is an unordered set of exclusion rules. A nil RuleSet excludes nothing.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet creates a rule set from rules.
func NewRuleSet(rules ...Rule) *RuleSet {
	return &RuleSet{rules: append([]Rule(nil), rules...)}
}

// IsExcluded reports whether any rule protects r.
func (s *RuleSet) IsExcluded(r resource.Record) bool {
	_, ok := s.Match(r)
	return ok
}

// Match returns the first rule protecting r.
func (s *RuleSet) Match(r resource.Record) (Rule, bool) {
	if s == nil {
		return Rule{}, false
	}
	for _, rule := range s.rules {
		if rule.Matches(r) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Rules returns a copy of the rules.
func (s *RuleSet) Rules() []Rule {
	if s == nil {
		return nil
	}
	return append([]Rule(nil), s.rules...)
}

// ParseTagRule parses the operator syntax for tag rules:
//
//	Key          tag key present
//	Key=Value    tag key with exact value
//	Key~Pattern  tag value matching a glob
func ParseTagRule(s string) (Rule, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "=~"); i >= 0 {
		key, val := strings.TrimSpace(s[:i]), s[i+1:]
		if key == "" {
			return Rule{}, fmt.Errorf("%w: %q has an empty tag key", ErrMalformedRule, s)
		}
		if s[i] == '~' {
			return TagKeyPattern(key, val)
		}
		return TagKeyValue(key, val), nil
	}
	if s == "" {
		return Rule{}, fmt.Errorf("%w: empty tag key", ErrMalformedRule)
	}
	return TagKey(s), nil
}

// ParseRules builds a rule set from tag expressions and explicit IDs.
func ParseRules(tags, ids []string) (*RuleSet, error) {
	rules := make([]Rule, 0, len(tags)+len(ids))
	for _, t := range tags {
		rule, err := ParseTagRule(t)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: empty resource id", ErrMalformedRule)
		}
		rules = append(rules, ExplicitID(id))
	}
	return NewRuleSet(rules...), nil
}
