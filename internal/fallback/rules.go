package fallback

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/artisanmart/notifier/internal/classify"
	"github.com/artisanmart/notifier/internal/models"
)

// DefaultRateLimitDelay is the wait before a rate limited message moves on.
const DefaultRateLimitDelay = time.Second

// Rule is one row of the declarative fallback table. A rule matches on Code
// or, when Code is empty, on Category. Origin narrows it to failures on a
// single channel.
type Rule struct {
	Code     classify.Code     `yaml:"code,omitempty"`
	Category classify.Category `yaml:"category,omitempty"`
	Origin   models.Channel    `yaml:"origin,omitempty"`
	Fallback bool              `yaml:"fallback"`
	Delay    time.Duration     `yaml:"delay,omitempty"`
	Reason   string            `yaml:"reason,omitempty"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules returns the built in table. Category defaults not listed here
// are derived from the category itself.
func DefaultRules(rateLimitDelay time.Duration) []Rule {
	if rateLimitDelay < 0 {
		rateLimitDelay = 0
	}
	return []Rule{
		{Code: classify.CodeUnsupportedContent, Fallback: true, Reason: "content not supported on channel"},
		{Category: classify.CategoryRateLimiting, Fallback: true, Delay: rateLimitDelay, Reason: "channel rate limited"},
	}
}

// LoadRules reads a YAML rule table of the form:
//
//	rules:
//	  - code: USER_BLOCKED
//	    origin: rich
//	    fallback: true
//	  - category: rate_limiting
//	    fallback: true
//	    delay: 2s
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fallback: read rules: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules decodes and validates a YAML rule table.
func ParseRules(raw []byte) ([]Rule, error) {
	var file ruleFile
	if err := yaml.UnmarshalStrict(raw, &file); err != nil {
		return nil, fmt.Errorf("fallback: decode rules: %w", err)
	}
	rules := make([]Rule, 0, len(file.Rules))
	for i, r := range file.Rules {
		r.Code = classify.Code(strings.ToUpper(strings.TrimSpace(string(r.Code))))
		r.Category = classify.Category(strings.ToLower(strings.TrimSpace(string(r.Category))))
		if r.Code == "" && r.Category == "" {
			return nil, fmt.Errorf("fallback: rule %d needs a code or a category", i)
		}
		if r.Origin != "" {
			ch, ok := models.ParseChannel(string(r.Origin))
			if !ok {
				return nil, fmt.Errorf("fallback: rule %d has unknown origin %q", i, r.Origin)
			}
			r.Origin = ch
		}
		if r.Delay < 0 {
			return nil, fmt.Errorf("fallback: rule %d has negative delay", i)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

type ruleKey struct {
	code     classify.Code
	category classify.Category
	origin   models.Channel
}

type ruleIndex map[ruleKey]Rule

// newRuleIndex indexes rules; later rules replace earlier ones with the same key.
func newRuleIndex(rules ...[]Rule) ruleIndex {
	idx := make(ruleIndex)
	for _, set := range rules {
		for _, r := range set {
			key := ruleKey{origin: r.Origin}
			if r.Code != "" {
				key.code = r.Code
			} else {
				key.category = r.Category
			}
			idx[key] = r
		}
	}
	return idx
}

// lookup applies the order code+origin, code, category+origin, category.
func (idx ruleIndex) lookup(c *classify.Classification, origin models.Channel) (Rule, bool) {
	candidates := []ruleKey{
		{code: c.Code, origin: origin},
		{code: c.Code},
		{category: c.Category, origin: origin},
		{category: c.Category},
	}
	for _, k := range candidates {
		if r, ok := idx[k]; ok {
			return r, true
		}
	}
	return Rule{}, false
}

// categoryDefault is used when no rule matches.
func categoryDefault(c classify.Category, rateLimitDelay time.Duration) Rule {
	switch c {
	case classify.CategoryUserError, classify.CategoryNetwork, classify.CategoryService:
		return Rule{Category: c, Fallback: true, Reason: fmt.Sprintf("%s failure is channel specific", c)}
	case classify.CategoryRateLimiting:
		return Rule{Category: c, Fallback: true, Delay: rateLimitDelay, Reason: "channel rate limited"}
	default:
		return Rule{Category: c, Fallback: false, Reason: fmt.Sprintf("%s failure is not channel specific", c)}
	}
}
