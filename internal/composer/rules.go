package composer

import (
	"fmt"
	"regexp"

	"github.com/Rrens/intel-chat/internal/domain"
)

// RuleConfig maps source titles (and optionally types) to a suggested action
type RuleConfig struct {
	Pattern string   `mapstructure:"pattern"`
	Types   []string `mapstructure:"types"`
	Action  string   `mapstructure:"action"`
}

// DefaultRules is the built-in suggestion table, evaluated in order
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{Pattern: `(?i)\b(deal|opportunit(y|ies)|pipeline)\b`, Types: []string{"internal", "database", "api"}, Action: "Review deal in CRM"},
		{Pattern: `(?i)\b(call|meeting|transcript)s?\b`, Types: []string{"internal", "api"}, Action: "Review call notes"},
		{Pattern: `(?i)\b(ticket|issue|bug|incident)s?\b`, Action: "Check open issues in the tracker"},
		{Pattern: `(?i)\b(revenue|forecast|kpi|arr|mrr)\b`, Action: "Open the revenue dashboard"},
		{Pattern: `(?i)\b(churn|renewal|account health)\b`, Action: "Review at-risk accounts"},
		{Pattern: `(?i)\b(competitor|competitive|market share)\b`, Types: []string{"internet"}, Action: "Run a competitive analysis"},
		{Pattern: `(?i)\b(hiring|headcount|candidate)s?\b`, Action: "Review the hiring plan"},
		{Pattern: `(?i)\b(report|analysis|study|survey)\b`, Types: []string{"internet"}, Action: "Save research to the knowledge base"},
	}
}

type rule struct {
	pattern *regexp.Regexp
	types   map[domain.SourceType]bool
	action  string
}

func compileRules(cfgs []RuleConfig) ([]rule, error) {
	rules := make([]rule, 0, len(cfgs))
	for i, c := range cfgs {
		if c.Action == "" {
			return nil, fmt.Errorf("action rule %d has no action", i)
		}
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile action rule %d: %w", i, err)
		}
		r := rule{pattern: re, action: c.Action}
		if len(c.Types) > 0 {
			r.types = make(map[domain.SourceType]bool, len(c.Types))
			for _, t := range c.Types {
				r.types[domain.SourceType(t)] = true
			}
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (r rule) matches(s domain.Source) bool {
	if r.types != nil && !r.types[s.Type] {
		return false
	}
	return r.pattern.MatchString(s.Title)
}

// suggest walks rules in order and returns each matching action once, up to max
func suggest(rules []rule, sources []domain.Source, max int) []string {
	var actions []string
	seen := make(map[string]bool)
	for _, r := range rules {
		if len(actions) >= max {
			break
		}
		if seen[r.action] {
			continue
		}
		for _, s := range sources {
			if r.matches(s) {
				actions = append(actions, r.action)
				seen[r.action] = true
				break
			}
		}
	}
	return actions
}
