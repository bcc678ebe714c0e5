// Package policy turns a fused risk assessment into an enforcement decision.
// Rules are evaluated in ascending priority order and the first match wins;
// when no rule matches, global score thresholds decide. Every non-allow
// decision produces a violation record, and decisions that require human
// sign-off mint a single-use confirmation ticket.
package policy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Verdict is the enforcement outcome for one action.
type Verdict string

const (
	VerdictAllow   Verdict = "allow"
	VerdictWarn    Verdict = "warn"
	VerdictBlock   Verdict = "block"
	VerdictConfirm Verdict = "require_confirmation"
)

// Rule matches actions by agent, action type, target pattern, and risk score
// band. An empty AgentID makes the rule global. Scores match the half-open
// interval [MinScore, MaxScore); a zero MaxScore means no upper bound.
type Rule struct {
	ID            string  `yaml:"id"`
	AgentID       string  `yaml:"agent_id,omitempty"`
	ActionType    string  `yaml:"action_type,omitempty"`
	TargetPattern string  `yaml:"target_pattern,omitempty"`
	MinScore      float64 `yaml:"min_score"`
	MaxScore      float64 `yaml:"max_score,omitempty"`
	Action        Verdict `yaml:"action"`
	Priority      int     `yaml:"priority"`
	Reason        string  `yaml:"reason,omitempty"`
}

// RuleSet is an ordered, validated rule list.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet validates the rules and fixes their evaluation order: priority
// ascending, ties broken by id so a reordered file cannot change behavior.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	seen := make(map[string]bool, len(rules))
	for i := range rules {
		r := &rules[i]
		if err := validateRule(r); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("rule %q: duplicate id", r.ID)
		}
		seen[r.ID] = true
	}
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})
	return &RuleSet{rules: ordered}, nil
}

func validateRule(r *Rule) error {
	if r.ID == "" {
		return fmt.Errorf("missing id")
	}
	switch r.Action {
	case VerdictAllow, VerdictWarn, VerdictBlock, VerdictConfirm:
	default:
		return fmt.Errorf("unknown action %q", r.Action)
	}
	if r.MinScore < 0 || r.MinScore > 1 {
		return fmt.Errorf("min_score %v outside [0,1]", r.MinScore)
	}
	if r.MaxScore < 0 || r.MaxScore > 1 {
		return fmt.Errorf("max_score %v outside [0,1]", r.MaxScore)
	}
	if r.MaxScore != 0 && r.MaxScore <= r.MinScore {
		return fmt.Errorf("max_score %v not above min_score %v", r.MaxScore, r.MinScore)
	}
	return nil
}

// LoadRules reads a YAML rule file. A missing file yields an empty set so
// installs without a policy file run on the threshold defaults.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RuleSet{}, nil
		}
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	return NewRuleSet(doc.Rules)
}

// Len returns the rule count.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Match returns the first rule applying to the action, in priority order.
func (rs *RuleSet) Match(agentID, actionType, target string, score float64) *Rule {
	for i := range rs.rules {
		r := &rs.rules[i]
		if r.AgentID != "" && r.AgentID != agentID {
			continue
		}
		if !matchField(r.ActionType, actionType) {
			continue
		}
		if !matchPattern(r.TargetPattern, target) {
			continue
		}
		if score < r.MinScore {
			continue
		}
		if r.MaxScore != 0 && score >= r.MaxScore {
			continue
		}
		return r
	}
	return nil
}

func matchField(pattern, value string) bool {
	return pattern == "" || pattern == "*" || strings.EqualFold(pattern, value)
}

// matchPattern supports the glob shapes rules actually need: *x* contains,
// *x suffix, x* prefix, exact otherwise. Matching is case-insensitive.
func matchPattern(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	p := strings.ToLower(pattern)
	v := strings.ToLower(value)
	switch {
	case strings.HasPrefix(p, "*") && strings.HasSuffix(p, "*"):
		return strings.Contains(v, p[1:len(p)-1])
	case strings.HasPrefix(p, "*"):
		return strings.HasSuffix(v, p[1:])
	case strings.HasSuffix(p, "*"):
		return strings.HasPrefix(v, p[:len(p)-1])
	}
	return v == p
}

// DefaultRulesYAML is a commented starter policy served by the template
// endpoint and written by the init command.
func DefaultRulesYAML() string {
	return `# rampart policy rules
#
# Rules are evaluated in ascending priority order; the first match wins.
# When no rule matches, global thresholds apply:
#   score >= 0.70 -> block
#   score >= 0.30 -> warn
#   otherwise     -> allow
#
# Fields:
#   id:             unique rule name
#   agent_id:       match a single agent; omit for all agents
#   action_type:    message | tool_call | file_access | network_request ("*" = any)
#   target_pattern: glob over the action target (*prod* = contains "prod")
#   min_score:      lower score bound, inclusive (default 0)
#   max_score:      upper score bound, exclusive (omit for no bound)
#   action:         allow | warn | block | require_confirmation
#   priority:       lower evaluates first
#   reason:         shown to the operator on every decision this rule makes
rules:
  - id: block_prod_database_writes
    action_type: tool_call
    target_pattern: "*prod*"
    min_score: 0.3
    action: require_confirmation
    priority: 10
    reason: "writes touching production need human sign-off when any risk is detected"

  - id: trusted_reporting_agent
    agent_id: reporting-bot
    action_type: file_access
    target_pattern: "/var/reports/*"
    max_score: 0.5
    action: allow
    priority: 20
    reason: "reporting bot reads its own output directory"
`
}
