// Package patterns holds the signature catalog for threat detection. All
// rules are compiled and validated once at catalog load; a rule that fails
// validation fails the whole load so a bad update can never reach the
// request path. Scanning runs against both the raw and the canonical form of
// an input and is bounded by a maximum match count.
package patterns

import (
	"fmt"
	"os"
	"regexp"
	"regexp/syntax"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category groups rules by the class of attack they detect.
type Category string

const (
	CategoryInstructionOverride Category = "instruction_override"
	CategoryPromptExtraction    Category = "prompt_extraction"
	CategoryJailbreak           Category = "jailbreak"
	CategoryEncodingEvasion     Category = "encoding_evasion"
	CategoryCodeInjection       Category = "code_injection"
	CategorySocialEngineering   Category = "social_engineering"
	CategoryDestructiveCommand  Category = "destructive_command"
)

// Severity buckets a rule's impact independently of match confidence.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rule is a single detection signature. Confidence is fixed per rule; the
// regex is compiled exactly once, at catalog load.
type Rule struct {
	ID          string   `yaml:"id"`
	Expr        string   `yaml:"pattern"`
	Category    Category `yaml:"category"`
	Confidence  float64  `yaml:"confidence"`
	Severity    Severity `yaml:"severity"`
	Language    string   `yaml:"language,omitempty"` // "" means any/english
	Description string   `yaml:"description,omitempty"`

	regex *regexp.Regexp
}

// Match is one rule hit with the span of text that triggered it.
type Match struct {
	Rule    *Rule
	Excerpt string
}

// Catalog is an immutable, versioned set of compiled rules. Catalogs are
// swapped whole via atomic pointer replacement; they are never mutated while
// requests read them.
type Catalog struct {
	Version    string
	byCategory map[Category][]*Rule
	byID       map[string]*Rule
	all        []*Rule
}

// MaxExcerptLen bounds the matched span carried in a signal so audit records
// stay small even for pathological inputs.
const MaxExcerptLen = 120

// maxRuleExprLen rejects absurdly long expressions at load time.
const maxRuleExprLen = 1024

// NewCatalog validates and compiles a rule set. Any invalid rule fails the
// whole load - the caller keeps its previous catalog.
func NewCatalog(version string, rules []Rule) (*Catalog, error) {
	c := &Catalog{
		Version:    version,
		byCategory: make(map[Category][]*Rule),
		byID:       make(map[string]*Rule, len(rules)),
		all:        make([]*Rule, 0, len(rules)),
	}
	for i := range rules {
		r := rules[i]
		if err := validateRule(&r); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("rule %q: duplicate id", r.ID)
		}
		compiled, err := regexp.Compile(r.Expr)
		if err != nil {
			return nil, fmt.Errorf("rule %q: compile: %w", r.ID, err)
		}
		r.regex = compiled
		rp := &r
		c.byID[r.ID] = rp
		c.byCategory[r.Category] = append(c.byCategory[r.Category], rp)
		c.all = append(c.all, rp)
	}
	return c, nil
}

// DefaultCatalog compiles the built-in rule set. It panics on error because
// the built-ins are validated by tests; a broken built-in is a build defect,
// not a runtime condition.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(builtinVersion, builtinRules())
	if err != nil {
		panic(fmt.Sprintf("patterns: built-in catalog invalid: %v", err))
	}
	return c
}

// LoadFile reads a YAML rule file and compiles it into a catalog.
// File shape:
//
//	version: "2026.08"
//	rules:
//	  - id: custom_rule
//	    pattern: '(?i)ignore .* instructions'
//	    category: instruction_override
//	    confidence: 0.9
//	    severity: high
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("patterns: read %s: %w", path, err)
	}
	var doc struct {
		Version string `yaml:"version"`
		Rules   []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("patterns: parse %s: %w", path, err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("patterns: %s contains no rules", path)
	}
	return NewCatalog(doc.Version, doc.Rules)
}

// validateRule rejects rules that could misbehave at request time: bad
// confidence, unknown category, oversized or pathological expressions.
func validateRule(r *Rule) error {
	if r.ID == "" {
		return fmt.Errorf("missing id")
	}
	if r.Expr == "" {
		return fmt.Errorf("missing pattern")
	}
	if len(r.Expr) > maxRuleExprLen {
		return fmt.Errorf("pattern exceeds %d bytes", maxRuleExprLen)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", r.Confidence)
	}
	switch r.Category {
	case CategoryInstructionOverride, CategoryPromptExtraction, CategoryJailbreak,
		CategoryEncodingEvasion, CategoryCodeInjection, CategorySocialEngineering,
		CategoryDestructiveCommand:
	default:
		return fmt.Errorf("unknown category %q", r.Category)
	}
	switch r.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	return checkExprSafety(r.Expr)
}

// checkExprSafety parses the expression and rejects constructs with
// pathological blowup potential: an unbounded repetition nested inside
// another unbounded repetition ((a+)+ and friends), or a counted repetition
// with a very large bound. Go's engine is linear-time, but such an
// expression still signals a broken rule and would backtrack
// catastrophically if the catalog were ever consumed by a PCRE-based engine.
func checkExprSafety(expr string) error {
	parsed, err := syntax.Parse(expr, syntax.Perl)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	return walkRepeat(parsed, false)
}

func walkRepeat(re *syntax.Regexp, inUnbounded bool) error {
	unbounded := false
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus:
		unbounded = true
	case syntax.OpRepeat:
		if re.Max > 256 {
			return fmt.Errorf("counted repetition bound %d too large", re.Max)
		}
		unbounded = re.Max == -1
	}
	if unbounded && inUnbounded {
		return fmt.Errorf("nested unbounded repetition")
	}
	for _, sub := range re.Sub {
		if err := walkRepeat(sub, inUnbounded || unbounded); err != nil {
			return err
		}
	}
	return nil
}

// Rules returns all rules in a category. Never nil.
func (c *Catalog) Rules(cat Category) []*Rule {
	if rs, ok := c.byCategory[cat]; ok {
		return rs
	}
	return []*Rule{}
}

// Lookup returns the rule with the given id, or nil.
func (c *Catalog) Lookup(id string) *Rule {
	return c.byID[id]
}

// Len returns the total rule count.
func (c *Catalog) Len() int { return len(c.all) }

// Scan evaluates every rule against both text forms and returns at most
// maxMatches hits. A rule that matches both forms is reported once. Scanning
// the raw form catches already-plain attacks; the canonical form catches
// obfuscated ones.
func (c *Catalog) Scan(raw, canonical string, maxMatches int) []Match {
	if maxMatches <= 0 {
		maxMatches = len(c.all)
	}
	var matches []Match
	for _, r := range c.all {
		if len(matches) >= maxMatches {
			break
		}
		loc := r.regex.FindStringIndex(canonical)
		src := canonical
		if loc == nil && raw != canonical {
			loc = r.regex.FindStringIndex(raw)
			src = raw
		}
		if loc == nil {
			continue
		}
		matches = append(matches, Match{Rule: r, Excerpt: excerpt(src, loc[0], loc[1])})
	}
	return matches
}

// ScanArguments evaluates only the destructive-command catalog against a
// structured tool invocation (tool name plus flattened arguments).
func (c *Catalog) ScanArguments(tool string, args string, maxMatches int) []Match {
	if maxMatches <= 0 {
		maxMatches = len(c.all)
	}
	subject := tool + " " + args
	var matches []Match
	for _, r := range c.Rules(CategoryDestructiveCommand) {
		if len(matches) >= maxMatches {
			break
		}
		if loc := r.regex.FindStringIndex(subject); loc != nil {
			matches = append(matches, Match{Rule: r, Excerpt: excerpt(subject, loc[0], loc[1])})
		}
	}
	return matches
}

func excerpt(s string, start, end int) string {
	if end-start > MaxExcerptLen {
		end = start + MaxExcerptLen
	}
	// Snap to rune boundaries.
	for end < len(s) && !isRuneStart(s[end]) {
		end++
	}
	return strings.ToValidUTF8(s[start:end], "�")
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
