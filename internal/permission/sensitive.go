package permission

import (
	"regexp"
	"strings"
	"sync"

	"mvdan.cc/sh/v3/syntax"

	"github.com/snow-ai/snow/internal/logging"
)

// RuleKind selects how a rule pattern is matched.
type RuleKind string

const (
	RuleLiteral RuleKind = "literal"
	RulePrefix  RuleKind = "prefix"
	RuleRegex   RuleKind = "regex"
)

// Rule is one sensitive-command rule.
type Rule struct {
	Pattern     string   `json:"pattern"`
	Kind        RuleKind `json:"kind"`
	Description string   `json:"description"`
	Active      bool     `json:"active"`

	re     *regexp.Regexp
	reOnce sync.Once
}

// RuleMatch reports which rule matched a command.
type RuleMatch struct {
	Pattern     string `json:"pattern"`
	Description string `json:"description"`
}

// RuleSet holds the configured sensitive-command rules.
type RuleSet struct {
	mu    sync.RWMutex
	rules []*Rule
}

// NewRuleSet creates a rule set from the given rules.
func NewRuleSet(rules []*Rule) *RuleSet {
	return &RuleSet{rules: rules}
}

// DefaultRules returns the built-in sensitive-command rules.
func DefaultRules() *RuleSet {
	return NewRuleSet([]*Rule{
		{Pattern: `rm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+`, Kind: RuleRegex, Description: "recursive or forced file removal", Active: true},
		{Pattern: "sudo", Kind: RulePrefix, Description: "privileged execution", Active: true},
		{Pattern: "dd", Kind: RuleLiteral, Description: "raw device write", Active: true},
		{Pattern: "mkfs", Kind: RulePrefix, Description: "filesystem format", Active: true},
		{Pattern: "shutdown", Kind: RuleLiteral, Description: "system shutdown", Active: true},
		{Pattern: "reboot", Kind: RuleLiteral, Description: "system reboot", Active: true},
		{Pattern: `git\s+push\s+.*(--force|-f)\b`, Kind: RuleRegex, Description: "force push", Active: true},
		{Pattern: `chmod\s+777`, Kind: RuleRegex, Description: "world-writable permissions", Active: true},
		{Pattern: `>\s*/dev/sd`, Kind: RuleRegex, Description: "write to block device", Active: true},
		{Pattern: "kill -9 1", Kind: RuleLiteral, Description: "kill init", Active: true},
	})
}

// Add appends a rule.
func (s *RuleSet) Add(rule *Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
}

// Classify lexes the shell command and matches each token and the whole
// command against the active rules. First match wins; nil means no match.
func (s *RuleSet) Classify(command string) *RuleMatch {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}

	candidates := append(lexCommand(command), command)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rule := range s.rules {
		if !rule.Active {
			continue
		}
		for _, candidate := range candidates {
			if rule.matches(candidate) {
				return &RuleMatch{Pattern: rule.Pattern, Description: rule.Description}
			}
		}
	}
	return nil
}

func (r *Rule) matches(s string) bool {
	switch r.Kind {
	case RulePrefix:
		return strings.HasPrefix(s, r.Pattern)
	case RuleRegex:
		r.reOnce.Do(func() {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				logging.Warn().Str("pattern", r.Pattern).Err(err).Msg("invalid sensitive rule regex")
				return
			}
			r.re = re
		})
		return r.re != nil && r.re.MatchString(s)
	default:
		return s == r.Pattern
	}
}

// lexCommand splits a shell command into quote-aware tokens. Commands that do
// not parse as shell fall back to whitespace splitting so the classifier
// still sees something.
func lexCommand(command string) []string {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))

	var tokens []string
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return strings.Fields(command)
	}

	printer := syntax.NewPrinter()
	syntax.Walk(file, func(node syntax.Node) bool {
		if word, ok := node.(*syntax.Word); ok {
			var sb strings.Builder
			if err := printer.Print(&sb, word); err == nil {
				tokens = append(tokens, sb.String())
			}
			return false
		}
		return true
	})

	if len(tokens) == 0 {
		return strings.Fields(command)
	}
	return tokens
}
