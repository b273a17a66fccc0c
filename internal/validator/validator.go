// Package validator implements the Command Validator: the pattern-based
// allow/deny classifier every shell command string passes through before any
// other component may consider running it.
//
// Evaluation order is significant: trim and empty-check, then a
// case-insensitive scan against the FORBIDDEN catalog (which always outranks
// an allow decision regardless of ordering), then an ordered scan of
// SAFE/LOW_RISK, MEDIUM_RISK, and HIGH_RISK rules where the first
// exact-regex match on the full command string wins. No match falls through
// to "not in whitelist".
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/homelab/sentinel/pkg/types"
)

// MatcherKind distinguishes how a rule's pattern is interpreted, so one rule
// list can mix regex and substring patterns. Only the validator's own rules
// use it; the policy engine's forbidden-operation scan keeps separate plain
// substring lists.
type MatcherKind string

const (
	MatcherRegex      MatcherKind = "regex"
	MatcherSubstring  MatcherKind = "substring"
	MatcherPathPrefix MatcherKind = "path_prefix"
)

// Rule is one named allowed pattern with a risk classification. Forbidden
// patterns are ForbiddenRule values instead, which have no RequiresApproval
// field, so a forbidden rule can never carry RequiresApproval=true.
type Rule struct {
	Name             string
	Kind             MatcherKind
	Pattern          string
	compiled         *regexp.Regexp
	RiskLevel        types.RiskLevel
	RequiresApproval bool
}

// ForbiddenRule is a pattern that can never be allowed to execute, no matter
// what other rule might also match.
type ForbiddenRule struct {
	Name    string
	Kind    MatcherKind
	Pattern string
	compiled *regexp.Regexp
}

// Validator classifies raw command strings.
type Validator interface {
	// Validate runs the full evaluation order against one command string.
	Validate(command string) types.ValidatorVerdict

	// ListSafeCommands returns the names of rules classified SAFE or LOW_RISK.
	ListSafeCommands() []string

	// ListAllowedCommands returns every non-forbidden rule name grouped by tier.
	ListAllowedCommands() map[string][]string
}

type validator struct {
	forbidden []ForbiddenRule
	allowed   []Rule // ordered: most specific first, SAFE -> LOW_RISK -> MEDIUM_RISK -> HIGH_RISK
}

// New compiles the built-in pattern catalog. If any pattern fails to
// compile, New returns an error and the process must refuse to start — this
// is the validator's only failure mode (ConfigurationError, fatal).
func New() (Validator, error) {
	v := &validator{
		forbidden: defaultForbiddenRules(),
		allowed:   defaultAllowedRules(),
	}

	for i := range v.forbidden {
		switch v.forbidden[i].Kind {
		case MatcherRegex:
			re, err := regexp.Compile(v.forbidden[i].Pattern)
			if err != nil {
				return nil, fmt.Errorf("command validator: invalid forbidden pattern %q: %w", v.forbidden[i].Name, err)
			}
			v.forbidden[i].compiled = re
		}
	}

	// Allowed patterns are compiled wrapped in `^(?:...)$` so a rule match
	// always consumes the entire command string. A pattern that forgot its
	// anchors (or anchored only one branch of an alternation) can therefore
	// never degrade into a prefix match that waves through a trailing
	// `&& <anything>`. Forbidden patterns stay unwrapped on purpose: a
	// destructive fragment anywhere in the string must still match.
	for i := range v.allowed {
		if v.allowed[i].Kind == MatcherRegex {
			re, err := regexp.Compile(`^(?:` + v.allowed[i].Pattern + `)$`)
			if err != nil {
				return nil, fmt.Errorf("command validator: invalid allowed pattern %q: %w", v.allowed[i].Name, err)
			}
			v.allowed[i].compiled = re
		}
	}

	return v, nil
}

func (v *validator) Validate(command string) types.ValidatorVerdict {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return types.ValidatorVerdict{
			Allowed:     false,
			RiskLevel:   types.RiskForbidden,
			MatchedRule: "empty command",
		}
	}

	lower := strings.ToLower(trimmed)
	for _, f := range v.forbidden {
		if matches(f.Kind, f.compiled, f.Pattern, lower) {
			return types.ValidatorVerdict{
				Allowed:     false,
				RiskLevel:   types.RiskForbidden,
				MatchedRule: fmt.Sprintf("%s (%s)", f.Name, f.Pattern),
			}
		}
	}

	// Only an anchored, full-string regex match may grant an allow verdict;
	// substring and path-prefix matchers exist for the deny side alone.
	for _, rule := range v.allowed {
		if rule.Kind != MatcherRegex || rule.compiled == nil {
			continue
		}
		if rule.compiled.MatchString(trimmed) {
			return types.ValidatorVerdict{
				Allowed:          true,
				RiskLevel:        rule.RiskLevel,
				MatchedRule:      rule.Name,
				RequiresApproval: rule.RequiresApproval,
			}
		}
	}

	return types.ValidatorVerdict{
		Allowed:     false,
		RiskLevel:   types.RiskForbidden,
		MatchedRule: "command not in whitelist",
	}
}

func matches(kind MatcherKind, compiled *regexp.Regexp, pattern, subject string) bool {
	switch kind {
	case MatcherRegex:
		return compiled.MatchString(subject)
	case MatcherSubstring:
		return strings.Contains(strings.ToLower(subject), strings.ToLower(pattern))
	case MatcherPathPrefix:
		return strings.Contains(subject, pattern)
	default:
		return false
	}
}

func (v *validator) ListSafeCommands() []string {
	names := make([]string, 0, len(v.allowed))
	for _, r := range v.allowed {
		if r.RiskLevel == types.RiskSafe || r.RiskLevel == types.RiskLow {
			names = append(names, r.Name)
		}
	}
	return names
}

func (v *validator) ListAllowedCommands() map[string][]string {
	grouped := map[string][]string{}
	for _, r := range v.allowed {
		tier := string(r.RiskLevel)
		grouped[tier] = append(grouped[tier], r.Name)
	}
	return grouped
}
