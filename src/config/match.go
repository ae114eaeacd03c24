package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Patterns is a compiled pattern list with exclude-first semantics.
//
// Syntax:
//
//	"^main$"        → regex match
//	"!^feature/.*"  → negated regex
//	"main"          → treated as regex (anchored or not, user decides)
type Patterns struct {
	Include []*regexp.Regexp
	Exclude []*regexp.Regexp
}

// CompilePatterns compiles a pattern list. Invalid regexes are errors.
func CompilePatterns(patterns []string) (*Patterns, error) {
	p := &Patterns{}
	for _, raw := range patterns {
		negate := strings.HasPrefix(raw, "!")
		expr := strings.TrimPrefix(raw, "!")
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", raw, err)
		}
		if negate {
			p.Exclude = append(p.Exclude, re)
		} else {
			p.Include = append(p.Include, re)
		}
	}
	return p, nil
}

// Match evaluates the patterns against a value.
// Exclude-first semantics: if any exclude matches, rejected.
// Empty include list with no excludes = pass (no constraints).
// Empty include list with only excludes = everything not excluded passes.
func (p *Patterns) Match(value string) bool {
	if p == nil {
		return true
	}

	for _, re := range p.Exclude {
		if re.MatchString(value) {
			return false
		}
	}

	if len(p.Include) == 0 {
		return true
	}

	for _, re := range p.Include {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}
