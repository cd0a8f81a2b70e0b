// Package scope parses and validates space-delimited OAuth2 scope strings (RFC 6749 section 3.3).
package scope

import (
	"fmt"
	"sort"
	"strings"

	oauth2errors "github.com/go-oauth2/oauth2/v4/errors"
)

// Set is a sorted, duplicate-free list of scope tokens
type Set []string

// String joins the set with single spaces
func (s Set) String() string {
	return strings.Join(s, " ")
}

// Contains reports whether token is part of the set
func (s Set) Contains(token string) bool {
	i := sort.SearchStrings(s, token)
	return i < len(s) && s[i] == token
}

// SubsetOf reports whether every token of s is present in other
func (s Set) SubsetOf(other Set) bool {
	for _, token := range s {
		if !other.Contains(token) {
			return false
		}
	}
	return true
}

// NewSet builds a Set from arbitrary tokens without validating them
func NewSet(tokens ...string) Set {
	seen := make(map[string]struct{}, len(tokens))
	set := make(Set, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		set = append(set, token)
	}
	sort.Strings(set)
	return set
}

// Grammar validates scope strings against an allow-list
type Grammar struct {
	allowed Set
}

// NewGrammar creates a Grammar accepting only the given scope tokens
func NewGrammar(allowed ...string) *Grammar {
	return &Grammar{allowed: NewSet(allowed...)}
}

// Allowed returns the server allow-list
func (g *Grammar) Allowed() Set {
	return g.allowed
}

// Parse splits raw on ASCII space and validates every token.
// Empty input yields an empty set; callers decide whether that is acceptable.
// The returned error wraps oauth2errors.ErrInvalidScope.
func (g *Grammar) Parse(raw string) (Set, error) {
	if raw == "" {
		return Set{}, nil
	}

	tokens := strings.Split(raw, " ")
	for _, token := range tokens {
		if token == "" {
			return nil, fmt.Errorf("%w: empty scope token", oauth2errors.ErrInvalidScope)
		}
		if !validToken(token) {
			return nil, fmt.Errorf("%w: malformed scope token %q", oauth2errors.ErrInvalidScope, token)
		}
		if !g.allowed.Contains(token) {
			return nil, fmt.Errorf("%w: unknown scope %q", oauth2errors.ErrInvalidScope, token)
		}
	}
	return NewSet(tokens...), nil
}

// validToken checks scope-token = 1*( %x21 / %x23-5B / %x5D-7E )
func validToken(token string) bool {
	for i := 0; i < len(token); i++ {
		c := token[i]
		if c < 0x21 || c > 0x7e || c == '"' || c == '\\' {
			return false
		}
	}
	return true
}
