package oauth

import (
	"sort"
	"strings"
)

// ScopeSet is an unordered set of scope identifiers. A nil set means "no
// scope recorded", which is distinct from an empty set only in that both
// serialize to nothing.
type ScopeSet map[string]struct{}

// NewScopeSet builds a set from the given scope identifiers, dropping
// empty strings and duplicates.
func NewScopeSet(scopes ...string) ScopeSet {
	if len(scopes) == 0 {
		return nil
	}
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// ParseScopeSet splits a scope string on ASCII whitespace into a set, as
// received in token responses.
func ParseScopeSet(s string) ScopeSet {
	return NewScopeSet(strings.Fields(s)...)
}

// Contains reports whether the set holds the given scope.
func (s ScopeSet) Contains(scope string) bool {
	_, ok := s[scope]
	return ok
}

// Len returns the number of scopes in the set.
func (s ScopeSet) Len() int {
	return len(s)
}

// Sorted returns the scopes in lexicographic order, the stable order used
// when serializing.
func (s ScopeSet) Sorted() []string {
	if len(s) == 0 {
		return nil
	}
	scopes := make([]string, 0, len(s))
	for scope := range s {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

// String returns the sorted, space-joined transmission form.
func (s ScopeSet) String() string {
	return strings.Join(s.Sorted(), " ")
}

// Equal reports set equality.
func (s ScopeSet) Equal(other ScopeSet) bool {
	if len(s) != len(other) {
		return false
	}
	for scope := range s {
		if !other.Contains(scope) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the set.
func (s ScopeSet) Clone() ScopeSet {
	if s == nil {
		return nil
	}
	clone := make(ScopeSet, len(s))
	for scope := range s {
		clone[scope] = struct{}{}
	}
	return clone
}
